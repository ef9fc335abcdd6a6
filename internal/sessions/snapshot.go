package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"lunchbox-backend/internal/scrapers/edupage"
)

// SnapshotVersion is bumped whenever the layout of Snapshot changes, older
// versions are refused rather than migrated.
const SnapshotVersion = 1

var (
	ErrUnsupportedSnapshot = errors.New("unsupported snapshot version")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
)

type SnapshotCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Snapshot is the durable form of an edupage session.
type Snapshot struct {
	Version   int              `json:"version"`
	Subdomain string           `json:"subdomain"`
	Username  string           `json:"username"`
	GsecHash  string           `json:"gsecHash,omitempty"`
	Cookies   []SnapshotCookie `json:"cookies"`
}

func EncodeSnapshot(state edupage.SessionState) ([]byte, error) {
	if !state.IsLoggedIn {
		return nil, fmt.Errorf("%w: session is not logged in", ErrInvalidSnapshot)
	}

	snapshot := Snapshot{
		Version:   SnapshotVersion,
		Subdomain: state.Subdomain,
		Username:  state.Username,
		GsecHash:  state.GsecHash,
		Cookies:   make([]SnapshotCookie, len(state.Cookies)),
	}
	for i, c := range state.Cookies {
		snapshot.Cookies[i] = SnapshotCookie{Name: c.Name, Value: c.Value}
	}
	return json.Marshal(snapshot)
}

// DecodeSnapshot refuses snapshots of another version and snapshots that
// couldn't have come from a logged in session.
func DecodeSnapshot(data []byte) (edupage.SessionState, error) {
	var header struct {
		Version *int `json:"version"`
	}
	err := json.Unmarshal(data, &header)
	if err != nil {
		return edupage.SessionState{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if header.Version == nil {
		return edupage.SessionState{}, fmt.Errorf("%w: missing version", ErrUnsupportedSnapshot)
	}
	if *header.Version != SnapshotVersion {
		return edupage.SessionState{}, fmt.Errorf("%w: %d", ErrUnsupportedSnapshot, *header.Version)
	}

	var snapshot Snapshot
	err = json.Unmarshal(data, &snapshot)
	if err != nil {
		return edupage.SessionState{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if snapshot.Subdomain == "" || len(snapshot.Cookies) == 0 {
		return edupage.SessionState{}, fmt.Errorf("%w: missing subdomain or cookies", ErrInvalidSnapshot)
	}

	state := edupage.SessionState{
		Subdomain:  snapshot.Subdomain,
		Username:   snapshot.Username,
		GsecHash:   snapshot.GsecHash,
		IsLoggedIn: true,
	}
	for _, c := range snapshot.Cookies {
		if c.Name == "" {
			return edupage.SessionState{}, fmt.Errorf("%w: cookie without a name", ErrInvalidSnapshot)
		}
		state.Cookies = append(state.Cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return state, nil
}
