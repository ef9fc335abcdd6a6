// Package sessions keeps one live edupage client per user and rehydrates it
// from a persisted snapshot when the user isn't resident.
package sessions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/telemetry"
	"lunchbox-backend/internal/scrapers/edupage"
	"lunchbox-backend/internal/snapshots"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("sessions")

const (
	report_store_rehydrate = "store.rehydrate"
	report_store_persist   = "store.persist"
	report_store_forget    = "store.forget"
	report_store_resident  = "store.resident"
)

// ErrSnapshotUnavailable means the snapshot repository couldn't be read, the
// snapshot itself may still be valid.
var ErrSnapshotUnavailable = errors.New("snapshot repository unavailable")

// slot guards the client of a single user, users never wait on each other.
type slot struct {
	mutex  sync.Mutex
	client *edupage.Client
	// snapshot is what this store last loaded or saved for the user, it tells
	// apart a snapshot replaced by another process.
	snapshot []byte
}

type Options struct {
	// Client is used for every client the store creates.
	Client edupage.ClientOptions
	// Snapshots may be nil, sessions are then only kept in memory.
	Snapshots snapshots.Repository
	Tel       telemetry.API
}

type Store struct {
	slots     sync.Map
	client    edupage.ClientOptions
	snapshots snapshots.Repository
	tel       telemetry.API
}

func NewStore(opts Options) *Store {
	assert.NotNil(opts.Tel)
	assert.NotNil(opts.Client.Time)

	if opts.Client.Tel == nil {
		opts.Client.Tel = opts.Tel
	}

	return &Store{
		client:    opts.Client,
		snapshots: opts.Snapshots,
		tel:       telemetry.NewScopedAPI("sessions", opts.Tel),
	}
}

func (s *Store) slot(userId string) *slot {
	value, _ := s.slots.LoadOrStore(userId, &slot{})
	return value.(*slot)
}

// Get returns the user's resident client, rehydrating it from its snapshot
// if it isn't resident. A missing, corrupt or unreadable snapshot results in
// a logged out client, callers must check IsLoggedIn.
func (s *Store) Get(ctx context.Context, userId string) (*edupage.Client, error) {
	slot := s.slot(userId)
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	if slot.client != nil {
		return slot.client, nil
	}
	if s.snapshots == nil {
		return edupage.NewClient(s.client)
	}

	client, err := s.rehydrate(ctx, userId, slot)
	if errors.Is(err, snapshots.ErrSnapshotNotFound) {
		return edupage.NewClient(s.client)
	}
	if err != nil {
		s.tel.ReportWarning(report_store_rehydrate, err, userId)
		return edupage.NewClient(s.client)
	}
	return client, nil
}

// Refresh returns the user's session as it is currently persisted, the
// resident client is replaced if the snapshot changed since it was loaded.
// Unlike Get it returns why the snapshot couldn't be used: ErrSnapshotNotFound,
// ErrSnapshotUnavailable, ErrInvalidSnapshot or ErrUnsupportedSnapshot.
func (s *Store) Refresh(ctx context.Context, userId string) (*edupage.Client, error) {
	if s.snapshots == nil {
		return s.Get(ctx, userId)
	}

	slot := s.slot(userId)
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	client, err := s.rehydrate(ctx, userId, slot)
	if err != nil && !errors.Is(err, ErrSnapshotUnavailable) {
		slot.client = nil
		slot.snapshot = nil
	}
	return client, err
}

// rehydrate installs the persisted session into the slot, keeping the
// resident client when the snapshot is the one it was built from.
func (s *Store) rehydrate(ctx context.Context, userId string, slot *slot) (*edupage.Client, error) {
	ctx, span := tracer.Start(ctx, "store:rehydrate")
	defer span.End()

	data, err := s.snapshots.Load(ctx, userId)
	if errors.Is(err, snapshots.ErrSnapshotNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	if slot.client != nil && bytes.Equal(data, slot.snapshot) {
		return slot.client, nil
	}

	state, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	client, err := edupage.NewClient(s.client)
	if err != nil {
		return nil, err
	}
	err = client.Restore(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	span.SetAttributes(attribute.String("custom.subdomain", state.Subdomain))
	s.tel.ReportDebug("rehydrated session", userId, state.Subdomain)
	slot.client = client
	slot.snapshot = data
	return client, nil
}

// Login replaces the user's session with a new one and persists it. The
// resident session is left untouched if logging in fails.
func (s *Store) Login(ctx context.Context, userId, username, password, subdomain string) (*edupage.Client, error) {
	slot := s.slot(userId)
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	client, err := edupage.NewClient(s.client)
	if err != nil {
		return nil, err
	}
	err = client.Login(ctx, username, password, subdomain)
	if err != nil {
		return nil, err
	}
	if !client.IsLoggedIn() {
		return nil, fmt.Errorf("%w: provider accepted the credentials but no session was established", edupage.ErrNotLoggedIn)
	}

	slot.client = client
	slot.snapshot = nil
	s.persist(ctx, userId, slot, true)
	return client, nil
}

// Persist saves the current state of the user's resident session, it is a
// no-op when the user isn't resident or logged in. If another process
// replaced or deleted the snapshot since it was loaded, nothing is written
// and the resident session is evicted so the next Get picks up the newer one.
func (s *Store) Persist(ctx context.Context, userId string) {
	slot := s.slot(userId)
	slot.mutex.Lock()
	defer slot.mutex.Unlock()

	if slot.client == nil || !slot.client.IsLoggedIn() {
		return
	}
	s.persist(ctx, userId, slot, false)
}

func (s *Store) persist(ctx context.Context, userId string, slot *slot, replace bool) {
	if s.snapshots == nil {
		return
	}
	data, err := EncodeSnapshot(slot.client.State())
	if err != nil {
		s.tel.ReportWarning(report_store_persist, err, userId)
		return
	}

	if !replace && slot.snapshot != nil {
		current, err := s.snapshots.Load(ctx, userId)
		if errors.Is(err, snapshots.ErrSnapshotNotFound) || (err == nil && !bytes.Equal(current, slot.snapshot)) {
			s.tel.ReportDebug("snapshot changed by another process, dropping resident session", userId)
			slot.client = nil
			slot.snapshot = nil
			return
		}
		if err != nil {
			s.tel.ReportWarning(report_store_persist, fmt.Errorf("check snapshot: %w", err), userId)
			return
		}
	}

	err = s.snapshots.Save(ctx, userId, data)
	if err != nil {
		s.tel.ReportWarning(report_store_persist, err, userId)
		return
	}
	slot.snapshot = data
}

// Invalidate evicts the user's session from memory only.
func (s *Store) Invalidate(userId string) {
	value, ok := s.slots.Load(userId)
	if !ok {
		return
	}
	slot := value.(*slot)
	slot.mutex.Lock()
	defer slot.mutex.Unlock()
	slot.client = nil
	slot.snapshot = nil
}

// Forget evicts the user's session and deletes its snapshot.
func (s *Store) Forget(ctx context.Context, userId string) error {
	s.Invalidate(userId)
	if s.snapshots == nil {
		return nil
	}
	err := s.snapshots.Delete(ctx, userId)
	if err != nil {
		s.tel.ReportWarning(report_store_forget, err, userId)
		return err
	}
	return nil
}

// Resident returns the users whose session is currently in memory.
func (s *Store) Resident() []string {
	var users []string
	s.slots.Range(func(key, value any) bool {
		slot := value.(*slot)
		slot.mutex.Lock()
		resident := slot.client != nil
		slot.mutex.Unlock()
		if resident {
			users = append(users, key.(string))
		}
		return true
	})
	sort.Strings(users)
	s.tel.ReportCount(report_store_resident, int64(len(users)))
	return users
}
