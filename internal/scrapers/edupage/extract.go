package edupage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// names of the boundary heuristics, they end up in ProtocolError.Heuristic
const (
	heuristicMarker    = "marker"
	heuristicDelimiter = "delimiter"
	heuristicCommaCRLF = "comma-crlf"
	heuristicCommaLF   = "comma-lf"
	heuristicGreedy    = "greedy"
)

type boundary struct {
	name       string
	terminator string
}

// the provider emits `key: {...},\r\n` inside an inline script, the object is
// minified so the first comma + line break after the marker closes it.
var jsonBoundaries = []boundary{
	{name: heuristicCommaCRLF, terminator: ",\r\n"},
	{name: heuristicCommaLF, terminator: ",\n"},
}

// ExtractJSON returns the JSON value that directly follows `marker` in `page`.
//
// The end of the value is found by looking for the first comma followed by a
// line break, when there is none (or what precedes it is not valid JSON) the
// first complete JSON value after the marker is decoded and everything after
// it is discarded.
//
// A missing marker is a ProtocolError wrapping ErrMarkerNotFound, this is usually
// what an expired session looks like since the provider serves a login page instead.
func ExtractJSON(page, marker string) ([]byte, error) {
	op := fmt.Sprintf("extract json after %q", marker)

	idx := strings.Index(page, marker)
	if idx < 0 {
		return nil, protocolError(op, heuristicMarker, ErrMarkerNotFound)
	}
	rest := page[idx+len(marker):]

	var tried []string
	for _, b := range jsonBoundaries {
		end := strings.Index(rest, b.terminator)
		if end < 0 {
			continue
		}
		tried = append(tried, b.name)
		candidate := bytes.TrimSpace([]byte(rest[:end]))
		if json.Valid(candidate) {
			return candidate, nil
		}
		// only the first terminator found is meaningful
		break
	}

	tried = append(tried, heuristicGreedy)
	value, err := decodeFirstValue(rest)
	if err != nil {
		return nil, protocolError(op, strings.Join(tried, ","), err)
	}
	return value, nil
}

var callWhitespace = strings.NewReplacer("\t", "", "\r", "", "\n", "")

// ExtractCall returns the first argument of a javascript call like
// `marker({...});`, the argument must be a JSON value. Tabs and line breaks
// are dropped before decoding, the provider leaves raw ones inside strings.
func ExtractCall(page, marker string) ([]byte, error) {
	op := fmt.Sprintf("extract call argument of %q", marker)

	idx := strings.Index(page, marker)
	if idx < 0 {
		return nil, protocolError(op, heuristicMarker, ErrMarkerNotFound)
	}
	value, err := decodeFirstValue(callWhitespace.Replace(page[idx+len(marker):]))
	if err != nil {
		return nil, protocolError(op, heuristicGreedy, err)
	}
	return value, nil
}

// ExtractDelimited returns the text between the first `start` and the `end`
// that follows it.
func ExtractDelimited(page, start, end string) (string, error) {
	op := fmt.Sprintf("extract text after %q", start)

	idx := strings.Index(page, start)
	if idx < 0 {
		return "", protocolError(op, heuristicMarker, ErrMarkerNotFound)
	}
	rest := page[idx+len(start):]
	endIdx := strings.Index(rest, end)
	if endIdx < 0 {
		return "", protocolError(op, heuristicDelimiter, fmt.Errorf("closing %q not found", end))
	}
	return rest[:endIdx], nil
}

func decodeFirstValue(text string) ([]byte, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var raw json.RawMessage
	err := dec.Decode(&raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty value")
	}
	return raw, nil
}
