package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Mode selects how a search term is matched against the upstream directory.
type Mode string

const (
	// ModeExact resolves the term as a username and may find nobody.
	ModeExact Mode = "exact"
	// ModeFuzzy runs a keyword search; an empty result list is still a result.
	ModeFuzzy Mode = "fuzzy"
)

// ParseMode normalizes a request-supplied mode string.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeExact:
		return ModeExact, nil
	case ModeFuzzy:
		return ModeFuzzy, nil
	}
	return "", ErrInvalidMode
}

// Status classifies a lookup outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoMatch Status = "no_match"
)

// Result is the outcome of one upstream lookup. Payload is opaque to
// callers and must survive caching byte for byte.
type Result struct {
	Status  Status
	Payload json.RawMessage
}

// Client resolves search terms against the external account directory.
type Client interface {
	Lookup(ctx context.Context, term string, mode Mode) (*Result, error)
}

var (
	ErrInvalidTerm = errors.New("invalid_search_term")
	ErrInvalidMode = errors.New("invalid_search_mode")

	// ErrUnavailable marks transient upstream failures: timeouts,
	// throttling, server errors. Callers may retry.
	ErrUnavailable = errors.New("lookup_unavailable")
)
