// Package membership resolves contest aliases and contest members,
// the read-only directory the signaling gateway authenticates against.
package membership

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when an alias or member does not exist.
var ErrNotFound = errors.New("membership: not found")

// Contest is the public contest metadata keyed by its alias. The
// ranklist payload is kept opaque, the hub only relays it.
type Contest struct {
	Alias   string          `json:"alias" db:"alias"`
	Name    string          `json:"name" db:"name"`
	Contest json.RawMessage `json:"contest" db:"contest"`
}

// Member is one contest member, including the private broadcaster
// credential. Use FilterMemberForPublic before relaying to clients.
type Member struct {
	ID               string `json:"id" db:"user_id"`
	Name             string `json:"name" db:"name"`
	Organization     string `json:"organization,omitempty" db:"organization"`
	Official         bool   `json:"official" db:"official"`
	Banned           bool   `json:"banned,omitempty" db:"banned"`
	BroadcasterToken string `json:"broadcasterToken,omitempty" db:"broadcaster_token"`
}

// Directory is the membership lookup boundary.
type Directory interface {
	FindContestByAlias(ctx context.Context, alias string) (*Contest, error)
	FindContestMemberByID(ctx context.Context, alias, userID string) (*Member, error)
}

// FilterMemberForPublic drops credential and moderation fields.
func FilterMemberForPublic(m *Member) *Member {
	public := *m
	public.BroadcasterToken = ""
	public.Banned = false
	return &public
}
