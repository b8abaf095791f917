package hub

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/membership"
)

// identity is the result of channel authentication: the resolved role
// plus the subject the connection addresses.
type identity struct {
	Role   core.Role
	Alias  string
	UserID string
	ShotID string
}

// authenticateBroadcasterChannel validates a connection to the
// broadcaster/director channel. Exactly one of the broadcaster and
// director credentials must be presented; the role follows from which
// one it was.
func (app *App) authenticateBroadcasterChannel(ctx context.Context, query url.Values) (*identity, error) {
	alias := query.Get("alias")
	userID := query.Get("userId")
	broadcasterToken := query.Get("broadcasterToken")
	directorToken := query.Get("directorToken")

	if alias == "" || userID == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}
	if (broadcasterToken == "") == (directorToken == "") {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	if _, err := app.directory.FindContestByAlias(ctx, alias); err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return nil, core.NewLogicError(core.LiveContestNotFound)
		}
		return nil, fmt.Errorf("find contest: %w", err)
	}

	if directorToken != "" {
		if directorToken != app.cfg.Auth.DirectorToken {
			return nil, core.NewLogicError(core.InvalidAuthInfo)
		}
		return &identity{Role: core.RoleDirector, Alias: alias, UserID: userID}, nil
	}

	member, err := app.directory.FindContestMemberByID(ctx, alias, userID)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return nil, core.NewLogicError(core.LiveContestMemberNotFound)
		}
		return nil, fmt.Errorf("find contest member: %w", err)
	}
	if member.BroadcasterToken == "" || broadcasterToken != member.BroadcasterToken {
		return nil, core.NewLogicError(core.InvalidAuthInfo)
	}

	return &identity{Role: core.RoleBroadcaster, Alias: alias, UserID: userID}, nil
}

// authenticateShotChannel validates a connection to the shot channel.
// Shot sources carry no member identity, only the shared shot secret
// and an optional self-chosen shotId.
func (app *App) authenticateShotChannel(ctx context.Context, query url.Values) (*identity, error) {
	alias := query.Get("alias")
	shotToken := query.Get("shotToken")
	directorToken := query.Get("directorToken")

	if alias == "" {
		return nil, core.NewLogicError(core.IllegalParameters)
	}
	if (shotToken == "") == (directorToken == "") {
		return nil, core.NewLogicError(core.IllegalParameters)
	}

	if _, err := app.directory.FindContestByAlias(ctx, alias); err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return nil, core.NewLogicError(core.LiveContestNotFound)
		}
		return nil, fmt.Errorf("find contest: %w", err)
	}

	if directorToken != "" {
		if directorToken != app.cfg.Auth.DirectorToken {
			return nil, core.NewLogicError(core.InvalidAuthInfo)
		}
		return &identity{Role: core.RoleDirector, Alias: alias}, nil
	}

	if shotToken != app.cfg.Auth.ShotToken {
		return nil, core.NewLogicError(core.InvalidAuthInfo)
	}

	shotID := query.Get("shotId")
	if shotID == "" {
		shotID = uuid.NewString()
	}

	return &identity{Role: core.RoleShot, Alias: alias, ShotID: shotID}, nil
}
