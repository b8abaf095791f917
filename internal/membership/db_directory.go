package membership

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// DBDirectory resolves contests and members from a local database,
// for deployments that sync contest data instead of querying the
// remote API per request.
type DBDirectory struct {
	db *sqlx.DB
}

func NewDBDirectory(db *sqlx.DB) *DBDirectory {
	return &DBDirectory{db: db}
}

func (d *DBDirectory) FindContestByAlias(ctx context.Context, alias string) (*Contest, error) {
	contest := &Contest{}
	err := d.db.GetContext(ctx, contest,
		`SELECT alias, name, contest FROM live_contests WHERE alias = $1`,
		alias,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contest, nil
}

func (d *DBDirectory) FindContestMemberByID(ctx context.Context, alias, userID string) (*Member, error) {
	member := &Member{}
	err := d.db.GetContext(ctx, member,
		`SELECT m.user_id, m.name, m.organization, m.official, m.banned, m.broadcaster_token
		 FROM live_contest_members m
		 JOIN live_contests c ON c.alias = m.contest_alias
		 WHERE c.alias = $1 AND m.user_id = $2`,
		alias, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}
