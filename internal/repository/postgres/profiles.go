package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mermac/goblincave-auth/internal/core/domain"
	"github.com/mermac/goblincave-auth/internal/core/port"
	"github.com/mermac/goblincave-auth/internal/repository"
)

// ProfileRepository implements port.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewProfileRepository constructs a repository backed by any executor that
// satisfies pgExecutor (a pool or a transaction).
func NewProfileRepository(exec pgExecutor) *ProfileRepository {
	return &ProfileRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *ProfileRepository) WithTx(tx pgx.Tx) *ProfileRepository {
	if tx == nil {
		return r
	}
	return &ProfileRepository{
		exec:    tx,
		builder: r.builder,
		now:     r.now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (r *ProfileRepository) WithClock(clock func() time.Time) *ProfileRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Upsert writes the profile row, resolving conflicts on id so a duplicate
// callback replays cleanly. A duplicate username trips the unique index and is
// surfaced as repository.ErrConflict.
func (r *ProfileRepository) Upsert(ctx context.Context, profile domain.Profile) error {
	if profile.ID == "" {
		return errors.New("profile id is required")
	}
	if profile.Username == "" {
		return errors.New("profile username is required")
	}

	now := r.now().UTC()

	query := r.builder.Insert("goblincave.profiles").
		Columns("id", "username", "created_at", "updated_at").
		Values(profile.ID, profile.Username, now, now).
		Suffix("ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at")

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert profile sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: username %q already taken", repository.ErrConflict, profile.Username)
		}
		return fmt.Errorf("upsert profile: %w", err)
	}

	return nil
}

// GetByID fetches a profile by its user identifier.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	if id == "" {
		return nil, errors.New("profile id is required")
	}

	query := r.builder.Select("id", "username", "created_at", "updated_at").
		From("goblincave.profiles").
		Where(squirrel.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select profile sql: %w", err)
	}

	var profile domain.Profile
	row := r.exec.QueryRow(ctx, sql, args...)
	if err := row.Scan(&profile.ID, &profile.Username, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	return &profile, nil
}

var _ port.ProfileRepository = (*ProfileRepository)(nil)
