package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tilemud/server/internal/world"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// PlayerRepo owns the players table.
type PlayerRepo struct {
	pool *pgxpool.Pool
}

func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{pool: db.Pool}
}

const playerColumns = `id, username, hashed_password, role, is_banned, timeout_until,
	map_id, x, y, hp, appearance, created_at, updated_at`

func scanPlayer(row pgx.Row) (*world.PlayerRecord, error) {
	var r world.PlayerRecord
	err := row.Scan(
		&r.ID, &r.Username, &r.HashedPassword, &r.Role, &r.Banned, &r.TimeoutUntil,
		&r.Pos.MapID, &r.Pos.X, &r.Pos.Y, &r.HP, &r.Appearance, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	return &r, nil
}

func (r *PlayerRepo) GetByID(ctx context.Context, id int64) (*world.PlayerRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	return scanPlayer(row)
}

func (r *PlayerRepo) GetByUsername(ctx context.Context, username string) (*world.PlayerRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE username = $1`, username)
	return scanPlayer(row)
}

// Create inserts a fresh player at the given spawn.
func (r *PlayerRepo) Create(ctx context.Context, username, hashedPassword string, spawn world.Position, hp int32) (*world.PlayerRecord, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO players (username, hashed_password, role, map_id, x, y, hp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+playerColumns,
		username, hashedPassword, world.RolePlayer, spawn.MapID, spawn.X, spawn.Y, hp)
	return scanPlayer(row)
}

// UpdateState persists the flushable runtime fields: position and HP.
func (r *PlayerRepo) UpdateState(ctx context.Context, id int64, pos world.Position, hp int32) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE players SET map_id = $2, x = $3, y = $4, hp = $5, updated_at = now()
		WHERE id = $1`,
		id, pos.MapID, pos.X, pos.Y, hp)
	if err != nil {
		return fmt.Errorf("update player %d state: %w", id, err)
	}
	return nil
}

func (r *PlayerRepo) UpdateAppearance(ctx context.Context, id int64, appearance map[string]string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE players SET appearance = $2, updated_at = now() WHERE id = $1`,
		id, appearance)
	if err != nil {
		return fmt.Errorf("update player %d appearance: %w", id, err)
	}
	return nil
}

func (r *PlayerRepo) SetBanned(ctx context.Context, id int64, banned bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE players SET is_banned = $2, updated_at = now() WHERE id = $1`, id, banned)
	if err != nil {
		return fmt.Errorf("set player %d banned: %w", id, err)
	}
	return nil
}

func (r *PlayerRepo) SetTimeout(ctx context.Context, id int64, until *time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE players SET timeout_until = $2, updated_at = now() WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("set player %d timeout: %w", id, err)
	}
	return nil
}
