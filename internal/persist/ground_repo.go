package persist

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tilemud/server/internal/world"
)

// GroundItemRepo owns the ground_items table. Rows are keyed by the runtime
// id so cold starts resume the same item identities.
type GroundItemRepo struct {
	pool *pgxpool.Pool
}

func NewGroundItemRepo(db *DB) *GroundItemRepo {
	return &GroundItemRepo{pool: db.Pool}
}

// LoadAll reads every persisted ground item, across all maps, and the
// highest id seen (for reseeding the id sequence).
func (r *GroundItemRepo) LoadAll(ctx context.Context) ([]*world.GroundItem, int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_kind_id, map_id, x, y, quantity, durability, dropped_by, dropped_at, public_at, despawn_at
		FROM ground_items`)
	if err != nil {
		return nil, 0, fmt.Errorf("load ground items: %w", err)
	}
	defer rows.Close()

	var out []*world.GroundItem
	var maxID int64
	for rows.Next() {
		var g world.GroundItem
		var droppedBy sql.NullInt64
		if err := rows.Scan(&g.ID, &g.KindID, &g.Pos.MapID, &g.Pos.X, &g.Pos.Y,
			&g.Quantity, &g.Durability, &droppedBy, &g.DroppedAt, &g.PublicAt, &g.DespawnAt); err != nil {
			return nil, 0, fmt.Errorf("scan ground item: %w", err)
		}
		if droppedBy.Valid {
			g.DroppedBy = droppedBy.Int64
		}
		if g.ID > maxID {
			maxID = g.ID
		}
		item := g
		out = append(out, &item)
	}
	return out, maxID, rows.Err()
}

// ReplaceMap rewrites the rows of one map with its current live items.
func (r *GroundItemRepo) ReplaceMap(ctx context.Context, mapID int32, items []*world.GroundItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace ground items: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM ground_items WHERE map_id = $1`, mapID); err != nil {
		return fmt.Errorf("clear ground items map %d: %w", mapID, err)
	}
	batch := &pgx.Batch{}
	for _, g := range items {
		var droppedBy any
		if g.DroppedBy != 0 {
			droppedBy = g.DroppedBy
		}
		batch.Queue(`
			INSERT INTO ground_items (id, item_kind_id, map_id, x, y, quantity, durability, dropped_by, dropped_at, public_at, despawn_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			g.ID, g.KindID, g.Pos.MapID, g.Pos.X, g.Pos.Y, g.Quantity, g.Durability, droppedBy, g.DroppedAt, g.PublicAt, g.DespawnAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert ground items map %d: %w", mapID, err)
		}
	}
	return tx.Commit(ctx)
}
