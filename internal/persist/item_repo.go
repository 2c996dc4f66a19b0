package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tilemud/server/internal/world"
)

// ItemRepo owns the inventory and equipment tables. Set-valued rows are
// replaced wholesale (delete-then-insert) inside one transaction, matching
// the flusher's write pattern.
type ItemRepo struct {
	pool *pgxpool.Pool
}

func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{pool: db.Pool}
}

// LoadInventory reads a player's inventory into a fixed-capacity container.
// Rows pointing at slots beyond the capacity are dropped.
func (r *ItemRepo) LoadInventory(ctx context.Context, playerID int64, capacity int) (*world.Inventory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot, item_kind_id, quantity, durability
		FROM player_inventory WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, fmt.Errorf("load inventory %d: %w", playerID, err)
	}
	defer rows.Close()

	inv := world.NewInventory(capacity)
	for rows.Next() {
		var slot int
		var s world.ItemStack
		if err := rows.Scan(&slot, &s.KindID, &s.Quantity, &s.Durability); err != nil {
			return nil, fmt.Errorf("scan inventory %d: %w", playerID, err)
		}
		if inv.ValidSlot(slot) {
			stack := s
			inv.Slots[slot] = &stack
		}
	}
	return inv, rows.Err()
}

// ReplaceInventory rewrites a player's inventory rows.
func (r *ItemRepo) ReplaceInventory(ctx context.Context, playerID int64, inv *world.Inventory) error {
	return r.replace(ctx, "player_inventory", playerID, func(batch *pgx.Batch) {
		for slot, s := range inv.Slots {
			if s == nil {
				continue
			}
			batch.Queue(`
				INSERT INTO player_inventory (player_id, slot, item_kind_id, quantity, durability)
				VALUES ($1, $2, $3, $4, $5)`,
				playerID, slot, s.KindID, s.Quantity, s.Durability)
		}
	})
}

// LoadEquipment reads a player's worn items.
func (r *ItemRepo) LoadEquipment(ctx context.Context, playerID int64) (*world.Equipment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot, item_kind_id, quantity, durability
		FROM player_equipment WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, fmt.Errorf("load equipment %d: %w", playerID, err)
	}
	defer rows.Close()

	eq := world.NewEquipment()
	for rows.Next() {
		var slot string
		var s world.ItemStack
		if err := rows.Scan(&slot, &s.KindID, &s.Quantity, &s.Durability); err != nil {
			return nil, fmt.Errorf("scan equipment %d: %w", playerID, err)
		}
		stack := s
		eq.Slots[slot] = &stack
	}
	return eq, rows.Err()
}

// ReplaceEquipment rewrites a player's equipment rows.
func (r *ItemRepo) ReplaceEquipment(ctx context.Context, playerID int64, eq *world.Equipment) error {
	return r.replace(ctx, "player_equipment", playerID, func(batch *pgx.Batch) {
		for slot, s := range eq.Slots {
			batch.Queue(`
				INSERT INTO player_equipment (player_id, slot, item_kind_id, quantity, durability)
				VALUES ($1, $2, $3, $4, $5)`,
				playerID, slot, s.KindID, s.Quantity, s.Durability)
		}
	})
}

func (r *ItemRepo) replace(ctx context.Context, table string, playerID int64, queue func(*pgx.Batch)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE player_id = $1`, playerID); err != nil {
		return fmt.Errorf("clear %s for %d: %w", table, playerID, err)
	}
	batch := &pgx.Batch{}
	queue(batch)
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert %s for %d: %w", table, playerID, err)
		}
	}
	return tx.Commit(ctx)
}
