package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tilemud/server/internal/world"
)

// SkillsRepo owns the player_skills table.
type SkillsRepo struct {
	pool *pgxpool.Pool
}

func NewSkillsRepo(db *DB) *SkillsRepo {
	return &SkillsRepo{pool: db.Pool}
}

// Load reads a player's skills; players with no rows yet get the starting
// block.
func (r *SkillsRepo) Load(ctx context.Context, playerID int64) (*world.Skills, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT skill, level, xp FROM player_skills WHERE player_id = $1`, playerID)
	if err != nil {
		return nil, fmt.Errorf("load skills %d: %w", playerID, err)
	}
	defer rows.Close()

	loaded := map[world.SkillKind]*world.SkillState{}
	for rows.Next() {
		var skill string
		var st world.SkillState
		if err := rows.Scan(&skill, &st.Level, &st.XP); err != nil {
			return nil, fmt.Errorf("scan skills %d: %w", playerID, err)
		}
		state := st
		loaded[world.SkillKind(skill)] = &state
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(loaded) == 0 {
		return world.NewSkills(), nil
	}
	return &world.Skills{Kinds: loaded}, nil
}

// Replace rewrites a player's skill rows.
func (r *SkillsRepo) Replace(ctx context.Context, playerID int64, skills *world.Skills) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace skills: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM player_skills WHERE player_id = $1`, playerID); err != nil {
		return fmt.Errorf("clear skills for %d: %w", playerID, err)
	}
	batch := &pgx.Batch{}
	for kind, st := range skills.Kinds {
		batch.Queue(`
			INSERT INTO player_skills (player_id, skill, level, xp)
			VALUES ($1, $2, $3, $4)`,
			playerID, string(kind), st.Level, st.XP)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert skills for %d: %w", playerID, err)
		}
	}
	return tx.Commit(ctx)
}
