package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tilemud/server/internal/world"
)

// RunFlusher drains the dirty buckets on an interval until ctx is canceled,
// then performs one final synchronous drain.
func (s *Store) RunFlusher(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Cache.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Final drain gets its own deadline: shutdown must not hang on a
			// dead database.
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.Flush(drainCtx)
			cancel()
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush writes every dirty entry to durable. Failed entries are re-marked
// dirty for the next cycle; the cycle logs and continues.
func (s *Store) Flush(ctx context.Context) {
	s.mu.Lock()
	pos := drainSet(s.dirtyPos)
	inv := drainSet(s.dirtyInv)
	equip := drainSet(s.dirtyEquip)
	skills := drainSet(s.dirtySkills)
	ground := drainMapSet(s.dirtyGround)
	s.mu.Unlock()

	for id := range pos {
		if err := s.flushPosition(ctx, id); err != nil {
			s.log.Warn("flush position failed", zap.Int64("player", id), zap.Error(err))
			s.markDirty(s.dirtyPos, id)
		}
	}
	for id := range inv {
		if err := s.flushInventory(ctx, id); err != nil {
			s.log.Warn("flush inventory failed", zap.Int64("player", id), zap.Error(err))
			s.markDirty(s.dirtyInv, id)
		}
	}
	for id := range equip {
		if err := s.flushEquipment(ctx, id); err != nil {
			s.log.Warn("flush equipment failed", zap.Int64("player", id), zap.Error(err))
			s.markDirty(s.dirtyEquip, id)
		}
	}
	for id := range skills {
		if err := s.flushSkills(ctx, id); err != nil {
			s.log.Warn("flush skills failed", zap.Int64("player", id), zap.Error(err))
			s.markDirty(s.dirtySkills, id)
		}
	}
	for mapID := range ground {
		if err := s.flushGroundMap(ctx, mapID); err != nil {
			s.log.Warn("flush ground items failed", zap.Int32("map", mapID), zap.Error(err))
			s.markDirtyMap(mapID)
		}
	}
}

// FlushPlayer synchronously writes one player's full state; called from the
// disconnect path before the runtime state is torn down.
func (s *Store) FlushPlayer(ctx context.Context, id int64) error {
	if err := s.flushPosition(ctx, id); err != nil {
		return err
	}
	if err := s.flushInventory(ctx, id); err != nil {
		return err
	}
	if err := s.flushEquipment(ctx, id); err != nil {
		return err
	}
	return s.flushSkills(ctx, id)
}

func (s *Store) flushPosition(ctx context.Context, id int64) error {
	v, _, ok := s.cache.get(keyPlayerState(id))
	if !ok {
		return nil // expired from cache; durable already holds the last flush
	}
	st := v.(*world.PlayerState)
	return s.db.UpdatePlayerState(ctx, id, st.Pos, st.HP)
}

func (s *Store) flushInventory(ctx context.Context, id int64) error {
	v, _, ok := s.cache.get(keyInventory(id))
	if !ok {
		return nil
	}
	return s.db.ReplaceInventory(ctx, id, v.(*world.Inventory))
}

func (s *Store) flushEquipment(ctx context.Context, id int64) error {
	v, _, ok := s.cache.get(keyEquipment(id))
	if !ok {
		return nil
	}
	return s.db.ReplaceEquipment(ctx, id, v.(*world.Equipment))
}

func (s *Store) flushSkills(ctx context.Context, id int64) error {
	v, _, ok := s.cache.get(keySkills(id))
	if !ok {
		return nil
	}
	return s.db.ReplaceSkills(ctx, id, v.(*world.Skills))
}

func (s *Store) flushGroundMap(ctx context.Context, mapID int32) error {
	return s.db.ReplaceGroundItems(ctx, mapID, s.GroundItemsOnMap(mapID))
}

func drainSet(set map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
		delete(set, id)
	}
	return out
}

func drainMapSet(set map[int32]struct{}) map[int32]struct{} {
	out := make(map[int32]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
		delete(set, id)
	}
	return out
}
