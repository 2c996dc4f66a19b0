package data

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Tiled-style JSON document structures. Only the subset the server consumes
// is modeled.
type tiledDoc struct {
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	TileWidth  int32        `json:"tilewidth"`
	TileHeight int32        `json:"tileheight"`
	Layers     []tiledLayer `json:"layers"`
	Tilesets   []tiledSet   `json:"tilesets"`
}

type tiledLayer struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"` // tilelayer | objectgroup
	Data    []uint32      `json:"data"`
	Objects []tiledObject `json:"objects"`
}

type tiledObject struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	X          float64     `json:"x"` // pixels
	Y          float64     `json:"y"`
	Properties []tiledProp `json:"properties"`
}

type tiledSet struct {
	FirstGID uint32      `json:"firstgid"`
	Tiles    []tiledTile `json:"tiles"`
}

type tiledTile struct {
	ID         uint32      `json:"id"` // local id within the tileset
	Properties []tiledProp `json:"properties"`
}

type tiledProp struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func (o tiledObject) prop(name string) (any, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func (o tiledObject) intProp(name string, def int32) int32 {
	v, ok := o.prop(name)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int32(n)
	case int:
		return int32(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return def
		}
		return int32(i)
	}
	return def
}

// EntitySpawn is one entity_spawn object extracted from a map.
type EntitySpawn struct {
	EntityKind     int32
	X, Y           int32
	WanderRadius   int32
	AggroRange     int32 // 0 = use kind default
	DisengageRange int32 // 0 = use kind default
}

// TileLayer is one tile layer of a loaded map.
type TileLayer struct {
	Name      string
	Collision bool
	Data      []uint32 // row-major, 0 = empty
}

// Map is one loaded map document, immutable after load.
type Map struct {
	ID           int32
	Width        int32
	Height       int32
	TileSize     int32
	Layers       []TileLayer
	PlayerSpawn  *struct{ X, Y int32 }
	EntitySpawns []EntitySpawn

	walkable []bool // precomputed per tile
}

// InBounds reports whether (x, y) is a tile on the map.
func (m *Map) InBounds(x, y int32) bool {
	return x >= 0 && y >= 0 && x < m.Width && y < m.Height
}

// Walkable reports whether (x, y) is in bounds and passable.
func (m *Map) Walkable(x, y int32) bool {
	if !m.InBounds(x, y) {
		return false
	}
	return m.walkable[y*m.Width+x]
}

// NewMap builds a map directly from layers, computing walkability from the
// layers' collision flags. Object-layer data (spawns) is left to the caller.
func NewMap(id, width, height, tileSize int32, layers []TileLayer) *Map {
	m := &Map{
		ID:       id,
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		Layers:   layers,
		walkable: make([]bool, width*height),
	}
	for i := range m.walkable {
		m.walkable[i] = true
	}
	for _, l := range layers {
		if !l.Collision {
			continue
		}
		for i, gid := range l.Data {
			if gid != 0 {
				m.walkable[i] = false
			}
		}
	}
	return m
}

// Service holds every loaded map keyed by id.
type Service struct {
	maps      map[int32]*Map
	chunkSize int32
}

// LoadMaps reads every <id>.json under dir. Layer names listed in
// collisionLayers block movement on any non-empty tile; elsewhere a per-tile
// walkable=false property blocks.
func LoadMaps(dir string, collisionLayers []string, chunkSize int32) (*Service, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read map dir %s: %w", dir, err)
	}
	svc := &Service{maps: make(map[int32]*Map), chunkSize: chunkSize}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		idStr := strings.TrimSuffix(e.Name(), ".json")
		id, err := strconv.ParseInt(idStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("map file %s: name must be <id>.json", e.Name())
		}
		m, err := loadMap(filepath.Join(dir, e.Name()), int32(id), collisionLayers)
		if err != nil {
			return nil, err
		}
		svc.maps[m.ID] = m
	}
	if len(svc.maps) == 0 {
		return nil, fmt.Errorf("no maps found in %s", dir)
	}
	return svc, nil
}

// NewService wraps pre-built maps; used by tests.
func NewService(maps []*Map, chunkSize int32) *Service {
	svc := &Service{maps: make(map[int32]*Map, len(maps)), chunkSize: chunkSize}
	for _, m := range maps {
		svc.maps[m.ID] = m
	}
	return svc
}

func loadMap(path string, id int32, collisionLayers []string) (*Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map %s: %w", path, err)
	}
	var doc tiledDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse map %s: %w", path, err)
	}
	return BuildMap(id, &doc, collisionLayers)
}

// BuildMap assembles a Map from a parsed document.
func BuildMap(id int32, doc *tiledDoc, collisionLayers []string) (*Map, error) {
	if doc.Width <= 0 || doc.Height <= 0 {
		return nil, fmt.Errorf("map %d: bad dimensions %dx%d", id, doc.Width, doc.Height)
	}
	tileSize := doc.TileWidth
	if tileSize <= 0 {
		tileSize = 32
	}
	m := &Map{
		ID:       id,
		Width:    int32(doc.Width),
		Height:   int32(doc.Height),
		TileSize: tileSize,
		walkable: make([]bool, doc.Width*doc.Height),
	}
	for i := range m.walkable {
		m.walkable[i] = true
	}

	isCollision := func(name string) bool {
		for _, c := range collisionLayers {
			if name == c {
				return true
			}
		}
		return false
	}

	// Per-gid walkable=false properties from tilesets.
	blockedGIDs := map[uint32]bool{}
	for _, ts := range doc.Tilesets {
		for _, tile := range ts.Tiles {
			for _, p := range tile.Properties {
				if p.Name == "walkable" {
					if b, ok := p.Value.(bool); ok && !b {
						blockedGIDs[ts.FirstGID+tile.ID] = true
					}
				}
			}
		}
	}

	size := doc.Width * doc.Height
	for _, l := range doc.Layers {
		switch l.Type {
		case "tilelayer":
			if len(l.Data) != size {
				return nil, fmt.Errorf("map %d: layer %q has %d tiles, want %d", id, l.Name, len(l.Data), size)
			}
			layer := TileLayer{Name: l.Name, Collision: isCollision(l.Name), Data: l.Data}
			m.Layers = append(m.Layers, layer)
			for i, gid := range l.Data {
				if gid == 0 {
					continue
				}
				if layer.Collision || blockedGIDs[gid] {
					m.walkable[i] = false
				}
			}
		case "objectgroup":
			for _, o := range l.Objects {
				tx := int32(o.X) / tileSize
				ty := int32(o.Y) / tileSize
				switch {
				case o.Type == "player_spawn" || o.Name == "player_spawn":
					// first wins
					if m.PlayerSpawn == nil {
						m.PlayerSpawn = &struct{ X, Y int32 }{tx, ty}
					}
				case o.Type == "entity_spawn" || o.Name == "entity_spawn":
					spawn := EntitySpawn{
						EntityKind:     o.intProp("entity_id", 0),
						X:              tx,
						Y:              ty,
						WanderRadius:   o.intProp("wander_radius", 0),
						AggroRange:     o.intProp("aggro_override", 0),
						DisengageRange: o.intProp("disengage_override", 0),
					}
					if spawn.EntityKind > 0 {
						m.EntitySpawns = append(m.EntitySpawns, spawn)
					}
				}
			}
		}
	}
	return m, nil
}

// Get returns the map for id, or nil.
func (s *Service) Get(id int32) *Map { return s.maps[id] }

// IDs lists loaded map ids.
func (s *Service) IDs() []int32 {
	out := make([]int32, 0, len(s.maps))
	for id := range s.maps {
		out = append(out, id)
	}
	return out
}

// ChunkSize is the side length of one chunk in tiles.
func (s *Service) ChunkSize() int32 { return s.chunkSize }

// Chunk is one chunk_size × chunk_size window of a map.
type Chunk struct {
	ChunkX int32
	ChunkY int32
	Layers []ChunkLayer
}

type ChunkLayer struct {
	Name      string
	Collision bool
	Tiles     []uint32 // row-major chunk window, 0 outside the map
}

// ChunksAround extracts the chunks within radius (in chunks) of the chunk
// containing tile (centerX, centerY).
func (s *Service) ChunksAround(mapID, centerX, centerY, radius int32) ([]Chunk, error) {
	m := s.maps[mapID]
	if m == nil {
		return nil, fmt.Errorf("unknown map %d", mapID)
	}
	ccx, ccy := centerX/s.chunkSize, centerY/s.chunkSize
	var out []Chunk
	for cy := ccy - radius; cy <= ccy+radius; cy++ {
		for cx := ccx - radius; cx <= ccx+radius; cx++ {
			if cx < 0 || cy < 0 || cx*s.chunkSize >= m.Width || cy*s.chunkSize >= m.Height {
				continue
			}
			out = append(out, s.extractChunk(m, cx, cy))
		}
	}
	return out, nil
}

func (s *Service) extractChunk(m *Map, cx, cy int32) Chunk {
	n := s.chunkSize
	chunk := Chunk{ChunkX: cx, ChunkY: cy}
	for _, layer := range m.Layers {
		tiles := make([]uint32, n*n)
		for ty := int32(0); ty < n; ty++ {
			for tx := int32(0); tx < n; tx++ {
				x, y := cx*n+tx, cy*n+ty
				if m.InBounds(x, y) {
					tiles[ty*n+tx] = layer.Data[y*m.Width+x]
				}
			}
		}
		chunk.Layers = append(chunk.Layers, ChunkLayer{Name: layer.Name, Collision: layer.Collision, Tiles: tiles})
	}
	return chunk
}
