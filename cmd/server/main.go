package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tilemud/server/internal/auth"
	"github.com/tilemud/server/internal/config"
	"github.com/tilemud/server/internal/data"
	"github.com/tilemud/server/internal/game"
	"github.com/tilemud/server/internal/handler"
	"github.com/tilemud/server/internal/persist"
	"github.com/tilemud/server/internal/scripting"
	"github.com/tilemud/server/internal/session"
	"github.com/tilemud/server/internal/store"
	"github.com/tilemud/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("TILEMUD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	log.Info("starting", zap.String("server", cfg.Server.Name), zap.String("config", cfgPath))

	// 3. Connect to PostgreSQL and run migrations
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("database ready")

	playerRepo := persist.NewPlayerRepo(db)
	itemRepo := persist.NewItemRepo(db)
	skillsRepo := persist.NewSkillsRepo(db)
	groundRepo := persist.NewGroundItemRepo(db)

	// 4. Load static game data
	items, err := data.LoadItemTable(cfg.Maps.ItemsFile)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	entities, err := data.LoadEntityTable(cfg.Maps.EntitiesFile)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	maps, err := data.LoadMaps(cfg.Maps.Dir, cfg.Maps.CollisionLayerNames, cfg.Maps.ChunkSize)
	if err != nil {
		return fmt.Errorf("load maps: %w", err)
	}
	log.Info("game data loaded",
		zap.Int("item_kinds", items.Len()),
		zap.Int("entity_kinds", entities.Len()),
		zap.Int("maps", len(maps.IDs())))

	// 5. Hot state on top of the durable tier
	st := store.New(cfg, store.Repos{
		Players: playerRepo,
		Items:   itemRepo,
		Skills:  skillsRepo,
		Ground:  groundRepo,
	}, log, time.Now)

	game.SpawnEntities(st, maps, entities, log)

	ground, maxGroundID, err := groundRepo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load ground items: %w", err)
	}
	st.SeedGroundItems(ground)
	world.SeedGroundItemID(maxGroundID)
	if len(ground) > 0 {
		log.Info("ground items restored", zap.Int("count", len(ground)))
	}

	// 6. Lua combat formulas
	scripts, err := scripting.NewEngine(log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer scripts.Close()

	// 7. Game services
	registry := session.NewRegistry()
	locks := game.NewLockManager(0)
	limiter := game.NewActionLimiter(nil)
	vis := game.NewVisibility(cfg.VisibilityCacheSize())
	resolver := game.NewResolver(cfg, st, items, entities, scripts, registry, locks, log)
	ai := game.NewAI(cfg, st, maps, entities, registry, resolver, locks, log)

	loop := game.NewLoop(cfg, log, nil)

	h := handler.New(handler.Deps{
		Cfg:      cfg,
		Log:      log,
		Store:    st,
		Items:    items,
		Entities: entities,
		Maps:     maps,
		Sessions: registry,
		Accounts: playerRepo,
		Combat:   resolver,
		Locks:    locks,
		Limiter:  limiter,
		Vis:      vis,
		Clock:    time.Now,
		Tick:     loop.Tick,
	})

	// 8. Transport: auth HTTP endpoints plus the WebSocket session server
	tokens := auth.NewManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL, nil)
	spawn := world.Position{MapID: cfg.Game.Spawn.MapID, X: cfg.Game.Spawn.X, Y: cfg.Game.Spawn.Y}

	mux := http.NewServeMux()
	auth.NewHTTPHandler(playerRepo, tokens, spawn, log).Mount(mux)
	session.NewServer(cfg, tokens, playerRepo, registry, h, log).Mount(mux)

	// 9. Tick loop
	loop.Register(game.AISystem{AI: ai})
	loop.Register(game.CombatSystem{Resolver: resolver})
	loop.Register(game.GroundSystem{Store: st, Bcast: registry})
	loop.Register(game.LifecycleSystem{Store: st, Maps: maps, Resolver: resolver})
	loop.Register(game.VisibilitySystem{
		Cfg:      cfg,
		Store:    st,
		Entities: entities,
		Vis:      vis,
		Bcast:    registry,
		Log:      log,
	})

	// 10. Run until signalled
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go loop.Run(runCtx)
	go st.RunFlusher(runCtx)

	srv := &http.Server{Addr: cfg.Server.BindAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.BindAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-runCtx.Done():
	}
	log.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	// final flush so nothing dirty is lost
	st.Flush(shutCtx)
	log.Info("stopped", zap.Int64("ticks", loop.Tick()))
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
