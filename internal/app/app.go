package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/loom-backend/internal/chat"
	"github.com/yungbote/loom-backend/internal/handlers"
	"github.com/yungbote/loom-backend/internal/kv"
	"github.com/yungbote/loom-backend/internal/lease"
	"github.com/yungbote/loom-backend/internal/llm"
	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/observability"
	"github.com/yungbote/loom-backend/internal/server"
	"github.com/yungbote/loom-backend/internal/services"
	"github.com/yungbote/loom-backend/internal/sse"
	"github.com/yungbote/loom-backend/internal/tasks"

	"github.com/yungbote/loom-backend/internal/repos"
)

// App wires the whole learn-mode backend: persistence port, repos, the
// generation coordinator and its lease, policies, reconciler loop, and the
// HTTP surface.
type App struct {
	Log    *logger.Logger
	Config Config
	Router *gin.Engine
	Group  *tasks.Group

	closer       func() error
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	cfg := LoadConfig(log)
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.AppEnv,
	})

	store, redisStore, closer, err := buildStore(cfg, log)
	if err != nil {
		return nil, err
	}

	ai, err := llm.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("llm client init: %w", err)
	}

	// One mutex guards every synchronous read-modify-write across the learn
	// collections. Model calls never run under it.
	stateMu := &sync.Mutex{}

	outlineRepo := repos.NewOutlineRepo(store, log)
	courseRepo := repos.NewCourseRepo(store, log)
	goalRepo := repos.NewGoalRepo(store, log)
	pendingRepo := repos.NewPendingRepo(store, log)
	prefetchRepo := repos.NewPrefetchRepo(store, log)

	var leaser lease.Leaser
	if redisStore != nil {
		leaser = lease.NewRedisLeaser(redisStore.Client(), "loom:lease:", cfg.GenerationTTL, log)
	} else {
		leaser = lease.NewFlagLeaser(store, log, cfg.GenerationTTL)
	}

	convs := chat.NewKVSource(store, log)
	summarizer := chat.NewSummarizer(ai, log)
	hub := sse.NewHub(log)
	group := tasks.NewGroup(log)
	surface := services.NewSurfaceTracker()

	statusSvc := services.NewStatusService(stateMu, log, outlineRepo, courseRepo, goalRepo, pendingRepo, hub)
	generationSvc := services.NewGenerationService(stateMu, log, outlineRepo, courseRepo, prefetchRepo, leaser, ai, convs, group, hub)
	reconcilerSvc := services.NewReconcilerService(stateMu, log, outlineRepo, courseRepo, goalRepo, pendingRepo, hub, cfg.ReconcileInterval)
	regroupSvc := services.NewRegroupService(stateMu, log, outlineRepo, courseRepo, goalRepo, pendingRepo, ai, hub)
	proposalSvc := services.NewProposalService(stateMu, log, outlineRepo, courseRepo, convs, summarizer, ai)
	triggerSvc := services.NewTriggerService(stateMu, log, outlineRepo, pendingRepo, convs, proposalSvc, regroupSvc, surface, hub)

	// Completing a course may make a new cluster viable.
	statusSvc.OnCompleted(func(string) {
		group.Spawn("auto-regroup-pending", triggerSvc.AutoRegroupPending)
	})

	group.GoLoop("reconciler", reconcilerSvc.Run)

	learnHandler := handlers.NewLearnHandler(
		log,
		outlineRepo, courseRepo, goalRepo, pendingRepo,
		statusSvc, generationSvc, regroupSvc, triggerSvc, reconcilerSvc,
		surface, group,
	)
	sseHandler := handlers.NewSSEHandler(log, hub)

	router := server.NewRouter(server.RouterConfig{
		Log:          log,
		AllowOrigins: cfg.AllowOrigins,
		ServiceName:  cfg.ServiceName,
		Learn:        learnHandler,
		SSE:          sseHandler,
	})

	return &App{
		Log:          log,
		Config:       cfg,
		Router:       router,
		Group:        group,
		closer:       closer,
		otelShutdown: otelShutdown,
	}, nil
}

func buildStore(cfg Config, log *logger.Logger) (kv.Store, *kv.RedisStore, func() error, error) {
	switch cfg.KVBackend {
	case "redis":
		rs, err := kv.NewRedisStore(log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis store init: %w", err)
		}
		return kv.WithQuotaGuard(rs, log), rs, rs.Close, nil
	case "memory":
		return kv.WithQuotaGuard(kv.NewMemStore(), log), nil, nil, nil
	default:
		gs, err := kv.NewGormStore(log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gorm store init: %w", err)
		}
		return kv.WithQuotaGuard(gs, log), nil, nil, nil
	}
}

// Run serves HTTP until SIGINT/SIGTERM, then drains background work and
// flushes telemetry.
func (a *App) Run() error {
	srv := &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		a.Log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Log.Warn("http shutdown incomplete", "error", err)
	}
	if err := a.Group.Shutdown(a.Config.ShutdownTimeout); err != nil {
		a.Log.Warn("background drain incomplete", "error", err)
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.closer != nil {
		if err := a.closer(); err != nil {
			a.Log.Warn("store close failed", "error", err)
		}
	}
	a.Log.Sync()
	return nil
}
