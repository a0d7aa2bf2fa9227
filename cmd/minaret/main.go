// Command minaret runs the sync orchestration and admin API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/barakah-labs/minaret/pkg/admission"
	"github.com/barakah-labs/minaret/pkg/audit"
	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/config"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/jobs"
	"github.com/barakah-labs/minaret/pkg/observability"
	"github.com/barakah-labs/minaret/pkg/prayer"
	"github.com/barakah-labs/minaret/pkg/server"
	"github.com/barakah-labs/minaret/pkg/store"
	"github.com/barakah-labs/minaret/pkg/syncer"
	"github.com/barakah-labs/minaret/pkg/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to reach db: %v", err)
	}

	st := store.New(db, store.WithBulkChunkSize(cfg.BulkChunkSize))
	if err := st.Init(ctx); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}
	if err := st.Schedules.Seed(ctx); err != nil {
		log.Fatalf("Failed to seed schedules: %v", err)
	}
	if err := seedAdmin(ctx, st, cfg); err != nil {
		log.Fatalf("Failed to seed admin user: %v", err)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}

	var counters admission.CounterStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to reach redis: %v", err)
		}
		counters = admission.NewRedisCounterStore(rdb)
	} else {
		counters = admission.NewMemoryCounterStore()
	}

	pipeline := admission.New(st, counters, obs)
	tokens := auth.NewTokenService(cfg.JWTSecret)
	recorder := audit.NewRecorder(st)
	authSvc := auth.NewService(st, tokens, recorder)

	engine := syncer.NewEngine(st, obs, time.Duration(cfg.SyncGateHours)*time.Hour)
	planner, dispatch, err := buildSync(cfg, st, engine)
	if err != nil {
		log.Fatalf("Failed to wire syncers: %v", err)
	}

	mgr := jobs.NewManager(st)
	runner := jobs.NewRunner(st, obs, dispatch)
	scheduler := jobs.NewScheduler(st, mgr)

	runner.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	srv := server.New(server.Deps{
		Config:   cfg,
		Store:    st,
		Pipeline: pipeline,
		Tokens:   tokens,
		Auth:     authSvc,
		Recorder: recorder,
		Jobs:     mgr,
		Planner:  planner,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	scheduler.Stop()
	runner.Stop()
	pipeline.Close()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		slog.Warn("observability shutdown", "error", err)
	}
	slog.Info("shutdown complete")
}

// buildSync constructs the upstream clients, the per-domain syncers, and the
// job-type dispatch table the runner executes.
func buildSync(cfg *config.Config, st *store.Store, engine *syncer.Engine) (*prayer.Planner, jobs.Dispatch, error) {
	fallbacks, err := syncer.ParseTranslationFallbacks(cfg.TranslationFallbacks)
	if err != nil {
		return nil, nil, err
	}

	// Every client here serves the sync path: long call budget plus
	// transient-5xx retries.
	quranClient := upstream.NewSyncClient("quran", cfg.SyncCallTimeout, cfg.SyncRetryAttempts, cfg.SyncRetryBackoff)
	hadithClient := upstream.NewSyncClient("hadith", cfg.SyncCallTimeout, cfg.SyncRetryAttempts, cfg.SyncRetryBackoff)
	aladhanClient := upstream.NewSyncClient("aladhan", cfg.SyncCallTimeout, cfg.SyncRetryAttempts, cfg.SyncRetryBackoff)
	goldClient := upstream.NewSyncClient("metalprice", cfg.SyncCallTimeout, cfg.SyncRetryAttempts, cfg.SyncRetryBackoff)

	quranSync := syncer.NewQuranSyncer(engine, quranClient, cfg.QuranAPIBase, fallbacks)
	hadithSync := syncer.NewHadithSyncer(engine, hadithClient, cfg.HadithAPIBase)
	audioSync := syncer.NewAudioSyncer(engine, quranClient, cfg.QuranAPIBase)
	financeSync := syncer.NewFinanceSyncer(engine, goldClient, cfg.GoldAPIBase, cfg.GoldCurrency)
	zakatSync := syncer.NewZakatSyncer(engine, cfg.GoldCurrency)
	catalogSync := syncer.NewPrayerCatalogSyncer(engine, aladhanClient, cfg.PrayerAPIBase)

	planner := prayer.NewPlanner(engine, st, aladhanClient, prayer.Config{
		BaseURL:        cfg.PrayerAPIBase,
		MaxConcurrency: cfg.PrayerMaxConcurrency,
		PolitenessMin:  time.Duration(cfg.PolitenessMinMs) * time.Millisecond,
		PolitenessMax:  time.Duration(cfg.PolitenessMaxMs) * time.Millisecond,
	})

	dispatch := jobs.Dispatch{
		store.JobTypeQuran: func(ctx context.Context, _ *store.Job, opts syncer.Options) (*syncer.Result, error) {
			return quranSync.Sync(ctx, opts)
		},
		store.JobTypeHadith: func(ctx context.Context, _ *store.Job, opts syncer.Options) (*syncer.Result, error) {
			return hadithSync.Sync(ctx, opts)
		},
		store.JobTypeAudio: func(ctx context.Context, _ *store.Job, opts syncer.Options) (*syncer.Result, error) {
			return audioSync.Sync(ctx, opts)
		},
		store.JobTypeFinance: func(ctx context.Context, _ *store.Job, opts syncer.Options) (*syncer.Result, error) {
			return financeSync.Sync(ctx, opts)
		},
		store.JobTypeZakat: func(ctx context.Context, _ *store.Job, opts syncer.Options) (*syncer.Result, error) {
			return zakatSync.Sync(ctx, opts)
		},
		// A prewarm-tagged prayer job fans out across tracked locations;
		// otherwise the job refreshes the method catalog.
		store.JobTypePrayer: func(ctx context.Context, job *store.Job, opts syncer.Options) (*syncer.Result, error) {
			if prewarm, _ := job.Metadata["prewarm"].(bool); prewarm {
				days := prayer.MinDays
				if v, ok := job.Metadata["days"].(float64); ok {
					days = int(v)
				}
				if days < prayer.MinDays || days > prayer.MaxDays {
					days = 7
				}
				return planner.Prewarm(ctx, days, opts)
			}
			return catalogSync.Sync(ctx, opts)
		},
	}
	return planner, dispatch, nil
}

// seedAdmin creates the initial super admin when SEED_ADMIN_EMAIL and
// SEED_ADMIN_PASSWORD are set. Idempotent across restarts.
func seedAdmin(ctx context.Context, st *store.Store, cfg *config.Config) error {
	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		return nil
	}

	_, err := st.Users.GetByEmail(ctx, cfg.SeedAdminEmail)
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.KindNotFound {
		return err
	}

	if err := auth.ValidatePassword(cfg.SeedAdminPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(cfg.SeedAdminPassword)
	if err != nil {
		return err
	}
	_, err = st.Users.Create(ctx, &store.AdminUser{
		Email:        cfg.SeedAdminEmail,
		PasswordHash: hash,
		Role:         store.RoleSuperAdmin,
		Active:       true,
	})
	if err != nil {
		return err
	}
	slog.Info("seeded super admin", "email", cfg.SeedAdminEmail)
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
