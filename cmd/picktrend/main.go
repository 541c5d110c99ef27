package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leesh5000/picktrend/internal/api"
	"github.com/leesh5000/picktrend/internal/cache"
	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/config"
	"github.com/leesh5000/picktrend/internal/graph"
	"github.com/leesh5000/picktrend/internal/jobs"
	"github.com/leesh5000/picktrend/internal/lock"
	"github.com/leesh5000/picktrend/internal/matcher"
	"github.com/leesh5000/picktrend/internal/notify"
	"github.com/leesh5000/picktrend/internal/ranking"
	"github.com/leesh5000/picktrend/internal/similarity"
	pgstore "github.com/leesh5000/picktrend/internal/store"
	"github.com/leesh5000/picktrend/internal/store/memstore"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// backend is everything the pipeline reads and writes; both the Postgres
// store and the in-memory store provide it.
type backend interface {
	api.KeywordStore
	cluster.Store
	matcher.Store
	ranking.Store
	graph.Source
}

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/picktrend.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting PickTrend...", zap.String("config", cfgPath))

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}
	ctx := context.Background()

	// Initialize store
	var st backend
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Fatal("PostgreSQL unavailable", zap.Error(pgErr))
		}
		if mErr := ps.Migrate(ctx, "migrations"); mErr != nil {
			logger.Fatal("migration failed", zap.Error(mErr))
		}
		pgStore = ps
		st = ps
	} else {
		logger.Warn("No PostgreSQL DSN configured, running on the in-memory store")
		st = memstore.New()
	}

	// Core services
	brands := matcher.DefaultBrands()
	if cfg.Matching.BrandsFile != "" {
		b, bErr := matcher.LoadBrands(cfg.Matching.BrandsFile)
		if bErr != nil {
			logger.Fatal("failed to load brand dictionary", zap.String("path", cfg.Matching.BrandsFile), zap.Error(bErr))
		}
		brands = b
	}
	sim := similarity.New(nil)
	weights := cluster.DefaultSourceWeights().Merge(cfg.SourceWeights)
	clusters := cluster.New(st, sim, weights, logger)
	clusterCfg := cluster.Config{
		SimilarityThreshold: cfg.Clustering.SimilarityThreshold,
		MinClusterSize:      cfg.Clustering.MinClusterSize,
		MaxClusterSize:      cfg.Clustering.MaxClusterSize,
		BatchSize:           cfg.Clustering.BatchSize,
	}
	m := matcher.New(st, matcher.NewScorer(sim, brands), matcher.Config{
		MinScore:      cfg.Matching.MinScore,
		Limit:         cfg.Matching.Limit,
		RatePerSecond: cfg.Matching.RatePerSecond,
	}, logger)

	excluded := ranking.DefaultExcludedSources()
	if cfg.Ranking.ExcludedSources != nil {
		excluded = make([]trend.Source, 0, len(cfg.Ranking.ExcludedSources))
		for _, s := range cfg.Ranking.ExcludedSources {
			excluded = append(excluded, trend.Source(s))
		}
	}
	gen := ranking.New(st, ranking.Config{Location: loc, ExcludedSources: excluded}, logger)

	runnerOpts := []jobs.RunnerOption{}
	var boards api.Leaderboards = gen
	var runs api.RunLookup
	var checks = map[string]api.Pinger{}
	if pgStore != nil {
		checks["postgres"] = pgStore
	}

	// Redis: job locks, run tracking and the leaderboard cache
	rdb, rErr := cache.Connect(ctx, cfg.Database.Redis.URL)
	if rErr != nil {
		logger.Warn("Redis unavailable, running without locks, run tracking and cache", zap.Error(rErr))
	} else {
		ttl, dErr := config.Duration(cfg.Ranking.CacheTTL, 24*time.Hour)
		if dErr != nil {
			logger.Fatal("invalid cache ttl", zap.Error(dErr))
		}
		board := cache.NewLeaderboard(rdb, gen, ttl, logger)
		tracker := jobs.NewRedisTracker(rdb, 0, logger)
		boards = board
		runs = tracker
		runnerOpts = append(runnerOpts,
			jobs.WithLocker(lock.New(rdb, 0)),
			jobs.WithTracker(tracker),
			jobs.WithPublishers(jobs.PublisherFunc(board.Put)),
		)
		checks["redis"] = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("Redis connected")
	}

	// Neo4j: cluster graph projection
	var projector *graph.Projector
	if cfg.Database.Neo4j.URI != "" {
		p, gErr := graph.New(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, st, logger)
		if gErr == nil {
			gErr = p.Ping(ctx)
		}
		if gErr == nil {
			gErr = p.EnsureSchema(ctx)
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without cluster graph", zap.Error(gErr))
			if p != nil {
				p.Close(ctx)
			}
		} else {
			projector = p
			runnerOpts = append(runnerOpts, jobs.WithProjector(p))
			checks["neo4j"] = p
			logger.Info("Neo4j connected")
		}
	}

	// Digest posters
	var posters []notify.Poster
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		posters = append(posters, notify.NewSlackPoster(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.ChannelID, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dp, dErr := notify.NewDiscordPoster(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord poster unavailable", zap.Error(dErr))
		} else {
			posters = append(posters, dp)
		}
	}
	if len(posters) > 0 {
		runnerOpts = append(runnerOpts, jobs.WithPublishers(notify.NewDigest(posters, cfg.Notify.Top, nil, logger)))
	}

	runner := jobs.NewRunner(clusters, m, gen, clusterCfg,
		matcher.MatchOptions{ClearExisting: true, PreserveManual: true}, logger, runnerOpts...)

	// Scheduler
	timeout, err := config.Duration(cfg.Schedule.Timeout, 30*time.Minute)
	if err != nil {
		logger.Fatal("invalid schedule timeout", zap.Error(err))
	}
	scheduler := jobs.NewScheduler(runner, loc, logger)
	if err := scheduler.Setup(jobs.Schedule{
		Cluster:     cfg.Schedule.Cluster,
		Match:       cfg.Schedule.Match,
		RankDaily:   cfg.Schedule.RankDaily,
		RankMonthly: cfg.Schedule.RankMonthly,
		Timeout:     timeout,
	}); err != nil {
		logger.Fatal("invalid schedule", zap.Error(err))
	}
	scheduler.Start()
	logger.Info("Scheduler started", zap.Int("jobs", scheduler.Len()))

	// Build HTTP handler
	handler := api.NewHandler(st, clusters, clusterCfg, m, boards, runner, loc, logger)
	if projector != nil {
		handler.SetRelated(projector)
	}
	if runs != nil {
		handler.SetRuns(runs)
	}
	for name, p := range checks {
		handler.AddHealthCheck(name, p)
	}

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("PickTrend listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down PickTrend...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	srv.Shutdown(shutdownCtx)
	if projector != nil {
		projector.Close(shutdownCtx)
	}
	if rdb != nil {
		rdb.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	zc := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
