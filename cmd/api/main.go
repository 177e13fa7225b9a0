package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/prazos-api/internal/application/account"
	"github.com/prazos-api/internal/application/numbering"
	"github.com/prazos-api/internal/config"
	"github.com/prazos-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/prazos-api/internal/infrastructure/jwt"
	"github.com/prazos-api/internal/infrastructure/memory"
	"github.com/prazos-api/internal/infrastructure/metrics"
	redisinfra "github.com/prazos-api/internal/infrastructure/redis"
	s3infra "github.com/prazos-api/internal/infrastructure/s3"
	transporthttp "github.com/prazos-api/internal/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	awsCfg := dynamo.LoadAWSConfig(cfg)
	dynamoClient := dynamo.NewClient(cfg, awsCfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("JWT provider: %v", err)
	}

	var docs numbering.DocumentStore = dynamo.NewPoolRepo(dynamoClient, cfg.DynamoTables.NumberPools)
	if cfg.PoolStore == config.PoolStoreMemory {
		slog.Warn("pools kept in memory; state is lost on restart and not shared between instances")
		docs = memory.NewPoolStore()
	}

	feed, closeFeed, err := newChangeFeed(ctx, cfg, awsCfg, dynamoClient)
	if err != nil {
		log.Fatalf("change feed: %v", err)
	}
	defer closeFeed()
	store := numbering.NewStore(docs, feed)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var archiver numbering.Archiver
	if cfg.SnapshotBucket != "" {
		archiver = s3infra.NewArchiver(s3infra.NewClient(cfg, awsCfg), cfg.SnapshotBucket)
	}

	accounts := account.NewService(account.ServiceDeps{
		UserRepo:    dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		JWTProvider: jwtProvider,
	})
	ctrl := numbering.NewController(store, accounts, numbering.Options{
		UpperBound: cfg.NumberingUpperBound,
		Archiver:   archiver,
		Recorder:   metrics.New(reg),
	})
	sessions := numbering.NewSessions(ctrl)

	go func() {
		if err := store.Run(ctx); err != nil {
			slog.Error("change feed stopped", "feed", cfg.ChangeFeed, "err", err)
		}
	}()

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Accounts:    accounts,
		JWTProvider: jwtProvider,
		Controller:  ctrl,
		Sessions:    sessions,
		Gatherer:    reg,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, feed=%s)", cfg.AppPort, cfg.AppEnv, cfg.ChangeFeed)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	sessions.Close()
	log.Println("Server stopped")
}

// newChangeFeed picks how pool changes reach other sessions. A nil feed echoes
// writes inside this process only.
func newChangeFeed(ctx context.Context, cfg *config.Config, awsCfg aws.Config, client *dynamodb.Client) (numbering.ChangeFeed, func(), error) {
	noop := func() {}
	switch cfg.ChangeFeed {
	case config.FeedLocal:
		return nil, noop, nil
	case config.FeedRedis:
		rdb, err := redisinfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return redisinfra.NewFeed(rdb, cfg.RedisChannel), func() { _ = rdb.Close() }, nil
	case config.FeedDynamoStreams:
		if cfg.PoolStore == config.PoolStoreMemory {
			return nil, noop, errors.New("dynamostreams feed needs POOL_STORE=dynamo")
		}
		arn, err := dynamo.StreamARN(ctx, client, cfg.DynamoTables.NumberPools)
		if err != nil {
			return nil, noop, err
		}
		return dynamo.NewStreamFeed(dynamo.NewStreamsClient(cfg, awsCfg), arn, cfg.StreamPollInterval), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown CHANGE_FEED %q", cfg.ChangeFeed)
	}
}
