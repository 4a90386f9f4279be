//go:build integration

// Package integration runs the persistent backends against real PostgreSQL,
// MongoDB and Redis instances started with testcontainers-go.
package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgContainer *postgres.PostgresContainer
	pgPool      *pgxpool.Pool
	pgURL       string

	mongoContainer *mongodb.MongoDBContainer
	mongoURL       string

	redisContainer *tcredis.RedisContainer
	redisURL       string

	testCtx    context.Context
	cancelFunc context.CancelFunc
)

// TestMain sets up and tears down the test containers.
func TestMain(m *testing.M) {
	testCtx, cancelFunc = context.WithTimeout(context.Background(), 10*time.Minute)

	setups := []func(context.Context) error{setupPostgreSQL, setupMongoDB, setupRedis}
	errCh := make(chan error, len(setups))
	for _, setup := range setups {
		go func() {
			errCh <- setup(testCtx)
		}()
	}
	for range setups {
		if err := <-errCh; err != nil {
			log.Printf("Container setup failed: %v", err)
			cleanup()
			cancelFunc()
			os.Exit(1)
		}
	}

	log.Println("All containers started successfully")

	code := m.Run()

	cleanup()
	cancelFunc()
	os.Exit(code)
}

func setupPostgreSQL(ctx context.Context) error {
	var err error

	log.Println("Starting PostgreSQL container...")
	pgContainer, err = postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("chatrelay_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	pgURL, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}

	pgPool, err = pgxpool.New(ctx, pgURL)
	if err != nil {
		return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	if err := pgPool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	log.Println("PostgreSQL container ready")
	return nil
}

func setupMongoDB(ctx context.Context) error {
	var err error

	log.Println("Starting MongoDB container...")
	mongoContainer, err = mongodb.Run(ctx, "mongo:7")
	if err != nil {
		return fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	mongoURL, err = mongoContainer.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get MongoDB connection string: %w", err)
	}

	log.Println("MongoDB container ready")
	return nil
}

func setupRedis(ctx context.Context) error {
	var err error

	log.Println("Starting Redis container...")
	redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return fmt.Errorf("failed to start Redis container: %w", err)
	}

	redisURL, err = redisContainer.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Redis connection string: %w", err)
	}

	log.Println("Redis container ready")
	return nil
}

func cleanup() {
	ctx := context.Background()
	if pgPool != nil {
		pgPool.Close()
	}
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	if mongoContainer != nil {
		if err := mongoContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate MongoDB container: %v", err)
		}
	}
	if redisContainer != nil {
		if err := redisContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate Redis container: %v", err)
		}
	}
}
