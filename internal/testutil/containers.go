// Package testutil starts shared Testcontainers instances for store tests.
// Tests that need a container are skipped under -short or when Docker is
// unavailable.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error

	mongoOnce sync.Once
	mongoURI  string
	mongoErr  error
)

// PostgresDSN returns the DSN of a shared postgres:16 container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container in -short mode")
	}
	pgOnce.Do(func() {
		pgDSN, pgErr = startPostgres()
	})
	if pgErr != nil {
		t.Skipf("skipping postgres tests: %v", pgErr)
	}
	return pgDSN
}

// MongoURI returns the URI of a shared mongo:7 container.
func MongoURI(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongo container in -short mode")
	}
	mongoOnce.Do(func() {
		mongoURI, mongoErr = startMongo()
	})
	if mongoErr != nil {
		t.Skipf("skipping mongo tests: %v", mongoErr)
	}
	return mongoURI
}

func startPostgres() (dsn string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	// Testcontainers panics on some rootless Docker setups.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("starting postgres container panicked: %v", r)
		}
	}()

	c, err := testcontainers.Run(
		ctx, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "taskflow",
			"POSTGRES_PASSWORD": "taskflow",
			"POSTGRES_DB":       "taskflow_test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections").WithOccurrence(2),
			).WithDeadline(2*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres container: %w", err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", err
	}
	return fmt.Sprintf("postgres://taskflow:taskflow@%s/taskflow_test?sslmode=disable", endpoint), nil
}

func startMongo() (uri string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("starting mongo container panicked: %v", r)
		}
	}()

	c, err := testcontainers.Run(
		ctx, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp").WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		return "", fmt.Errorf("start mongo container: %w", err)
	}

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		_ = c.Terminate(context.Background())
		return "", err
	}
	return "mongodb://" + endpoint, nil
}
