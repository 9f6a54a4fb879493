package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/taskflow/internal/clustering"
	"github.com/fyrsmithlabs/taskflow/internal/config"
	"github.com/fyrsmithlabs/taskflow/internal/keywords"
	"github.com/fyrsmithlabs/taskflow/internal/notion"
	"github.com/fyrsmithlabs/taskflow/internal/storage"
)

// openBackend opens the record store selected by cfg.Provider. The returned
// closer may be nil.
func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, func() error, error) {
	switch cfg.Provider {
	case config.StorageMemory:
		s := storage.NewMemoryStore()
		return s, s.Close, nil

	case config.StorageSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		s, err := storage.NewSQLiteStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StoragePostgres:
		db, err := sql.Open("pgx", cfg.PostgresDSN.Value())
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		s, err := storage.NewPostgresStore(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StorageMongo:
		s, err := storage.OpenMongoStore(ctx, cfg.MongoURI.Value(), cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Value(),
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		s := storage.NewRedisStore(client)
		return s, s.Close, nil

	case config.StorageNotion:
		client, err := newNotionClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return notion.NewBackend(client), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage provider: %q", cfg.Provider)
	}
}

// openPageSource builds the keyword page source selected by cfg.Pages.
func openPageSource(cfg *config.Config) (clustering.PageSource, error) {
	switch cfg.Pages.Provider {
	case config.PagesNotion:
		client, err := newNotionClient(cfg.Storage)
		if err != nil {
			return nil, err
		}
		return notion.NewPageSource(client, cfg.Databases.Keywords, cfg.Pages.TitleProperty, cfg.Pages.KeywordsProperty), nil
	case config.PagesStatic:
		src, err := keywords.LoadStaticSource(cfg.Pages.StaticFile)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown pages provider: %q", cfg.Pages.Provider)
	}
}

func newNotionClient(cfg config.StorageConfig) (*notion.Client, error) {
	client, err := notion.NewClient(notion.Config{
		Token:   cfg.NotionToken.Value(),
		BaseURL: cfg.NotionBaseURL,
		Version: cfg.NotionVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("create notion client: %w", err)
	}
	return client, nil
}
