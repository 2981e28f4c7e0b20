package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/profile-insight/internal/application"
	appanalysis "github.com/bryanwahyu/profile-insight/internal/application/analysis"
	"github.com/bryanwahyu/profile-insight/internal/config"
	domain "github.com/bryanwahyu/profile-insight/internal/domain/analysis"
	"github.com/bryanwahyu/profile-insight/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/profile-insight/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/profile-insight/internal/infra/db/postgres"
	"github.com/bryanwahyu/profile-insight/internal/infra/queue/qstash"
	"github.com/bryanwahyu/profile-insight/internal/infra/store/memory"
	redisstore "github.com/bryanwahyu/profile-insight/internal/infra/store/redis"
	"github.com/bryanwahyu/profile-insight/internal/logger"
	"github.com/bryanwahyu/profile-insight/internal/middleware"
)

// closers collects resources to release on shutdown, in reverse order.
type closers []io.Closer

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i].Close()
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Environment: cfg.Server.Env,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
}

// openStore connects the record store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (domain.Repository, closers, error) {
	log = log.With(zap.String("driver", cfg.Store.Driver))

	switch cfg.Store.Driver {
	case config.DriverRedis:
		client, err := redisstore.Connect(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "redis connect")
		}
		log.Info("Connected to Redis")
		return redisstore.NewStore(client), closers{client}, nil

	case config.DriverMySQL:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, errors.Wrap(err, "mysql connect")
		}
		store := mysqlp.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("Connected to MySQL")
		return store, closers{db}, nil

	case config.DriverPostgres:
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, errors.Wrap(err, "postgres connect")
		}
		store := pgp.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("Connected to Postgres")
		return store, closers{db}, nil

	case config.DriverMemory:
		log.Warn("Using in-memory store, records are lost on restart")
		return memory.New(), nil, nil
	}
	return nil, nil, errors.Newf("unknown store driver %q", cfg.Store.Driver)
}

func newGenerator(cfg *config.Config) *openai.Client {
	return openai.NewClient(openai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		BaseURL:     cfg.OpenAI.BaseURL,
		Temperature: cfg.OpenAI.Temperature,
	})
}

func newQueue(cfg *config.Config, log *zap.Logger) (*qstash.Client, error) {
	return qstash.NewClient(qstash.Config{
		BaseURL:    cfg.QStash.URL,
		Token:      cfg.QStash.Token,
		WebhookURL: cfg.QStash.WebhookURL,
		Delay:      cfg.QStash.Delay,
	}, log.Named("qstash"))
}

// noQueue backs CLI commands that never create records.
type noQueue struct{}

func (noQueue) Enqueue(context.Context, domain.ID) error {
	return errors.Mark(errors.New("queue not configured"), domain.ErrQueue)
}

// noGenerator backs read-only CLI commands.
type noGenerator struct{}

func (noGenerator) Generate(context.Context, domain.Input) (string, error) {
	return "", errors.Mark(errors.New("generator not configured"), domain.ErrProvider)
}

func newService(cfg *config.Config, repo domain.Repository, q domain.Queue, gen domain.Generator, m *middleware.Metrics) *appanalysis.Service {
	svc := &appanalysis.Service{
		Repo:      repo,
		Queue:     q,
		Generator: gen,
		Clock:     application.SystemClock{},
		TTL:       cfg.TTL(),
	}
	if m != nil {
		svc.Metrics = m
	}
	return svc
}
