// Package app initializes and holds the long-lived services of the scraping
// engine, acting as the dependency injection container: it selects the
// store, blob, and event providers from configuration and wires the fetch
// executors, cascade, and session orchestrator together.
package app

import (
	"context"
	"fmt"
	"net/http"

	gpubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/prowlkit/prowl/internal/api"
	"github.com/prowlkit/prowl/internal/auth"
	"github.com/prowlkit/prowl/internal/cascade"
	"github.com/prowlkit/prowl/internal/clock/system"
	"github.com/prowlkit/prowl/internal/config"
	badgerstore "github.com/prowlkit/prowl/internal/database/badger"
	memorystore "github.com/prowlkit/prowl/internal/database/memory"
	postgresstore "github.com/prowlkit/prowl/internal/database/postgres"
	"github.com/prowlkit/prowl/internal/extract"
	"github.com/prowlkit/prowl/internal/fetch/dynamic"
	"github.com/prowlkit/prowl/internal/fetch/static"
	"github.com/prowlkit/prowl/internal/fetch/stealth"
	"github.com/prowlkit/prowl/internal/gate"
	"github.com/prowlkit/prowl/internal/hash/sha256"
	"github.com/prowlkit/prowl/internal/id/uuid"
	"github.com/prowlkit/prowl/internal/metrics"
	"github.com/prowlkit/prowl/internal/profile"
	memorypub "github.com/prowlkit/prowl/internal/publisher/memory"
	pubsubpub "github.com/prowlkit/prowl/internal/publisher/pubsub"
	"github.com/prowlkit/prowl/internal/robots"
	"github.com/prowlkit/prowl/internal/scrape"
	"github.com/prowlkit/prowl/internal/session"
	gcsblob "github.com/prowlkit/prowl/internal/storage/gcs"
	localblob "github.com/prowlkit/prowl/internal/storage/local"
	memoryblob "github.com/prowlkit/prowl/internal/storage/memory"
)

// App holds every long-lived service. It is built once at startup and torn
// down by Close in reverse dependency order.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    scrape.Store
	profiles *profile.Store
	engine   *cascade.Engine
	sessions *session.Manager
	server   *api.Server

	dynamicFetcher *dynamic.Fetcher
	stealthFetcher *stealth.Fetcher
	pubsubClient   *gpubsub.Client
	gcsClient      *gcsclient.Client
	eventPublisher *pubsubpub.Publisher
}

// New builds the application from configuration, failing fast if any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	events, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	admission := gate.New(gate.Config{
		MaxConcurrent: cfg.Gate.MaxConcurrent,
		WaitTimeout:   cfg.GateWaitTimeout(),
	}, logger)

	var solver scrape.CaptchaSolver
	if cfg.Fetch.SolveCaptchas {
		solver = stealth.WaitSolver{Wait: cfg.CaptchaWait()}
	}

	a.dynamicFetcher = dynamic.New(dynamic.Config{
		UserAgent:         cfg.Crawl.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
		SettleDelay:       cfg.SettleDelay(),
	}, admission)
	a.stealthFetcher = stealth.New(stealth.Config{
		NavigationTimeout: cfg.NavTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		RequestsPerMinute: cfg.Fetch.StealthPerMinute,
	}, admission, solver, logger)

	executors := []scrape.Executor{
		static.New(static.Config{
			UserAgent: cfg.Crawl.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}),
		a.dynamicFetcher,
		a.stealthFetcher,
	}

	a.profiles = profile.NewStore(system.New(), logger)
	a.engine = cascade.New(a.profiles, executors, extract.New(), logger)

	a.sessions = session.NewManager(session.Config{
		DefaultConcurrent: cfg.Crawl.Concurrency,
		DefaultMaxDepth:   cfg.Crawl.MaxDepthDefault,
		DefaultMaxPages:   cfg.Crawl.MaxPagesDefault,
		UserAgent:         cfg.Crawl.UserAgent,
		MinBodyBytes:      cfg.Crawl.MinBodyBytes,
		MaxFetchAttempts:  cfg.Crawl.RetryAttempts,
	}, session.Deps{
		Store:      store,
		Scraper:    a.engine,
		Robots:     robots.New(nil, logger),
		Structured: extract.NewStructured(),
		Auth:       auth.New(a.stealthFetcher.Sessions(), logger),
		Blobs:      blobs,
		Events:     events,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        uuid.NewGenerator(),
		Logger:     logger,
	})

	a.server = api.NewServer(a.sessions, a.engine, a.profiles, cfg, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.String("blob", cfg.Blob.Provider),
		zap.String("events", cfg.Events.Provider),
	)
	return a, nil
}

// Handler returns the HTTP handler serving the engine's API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Sessions returns the crawl orchestrator, for shutdown coordination.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

func (a *App) buildStore(ctx context.Context) (scrape.Store, error) {
	switch a.cfg.Store.Provider {
	case "memory":
		a.logger.Info("using in-memory store; state is lost on restart")
		return memorystore.New(a.cfg.Crawl.RetryAttempts), nil
	case "badger":
		return badgerstore.New(badgerstore.Config{
			Path:        a.cfg.Store.BadgerPath,
			MaxAttempts: a.cfg.Crawl.RetryAttempts,
		}, a.logger)
	case "postgres":
		return postgresstore.New(ctx, postgresstore.Config{
			DSN:         a.cfg.Store.PostgresDSN,
			MaxConns:    int32(a.cfg.Store.MaxOpenConns), // #nosec G115 -- validated small positive int
			MaxAttempts: a.cfg.Crawl.RetryAttempts,
		}, a.logger)
	default:
		return nil, fmt.Errorf("unknown store provider: %s", a.cfg.Store.Provider)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Blob.Provider {
	case "none":
		a.logger.Info("blob storage disabled; raw HTML snapshots are discarded")
		return nil, nil
	case "memory":
		return memoryblob.NewBlobStore(), nil
	case "local":
		return localblob.New(localblob.Config{BaseDir: a.cfg.Blob.LocalPath})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.gcsClient = client
		return gcsblob.New(client, gcsblob.Config{
			Bucket: a.cfg.Blob.GCSBucket,
			Prefix: a.cfg.Blob.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown blob provider: %s", a.cfg.Blob.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (scrape.Publisher, error) {
	switch a.cfg.Events.Provider {
	case "none":
		return nil, nil
	case "memory":
		return memorypub.New(), nil
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.pubsubClient = client
		pub, err := pubsubpub.New(client)
		if err != nil {
			return nil, err
		}
		a.eventPublisher = pub
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown events provider: %s", a.cfg.Events.Provider)
	}
}

// Close shuts down the services that hold external resources. Active crawl
// sessions must already be paused via Sessions().Shutdown.
func (a *App) Close() {
	if a.stealthFetcher != nil {
		a.stealthFetcher.Close()
	}
	if a.dynamicFetcher != nil {
		a.dynamicFetcher.Close()
	}
	if a.eventPublisher != nil {
		a.eventPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("error closing gcs client", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("error closing store", zap.Error(err))
		}
	}
}
