// Package platform assembles the karaoke-live components from configuration
// and manages their lifecycle.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq" // registers the postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/txn2/karaoke-live/pkg/api"
	"github.com/txn2/karaoke-live/pkg/audit"
	auditpostgres "github.com/txn2/karaoke-live/pkg/audit/postgres"
	"github.com/txn2/karaoke-live/pkg/auth"
	"github.com/txn2/karaoke-live/pkg/database/migrate"
	"github.com/txn2/karaoke-live/pkg/health"
	khttp "github.com/txn2/karaoke-live/pkg/http"
	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/metrics"
	"github.com/txn2/karaoke-live/pkg/poller"
	"github.com/txn2/karaoke-live/pkg/ratelimit"
	"github.com/txn2/karaoke-live/pkg/realtime"
	"github.com/txn2/karaoke-live/pkg/registry"
	"github.com/txn2/karaoke-live/pkg/relay"
	"github.com/txn2/karaoke-live/pkg/repertoire"
	repertoirepostgres "github.com/txn2/karaoke-live/pkg/repertoire/postgres"
	"github.com/txn2/karaoke-live/pkg/session"
	sessionpostgres "github.com/txn2/karaoke-live/pkg/session/postgres"
)

const auditCleanupInterval = 24 * time.Hour

// Platform is the assembled service.
type Platform struct {
	config *Config
	logger *slog.Logger

	db    *sql.DB
	redis redis.UniversalClient

	metrics     *metrics.Metrics
	registry    *registry.Registry
	broadcaster registry.Broadcaster
	state       *live.State
	service     *live.Service
	poller      *poller.Poller
	limiter     ratelimit.Limiter
	audit       audit.Logger
	authn       auth.Authenticator
	health      *health.Checker
	proxies     khttp.TrustedProxies

	lifecycle *Lifecycle
	handler   http.Handler
}

// New creates a new platform instance.
func New(opts ...Option) (*Platform, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Config == nil {
		return nil, errors.New("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Platform{
		config:    options.Config,
		metrics:   metrics.New(),
		health:    health.NewChecker(),
		lifecycle: NewLifecycle(),
	}
	p.logger = options.Logger
	if p.logger == nil {
		out := options.LogOutput
		if out == nil {
			out = os.Stderr
		}
		p.logger = NewLogger(p.config.Logging, out)
	}

	if err := p.initializeComponents(options); err != nil {
		_ = p.lifecycle.Release(context.Background())
		return nil, err
	}
	return p, nil
}

func (p *Platform) initializeComponents(opts *Options) error {
	if err := p.initDatabase(opts); err != nil {
		return err
	}
	store := p.sessionStore(opts)
	rep, err := p.initRepertoire(opts)
	if err != nil {
		return err
	}
	p.initAudit()
	p.initLimiter(opts)
	if err := p.initBroadcast(opts); err != nil {
		return err
	}
	authn, err := p.createAuthenticator()
	if err != nil {
		return err
	}
	p.authn = authn

	p.state = live.NewState()
	p.service = live.NewService(live.ServiceConfig{
		Store:              store,
		Repertoire:         rep,
		State:              p.state,
		Broadcaster:        p.broadcaster,
		Roles:              p.registry,
		Limiter:            p.limiter,
		Audit:              p.audit,
		Metrics:            p.metrics,
		Logger:             p.logger.With("component", "live"),
		MaxPendingPerGuest: p.config.Limits.MaxPendingPerGuest,
		StorageTimeout:     p.config.Storage.Timeout,
		Now:                opts.Now,
	})
	p.poller = poller.New(poller.Config{
		Store:          store,
		State:          p.state,
		Broadcaster:    p.broadcaster,
		Metrics:        p.metrics,
		Logger:         p.logger,
		Interval:       p.config.Poller.Interval,
		StorageTimeout: p.config.Storage.Timeout,
		Now:            opts.Now,
	})
	p.registry.OnBossLost(p.service.HandleBossLost)
	p.service.OnSessionChanged(p.poller.Trigger)

	p.lifecycle.Append(Hook{
		Name: "poller",
		OnStart: func(ctx context.Context) error {
			p.poller.Start(context.WithoutCancel(ctx))
			return nil
		},
		OnStop: func(context.Context) error {
			p.poller.Stop()
			return nil
		},
	})

	proxies, err := khttp.ParseTrustedProxies(p.config.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parsing trusted proxies: %w", err)
	}
	p.proxies = proxies
	p.handler = p.buildHandler()
	return nil
}

func (p *Platform) initDatabase(opts *Options) error {
	p.db = opts.DB
	if p.db == nil && p.config.Database.DSN != "" {
		db, err := OpenDatabase(p.config.Database)
		if err != nil {
			return err
		}
		p.db = db
		p.lifecycle.RegisterCloser("database", db)
	}
	if p.db == nil {
		p.logger.Warn("no database configured, using in-memory stores")
		return nil
	}

	p.health.AddProbe("database", p.db.PingContext)
	if p.config.Database.AutoMigrate {
		if err := migrate.Run(p.db); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}
	return nil
}

// OpenDatabase opens the PostgreSQL pool described by cfg.
func OpenDatabase(cfg DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

func (p *Platform) sessionStore(opts *Options) session.Store {
	switch {
	case opts.SessionStore != nil:
		return opts.SessionStore
	case p.db != nil:
		return sessionpostgres.New(p.db)
	default:
		return session.NewMemoryStore()
	}
}

func (p *Platform) initRepertoire(opts *Options) (repertoire.Repertoire, error) {
	if opts.Repertoire != nil {
		return opts.Repertoire, nil
	}

	cfg := p.config.Repertoire
	if cfg.File == "" {
		if p.db != nil {
			return repertoirepostgres.New(p.db), nil
		}
		p.logger.Warn("no repertoire configured, the catalog is empty")
		return repertoire.NewMemory(repertoire.Catalog{}), nil
	}

	mem, err := repertoire.LoadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("loading repertoire: %w", err)
	}
	if !cfg.Import || p.db == nil {
		return mem, nil
	}

	store := repertoirepostgres.New(p.db)
	ctx, cancel := context.WithTimeout(context.Background(), p.config.Storage.Timeout)
	defer cancel()
	catalog := mem.Catalog()
	if err := store.Import(ctx, catalog); err != nil {
		return nil, fmt.Errorf("importing repertoire: %w", err)
	}
	p.logger.Info("repertoire imported", "songs", len(catalog.Songs), "setlists", len(catalog.Setlists))
	return store, nil
}

func (p *Platform) initAudit() {
	switch {
	case !p.config.Audit.Enabled:
		p.audit = audit.NoopLogger{}
	case p.db != nil:
		store := auditpostgres.New(p.db, auditpostgres.Config{RetentionDays: p.config.Audit.RetentionDays})
		p.audit = store
		p.lifecycle.Append(Hook{
			Name: "audit",
			OnStart: func(context.Context) error {
				store.StartCleanupRoutine(auditCleanupInterval)
				return nil
			},
			OnStop: func(context.Context) error { return store.Close() },
		})
	default:
		p.audit = audit.NewSlogLogger(p.logger)
	}
}

func (p *Platform) initLimiter(opts *Options) {
	cfg := ratelimit.Config{
		Limit:   p.config.Limits.Requests,
		Window:  p.config.Limits.Window,
		MaxKeys: p.config.Limits.MaxKeys,
	}

	p.redis = opts.Redis
	if p.redis == nil && p.config.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     p.config.Redis.Address,
			Password: p.config.Redis.Password,
			DB:       p.config.Redis.DB,
		})
		p.redis = client
		p.lifecycle.RegisterCloser("redis", client)
	}
	if p.redis != nil {
		p.health.AddProbe("redis", func(ctx context.Context) error {
			return p.redis.Ping(ctx).Err()
		})
		p.limiter = ratelimit.NewRedis(p.redis, cfg, p.config.Redis.KeyPrefix)
		return
	}

	window := ratelimit.NewWindow(cfg)
	p.limiter = window
	p.lifecycle.Append(Hook{
		Name: "rate limiter",
		OnStart: func(context.Context) error {
			window.StartSweepRoutine(p.config.Limits.SweepInterval)
			return nil
		},
		OnStop: func(context.Context) error { return window.Close() },
	})
}

func (p *Platform) initBroadcast(opts *Options) error {
	p.registry = registry.NewRegistry(p.logger.With("component", "registry"))
	p.broadcaster = p.registry

	cfg := p.config.PubNub
	if cfg.Enabled {
		relayCfg := relay.Config{
			PublishKey:    cfg.PublishKey,
			SubscribeKey:  cfg.SubscribeKey,
			SecretKey:     cfg.SecretKey,
			UserID:        cfg.UserID,
			ChannelPrefix: cfg.ChannelPrefix,
			QueueSize:     cfg.QueueSize,
		}
		pub := opts.Publisher
		if pub == nil {
			pn, err := relay.NewPubNub(relayCfg)
			if err != nil {
				return fmt.Errorf("creating pubnub publisher: %w", err)
			}
			pub = pn
		}
		mirror := relay.NewMirror(p.registry, pub, relayCfg, p.logger.With("component", "relay"))
		p.broadcaster = mirror
		p.lifecycle.RegisterCloser("relay", mirror)
	}

	p.lifecycle.RegisterCloser("registry", p.registry)
	return nil
}

func (p *Platform) createAuthenticator() (auth.Authenticator, error) {
	var chain []auth.Authenticator
	if len(p.config.Auth.APIKeys) > 0 {
		a, err := auth.NewAPIKeyAuthenticator(p.config.Auth.APIKeys)
		if err != nil {
			return nil, fmt.Errorf("creating api key authenticator: %w", err)
		}
		chain = append(chain, a)
	}
	if p.config.Auth.JWTSigningKey != "" {
		a, err := auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:     p.config.Auth.JWTIssuer,
			SigningKey: p.config.Auth.JWTSigningKey,
		})
		if err != nil {
			return nil, fmt.Errorf("creating jwt authenticator: %w", err)
		}
		chain = append(chain, a)
	}
	if len(chain) == 0 {
		p.logger.Warn("no operator credentials configured, operator and tool routes are closed")
	}
	return auth.NewChainedAuthenticator(chain...), nil
}

func (p *Platform) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewHandler(api.Config{
		Service:       p.service,
		Authenticator: p.authn,
		Logger:        p.logger.With("component", "api"),
	}))
	mux.Handle("/ws", realtime.NewGateway(realtime.Config{
		Service:       p.service,
		Registry:      p.registry,
		Authenticator: p.authn,
		Metrics:       p.metrics,
		Logger:        p.logger.With("component", "realtime"),
		WriteTimeout:  p.config.Server.WriteTimeout,
	}))
	mux.Handle("GET /healthz", p.health.LivenessHandler())
	mux.Handle("GET /readyz", p.health.ReadinessHandler())
	mux.Handle("GET "+p.config.Metrics.Path, p.metrics.Handler())

	return khttp.Chain(mux,
		khttp.RequestID,
		khttp.RealIP(p.proxies),
		khttp.Recover(p.logger),
		khttp.Logging(p.logger),
	)
}

// Start starts background components and marks the platform ready.
func (p *Platform) Start(ctx context.Context) error {
	if err := p.lifecycle.Start(ctx); err != nil {
		return err
	}
	p.health.SetReady()
	p.logger.Info("platform started", "address", p.config.Server.Address)
	return nil
}

// Stop marks the platform draining and stops every component.
func (p *Platform) Stop(ctx context.Context) error {
	p.health.SetDraining()
	return p.lifecycle.Stop(ctx)
}

// Config returns the platform configuration.
func (p *Platform) Config() *Config {
	return p.config
}

// Handler returns the root HTTP handler.
func (p *Platform) Handler() http.Handler {
	return p.handler
}

// Service returns the live session service.
func (p *Platform) Service() *live.Service {
	return p.service
}

// Poller returns the active session poller.
func (p *Platform) Poller() *poller.Poller {
	return p.poller
}

// Registry returns the connection registry.
func (p *Platform) Registry() *registry.Registry {
	return p.registry
}

// Health returns the readiness checker.
func (p *Platform) Health() *health.Checker {
	return p.health
}

// Logger returns the platform logger.
func (p *Platform) Logger() *slog.Logger {
	return p.logger
}
