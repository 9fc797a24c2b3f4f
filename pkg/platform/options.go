package platform

import (
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/txn2/karaoke-live/pkg/relay"
	"github.com/txn2/karaoke-live/pkg/repertoire"
	"github.com/txn2/karaoke-live/pkg/session"
)

// Options configures the platform.
type Options struct {
	// Config is the platform configuration.
	Config *Config

	// DB is used instead of opening database.dsn.
	DB *sql.DB

	// Redis is used instead of dialing redis.address.
	Redis redis.UniversalClient

	// SessionStore overrides the store selected from config.
	SessionStore session.Store

	// Repertoire overrides the catalog selected from config.
	Repertoire repertoire.Repertoire

	// Publisher overrides the PubNub publisher when pubnub is enabled.
	Publisher relay.Publisher

	// Logger overrides the logger built from logging config.
	Logger *slog.Logger

	// LogOutput receives the built logger's output. Defaults to stderr.
	LogOutput io.Writer

	// Now overrides the clock.
	Now func() time.Time
}

// Option is a functional option for configuring the platform.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithDB sets the database connection.
func WithDB(db *sql.DB) Option {
	return func(o *Options) { o.DB = db }
}

// WithRedis sets the Redis client.
func WithRedis(c redis.UniversalClient) Option {
	return func(o *Options) { o.Redis = c }
}

// WithSessionStore sets the session store.
func WithSessionStore(s session.Store) Option {
	return func(o *Options) { o.SessionStore = s }
}

// WithRepertoire sets the song catalog.
func WithRepertoire(r repertoire.Repertoire) Option {
	return func(o *Options) { o.Repertoire = r }
}

// WithPublisher sets the relay publisher.
func WithPublisher(p relay.Publisher) Option {
	return func(o *Options) { o.Publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithClock sets the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithLogOutput sets where the built logger writes.
func WithLogOutput(w io.Writer) Option {
	return func(o *Options) { o.LogOutput = w }
}
