// Package relay mirrors guest-facing events to PubNub channels so clients
// on networks that block WebSockets can still follow the session.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pubnub "github.com/pubnub/go/v7"

	"github.com/txn2/karaoke-live/pkg/registry"
)

// DefaultQueueSize bounds the events waiting to be published.
const DefaultQueueSize = 256

// Publisher sends one message to a channel.
type Publisher interface {
	Publish(channel string, message any) error
}

// Config configures the PubNub client.
type Config struct {
	PublishKey   string `yaml:"publish_key"`
	SubscribeKey string `yaml:"subscribe_key"`
	SecretKey    string `yaml:"secret_key"`
	UserID       string `yaml:"user_id"`

	// ChannelPrefix is prepended to every channel name.
	ChannelPrefix string `yaml:"channel_prefix"`

	QueueSize int `yaml:"queue_size"`
}

// PubNub publishes through the PubNub SDK.
type PubNub struct {
	pn *pubnub.PubNub
}

// NewPubNub creates a PubNub publisher.
func NewPubNub(cfg Config) (*PubNub, error) {
	if cfg.PublishKey == "" || cfg.SubscribeKey == "" {
		return nil, errors.New("pubnub publish_key and subscribe_key are required")
	}
	userID := cfg.UserID
	if userID == "" {
		userID = "karaoke-live"
	}
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(userID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey
	return &PubNub{pn: pubnub.NewPubNub(pnCfg)}, nil
}

// Publish sends message to channel.
func (p *PubNub) Publish(channel string, message any) error {
	if _, _, err := p.pn.Publish().Channel(channel).Message(message).Execute(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

type job struct {
	channel string
	event   registry.Event
}

// Mirror is a registry.Broadcaster that delivers through an inner
// broadcaster and queues guest-targeted events for publishing. Boss and
// tool events are never mirrored.
type Mirror struct {
	inner  registry.Broadcaster
	pub    Publisher
	prefix string
	logger *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewMirror starts a mirror publishing through pub.
func NewMirror(inner registry.Broadcaster, pub Publisher, cfg Config, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	m := &Mirror{
		inner:  inner,
		pub:    pub,
		prefix: cfg.ChannelPrefix,
		logger: logger.With("component", "relay"),
		queue:  make(chan job, size),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Channel returns the PubNub channel for target, or "" when the target is
// not mirrored or addresses no guest.
func (m *Mirror) Channel(target registry.Target) string {
	if target.Role() != registry.RoleGuest {
		return ""
	}
	if !target.Single() {
		return m.prefix + "guests"
	}
	if id := target.GuestID(); id != "" {
		return m.prefix + "guest-" + id
	}
	return ""
}

// Broadcast delivers ev locally and queues it for publishing. It returns the
// local delivery count. Events are dropped when the queue is full.
func (m *Mirror) Broadcast(target registry.Target, ev registry.Event) int {
	n := m.inner.Broadcast(target, ev)

	channel := m.Channel(target)
	if channel == "" {
		return n
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return n
	}
	select {
	case m.queue <- job{channel: channel, event: ev}:
	default:
		m.logger.Warn("relay queue full, dropping event", "event", ev.Type, "channel", channel)
	}
	return n
}

// Close stops accepting events and waits for queued ones to be published.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for j := range m.queue {
		if err := m.pub.Publish(j.channel, j.event); err != nil {
			m.logger.Warn("mirroring event", "event", j.event.Type, "channel", j.channel, "error", err)
		}
	}
}

// Verify interface compliance.
var (
	_ registry.Broadcaster = (*Mirror)(nil)
	_ Publisher            = (*PubNub)(nil)
)
