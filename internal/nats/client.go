package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/openvtx/vehiclecam/internal/events"
)

// Client is the NATS uplink for one capture node. It publishes state and
// stats events and receives control commands.
type Client struct {
	url       string
	nodeID    string
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
	onRestart func()
	unsubs    []func()
}

// NewClient creates a NATS uplink client for a capture node.
func NewClient(url, nodeID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		nodeID: nodeID,
		logger: logger.With("component", "nats-uplink", "node_id", nodeID),
	}
}

// OnRestart sets the callback invoked when a restart command arrives.
func (c *Client) OnRestart(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRestart = fn
}

// Connect establishes the broker connection and subscribes to the node's
// control subject. Returns nil even when the broker is unreachable; the
// client reconnects in the background.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name("vehiclecam-" + c.nodeID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.logger.Warn("NATS unavailable, telemetry uplink disabled", "error", err)
		return nil
	}

	c.conn = conn
	c.connected = conn.IsConnected()

	sub, err := conn.Subscribe(c.subject("control.restart"), func(_ *nats.Msg) {
		c.logger.Info("Restart command received over NATS")
		c.mu.RLock()
		fn := c.onRestart
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
	if err != nil {
		c.logger.Warn("Failed to subscribe to control subject", "error", err)
	} else {
		c.sub = sub
	}

	c.logger.Info("NATS uplink connected", "url", c.url)
	return nil
}

// BindBus forwards source events from the in-process bus to the broker.
func (c *Client) BindBus(bus *events.Bus) {
	c.unsubs = append(c.unsubs,
		bus.Subscribe(func(e events.SourceStateChangedEvent) {
			c.publish("state", e)
		}),
		bus.Subscribe(func(e events.SourceStatsEvent) {
			c.publish("stats", e)
		}),
		bus.Subscribe(func(e events.DeviceLostEvent) {
			c.publish("device_lost", e)
		}),
		bus.Subscribe(func(e events.EncoderExitedEvent) {
			c.publish("encoder_exited", e)
		}),
	)
}

// publish marshals payload and sends it on the node's subject. A missing
// or disconnected broker drops the message silently.
func (c *Client) publish(kind string, payload any) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Failed to marshal telemetry payload", "kind", kind, "error", err)
		return
	}

	if err := conn.Publish(c.subject(kind), data); err != nil {
		c.logger.Debug("Telemetry publish failed", "kind", kind, "error", err)
	}
}

func (c *Client) subject(suffix string) string {
	return "vehiclecam." + c.nodeID + "." + suffix
}

// Close drains bus subscriptions and the broker connection.
func (c *Client) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
