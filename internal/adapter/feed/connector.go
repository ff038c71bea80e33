package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
)

const (
	defaultCheckInterval = time.Second
	writeWait            = 10 * time.Second
)

// ConnectorOptions configures a Connector.
type ConnectorOptions struct {
	URL       string
	Subscribe []byte
	// CheckInterval is how often the supervisor checks the connection. Defaults to 1s.
	CheckInterval time.Duration
	// IdleTimeout closes a connection that delivers nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	UserAgent   string
	Dialer      *websocket.Dialer
	Metrics     *metrics.PipelineMetrics
}

// ConnectorStatus is a point-in-time view of a connector for the status endpoint.
type ConnectorStatus struct {
	Provider   domain.Provider `json:"provider"`
	URL        string          `json:"url"`
	Connected  bool            `json:"connected"`
	Session    string          `json:"session,omitempty"`
	Messages   uint64          `json:"messages"`
	Reconnects uint64          `json:"reconnects"`
}

// Connector keeps one websocket session open to a provider and hands every text frame
// to its handler. At most one connection is live at a time.
type Connector struct {
	provider domain.Provider
	opts     ConnectorOptions
	handler  func(domain.RawFeedMessage)
	logger   *slog.Logger

	// conn is only touched by the supervision goroutine.
	conn       *websocket.Conn
	generation atomic.Uint64
	connected  atomic.Bool
	session    atomic.Value
	dials      atomic.Uint64
	messages   atomic.Uint64
}

// NewConnector creates a connector for provider. handler is called from the read
// goroutine, one message at a time.
func NewConnector(provider domain.Provider, opts ConnectorOptions, handler func(domain.RawFeedMessage), logger *slog.Logger) *Connector {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &Connector{
		provider: provider,
		opts:     opts,
		handler:  handler,
		logger:   logger.With("component", "feed_connector", "provider", provider),
	}
	c.session.Store("")
	return c
}

// Start supervises the connection until ctx is cancelled. It blocks.
func (c *Connector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CheckInterval)
	defer ticker.Stop()
	defer c.teardown()

	c.logger.Info("Starting feed connector", "url", c.opts.URL, "check_interval", c.opts.CheckInterval)
	for {
		if !c.connected.Load() {
			c.connect(ctx)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping feed connector")
			return
		case <-ticker.C:
		}
	}
}

// Status reports the connector's current state.
func (c *Connector) Status() ConnectorStatus {
	var reconnects uint64
	if d := c.dials.Load(); d > 0 {
		reconnects = d - 1
	}
	return ConnectorStatus{
		Provider:   c.provider,
		URL:        c.opts.URL,
		Connected:  c.connected.Load(),
		Session:    c.session.Load().(string),
		Messages:   c.messages.Load(),
		Reconnects: reconnects,
	}
}

func (c *Connector) connect(ctx context.Context) {
	c.teardown()

	if c.dials.Add(1) > 1 && c.opts.Metrics != nil {
		c.opts.Metrics.FeedReconnectsTotal.WithLabelValues(string(c.provider)).Inc()
	}

	header := http.Header{}
	if c.opts.UserAgent != "" {
		header.Set("User-Agent", c.opts.UserAgent)
	}
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		c.logger.Debug("Dial failed", "error", err)
		c.setConnected(false, err)
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, c.opts.Subscribe); err != nil {
		conn.Close()
		c.logger.Debug("Subscribe failed", "error", err)
		c.setConnected(false, err)
		return
	}

	session := uuid.NewString()
	gen := c.generation.Add(1)
	c.conn = conn
	c.session.Store(session)
	c.setConnected(true, nil)

	go c.readLoop(conn, gen, c.logger.With("session", session))
}

func (c *Connector) readLoop(conn *websocket.Conn, gen uint64, logger *slog.Logger) {
	for {
		if c.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}
		op, data, err := conn.ReadMessage()
		if err != nil {
			// A superseded connection must not mark its replacement as down.
			if c.generation.Load() == gen {
				c.setConnected(false, err)
			}
			logger.Debug("Read loop exited", "error", err)
			return
		}
		if op != websocket.TextMessage {
			continue
		}
		c.messages.Add(1)
		if c.opts.Metrics != nil {
			c.opts.Metrics.FeedMessagesTotal.WithLabelValues(string(c.provider)).Inc()
		}
		c.handler(domain.RawFeedMessage{
			Provider:   c.provider,
			Payload:    data,
			ReceivedAt: time.Now().UTC(),
		})
	}
}

func (c *Connector) teardown() {
	if c.conn == nil {
		return
	}
	c.generation.Add(1)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.conn.Close()
	c.conn = nil
	c.setConnected(false, nil)
}

// setConnected logs only when the state actually changes.
func (c *Connector) setConnected(up bool, err error) {
	if !c.connected.CompareAndSwap(!up, up) {
		return
	}
	if c.opts.Metrics != nil {
		v := 0.0
		if up {
			v = 1
		}
		c.opts.Metrics.FeedConnected.WithLabelValues(string(c.provider)).Set(v)
	}
	if up {
		c.logger.Info("Feed connected", "session", c.session.Load())
		return
	}
	if err != nil {
		c.logger.Warn("Feed disconnected", "error", err)
		return
	}
	c.logger.Info("Feed connection closed")
}
