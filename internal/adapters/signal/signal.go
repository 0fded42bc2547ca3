// Package signal implements the signaling channel over a gorilla/websocket client connection.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InboundFunc receives every valid frame, in arrival order, on the read pump goroutine.
type InboundFunc func(ctx context.Context, msg domain.SignalMessage)

type Options struct {
	PingPeriod time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
	SendBuffer int
	// RateLimit caps inbound frames per call id within RateInterval. Zero disables it.
	RateLimit    int
	RateInterval time.Duration
	Dialer       *websocket.Dialer
	Logger       *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

// Channel is a core.SignalChannel shared by every call session of the process.
type Channel struct {
	conn    *websocket.Conn
	send    chan []byte
	inbound InboundFunc
	limiter *RateLimiter
	opts    Options
	log     zerolog.Logger
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ core.SignalChannel = (*Channel)(nil)

// Dial connects to url, presenting token as a bearer credential when it is non-empty.
// ctx bounds the dial and the lifetime of the channel.
func Dial(ctx context.Context, url string, token core.TokenFunc, inbound InboundFunc, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("module", "signal").Logger()

	header := http.Header{}
	if token != nil {
		if t := token(); t != "" {
			header.Set("Authorization", "Bearer "+t)
		}
	}

	ws, resp, err := opts.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %s: %w", domain.ErrTransportUnavailable, url, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransportUnavailable, url, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		conn:    ws,
		send:    make(chan []byte, opts.SendBuffer),
		inbound: inbound,
		opts:    opts,
		log:     logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		c.limiter = NewRateLimiter(opts.RateLimit, opts.RateInterval)
	}

	logger.Info().Str("url", url).Msg("signaling connected")
	go c.writePump(ctx)
	go c.readPump(ctx)
	return c, nil
}

func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Channel) Done() <-chan struct{} { return c.done }

// Send queues msg without blocking. A full queue is reported as backpressure.
func (c *Channel) Send(msg domain.SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Event, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%w: connection closed", domain.ErrTransportUnavailable)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransportUnavailable, domain.ErrBackpressure)
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	c.mu.Unlock()

	c.cancel()
	_ = c.conn.Close()
	c.log.Info().Msg("signaling closed")
}
