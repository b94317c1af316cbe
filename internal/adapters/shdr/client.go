// Package shdr is the TCP client side of an SHDR adapter connection. It dials
// the adapter, feeds every received line to a protocol engine, keeps the
// connection alive with PING/PONG and reconnects with exponential backoff.
package shdr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"

	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
	protocol "github.com/ghalamif/AegisAgent/internal/shdr"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateStopped      = "stopped"
)

const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventLost        = "lost"
	eventStop        = "stop"
)

// Config describes one adapter endpoint.
type Config struct {
	Name   string `yaml:"name"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Device string `yaml:"device"`
	// ReconnectInterval caps the backoff between connection attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// LegacyTimeout is the silence tolerated from adapters that never answer PING.
	LegacyTimeout    time.Duration `yaml:"legacy_timeout"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	IgnoreTimestamps bool          `yaml:"ignore_timestamps"`
	AutoAvailable    bool          `yaml:"auto_available"`
	FilterDuplicates *bool         `yaml:"filter_duplicates"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 7878
	}
	if c.Name == "" {
		c.Name = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 10 * time.Second
	}
	if c.LegacyTimeout <= 0 {
		c.LegacyTimeout = 600 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Addr is the adapter's host:port.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// Client implements ports.Collector for one SHDR adapter.
type Client struct {
	cfg   Config
	model *device.Model
	obs   ports.Observability
	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	now   func() time.Time
	state *fsm.FSM

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

var _ ports.Collector = (*Client)(nil)

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the TCP dialer.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, model *device.Model, obs ports.Observability, opts ...Option) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("shdr.NewClient: host is required")
	}
	if model == nil {
		return nil, fmt.Errorf("shdr.NewClient: device model is required")
	}
	cfg.applyDefaults()
	if obs == nil {
		obs = ports.Discard
	}
	c := &Client{cfg: cfg, model: model, obs: obs, now: time.Now}
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	c.dial = dialer.DialContext
	for _, opt := range opts {
		opt(c)
	}

	// Fail on an unknown device before any connection is made.
	if _, err := c.newEngine(); err != nil {
		return nil, err
	}

	c.state = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventEstablished, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventLost, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
			{Name: eventStop, Src: []string{StateDisconnected, StateConnecting, StateConnected}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.obs.LogDebug("adapter_state_changed", ports.F("adapter", c.cfg.Name),
					ports.F("from", e.Src), ports.F("to", e.Dst))
			},
		},
	)
	return c, nil
}

func (c *Client) Name() string { return c.cfg.Name }

// State returns the current connection state.
func (c *Client) State() string { return c.state.Current() }

func (c *Client) newEngine() (*protocol.Engine, error) {
	return protocol.NewEngine(c.model, protocol.Config{
		Adapter:          c.cfg.Name,
		Device:           c.cfg.Device,
		IgnoreTimestamps: c.cfg.IgnoreTimestamps,
		AutoAvailable:    c.cfg.AutoAvailable,
		FilterDuplicates: c.cfg.FilterDuplicates,
	}, c.obs, protocol.WithClock(c.now))
}

// Start launches the connection loop. Events are delivered on out until Stop.
func (c *Client) Start(out chan<- domain.AdapterEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("shdr.Start: adapter %s already started", c.cfg.Name)
	}
	if c.State() == StateStopped {
		return fmt.Errorf("shdr.Start: adapter %s is stopped", c.cfg.Name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(ctx, out)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (c *Client) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if c.State() != StateStopped {
		c.fire(eventStop)
	}
	return nil
}

func (c *Client) fire(event string) {
	if err := c.state.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			c.obs.LogWarn("adapter_state_invalid", err, ports.F("adapter", c.cfg.Name), ports.F("event", event))
		}
	}
}

func (c *Client) run(ctx context.Context, out chan<- domain.AdapterEvent) {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = min(500*time.Millisecond, c.cfg.ReconnectInterval)
	bo.MaxInterval = c.cfg.ReconnectInterval
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		c.fire(eventDial)
		conn, err := c.dial(ctx, "tcp", c.cfg.Addr())
		if err != nil {
			c.fire(eventLost)
			if ctx.Err() != nil {
				return
			}
			c.obs.LogWarn("adapter_connect_failed", err, ports.F("adapter", c.cfg.Name), ports.F("addr", c.cfg.Addr()))
		} else {
			bo.Reset()
			c.session(ctx, conn, out)
			c.fire(eventLost)
		}

		wait := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

// session serves one connection until it fails, times out or ctx ends.
func (c *Client) session(ctx context.Context, conn net.Conn, out chan<- domain.AdapterEvent) {
	defer conn.Close()

	eng, err := c.newEngine()
	if err != nil {
		c.obs.LogError("adapter_engine_failed", err, ports.F("adapter", c.cfg.Name))
		return
	}
	c.fire(eventEstablished)
	c.emit(ctx, out, domain.AdapterEvent{Adapter: c.cfg.Name, Kind: domain.EventConnected, At: c.now(),
		Inputs: eng.Connected(c.now())})

	var timeout atomic.Int64
	timeout.Store(int64(c.cfg.LegacyTimeout))

	stop := make(chan struct{})
	defer close(stop)

	lines := make(chan string, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(conn)
		sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(time.Duration(timeout.Load())))
			if !sc.Scan() {
				err := sc.Err()
				if err == nil {
					err = errors.New("connection closed by adapter")
				}
				readErr <- err
				return
			}
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
	}()

	cause := c.ping(conn)
	var (
		heartbeat time.Duration
		ticker    *time.Ticker
		tick      <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

loop:
	for cause == nil {
		select {
		case <-ctx.Done():
			cause = ctx.Err()
			break loop
		case err := <-readErr:
			cause = err
			break loop
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			inputs, _ := eng.ProcessLine(line)
			if len(inputs) > 0 {
				c.emit(ctx, out, domain.AdapterEvent{Adapter: c.cfg.Name, Kind: domain.EventData, At: c.now(), Inputs: inputs})
			}
			if hb, ok := eng.Heartbeat(); ok && hb != heartbeat {
				heartbeat = hb
				timeout.Store(int64(2 * hb))
				_ = conn.SetReadDeadline(time.Now().Add(2 * hb))
				if ticker != nil {
					ticker.Stop()
				}
				ticker = time.NewTicker(hb)
				tick = ticker.C
				c.obs.LogInfo("adapter_heartbeat_negotiated", ports.F("adapter", c.cfg.Name), ports.F("heartbeat", hb.String()))
			}
		case <-tick:
			cause = c.ping(conn)
		}
	}

	var ne net.Error
	if errors.As(cause, &ne) && ne.Timeout() {
		cause = fmt.Errorf("no data from adapter within %s: %w", time.Duration(timeout.Load()), cause)
	}
	c.emit(ctx, out, domain.AdapterEvent{Adapter: c.cfg.Name, Kind: domain.EventDisconnected, At: c.now(),
		Inputs: eng.Disconnected(c.now()), Err: cause})
}

func (c *Client) ping(conn net.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout))
	if _, err := conn.Write([]byte("* PING\n")); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}
	return nil
}

// emit delivers ev, giving up only when ctx is done and the receiver is not ready.
func (c *Client) emit(ctx context.Context, out chan<- domain.AdapterEvent, ev domain.AdapterEvent) {
	select {
	case out <- ev:
		return
	default:
	}
	select {
	case out <- ev:
	case <-ctx.Done():
		c.obs.LogWarn("adapter_event_dropped", ctx.Err(), ports.F("adapter", c.cfg.Name), ports.F("kind", ev.Kind.String()))
	}
}
