package aegisagent

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
	protocol "github.com/ghalamif/AegisAgent/internal/shdr"
)

// ErrCollectorStopped is returned when lines are pushed to a collector that is
// not running.
var ErrCollectorStopped = errors.New("aegisagent: collector not running")

// LineCollectorConfig mirrors the per-adapter settings of a TCP adapter.
type LineCollectorConfig struct {
	// Device is the default device for unqualified keys.
	Device           string
	IgnoreTimestamps bool
	AutoAvailable    bool
	FilterDuplicates *bool
}

// LineCollector feeds SHDR lines from the embedding program into the agent,
// as if they had arrived on an adapter connection. Start marks the connection
// up and Stop invalidates every data item it served.
type LineCollector struct {
	name string
	cfg  LineCollectorConfig
	now  func() time.Time

	mu     sync.Mutex
	engine *protocol.Engine
	out    chan<- domain.AdapterEvent
}

var _ ports.Collector = (*LineCollector)(nil)

// NewLineCollector creates a collector. It is bound to the device model when
// handed to the runtime through WithCollector.
func NewLineCollector(name string, cfg LineCollectorConfig) *LineCollector {
	if name == "" {
		name = "lines"
	}
	return &LineCollector{name: name, cfg: cfg, now: time.Now}
}

func (l *LineCollector) Name() string { return l.name }

func (l *LineCollector) bind(model *device.Model, obs ports.Observability) error {
	engine, err := protocol.NewEngine(model, protocol.Config{
		Adapter:          l.name,
		Device:           l.cfg.Device,
		IgnoreTimestamps: l.cfg.IgnoreTimestamps,
		AutoAvailable:    l.cfg.AutoAvailable,
		FilterDuplicates: l.cfg.FilterDuplicates,
	}, obs, protocol.WithClock(func() time.Time { return l.now() }))
	if err != nil {
		return fmt.Errorf("aegisagent.LineCollector: bind failed: %w", err)
	}
	l.mu.Lock()
	l.engine = engine
	l.mu.Unlock()
	return nil
}

func (l *LineCollector) Start(out chan<- domain.AdapterEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		return fmt.Errorf("aegisagent.LineCollector: %s is not bound to a device model", l.name)
	}
	if l.out != nil {
		return fmt.Errorf("aegisagent.LineCollector: %s already started", l.name)
	}
	l.out = out
	now := l.now()
	out <- domain.AdapterEvent{Adapter: l.name, Kind: domain.EventConnected, At: now, Inputs: l.engine.Connected(now)}
	return nil
}

// Push parses lines in order and delivers their inputs as one event. Lines
// the parser rejects are logged and skipped. It returns the number of inputs
// delivered.
func (l *LineCollector) Push(lines ...string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return 0, ErrCollectorStopped
	}

	var inputs []domain.Input
	for _, line := range lines {
		in, err := l.engine.ProcessLine(line)
		if err != nil {
			continue
		}
		inputs = append(inputs, in...)
	}
	if len(inputs) == 0 {
		return 0, nil
	}
	l.out <- domain.AdapterEvent{Adapter: l.name, Kind: domain.EventData, At: l.now(), Inputs: inputs}
	return len(inputs), nil
}

func (l *LineCollector) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	now := l.now()
	l.out <- domain.AdapterEvent{Adapter: l.name, Kind: domain.EventDisconnected, At: now, Inputs: l.engine.Disconnected(now)}
	l.out = nil
	return nil
}
