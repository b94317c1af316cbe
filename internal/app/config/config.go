package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisAgent/internal/adapters/httpapi"
	"github.com/ghalamif/AegisAgent/internal/adapters/opcua"
	"github.com/ghalamif/AegisAgent/internal/adapters/shdr"
	"github.com/ghalamif/AegisAgent/internal/adapters/sink"
	"github.com/ghalamif/AegisAgent/internal/agent"
	"github.com/ghalamif/AegisAgent/internal/device"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

type Config struct {
	Agent       AgentConfig      `yaml:"agent"`
	Log         LogConfig        `yaml:"log"`
	Devices     []*domain.Device `yaml:"devices"`
	DevicesFile string           `yaml:"devices_file"`
	Adapters    []shdr.Config    `yaml:"adapters"`
	OPCUA       []opcua.Config   `yaml:"opcua"`
	HTTP        httpapi.Config   `yaml:"http"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	State       StateConfig      `yaml:"state"`
	Archive     ArchiveConfig    `yaml:"archive"`
}

type AgentConfig struct {
	Sender                string        `yaml:"sender"`
	BufferSize            int           `yaml:"buffer_size"`
	AssetBufferSize       int           `yaml:"asset_buffer_size"`
	CheckpointFrequency   int           `yaml:"checkpoint_frequency"`
	DefaultSampleCount    int           `yaml:"default_sample_count"`
	MaxSampleCount        int           `yaml:"max_sample_count"`
	DefaultHeartbeat      time.Duration `yaml:"default_heartbeat"`
	MinInterval           time.Duration `yaml:"min_interval"`
	FilterDuplicates      bool          `yaml:"filter_duplicates"`
	InitializeUnavailable *bool         `yaml:"initialize_unavailable"`
	ConvertUnits          *bool         `yaml:"convert_units"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type MetricsConfig struct {
	Addr     string `yaml:"addr"`
	Disabled bool   `yaml:"disabled"`
}

type StateConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type ArchiveConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Policy    ports.Policy    `yaml:"policy"`
	WAL       WALConfig       `yaml:"wal"`
	Timescale TimescaleConfig `yaml:"timescale"`
	MQTT      sink.MQTTConfig `yaml:"mqtt"`
}

type TimescaleConfig struct {
	ConnString   string `yaml:"conn_string"`
	Table        string `yaml:"table"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if cfg.DevicesFile != "" {
		file := cfg.DevicesFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		devices, err := loadDevices(file)
		if err != nil {
			return nil, err
		}
		cfg.Devices = append(cfg.Devices, devices...)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document and applies defaults. It does not
// resolve devices_file or validate.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields of a configuration built in code.
func (c *Config) ApplyDefaults() { c.applyDefaults() }

func loadDevices(path string) ([]*domain.Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devices_file: %w", err)
	}
	var doc struct {
		Devices []*domain.Device `yaml:"devices"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("devices_file %s: %w", path, err)
	}
	return doc.Devices, nil
}

func (c *Config) applyDefaults() {
	if c.Agent.BufferSize == 0 {
		c.Agent.BufferSize = 131072
	}
	if c.Agent.AssetBufferSize == 0 {
		c.Agent.AssetBufferSize = 1024
	}
	if c.Agent.CheckpointFrequency == 0 {
		c.Agent.CheckpointFrequency = 1000
	}
	if c.Agent.DefaultSampleCount == 0 {
		c.Agent.DefaultSampleCount = 100
	}
	if c.Agent.DefaultHeartbeat == 0 {
		c.Agent.DefaultHeartbeat = 10 * time.Second
	}
	if c.Agent.InitializeUnavailable == nil {
		c.Agent.InitializeUnavailable = boolPtr(true)
	}
	if c.Agent.ConvertUnits == nil {
		c.Agent.ConvertUnits = boolPtr(true)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.State.Path == "" {
		c.State.Path = "./data/agent-state.yaml"
	}

	for i := range c.Adapters {
		if c.Adapters[i].Port == 0 {
			c.Adapters[i].Port = 7878
		}
	}
	for i := range c.OPCUA {
		c.OPCUA[i].ApplyDefaults()
	}

	pol := &c.Archive.Policy
	if pol.MaxWALSizeBytes == 0 {
		pol.MaxWALSizeBytes = 10 << 30
	}
	if pol.MaxQueueLen == 0 {
		pol.MaxQueueLen = 100_000
	}
	if pol.MaxBatchSize == 0 {
		pol.MaxBatchSize = 5_000
	}
	if pol.IdleSleep == 0 {
		pol.IdleSleep = 5 * time.Millisecond
	}
	if pol.OnQueueFull == "" {
		pol.OnQueueFull = "block"
	}
	if pol.OnWALFull == "" {
		pol.OnWALFull = "block"
	}
	if c.Archive.WAL.Dir == "" {
		c.Archive.WAL.Dir = "./data/wal"
	}
	if c.Archive.Timescale.Table == "" {
		c.Archive.Timescale.Table = sink.DefaultTable
	}
}

func (c *Config) validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}
	if c.Agent.BufferSize < 1 || c.Agent.AssetBufferSize < 1 {
		return fmt.Errorf("agent.buffer_size and agent.asset_buffer_size must be positive")
	}

	names := make(map[string]bool)
	for i, a := range c.Adapters {
		if a.Host == "" {
			return fmt.Errorf("adapters[%d]: host is required", i)
		}
		name := a.Name
		if name == "" {
			name = a.Addr()
		}
		if names[name] {
			return fmt.Errorf("adapters[%d]: duplicate adapter %q", i, name)
		}
		names[name] = true
	}
	for i := range c.OPCUA {
		if err := c.OPCUA[i].Validate(); err != nil {
			return fmt.Errorf("opcua[%d] config: %w", i, err)
		}
	}
	if !c.Metrics.Disabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}

	if !c.Archive.Enabled {
		return nil
	}
	if c.Archive.Timescale.ConnString == "" && c.Archive.MQTT.Broker == "" {
		return fmt.Errorf("archive needs archive.timescale.conn_string or archive.mqtt.broker")
	}
	if c.Archive.WAL.Dir == "" {
		return fmt.Errorf("archive.wal.dir is required")
	}
	switch c.Archive.Policy.OnWALFull {
	case "block", "drop":
	default:
		return fmt.Errorf("archive.policy.on_wal_full: unknown policy %q", c.Archive.Policy.OnWALFull)
	}
	switch c.Archive.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("archive.policy.on_queue_full: unknown policy %q", c.Archive.Policy.OnQueueFull)
	}
	return nil
}

// Model builds and validates the device model.
func (c *Config) Model() (*device.Model, error) {
	return device.NewModelFromDevices(nil, c.Devices...)
}

// AgentConfig converts the agent section for agent.New.
func (c *Config) AgentConfig() agent.Config {
	a := c.Agent
	return agent.Config{
		Sender:                a.Sender,
		BufferSize:            a.BufferSize,
		AssetBufferSize:       a.AssetBufferSize,
		CheckpointFrequency:   a.CheckpointFrequency,
		DefaultSampleCount:    a.DefaultSampleCount,
		MaxSampleCount:        a.MaxSampleCount,
		DefaultHeartbeat:      a.DefaultHeartbeat,
		MinInterval:           a.MinInterval,
		FilterDuplicates:      a.FilterDuplicates,
		InitializeUnavailable: a.InitializeUnavailable != nil && *a.InitializeUnavailable,
		ConvertUnits:          a.ConvertUnits != nil && *a.ConvertUnits,
	}
}

func boolPtr(v bool) *bool { return &v }
