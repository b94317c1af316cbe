package aegisagent

import (
	"github.com/ghalamif/AegisAgent/internal/adapters/httpapi"
	"github.com/ghalamif/AegisAgent/internal/adapters/opcua"
	"github.com/ghalamif/AegisAgent/internal/adapters/shdr"
	"github.com/ghalamif/AegisAgent/internal/adapters/sink"
	"github.com/ghalamif/AegisAgent/internal/app/config"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// AgentConfig holds buffer sizes and query limits.
	AgentConfig = config.AgentConfig
	// LogConfig selects the log level and encoding.
	LogConfig = config.LogConfig
	// AdapterConfig describes one SHDR adapter connection.
	AdapterConfig = shdr.Config
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig binds a monitored node to a data item.
	OPCUANodeConfig = opcua.NodeConfig
	// HTTPConfig configures the query transport.
	HTTPConfig = httpapi.Config
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// StateConfig locates the persisted instance id and sequence.
	StateConfig = config.StateConfig
	// ArchiveConfig enables the buffer → WAL → sink path.
	ArchiveConfig = config.ArchiveConfig
	// Policy controls WAL/queue thresholds.
	Policy = ports.Policy
	// TimescaleConfig configures the Timescale sink.
	TimescaleConfig = config.TimescaleConfig
	// MQTTConfig configures the MQTT sink.
	MQTTConfig = sink.MQTTConfig
	// WALConfig configures on-disk durability.
	WALConfig = config.WALConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
