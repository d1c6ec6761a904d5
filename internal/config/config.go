// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `needle:` root key in YAML.
type GlobalConfig struct {
	Node    NodeConfig    `mapstructure:"node"`
	Capture CaptureConfig `mapstructure:"capture"`
	Plugins PluginsConfig `mapstructure:"plugins"`
	Modules ModulesConfig `mapstructure:"modules"`
	Control ControlConfig `mapstructure:"control"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig describes the local network identity.
type NodeConfig struct {
	Interface string     `mapstructure:"interface"` // Empty = interface of the default route
	Hostname  string     `mapstructure:"hostname"`  // Empty = os.Hostname()
	Gateway   PairConfig `mapstructure:"gateway"`   // Empty fields = discovered via netlink
	Self      PairConfig `mapstructure:"self"`
	Neighbors bool       `mapstructure:"neighbors"` // Seed the host list from the kernel neighbour table
}

// PairConfig is an explicit address/hardware address pair.
type PairConfig struct {
	IP  string `mapstructure:"ip"`
	MAC string `mapstructure:"mac"`
}

// Complete reports whether both fields are set.
func (p PairConfig) Complete() bool {
	return p.IP != "" && p.MAC != ""
}

// ─── Capture / Transmit ───

// CaptureConfig configures the link-layer collaborator.
type CaptureConfig struct {
	Type            string         `mapstructure:"type"` // afpacket | packetsock | file | none
	Interface       string         `mapstructure:"interface"`
	BPF             string         `mapstructure:"bpf"`         // afpacket only, compiled with libpcap
	EtherTypes      []uint16       `mapstructure:"ether_types"` // packetsock only
	Promiscuous     bool           `mapstructure:"promiscuous"`
	ReadBufferSize  int            `mapstructure:"read_buffer_size"`
	WriteBufferSize int            `mapstructure:"write_buffer_size"`
	ReadTimeout     time.Duration  `mapstructure:"read_timeout"`
	File            string         `mapstructure:"file"` // pcap input for type=file
	AFPacket        AFPacketConfig `mapstructure:"afpacket"`
	Sink            SinkConfig     `mapstructure:"sink"`
}

// AFPacketConfig tunes the TPACKET_V3 ring.
type AFPacketConfig struct {
	RingSizeMB int    `mapstructure:"ring_size_mb"`
	FanoutID   uint16 `mapstructure:"fanout_id"`
}

// SinkConfig selects where module outbound frames go.
type SinkConfig struct {
	Type string `mapstructure:"type"` // capture (same device) | pcap | none
	Path string `mapstructure:"path"` // pcap output for type=pcap
}

// ─── Plugins and Modules ───

// PluginsConfig configures hook libraries.
type PluginsConfig struct {
	Dir      string   `mapstructure:"dir"`
	Patterns []string `mapstructure:"patterns"`
	Autoload bool     `mapstructure:"autoload"`
	Builtins []string `mapstructure:"builtins"` // core | sniff | arpwatch
}

// ModulesConfig holds module defaults.
type ModulesConfig struct {
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string       `mapstructure:"socket"`
	PIDFile string       `mapstructure:"pid_file"`
	Kafka   KafkaControl `mapstructure:"kafka"`
}

// KafkaControl configures the remote command channel.
type KafkaControl struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	GroupID         string        `mapstructure:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"`
	CommandTTL      time.Duration `mapstructure:"command_ttl"`
	ReplyTopic      string        `mapstructure:"reply_topic"` // Empty = no replies
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `needle: ...`.
type configRoot struct {
	Needle GlobalConfig `mapstructure:"needle"`
}

// Load loads configuration from file. An empty path loads defaults only.
// The YAML file uses `needle:` as root key; env vars use the NEEDLE_ prefix
// (e.g., NEEDLE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `needle.` key prefix maps to `NEEDLE_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Needle

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "needle." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("needle.node.interface", "")
	v.SetDefault("needle.node.hostname", "")
	v.SetDefault("needle.node.gateway.ip", "")
	v.SetDefault("needle.node.gateway.mac", "")
	v.SetDefault("needle.node.self.ip", "")
	v.SetDefault("needle.node.self.mac", "")
	v.SetDefault("needle.node.neighbors", true)

	// Capture defaults
	v.SetDefault("needle.capture.type", "afpacket")
	v.SetDefault("needle.capture.interface", "")
	v.SetDefault("needle.capture.bpf", "")
	v.SetDefault("needle.capture.promiscuous", true)
	v.SetDefault("needle.capture.read_buffer_size", 65535)
	v.SetDefault("needle.capture.write_buffer_size", 65535)
	v.SetDefault("needle.capture.read_timeout", "1s")
	v.SetDefault("needle.capture.file", "")
	v.SetDefault("needle.capture.ether_types", []int{})
	v.SetDefault("needle.capture.afpacket.ring_size_mb", 64)
	v.SetDefault("needle.capture.afpacket.fanout_id", 0)
	v.SetDefault("needle.capture.sink.type", "capture")
	v.SetDefault("needle.capture.sink.path", "")

	// Plugin defaults
	v.SetDefault("needle.plugins.dir", "/usr/lib/needle/plugins")
	v.SetDefault("needle.plugins.patterns", []string{"*.so"})
	v.SetDefault("needle.plugins.autoload", true)
	v.SetDefault("needle.plugins.builtins", []string{"core", "sniff", "arpwatch"})

	// Module defaults
	v.SetDefault("needle.modules.stop_timeout", "5s")
	v.SetDefault("needle.modules.reap_interval", "30s")

	// Control defaults
	v.SetDefault("needle.control.pid_file", "/var/run/needle.pid")
	v.SetDefault("needle.control.socket", "/var/run/needle.sock")
	v.SetDefault("needle.control.kafka.enabled", false)
	v.SetDefault("needle.control.kafka.auto_offset_reset", "latest")
	v.SetDefault("needle.control.kafka.command_ttl", "5m")
	v.SetDefault("needle.control.kafka.reply_topic", "")

	// Log defaults
	v.SetDefault("needle.log.level", "info")
	v.SetDefault("needle.log.format", "json")
	v.SetDefault("needle.log.outputs.file.enabled", false)
	v.SetDefault("needle.log.outputs.file.path", "/var/log/needle/needle.log")
	v.SetDefault("needle.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("needle.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("needle.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("needle.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("needle.metrics.enabled", true)
	v.SetDefault("needle.metrics.listen", ":9091")
	v.SetDefault("needle.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Explicit identity pairs ──
	for name, p := range map[string]PairConfig{"gateway": cfg.Node.Gateway, "self": cfg.Node.Self} {
		if err := validatePair(name, p); err != nil {
			return err
		}
	}

	// ── Capture ──
	switch cfg.Capture.Type {
	case "afpacket", "packetsock":
		if cfg.Capture.Interface == "" {
			cfg.Capture.Interface = cfg.Node.Interface
		}
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("capture.file is required when capture.type=file")
		}
	case "none":
	default:
		return fmt.Errorf("invalid capture.type: %s (must be afpacket/packetsock/file/none)", cfg.Capture.Type)
	}
	if cfg.Capture.ReadBufferSize <= 0 || cfg.Capture.WriteBufferSize <= 0 {
		return fmt.Errorf("capture buffer sizes must be positive")
	}
	switch cfg.Capture.Sink.Type {
	case "capture", "none":
	case "pcap":
		if cfg.Capture.Sink.Path == "" {
			return fmt.Errorf("capture.sink.path is required when capture.sink.type=pcap")
		}
	default:
		return fmt.Errorf("invalid capture.sink.type: %s (must be capture/pcap/none)", cfg.Capture.Sink.Type)
	}

	// ── Plugins ──
	for _, b := range cfg.Plugins.Builtins {
		switch b {
		case "core", "sniff", "arpwatch":
		default:
			return fmt.Errorf("unknown builtin plugin: %s", b)
		}
	}

	// ── Modules ──
	if cfg.Modules.ReapInterval < 0 {
		return fmt.Errorf("modules.reap_interval must not be negative")
	}
	if cfg.Modules.StopTimeout <= 0 {
		cfg.Modules.StopTimeout = 5 * time.Second
	}

	// ── Remote command channel ──
	if kc := &cfg.Control.Kafka; kc.Enabled {
		if len(kc.Brokers) == 0 {
			return fmt.Errorf("control.kafka.brokers is required when control.kafka.enabled=true")
		}
		if kc.Topic == "" {
			return fmt.Errorf("control.kafka.topic is required when control.kafka.enabled=true")
		}
		if kc.GroupID == "" {
			kc.GroupID = "needle-" + cfg.Node.Hostname
		}
	}

	return nil
}

func validatePair(name string, p PairConfig) error {
	if p.IP != "" {
		if _, err := netip.ParseAddr(p.IP); err != nil {
			return fmt.Errorf("invalid node.%s.ip %q: %w", name, p.IP, err)
		}
	}
	if p.MAC != "" {
		if _, err := net.ParseMAC(p.MAC); err != nil {
			return fmt.Errorf("invalid node.%s.mac %q: %w", name, p.MAC, err)
		}
	}
	return nil
}
