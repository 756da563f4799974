// Package config provides YAML-based configuration loading for meshchat.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // DisplayName is the human readable prefix of the local PeerId
    DisplayName string `mapstructure:"display_name"`

    // DataDir base directory for persistent data
    DataDir string `mapstructure:"data_dir"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Identity controls the key the PeerId is derived from.
    Identity IdentityConfig `mapstructure:"identity"`

    // Transports list to configure multiple inbound/outbound links
    Transports []TransportConfig `mapstructure:"transports"`

    // Net holds network/bootstrap options
    Net NetConfig `mapstructure:"net"`

    // Mesh tunes routing, relaying and the retry queue
    Mesh MeshConfig `mapstructure:"mesh"`

    // Discovery controls LAN advertising and browsing
    Discovery DiscoveryConfig `mapstructure:"discovery"`

    // Gateway is the local HTTP API used by UIs and meshchat-ctl
    Gateway GatewayConfig `mapstructure:"gateway"`

    // Inbox persists received messages and delivery history
    Inbox InboxConfig `mapstructure:"inbox"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// DiscoveryConfig selects the mDNS service used to find peers.
type DiscoveryConfig struct {
    MDNS    bool   `mapstructure:"mdns"`
    Service string `mapstructure:"service"`
    Domain  string `mapstructure:"domain"`
}

// GatewayConfig configures the local HTTP API.
type GatewayConfig struct {
    Enable bool   `mapstructure:"enable"`
    Listen string `mapstructure:"listen"`
}

// InboxConfig configures the bbolt message store.
type InboxConfig struct {
    Enable bool   `mapstructure:"enable"`
    Path   string `mapstructure:"path"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        DisplayName: "meshchat",
        DataDir:     "./data",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/meshchat.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Transports: []TransportConfig{
            {
                Kind:   "quic",
                Listen: []string{":7946"},
            },
        },
        Net:       DefaultNet(),
        Mesh:      DefaultMesh(),
        Discovery: DiscoveryConfig{MDNS: true, Service: "_meshchat._udp", Domain: "local."},
        Gateway:   GatewayConfig{Enable: true, Listen: "127.0.0.1:7947"},
        Inbox:     InboxConfig{Enable: true, Path: "inbox.db"},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix MESHCHAT and `.`/`-` are replaced with `_`.
// Example: MESHCHAT_MESH_DRAIN_ORDER=fifo
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("MESHCHAT")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("display_name", cfg.DisplayName)
    v.SetDefault("data_dir", cfg.DataDir)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    // Transports default
    v.SetDefault("transports", cfg.Transports)
    // Identity defaults
    v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
    v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
    v.SetDefault("identity.persist", cfg.Identity.Persist)
    // Net defaults
    v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
    v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
    v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
    v.SetDefault("net.connect_timeout_ms", cfg.Net.ConnectTimeoutMS)
    v.SetDefault("net.hello_timeout_ms", cfg.Net.HelloTimeoutMS)
    v.SetDefault("net.send_queue", cfg.Net.SendQueue)
    // Mesh defaults
    v.SetDefault("mesh.hop_limit", cfg.Mesh.HopLimit)
    v.SetDefault("mesh.max_relay_hops", cfg.Mesh.MaxRelayHops)
    v.SetDefault("mesh.max_attempts", cfg.Mesh.MaxAttempts)
    v.SetDefault("mesh.pending_ttl", cfg.Mesh.PendingTTL)
    v.SetDefault("mesh.sweep_interval", cfg.Mesh.SweepInterval)
    v.SetDefault("mesh.max_message_bytes", cfg.Mesh.MaxMessageBytes)
    v.SetDefault("mesh.wire_format", cfg.Mesh.WireFormat)
    v.SetDefault("mesh.drain_order", cfg.Mesh.DrainOrder)
    v.SetDefault("mesh.route_reply", cfg.Mesh.RouteReply)
    v.SetDefault("mesh.auto_connect", cfg.Mesh.AutoConnect)
    v.SetDefault("mesh.event_buffer", cfg.Mesh.EventBuffer)
    v.SetDefault("mesh.status_cache_size", cfg.Mesh.StatusCacheSize)
    v.SetDefault("mesh.status_ttl", cfg.Mesh.StatusTTL)
    // Discovery, gateway, inbox
    v.SetDefault("discovery.mdns", cfg.Discovery.MDNS)
    v.SetDefault("discovery.service", cfg.Discovery.Service)
    v.SetDefault("discovery.domain", cfg.Discovery.Domain)
    v.SetDefault("gateway.enable", cfg.Gateway.Enable)
    v.SetDefault("gateway.listen", cfg.Gateway.Listen)
    v.SetDefault("inbox.enable", cfg.Inbox.Enable)
    v.SetDefault("inbox.path", cfg.Inbox.Path)

    // Choose config file
    if path == "" {
        // Allow override via env var
        if envPath := os.Getenv("MESHCHAT_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `meshchat`
        v.SetConfigName("meshchat")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".meshchat"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    c.DisplayName = strings.TrimSpace(c.DisplayName)
    if c.DisplayName == "" {
        c.DisplayName = "meshchat"
    }
    if strings.ContainsAny(c.DisplayName, " \t/") {
        return fmt.Errorf("invalid display_name: %q", c.DisplayName)
    }
    for i := range c.Transports {
        c.Transports[i].Kind = strings.ToLower(strings.TrimSpace(c.Transports[i].Kind))
        // nothing else mandatory; listen/dial can be empty
    }
    c.Net.normalize()
    if err := c.Mesh.normalize(); err != nil {
        return err
    }
    if c.Inbox.Path != "" && !filepath.IsAbs(c.Inbox.Path) {
        c.Inbox.Path = filepath.Join(c.DataDir, c.Inbox.Path)
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
