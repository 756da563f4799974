package config

import (
    "fmt"
    "strings"
    "time"
)

// Drain orders for the retry queue.
const (
    DrainLIFO = "lifo"
    DrainFIFO = "fifo"
)

// MeshConfig tunes the relay core.
type MeshConfig struct {
    // HopLimit stops discovery floods once hops reaches it.
    HopLimit int `mapstructure:"hop_limit"`

    // MaxRelayHops drops relayed envelopes that already carry this many hops.
    MaxRelayHops int           `mapstructure:"max_relay_hops"`
    MaxAttempts  int           `mapstructure:"max_attempts"`
    PendingTTL   time.Duration `mapstructure:"pending_ttl"`
    // SweepInterval is how often expired pending messages are removed.
    SweepInterval time.Duration `mapstructure:"sweep_interval"`
    // MaxMessageBytes limits the encoded envelope frame.
    MaxMessageBytes int `mapstructure:"max_message_bytes"`
    // WireFormat: cbor, json or proto
    WireFormat string `mapstructure:"wire_format"`
    // DrainOrder: lifo (newest first) or fifo
    DrainOrder string `mapstructure:"drain_order"`
    // RouteReply enables the reverse reply to discovery floods.
    RouteReply  bool `mapstructure:"route_reply"`
    AutoConnect bool `mapstructure:"auto_connect"`
    // EventBuffer is the channel size of each subscription.
    EventBuffer     int           `mapstructure:"event_buffer"`
    StatusCacheSize int           `mapstructure:"status_cache_size"`
    StatusTTL       time.Duration `mapstructure:"status_ttl"`
}

func DefaultMesh() MeshConfig {
    return MeshConfig{
        HopLimit:        5,
        MaxRelayHops:    16,
        MaxAttempts:     3,
        PendingTTL:      5 * time.Minute,
        SweepInterval:   30 * time.Second,
        MaxMessageBytes: 1 << 20,
        WireFormat:      "cbor",
        DrainOrder:      DrainLIFO,
        RouteReply:      false,
        AutoConnect:     true,
        EventBuffer:     64,
        StatusCacheSize: 4096,
        StatusTTL:       30 * time.Minute,
    }
}

func (m *MeshConfig) normalize() error {
    d := DefaultMesh()
    if m.HopLimit <= 0 { m.HopLimit = d.HopLimit }
    if m.MaxRelayHops <= 0 { m.MaxRelayHops = d.MaxRelayHops }
    if m.MaxAttempts <= 0 { m.MaxAttempts = d.MaxAttempts }
    if m.PendingTTL <= 0 { m.PendingTTL = d.PendingTTL }
    if m.SweepInterval <= 0 { m.SweepInterval = d.SweepInterval }
    if m.MaxMessageBytes <= 0 { m.MaxMessageBytes = d.MaxMessageBytes }
    if m.EventBuffer <= 0 { m.EventBuffer = d.EventBuffer }
    if m.StatusCacheSize <= 0 { m.StatusCacheSize = d.StatusCacheSize }
    if m.StatusTTL <= 0 { m.StatusTTL = d.StatusTTL }

    m.WireFormat = strings.ToLower(strings.TrimSpace(m.WireFormat))
    switch m.WireFormat {
    case "":
        m.WireFormat = d.WireFormat
    case "cbor", "json", "proto", "protobuf":
    default:
        return fmt.Errorf("invalid mesh.wire_format: %q", m.WireFormat)
    }
    m.DrainOrder = strings.ToLower(strings.TrimSpace(m.DrainOrder))
    switch m.DrainOrder {
    case "":
        m.DrainOrder = d.DrainOrder
    case DrainLIFO, DrainFIFO:
    default:
        return fmt.Errorf("invalid mesh.drain_order: %q", m.DrainOrder)
    }
    return nil
}
