package config

import "time"

// NetConfig contains networking tuning options.
type NetConfig struct {
    DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
    DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
    DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`
    // ConnectTimeoutMS bounds one connection attempt including the hello.
    ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
    HelloTimeoutMS   int `mapstructure:"hello_timeout_ms"`
    // SendQueue is the per-link outbound frame buffer.
    SendQueue int `mapstructure:"send_queue"`
}

func DefaultNet() NetConfig {
    return NetConfig{
        DialBackoffInitialMS: 500,
        DialBackoffMaxMS:     30000,
        DialBackoffJitterMS:  100,
        ConnectTimeoutMS:     10000,
        HelloTimeoutMS:       5000,
        SendQueue:            256,
    }
}

func (n *NetConfig) normalize() {
    d := DefaultNet()
    if n.DialBackoffInitialMS <= 0 { n.DialBackoffInitialMS = d.DialBackoffInitialMS }
    if n.DialBackoffMaxMS < n.DialBackoffInitialMS { n.DialBackoffMaxMS = n.DialBackoffInitialMS }
    if n.DialBackoffJitterMS < 0 { n.DialBackoffJitterMS = 0 }
    if n.ConnectTimeoutMS <= 0 { n.ConnectTimeoutMS = d.ConnectTimeoutMS }
    if n.HelloTimeoutMS <= 0 { n.HelloTimeoutMS = d.HelloTimeoutMS }
    if n.SendQueue <= 0 { n.SendQueue = d.SendQueue }
}

func (n NetConfig) ConnectTimeout() time.Duration { return time.Duration(n.ConnectTimeoutMS) * time.Millisecond }
func (n NetConfig) HelloTimeout() time.Duration   { return time.Duration(n.HelloTimeoutMS) * time.Millisecond }
