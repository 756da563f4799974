package config

// TransportConfig describes one transport kind and its endpoints.
// Example YAML:
// transports:
//   - kind: quic
//     listen: [":7946"]
//     dial:
//       - address: "10.0.0.2:7946"
//         peer_id: "bob-abcd2345"
//   - kind: tcp
//     listen: [":7948"]
//   - kind: mem
//     listen: ["inproc://alice"]
type TransportConfig struct {
    Kind   string           `mapstructure:"kind"`
    Listen []string         `mapstructure:"listen"`
    Dial   []PeerDialConfig `mapstructure:"dial"`
}

// PeerDialConfig describes a target to dial on startup.
type PeerDialConfig struct {
    Address string `mapstructure:"address"`
    PeerID  string `mapstructure:"peer_id"`
}
