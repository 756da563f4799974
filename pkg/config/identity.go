package config

// IdentityConfig describes the node's signing identity used in the link hello.
type IdentityConfig struct {
    PrivateKey     string `mapstructure:"private_key"`      // base64url(no padding) of raw private key bytes
    PrivateKeyFile string `mapstructure:"private_key_file"` // path to file containing base64 or raw bytes
    Persist        bool   `mapstructure:"persist"`          // write a generated key to private_key_file
}
