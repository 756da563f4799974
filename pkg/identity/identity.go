package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "crypto/sha256"
    "encoding/base32"
    "encoding/base64"
    "errors"
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"

    "meshchat/pkg/config"
    "meshchat/pkg/transport"
)

const suffixLen = 8

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// PeerIDFor derives the PeerId advertised by a node: its display name plus a
// short suffix taken from the hash of its public key.
func PeerIDFor(displayName string, pub ed25519.PublicKey) transport.PeerID {
    name := strings.Join(strings.Fields(displayName), "_")
    if name == "" { name = "peer" }
    sum := sha256.Sum256(pub)
    suffix := strings.ToLower(b32.EncodeToString(sum[:]))[:suffixLen]
    return transport.PeerID(name + "-" + suffix)
}

// LoadOrGenEd25519 loads an ed25519 private key from config or generates a new one.
// Returns the private key and the PeerId derived from displayName.
func LoadOrGenEd25519(c config.IdentityConfig, displayName string) (ed25519.PrivateKey, transport.PeerID, error) {
    var pk ed25519.PrivateKey
    if s := strings.TrimSpace(c.PrivateKey); s != "" {
        if b, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(b) == ed25519.PrivateKeySize {
            pk = ed25519.PrivateKey(b)
        } else {
            zap.L().Warn("failed to decode identity.private_key", zap.Error(err), zap.Int("len", len(b)))
        }
    }
    if pk == nil && strings.TrimSpace(c.PrivateKeyFile) != "" {
        if b, err := os.ReadFile(c.PrivateKeyFile); err == nil {
            txt := strings.TrimSpace(string(b))
            if db, err := base64.RawURLEncoding.DecodeString(txt); err == nil && len(db) == ed25519.PrivateKeySize {
                pk = ed25519.PrivateKey(db)
            } else if len(b) == ed25519.PrivateKeySize {
                pk = ed25519.PrivateKey(b)
            } else {
                zap.L().Warn("identity.private_key_file holds no usable key", zap.String("path", c.PrivateKeyFile))
            }
        } else if !errors.Is(err, os.ErrNotExist) {
            zap.L().Warn("failed to read identity.private_key_file", zap.Error(err))
        }
    }
    if pk == nil {
        _, gen, err := ed25519.GenerateKey(rand.Reader)
        if err != nil { return nil, "", err }
        pk = gen
        if c.PrivateKeyFile != "" && c.Persist {
            if err := Save(c.PrivateKeyFile, gen); err != nil {
                zap.L().Warn("failed to persist generated identity", zap.String("path", c.PrivateKeyFile), zap.Error(err))
            }
        }
        zap.L().Info("generated new ed25519 identity",
            zap.String("pub_b64", base64.RawURLEncoding.EncodeToString(gen.Public().(ed25519.PublicKey))))
    }
    pub := pk.Public().(ed25519.PublicKey)
    return pk, PeerIDFor(displayName, pub), nil
}

// Save writes priv base64url-encoded to path with owner-only permissions.
func Save(path string, priv ed25519.PrivateKey) error {
    if dir := filepath.Dir(path); dir != "" {
        if err := os.MkdirAll(dir, 0o700); err != nil { return err }
    }
    return os.WriteFile(path, []byte(base64.RawURLEncoding.EncodeToString(priv)+"\n"), 0o600)
}
