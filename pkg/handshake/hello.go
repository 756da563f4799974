package handshake

import (
    "crypto/ed25519"
    "crypto/rand"
    "errors"
    "fmt"
    "time"

    "meshchat/pkg/identity"
    "meshchat/pkg/protocol"
    "meshchat/pkg/transport"
)

const alg = "ed25519"

var (
    ErrBadKey     = errors.New("bad ed25519 private key length")
    ErrStale      = errors.New("hello timestamp out of bounds")
    ErrBadSig     = errors.New("hello signature invalid")
    ErrIDMismatch = errors.New("hello peer id does not match key")
)

// BuildHello constructs a Hello for displayName and signs it with priv.
func BuildHello(displayName string, priv ed25519.PrivateKey) (protocol.Hello, transport.PeerID, error) {
    if len(priv) != ed25519.PrivateKeySize { return protocol.Hello{}, "", ErrBadKey }
    pub := priv.Public().(ed25519.PublicKey)
    nonce := make([]byte, 16)
    if _, err := rand.Read(nonce); err != nil { return protocol.Hello{}, "", err }
    pid := identity.PeerIDFor(displayName, pub)
    h := protocol.Hello{
        Version:   1,
        PeerID:    string(pid),
        NodeName:  displayName,
        Alg:       alg,
        PubKey:    append([]byte(nil), pub...),
        Nonce:     nonce,
        Timestamp: time.Now().UnixMilli(),
    }
    h.Sig = ed25519.Sign(priv, transcript(h))
    return h, pid, nil
}

// VerifyHello verifies signature, freshness and that the claimed PeerId is
// the one derived from the key. Returns the PeerId.
func VerifyHello(h protocol.Hello, maxSkew time.Duration) (transport.PeerID, error) {
    if h.Alg != alg { return "", fmt.Errorf("unsupported alg: %s", h.Alg) }
    if len(h.PubKey) != ed25519.PublicKeySize { return "", errors.New("bad pubkey length") }
    if len(h.Sig) != ed25519.SignatureSize { return "", errors.New("bad signature length") }
    if maxSkew <= 0 { maxSkew = 5 * time.Minute }
    now := time.Now().UnixMilli()
    if dt := now - h.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
        return "", ErrStale
    }
    if !ed25519.Verify(ed25519.PublicKey(h.PubKey), transcript(h), h.Sig) {
        return "", ErrBadSig
    }
    pid := identity.PeerIDFor(h.NodeName, ed25519.PublicKey(h.PubKey))
    if string(pid) != h.PeerID { return "", ErrIDMismatch }
    return pid, nil
}
