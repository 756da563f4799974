package handshake

import (
    "encoding/base64"
    "strconv"
    "strings"

    "meshchat/pkg/protocol"
)

// transcript is the byte string a hello signature covers:
//
//  meshchat:hello|v=<ver>|alg=<alg>|id=<peer id>|name=<display name>|ts=<unix ms>|pub=<b64url>|nonce=<b64url>
//
// Every field the receiver acts on is covered.
func transcript(h protocol.Hello) []byte {
    b64 := base64.RawURLEncoding
    fields := []string{
        "meshchat:hello",
        "v=" + strconv.FormatUint(uint64(h.Version), 10),
        "alg=" + strings.ToLower(strings.TrimSpace(h.Alg)),
        "id=" + h.PeerID,
        "name=" + h.NodeName,
        "ts=" + strconv.FormatInt(h.Timestamp, 10),
        "pub=" + b64.EncodeToString(h.PubKey),
        "nonce=" + b64.EncodeToString(h.Nonce),
    }
    return []byte(strings.Join(fields, "|"))
}
