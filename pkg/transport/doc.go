// Package transport defines the link interfaces used by meshchat and a
// session manager that keeps a single canonical session per peer.
//
// Key concepts:
// - Transport: dials/listens for Sessions of a specific Kind (QUIC/TCP/mem)
// - Session: a bidirectional connection to a peer carrying one framed stream,
//   optionally with a native datagram channel (DatagramSession)
// - Manager: deduplicates crossing inbound/outbound links per peer
// - Handler: receives found/lost, state-change and frame events
package transport
