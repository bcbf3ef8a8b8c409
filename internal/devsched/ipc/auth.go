package ipc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	nonceSize      = 32
	digestSize     = sha256.Size
	handshakeGrace = 5 * time.Second
)

// ErrAuthFailed indicates the peer did not answer the pre-shared-key
// challenge correctly or the handshake timed out.
var ErrAuthFailed = fmt.Errorf("devsched/ipc: authentication failed")

// serverHandshake runs a pre-shared-key challenge-response: the server
// sends a random nonce, the client must answer with
// HMAC-SHA256(presharedKey, nonce); any mismatch or timeout closes the
// connection before a single RPC method is served.
func serverHandshake(conn net.Conn, presharedKey []byte) error {
	conn.SetDeadline(time.Now().Add(handshakeGrace))
	defer conn.SetDeadline(time.Time{})

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("devsched/ipc: generating nonce: %w", err)
	}
	if _, err := conn.Write(nonce); err != nil {
		return fmt.Errorf("devsched/ipc: sending nonce: %w", err)
	}

	got := make([]byte, digestSize)
	if _, err := io.ReadFull(conn, got); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	want := hmac.New(sha256.New, presharedKey)
	want.Write(nonce)
	expected := want.Sum(nil)

	if subtle.ConstantTimeCompare(got, expected) != 1 {
		conn.Write([]byte{0})
		return ErrAuthFailed
	}
	if _, err := conn.Write([]byte{1}); err != nil {
		return fmt.Errorf("devsched/ipc: sending ack: %w", err)
	}
	return nil
}

// clientHandshake answers the server's nonce challenge.
func clientHandshake(conn net.Conn, presharedKey []byte) error {
	conn.SetDeadline(time.Now().Add(handshakeGrace))
	defer conn.SetDeadline(time.Time{})

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(conn, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	mac := hmac.New(sha256.New, presharedKey)
	mac.Write(nonce)
	digest := mac.Sum(nil)

	if _, err := conn.Write(digest); err != nil {
		return fmt.Errorf("devsched/ipc: sending digest: %w", err)
	}

	ack := make([]byte, 1)
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	if ack[0] != 1 {
		return ErrAuthFailed
	}
	return nil
}
