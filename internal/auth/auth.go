// Package auth implements the optional post-handshake shared-secret
// challenge-response authenticator (component C).
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// nonceSize is the size of the random challenge each side generates.
const nonceSize = 32

// ErrAuthFailed is returned when either direction of the challenge-response
// fails to verify, per §4.3: "the session MUST be torn down before any
// application data is read or sent".
var ErrAuthFailed = errors.New("authentication failed")

// ErrAuthMismatch is returned when one side has auth enabled and the other
// does not, per §4.3: this must be detected and the session torn down
// before either side reads or sends any application data.
var ErrAuthMismatch = errors.New("auth configuration mismatch between peers")

// Sender is the minimal capability the authenticator needs from a transport
// session: seal-and-send one message, and receive-and-open one message. It
// matches internal/noise.Session's Send/Recv so auth runs directly over the
// already-established Noise transport rather than a new channel.
type Sender interface {
	Send(plaintext []byte) error
	Recv() ([]byte, error)
}

// deriveKey turns the low-entropy shared secret into a fixed-size HMAC key,
// salted with a protocol-specific info string so it cannot be confused with
// key material from any other derivation in this module.
func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("circuitchat-auth-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive auth key: %w", err)
	}
	return key, nil
}

func respond(key, nonce []byte, direction byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	mac.Write([]byte{direction})
	return mac.Sum(nil)
}

const (
	directionInitiator byte = 1
	directionResponder byte = 2
)

// exchangeEnabledFlag sends a single byte announcing whether this side wants
// auth, then receives the peer's equivalent byte. It runs before any
// challenge-response or application data so a one-side-only configuration
// can be caught and the connection dropped instead of leaking a stray
// challenge nonce to a peer that will misinterpret it as an app frame.
func exchangeEnabledFlag(s Sender, enabled bool) (bool, error) {
	flag := byte(0)
	if enabled {
		flag = 1
	}
	if err := s.Send([]byte{flag}); err != nil {
		return false, fmt.Errorf("send auth flag: %w", err)
	}
	resp, err := s.Recv()
	if err != nil {
		return false, fmt.Errorf("receive auth flag: %w", err)
	}
	if len(resp) != 1 {
		return false, fmt.Errorf("invalid auth flag: got %d bytes", len(resp))
	}
	return resp[0] != 0, nil
}

// NegotiateInitiator runs the initiator side of §4.3's auth negotiation: both
// sides first announce whether they require auth; a mismatch returns
// ErrAuthMismatch without either side ever reaching the challenge-response
// (or, if both sides agree auth is disabled, without sending any secret
// material at all). Only when both sides agree auth is enabled does this
// proceed into RunInitiator's challenge-response.
func NegotiateInitiator(s Sender, enabled bool, secret string) error {
	peerEnabled, err := exchangeEnabledFlag(s, enabled)
	if err != nil {
		return err
	}
	if peerEnabled != enabled {
		return ErrAuthMismatch
	}
	if !enabled {
		return nil
	}
	return RunInitiator(s, secret)
}

// NegotiateResponder mirrors NegotiateInitiator for the responder side.
func NegotiateResponder(s Sender, enabled bool, secret string) error {
	peerEnabled, err := exchangeEnabledFlag(s, enabled)
	if err != nil {
		return err
	}
	if peerEnabled != enabled {
		return ErrAuthMismatch
	}
	if !enabled {
		return nil
	}
	return RunResponder(s, secret)
}

// RunInitiator performs the initiator side of §4.3's symmetric
// challenge-response: prove knowledge of secret, then verify the
// responder's proof. It returns ErrAuthFailed (never a raw crypto error) on
// any mismatch, matching the "torn down... surfaces authentication failed"
// contract.
func RunInitiator(s Sender, secret string) error {
	key, err := deriveKey(secret)
	if err != nil {
		return err
	}

	ourNonce := make([]byte, nonceSize)
	if _, err := rand.Read(ourNonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	if err := s.Send(ourNonce); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	theirResponse, err := s.Recv()
	if err != nil {
		return fmt.Errorf("receive response: %w", err)
	}
	want := respond(key, ourNonce, directionResponder)
	if !hmac.Equal(theirResponse, want) {
		return ErrAuthFailed
	}

	theirNonce, err := s.Recv()
	if err != nil {
		return fmt.Errorf("receive challenge: %w", err)
	}
	if err := s.Send(respond(key, theirNonce, directionInitiator)); err != nil {
		return fmt.Errorf("send response: %w", err)
	}

	return nil
}

// RunResponder performs the responder side of §4.3's symmetric
// challenge-response, mirroring RunInitiator.
func RunResponder(s Sender, secret string) error {
	key, err := deriveKey(secret)
	if err != nil {
		return err
	}

	theirNonce, err := s.Recv()
	if err != nil {
		return fmt.Errorf("receive challenge: %w", err)
	}
	if err := s.Send(respond(key, theirNonce, directionResponder)); err != nil {
		return fmt.Errorf("send response: %w", err)
	}

	ourNonce := make([]byte, nonceSize)
	if _, err := rand.Read(ourNonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	if err := s.Send(ourNonce); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}

	theirResponse, err := s.Recv()
	if err != nil {
		return fmt.Errorf("receive response: %w", err)
	}
	want := respond(key, ourNonce, directionInitiator)
	if subtle.ConstantTimeCompare(theirResponse, want) != 1 {
		return ErrAuthFailed
	}

	return nil
}
