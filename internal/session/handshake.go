package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/uncognic/circuitchat/internal/auth"
	"github.com/uncognic/circuitchat/internal/noise"
	"github.com/uncognic/circuitchat/internal/overlay"
)

// Options configures a handshake attempt, drawn from the resolved config.
type Options struct {
	AuthEnabled  bool
	AuthPassword string
}

// ErrListenerFailed wraps a failure to accept a connection at all (the
// listener itself is broken), as distinct from a Crypto/Auth failure on an
// accepted connection. Callers use this to decide whether to give up or loop
// back for the next peer, per §7: "responder returns to accept loop" on
// Crypto/Auth errors, but a dead listener has no "next connection" to wait
// for.
var ErrListenerFailed = errors.New("listener accept failed")

// DialerHandshake connects to addr (retrying per the overlay package's
// fixed-delay policy), runs the Noise initiator handshake, then always runs
// auth negotiation: both peers announce whether they require auth before
// either reads or sends an application frame, so a one-side-only
// configuration is rejected as ErrAuthMismatch rather than letting the
// unauthenticated side decode the other's challenge nonce as chat text.
// Mirrors the teacher's dialerHandshake/listenerHandshake split in
// internal/peer/handshake.go, where "the dialer sends PEER_HELLO first, the
// listener waits to receive it first" — here the Noise initiator message
// plays that role.
// onStage, when non-nil, is invoked synchronously at each setup stage so a
// caller can drive a status bar (Connecting… / Handshaking… /
// Authenticating…) before a Driver exists to own Snapshot.Status itself.
func DialerHandshake(ctx context.Context, dialer overlay.Dialer, addr string, opts Options, onRetry func(error), onStage func(ConnectionKind)) (*noise.Session, error) {
	if onStage != nil {
		onStage(ConnectionConnecting)
	}
	stream, err := overlay.DialWithRetry(ctx, dialer, addr, onRetry)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	if onStage != nil {
		onStage(ConnectionHandshaking)
	}
	sess, err := noise.Connect(stream)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("noise handshake: %w", err)
	}

	if onStage != nil {
		onStage(ConnectionAuthenticating)
	}
	if err := auth.NegotiateInitiator(sess, opts.AuthEnabled, opts.AuthPassword); err != nil {
		stream.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return sess, nil
}

// ListenerHandshake accepts one incoming stream, runs the Noise responder
// handshake, then always runs the responder side of auth negotiation (see
// DialerHandshake). On failure the responder returns to its accept loop per
// §7's propagation policy ("responder returns to accept loop, initiator
// exits").
func ListenerHandshake(ctx context.Context, ln overlay.Listener, opts Options, onStage func(ConnectionKind)) (*noise.Session, error) {
	if onStage != nil {
		onStage(ConnectionConnecting)
	}
	stream, err := ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}

	if onStage != nil {
		onStage(ConnectionHandshaking)
	}
	sess, err := noise.Accept(stream)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("noise handshake: %w", err)
	}

	if onStage != nil {
		onStage(ConnectionAuthenticating)
	}
	if err := auth.NegotiateResponder(sess, opts.AuthEnabled, opts.AuthPassword); err != nil {
		stream.Close()
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return sess, nil
}
