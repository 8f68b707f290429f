package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/uncognic/circuitchat/internal/auth"
	"github.com/uncognic/circuitchat/internal/overlay"
)

func TestDialerAndListenerHandshakeWithoutAuth(t *testing.T) {
	ln, status, err := overlay.ListenOn("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	if status != overlay.StatusRunning {
		t.Fatalf("got status %v, want Running", status)
	}

	addr := ln.LocalAddress()
	opts := Options{}

	type listenResult struct {
		err error
	}
	resultCh := make(chan listenResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := ListenerHandshake(ctx, ln, opts, nil)
		resultCh <- listenResult{err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	dialer := overlay.NewTCPDialer()
	_, err = DialerHandshake(ctx, dialer, addr, opts, nil, nil)
	if err != nil {
		t.Fatalf("DialerHandshake: %v", err)
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			t.Fatalf("ListenerHandshake: %v", r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for listener handshake")
	}
}

func TestDialerAndListenerHandshakeWithMatchingAuth(t *testing.T) {
	ln, _, err := overlay.ListenOn("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	opts := Options{AuthEnabled: true, AuthPassword: "shared-secret"}

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := ListenerHandshake(ctx, ln, opts, nil)
		resultCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = DialerHandshake(ctx, overlay.NewTCPDialer(), ln.LocalAddress(), opts, nil, nil)
	if err != nil {
		t.Fatalf("DialerHandshake: %v", err)
	}

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("ListenerHandshake: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

func TestDialerAndListenerHandshakeWithMismatchedAuthFails(t *testing.T) {
	ln, _, err := overlay.ListenOn("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, err := ListenerHandshake(ctx, ln, Options{AuthEnabled: true, AuthPassword: "correct"}, nil)
		resultCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, dialErr := DialerHandshake(ctx, overlay.NewTCPDialer(), ln.LocalAddress(), Options{AuthEnabled: true, AuthPassword: "wrong"}, nil, nil)

	listenErr := <-resultCh
	if dialErr == nil && listenErr == nil {
		t.Fatal("expected at least one side to report an authentication failure")
	}
}

func TestDialerAndListenerHandshakeFailsWhenOnlyInitiatorRequiresAuth(t *testing.T) {
	ln, _, err := overlay.ListenOn("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		// Responder has auth disabled.
		_, err := ListenerHandshake(ctx, ln, Options{}, nil)
		resultCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Initiator requires auth.
	_, dialErr := DialerHandshake(ctx, overlay.NewTCPDialer(), ln.LocalAddress(), Options{AuthEnabled: true, AuthPassword: "secret"}, nil, nil)

	listenErr := <-resultCh
	if dialErr == nil && listenErr == nil {
		t.Fatal("expected at least one side to report an auth mismatch")
	}
	if dialErr != nil && dialErr != auth.ErrAuthMismatch && !strings.Contains(dialErr.Error(), auth.ErrAuthMismatch.Error()) {
		t.Fatalf("expected dialer error to wrap ErrAuthMismatch, got %v", dialErr)
	}
}

func TestDialerAndListenerHandshakeFailsWhenOnlyResponderRequiresAuth(t *testing.T) {
	ln, _, err := overlay.ListenOn("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	resultCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		// Responder requires auth.
		_, err := ListenerHandshake(ctx, ln, Options{AuthEnabled: true, AuthPassword: "secret"}, nil)
		resultCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Initiator has auth disabled.
	_, dialErr := DialerHandshake(ctx, overlay.NewTCPDialer(), ln.LocalAddress(), Options{}, nil, nil)

	listenErr := <-resultCh
	if dialErr == nil && listenErr == nil {
		t.Fatal("expected at least one side to report an auth mismatch")
	}
	if listenErr != nil && listenErr != auth.ErrAuthMismatch && !strings.Contains(listenErr.Error(), auth.ErrAuthMismatch.Error()) {
		t.Fatalf("expected listener error to wrap ErrAuthMismatch, got %v", listenErr)
	}
}

func TestDialerHandshakeReportsStagesInOrder(t *testing.T) {
	ln, _, err := overlay.ListenOn("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		ListenerHandshake(ctx, ln, Options{}, nil)
	}()

	var stages []ConnectionKind
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = DialerHandshake(ctx, overlay.NewTCPDialer(), ln.LocalAddress(), Options{}, nil, func(k ConnectionKind) {
		stages = append(stages, k)
	})
	if err != nil {
		t.Fatalf("DialerHandshake: %v", err)
	}

	want := []ConnectionKind{ConnectionConnecting, ConnectionHandshaking, ConnectionAuthenticating}
	if len(stages) != len(want) {
		t.Fatalf("got stages %v, want %v", stages, want)
	}
	for i, k := range want {
		if stages[i] != k {
			t.Fatalf("stage %d: got %v, want %v", i, stages[i], k)
		}
	}
}
