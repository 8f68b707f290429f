package session

import (
	"net"
	"testing"
	"time"

	"github.com/uncognic/circuitchat/internal/noise"
)

// fakeUI is a scriptable UI for driving the session loop without a real
// terminal, mirroring the teacher's habit of testing protocol state
// machines against hand-rolled fakes rather than the real transport.
type fakeUI struct {
	events chan UIEvent
	frames []Snapshot
}

func newFakeUI() *fakeUI {
	return &fakeUI{events: make(chan UIEvent, 16)}
}

func (f *fakeUI) Render(s Snapshot) { f.frames = append(f.frames, s) }
func (f *fakeUI) Events() <-chan UIEvent { return f.events }

func pairedNoiseSessions(t *testing.T) (*noise.Session, *noise.Session, func()) {
	t.Helper()
	c1, c2 := net.Pipe()

	type result struct {
		sess *noise.Session
		err  error
	}
	initCh := make(chan result, 1)
	go func() {
		s, err := noise.Connect(c1)
		initCh <- result{s, err}
	}()

	respSess, err := noise.Accept(c2)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	r := <-initCh
	if r.err != nil {
		t.Fatalf("Connect: %v", r.err)
	}
	return r.sess, respSess, func() { c1.Close(); c2.Close() }
}

func TestTextMessageRoutesToUIAndSendsDelivered(t *testing.T) {
	a, b, cleanup := pairedNoiseSessions(t)
	defer cleanup()

	uiA := newFakeUI()
	driverA := New(a, uiA, nil, t.TempDir(), nil)

	done := make(chan error, 1)
	go func() { done <- driverA.Run() }()

	// B sends text directly over its own session, bypassing a driver.
	if err := b.Send([]byte("hello")); err != nil {
		t.Fatalf("b.Send: %v", err)
	}

	// B should receive a Delivered ack.
	ack, err := b.Recv()
	if err != nil {
		t.Fatalf("b.Recv (delivered ack): %v", err)
	}
	if len(ack) < 2 || ack[0] != 0x00 {
		t.Fatalf("expected control-prefixed delivered ack, got %v", ack)
	}

	uiA.events <- UIEvent{Kind: EventQuit}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not terminate after quit event")
	}

	if len(driverA.messages) != 1 || driverA.messages[0].Text != "hello" {
		t.Fatalf("unexpected messages: %+v", driverA.messages)
	}
}

func TestSendLineTransmitsTextToPeer(t *testing.T) {
	a, b, cleanup := pairedNoiseSessions(t)
	defer cleanup()

	uiA := newFakeUI()
	driverA := New(a, uiA, nil, t.TempDir(), nil)

	done := make(chan error, 1)
	go func() { done <- driverA.Run() }()

	uiA.events <- UIEvent{Kind: EventLine, Line: "ahoy"}

	payload, err := b.Recv()
	if err != nil {
		t.Fatalf("b.Recv: %v", err)
	}
	if string(payload) != "ahoy" {
		t.Fatalf("got %q, want %q", payload, "ahoy")
	}
	// B answers with a Delivered ack, as a peer's driver does for every
	// received text.
	if err := b.Send([]byte{0x00, 0x09}); err != nil {
		t.Fatalf("b.Send delivered: %v", err)
	}

	uiA.events <- UIEvent{Kind: EventQuit}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not terminate")
	}
}

func TestQuitEventTerminatesLoopCleanly(t *testing.T) {
	a, _, cleanup := pairedNoiseSessions(t)
	defer cleanup()

	uiA := newFakeUI()
	driverA := New(a, uiA, nil, t.TempDir(), nil)

	done := make(chan error, 1)
	go func() { done <- driverA.Run() }()

	uiA.events <- UIEvent{Kind: EventQuit}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean termination, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not terminate on quit")
	}
}

func TestControlPrefixedTextIsRejectedAtDriver(t *testing.T) {
	a, _, cleanup := pairedNoiseSessions(t)
	defer cleanup()

	uiA := newFakeUI()
	driverA := New(a, uiA, nil, t.TempDir(), nil)

	done := make(chan error, 1)
	go func() { done <- driverA.Run() }()

	uiA.events <- UIEvent{Kind: EventLine, Line: "\x00bad"}
	uiA.events <- UIEvent{Kind: EventQuit}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not terminate")
	}

	if len(driverA.messages) != 0 {
		t.Fatalf("expected no messages sent, got %+v", driverA.messages)
	}
}

func TestTypingStartEventSendsWireTag(t *testing.T) {
	a, b, cleanup := pairedNoiseSessions(t)
	defer cleanup()

	uiA := newFakeUI()
	driverA := New(a, uiA, nil, t.TempDir(), nil)

	done := make(chan error, 1)
	go func() { done <- driverA.Run() }()

	uiA.events <- UIEvent{Kind: EventTypingStart}

	payload, err := b.Recv()
	if err != nil {
		t.Fatalf("b.Recv: %v", err)
	}
	if len(payload) < 2 || payload[0] != 0x00 || payload[1] != 0x07 {
		t.Fatalf("expected TypingStart wire tag, got %v", payload)
	}

	uiA.events <- UIEvent{Kind: EventQuit}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not terminate")
	}
}

func TestPeerTypingStartStopUpdatesSnapshot(t *testing.T) {
	a, b, cleanup := pairedNoiseSessions(t)
	defer cleanup()

	uiA := newFakeUI()
	driverA := New(a, uiA, nil, t.TempDir(), nil)

	done := make(chan error, 1)
	go func() { done <- driverA.Run() }()

	if err := b.Send([]byte{0x00, 0x07}); err != nil {
		t.Fatalf("b.Send TypingStart: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !driverA.peerTyping && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !driverA.peerTyping {
		t.Fatal("expected peerTyping to be true after receiving TypingStart")
	}

	if err := b.Send([]byte{0x00, 0x08}); err != nil {
		t.Fatalf("b.Send TypingStop: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for driverA.peerTyping && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if driverA.peerTyping {
		t.Fatal("expected peerTyping to be false after receiving TypingStop")
	}

	uiA.events <- UIEvent{Kind: EventQuit}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not terminate")
	}
}
