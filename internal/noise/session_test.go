package noise

import (
	"net"
	"testing"
	"time"

	"github.com/uncognic/circuitchat/internal/protocol"
)

func writeFrameRaw(conn net.Conn, payload []byte) error {
	return protocol.WriteFrame(conn, payload)
}

func pairedSessionsWithConns(t *testing.T) (*Session, *Session, net.Conn, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	type result struct {
		s   *Session
		err error
	}
	initCh := make(chan result, 1)
	acceptCh := make(chan result, 1)

	go func() {
		s, err := Connect(clientConn)
		initCh <- result{s, err}
	}()
	go func() {
		s, err := Accept(serverConn)
		acceptCh <- result{s, err}
	}()

	var initiator, responder result
	select {
	case initiator = <-initCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initiator handshake")
	}
	select {
	case responder = <-acceptCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for responder handshake")
	}

	if initiator.err != nil {
		t.Fatalf("Connect: %v", initiator.err)
	}
	if responder.err != nil {
		t.Fatalf("Accept: %v", responder.err)
	}
	return initiator.s, responder.s, clientConn, serverConn
}

func pairedSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	initiator, responder, _, _ := pairedSessionsWithConns(t)
	return initiator, responder
}

func TestHandshakeAndRoundTrip(t *testing.T) {
	initiator, responder := pairedSessions(t)

	plaintext := []byte("hello from the initiator")
	errCh := make(chan error, 1)
	go func() { errCh <- initiator.Send(plaintext) }()

	got, err := responder.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestBidirectionalRoundTrip(t *testing.T) {
	initiator, responder := pairedSessions(t)

	a := []byte("ping")
	b := []byte("pong")

	errCh := make(chan error, 2)
	go func() { errCh <- initiator.Send(a) }()
	go func() { errCh <- responder.Send(b) }()

	gotB, err := initiator.Recv()
	if err != nil {
		t.Fatalf("initiator.Recv: %v", err)
	}
	gotA, err := responder.Recv()
	if err != nil {
		t.Fatalf("responder.Recv: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	if string(gotA) != string(a) {
		t.Fatalf("got %q, want %q", gotA, a)
	}
	if string(gotB) != string(b) {
		t.Fatalf("got %q, want %q", gotB, b)
	}
}

func TestSendRejectsOversizePlaintext(t *testing.T) {
	initiator, _ := pairedSessions(t)
	err := initiator.Send(make([]byte, MaxPlaintextSize+1))
	if err != ErrPlaintextTooLarge {
		t.Fatalf("got %v, want ErrPlaintextTooLarge", err)
	}
}

func TestRecvOpenFailureClosesSession(t *testing.T) {
	_, responder, clientConn, _ := pairedSessionsWithConns(t)

	garbage := make([]byte, 32)
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeFrameRaw(clientConn, garbage)
	}()

	_, err := responder.Recv()
	if err == nil {
		t.Fatal("expected Recv to fail opening a garbage ciphertext")
	}
	if !responder.Closed() {
		t.Fatal("expected session to be marked closed after open failure")
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("writeFrameRaw: %v", err)
	}
}
