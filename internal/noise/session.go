// Package noise implements the Noise_NN_25519_ChaChaPoly_BLAKE2s handshake
// and transport (component B), layered on the frame codec in
// internal/protocol (component A).
package noise

import (
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/uncognic/circuitchat/internal/protocol"
)

// cipherSuite fixes the pattern's DH function, cipher and hash per spec §4.2
// and the GLOSSARY: Noise_NN_25519_ChaChaPoly_BLAKE2s.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// tagOverhead is the ChaCha20-Poly1305 authentication tag size, used to
// enforce the plaintext size limit in §4.2.
const tagOverhead = 16

// MaxPlaintextSize is the largest plaintext Send will seal into a single
// frame: the frame cap minus AEAD tag overhead.
const MaxPlaintextSize = protocol.MaxPayloadSize - tagOverhead

var (
	// ErrPlaintextTooLarge is returned by Send when the caller did not
	// pre-chunk a payload per §4.2.
	ErrPlaintextTooLarge = errors.New("plaintext exceeds maximum message size")

	// ErrSessionClosed is returned by Send/Recv after an unrecoverable
	// crypto or I/O error has already torn the session down.
	ErrSessionClosed = errors.New("noise session closed")
)

// Session wraps a completed Noise_NN handshake's transport state over a
// bidirectional byte stream. One plaintext maps to exactly one frame.
type Session struct {
	stream io.ReadWriter
	send   *noise.CipherState
	recv   *noise.CipherState
	closed bool
}

// Connect performs the initiator side of the handshake: write the first
// handshake message as a frame, read the second as a frame, finalize into a
// transport state.
func Connect(stream io.ReadWriter) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("init handshake: %w", err)
	}

	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("write handshake message 1: %w", err)
	}
	if err := protocol.WriteFrame(stream, msg1); err != nil {
		return nil, fmt.Errorf("send handshake message 1: %w", err)
	}

	msg2, err := protocol.ReadFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("receive handshake message 2: %w", err)
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, fmt.Errorf("read handshake message 2: %w", err)
	}

	// Initiator: cs1 encrypts outbound, cs2 decrypts inbound.
	return &Session{stream: stream, send: cs1, recv: cs2}, nil
}

// Accept performs the responder side of the handshake: read the first frame,
// feed it to the responder state, write the second frame, finalize.
func Accept(stream io.ReadWriter) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("init handshake: %w", err)
	}

	msg1, err := protocol.ReadFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("receive handshake message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, fmt.Errorf("read handshake message 1: %w", err)
	}

	msg2, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("write handshake message 2: %w", err)
	}
	if err := protocol.WriteFrame(stream, msg2); err != nil {
		return nil, fmt.Errorf("send handshake message 2: %w", err)
	}

	// Responder: cs1 decrypts inbound, cs2 encrypts outbound.
	return &Session{stream: stream, send: cs2, recv: cs1}, nil
}

// Send seals plaintext and writes exactly one frame.
func (s *Session) Send(plaintext []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if len(plaintext) > MaxPlaintextSize {
		return ErrPlaintextTooLarge
	}

	ciphertext, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		s.closed = true
		return fmt.Errorf("seal message: %w", err)
	}

	if err := protocol.WriteFrame(s.stream, ciphertext); err != nil {
		s.closed = true
		return fmt.Errorf("write sealed frame: %w", err)
	}
	return nil
}

// Recv reads one frame and opens it. Open failure is fatal for the session:
// the caller must treat the session as unusable afterward.
func (s *Session) Recv() ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	ciphertext, err := protocol.ReadFrame(s.stream)
	if err != nil {
		s.closed = true
		return nil, fmt.Errorf("read sealed frame: %w", err)
	}

	plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		s.closed = true
		return nil, fmt.Errorf("open message: %w", err)
	}
	return plaintext, nil
}

// Closed reports whether a prior Send/Recv error has invalidated the
// session.
func (s *Session) Closed() bool {
	return s.closed
}
