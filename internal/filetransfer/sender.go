// Package filetransfer implements the file transfer engine (component E):
// sender/receiver state machines, chunking, name sanitization and the
// UI-facing size formatter.
package filetransfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/uncognic/circuitchat/internal/protocol"
)

// ChunkSize is the plaintext chunk size, chosen per §4.5 to leave headroom
// under the frame cap after the AEAD tag and control prefix.
const ChunkSize = 60000

// State is a transfer session's lifecycle stage, shared by Sender and
// Receiver per §3's state machine.
type State int

const (
	Offered State = iota
	Active
	Completed
	Cancelled
)

var ErrWrongState = errors.New("file transfer: operation invalid in current state")

// Sender drives the outgoing half of a file transfer.
type Sender struct {
	Name      string
	TotalSize uint64
	BytesSent uint64
	State     State

	source *os.File
}

// NewSender opens path, reads its size, and returns a Sender in the Offered
// state along with the encoded FileOffer message to send. Name is the
// basename only, per §4.5 step 1.
func NewSender(path string) (*Sender, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	size := uint64(info.Size())

	s := &Sender{
		Name:      name,
		TotalSize: size,
		State:     Offered,
		source:    f,
	}
	return s, protocol.EncodeFileOffer(name, size), nil
}

// Accept transitions Offered → Active on a received FileAccept.
func (s *Sender) Accept() error {
	if s.State != Offered {
		return ErrWrongState
	}
	s.State = Active
	return nil
}

// NextChunk reads up to ChunkSize bytes and returns the encoded FileChunk
// message. On EOF it transitions to Completed, closes the source, and
// returns the encoded FileDone message and done=true.
func (s *Sender) NextChunk() (msg []byte, done bool, err error) {
	if s.State != Active {
		return nil, false, ErrWrongState
	}

	buf := make([]byte, ChunkSize)
	n, err := s.source.Read(buf)
	if n > 0 {
		s.BytesSent += uint64(n)
		return protocol.EncodeFileChunk(buf[:n]), false, nil
	}
	if err == io.EOF {
		s.State = Completed
		s.closeSource()
		return protocol.EncodeFileDone(), true, nil
	}
	if err != nil {
		s.State = Cancelled
		s.closeSource()
		return nil, false, fmt.Errorf("read chunk: %w", err)
	}
	// Zero-byte read without EOF: treat as a no-op chunk, caller loops again.
	return protocol.EncodeFileChunk(nil), false, nil
}

// Rejected transitions Offered → Completed(rejected) on a peer FileReject.
func (s *Sender) Rejected() error {
	if s.State != Offered {
		return ErrWrongState
	}
	s.State = Completed
	s.closeSource()
	return nil
}

// Cancel transitions Active → Cancelled, closing the source file. Returns
// the encoded FileCancel message to send.
func (s *Sender) Cancel() []byte {
	s.State = Cancelled
	s.closeSource()
	return protocol.EncodeFileCancel()
}

func (s *Sender) closeSource() {
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
}
