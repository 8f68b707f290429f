package filetransfer

import (
	"fmt"
	"os"

	"github.com/uncognic/circuitchat/internal/protocol"
)

// Receiver drives the incoming half of a file transfer. Sinks are written
// to a ".part" sibling of the final path and renamed into place only once
// the transfer completes, mirroring the teacher's atomic-finalize idiom in
// internal/filetransfer/partial.go without its JSON progress sidecar (no
// resumable transfers, per spec.md's Non-goals).
type Receiver struct {
	Name          string
	TotalSize     uint64
	BytesReceived uint64
	State         State

	targetPath string
	partPath   string
	sink       *os.File
}

// NewReceiver records a pending offer with no disk action yet, per §4.5
// step 1 of the receiver state machine.
func NewReceiver(name string, size uint64) *Receiver {
	return &Receiver{
		Name:      name,
		TotalSize: size,
		State:     Offered,
	}
}

// Accept sanitizes the name, resolves a unique target path under dir, opens
// the sink, and returns the encoded FileAccept message.
func (r *Receiver) Accept(dir string) ([]byte, error) {
	if r.State != Offered {
		return nil, ErrWrongState
	}

	sanitized := SanitizeName(r.Name)
	target, err := UniquePath(dir, sanitized)
	if err != nil {
		return nil, fmt.Errorf("resolve target path: %w", err)
	}

	partPath := target + ".part"
	sink, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}

	r.targetPath = target
	r.partPath = partPath
	r.sink = sink
	r.State = Active
	return protocol.EncodeFileAccept(), nil
}

// Reject drops the pending offer and returns the encoded FileReject message.
func (r *Receiver) Reject() ([]byte, error) {
	if r.State != Offered {
		return nil, ErrWrongState
	}
	r.State = Completed
	return protocol.EncodeFileReject(), nil
}

// WriteChunk appends data to the sink in arrival order, per §5's "receivers
// MUST append in arrival order without buffering or reordering".
func (r *Receiver) WriteChunk(data []byte) error {
	if r.State != Active {
		return ErrWrongState
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := r.sink.Write(data); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	r.BytesReceived += uint64(len(data))
	return nil
}

// Done flushes, closes, and renames the sink into place on FileDone.
// Returns the final path and size.
func (r *Receiver) Done() (path string, size uint64, err error) {
	if r.State != Active {
		return "", 0, ErrWrongState
	}
	if err := r.sink.Sync(); err != nil {
		r.sink.Close()
		return "", 0, fmt.Errorf("flush sink: %w", err)
	}
	if err := r.sink.Close(); err != nil {
		return "", 0, fmt.Errorf("close sink: %w", err)
	}
	if err := os.Rename(r.partPath, r.targetPath); err != nil {
		return "", 0, fmt.Errorf("finalize transfer: %w", err)
	}

	r.State = Completed
	return r.targetPath, r.BytesReceived, nil
}

// Cancel closes the sink and deletes the partial file, used both for a
// received FileCancel and a local /cancel command.
func (r *Receiver) Cancel() error {
	if r.sink != nil {
		r.sink.Close()
		os.Remove(r.partPath)
		r.sink = nil
	}
	r.State = Cancelled
	return nil
}
