package session

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uncognic/circuitchat/internal/filetransfer"
	"github.com/uncognic/circuitchat/internal/history"
	"github.com/uncognic/circuitchat/internal/logging"
	"github.com/uncognic/circuitchat/internal/noise"
	"github.com/uncognic/circuitchat/internal/protocol"
	"github.com/uncognic/circuitchat/internal/recovery"
)

// UIEventKind distinguishes the shapes of input the UI can produce in one
// poll, per §4.7 step 3's "UI key → App.handle_key may yield a submitted
// line".
type UIEventKind int

const (
	EventNone UIEventKind = iota
	EventLine
	EventCancelKey
	EventQuit
	EventTypingStart
	EventTypingStop
)

// UIEvent is one unit of input from the UI's key source.
type UIEvent struct {
	Kind UIEventKind
	Line string
}

// TransferProgress is a read-only snapshot of an in-flight transfer, safe
// to hand to the UI without exposing the transfer itself, per §9's "the UI
// holds references to progress snapshots, not to the transfer itself".
type TransferProgress struct {
	Name        string
	TotalSize   uint64
	Transferred uint64
	State       filetransfer.State
}

// DisplayMessage is one rendered line of chat history.
type DisplayMessage struct {
	Direction history.Direction
	Text      string
	Timestamp time.Time
}

// Snapshot is the UI's render input for one frame.
type Snapshot struct {
	Messages   []DisplayMessage
	Outgoing   *TransferProgress
	Incoming   *TransferProgress
	Status     Status
	PeerTyping bool
}

// UI is the rendering and input boundary the driver depends on. A real
// implementation is bubbletea/lipgloss-backed (internal/ui); tests
// substitute an in-memory fake, per §9's guidance that the driver's
// dependencies should be swappable capabilities. Events delivers the key
// source as a channel so the driver can select on it alongside incoming
// ciphertext, per §9: "implementers without a native select primitive
// should use two channels plus a non-blocking poll" — Go's native select
// lets the driver do this directly against two channels.
type UI interface {
	Render(Snapshot)
	Events() <-chan UIEvent
}

type recvResult struct {
	payload []byte
	err     error
}

// Driver orchestrates one interactive session: a single cooperative task
// owning the Noise session, at most one outgoing and one incoming
// transfer, and at most one pending offer in each direction, per §4.7.
type Driver struct {
	sess  *noise.Session
	ui    UI
	store *history.Store // nil if history is disabled
	log   *slog.Logger

	downloadsDir string

	outgoing        *filetransfer.Sender
	outgoingStarted time.Time
	incoming        *filetransfer.Receiver
	incomingStarted time.Time
	pendingOfferIn  *protocol.Message // FileOffer awaiting /accept or /reject

	recvCh chan recvResult

	status     string
	connKind   ConnectionKind
	peerTyping bool
	messages   []DisplayMessage
	terminate  bool
}

// New constructs a Driver. store may be nil when history saving is
// disabled or identity.persist is false. By the time a Driver exists the
// handshake has already succeeded, so it starts in ConnectionConnected;
// the Connecting/Handshaking/Authenticating stages are reported by the CLI
// directly from DialerHandshake/ListenerHandshake's onStage callback,
// before a Driver is constructed at all.
func New(sess *noise.Session, ui UI, store *history.Store, downloadsDir string, log *slog.Logger) *Driver {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Driver{
		sess:         sess,
		ui:           ui,
		store:        store,
		downloadsDir: downloadsDir,
		log:          log,
		recvCh:       make(chan recvResult, 1),
		connKind:     ConnectionConnected,
	}
}

// Run executes the main loop until the session terminates (peer
// disconnect, quit, or unrecoverable error). The returned error is nil on
// a clean user-initiated quit.
func (d *Driver) Run() error {
	go d.pumpRecv()

	for !d.terminate {
		d.ui.Render(d.snapshot())

		if d.outgoing != nil && d.outgoing.State == filetransfer.Active {
			if err := d.stepOutgoingTransfer(); err != nil {
				return err
			}
			continue
		}

		if err := d.stepIdle(); err != nil {
			return err
		}
	}
	return nil
}

// pumpRecv runs Recv in a loop on its own goroutine so the main loop can
// select on it alongside UI events, per §5's "biased multi-way selection
// across incoming-ciphertext readability, UI event readiness". It stops
// after the first error, since a Noise session is unusable once Recv fails.
func (d *Driver) pumpRecv() {
	defer recovery.RecoverWithLog(d.log, "pumpRecv")
	for {
		payload, err := d.sess.Recv()
		d.recvCh <- recvResult{payload: payload, err: err}
		if err != nil {
			return
		}
	}
}

// stepOutgoingTransfer implements §4.7 step 2: while streaming, bias
// towards checking for a cancel key, otherwise immediately send the next
// chunk.
func (d *Driver) stepOutgoingTransfer() error {
	select {
	case ev := <-d.ui.Events():
		switch ev.Kind {
		case EventCancelKey:
			msg := d.outgoing.Cancel()
			d.outgoing = nil
			if err := d.sess.Send(msg); err != nil {
				d.status = StatusMessage(KindIo, err)
				d.terminate = true
			} else {
				d.status = "transfer cancelled"
			}
			return nil
		case EventQuit:
			d.terminate = true
			return nil
		}
	default:
	}

	msg, done, err := d.outgoing.NextChunk()
	if err != nil {
		d.status = StatusMessage(KindFileIo, err)
		d.outgoing = nil
		return nil
	}
	if err := d.sess.Send(msg); err != nil {
		d.status = StatusMessage(KindIo, err)
		d.terminate = true
		return nil
	}
	if done {
		d.logThroughput("sent", d.outgoing.Name, d.outgoing.TotalSize, d.outgoingStarted)
		d.status = fmt.Sprintf("sent %s", d.outgoing.Name)
		d.outgoing = nil
	}
	return nil
}

// logThroughput records a completed transfer's average rate using
// go-humanize's IEC-unit formatter (via filetransfer.FormatThroughput),
// distinct from the UI-facing FormatSize used in status lines.
func (d *Driver) logThroughput(verb, name string, size uint64, started time.Time) {
	elapsed := time.Since(started).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}
	bps := uint64(float64(size) / elapsed)
	d.log.Info(verb+" file", "name", name, "throughput", filetransfer.FormatThroughput(bps)+"/s")
}

// stepIdle implements §4.7 step 3: bias across incoming ciphertext and UI
// events.
func (d *Driver) stepIdle() error {
	select {
	case r := <-d.recvCh:
		if r.err != nil {
			d.status = StatusMessage(KindIo, r.err)
			d.connKind = ConnectionDisconnected
			d.terminate = true
			return nil
		}
		d.handleIncoming(r.payload)
		return nil
	case ev := <-d.ui.Events():
		return d.handleUIEvent(ev)
	}
}

func (d *Driver) handleUIEvent(ev UIEvent) error {
	switch ev.Kind {
	case EventQuit:
		d.terminate = true
		return nil
	case EventCancelKey:
		if d.incoming != nil && d.incoming.State == filetransfer.Active {
			d.incoming.Cancel()
			d.status = "incoming transfer cancelled"
			msg := protocol.EncodeFileCancel()
			if err := d.sess.Send(msg); err != nil {
				d.status = StatusMessage(KindIo, err)
				d.terminate = true
			}
			d.incoming = nil
		}
		return nil
	case EventLine:
		return d.handleLine(ev.Line)
	case EventTypingStart:
		if err := d.sess.Send(protocol.EncodeTypingStart()); err != nil {
			d.status = StatusMessage(KindIo, err)
			d.terminate = true
		}
		return nil
	case EventTypingStop:
		if err := d.sess.Send(protocol.EncodeTypingStop()); err != nil {
			d.status = StatusMessage(KindIo, err)
			d.terminate = true
		}
		return nil
	}
	return nil
}

func (d *Driver) handleLine(line string) error {
	switch {
	case line == "/accept":
		return d.handleAccept()
	case line == "/reject":
		return d.handleReject()
	case line == "/cancel":
		return d.handleCancel()
	case strings.HasPrefix(line, "/send "):
		return d.handleSend(strings.TrimSpace(strings.TrimPrefix(line, "/send ")))
	default:
		return d.sendText(line)
	}
}

func (d *Driver) handleSend(path string) error {
	if d.outgoing != nil {
		d.status = "a transfer is already in progress"
		return nil
	}
	sender, offerMsg, err := filetransfer.NewSender(path)
	if err != nil {
		d.status = StatusMessage(KindFileIo, err)
		return nil
	}
	if err := d.sess.Send(offerMsg); err != nil {
		d.status = StatusMessage(KindIo, err)
		d.terminate = true
		return nil
	}
	d.outgoing = sender
	d.status = fmt.Sprintf("offered %s (%s)", sender.Name, filetransfer.FormatSize(sender.TotalSize))
	return nil
}

func (d *Driver) handleAccept() error {
	if d.pendingOfferIn == nil {
		d.status = "no pending offer"
		return nil
	}
	offer := d.pendingOfferIn
	d.pendingOfferIn = nil

	recv := filetransfer.NewReceiver(offer.Name, offer.Size)
	acceptMsg, err := recv.Accept(d.downloadsDir)
	if err != nil {
		d.status = StatusMessage(KindFileIo, err)
		return nil
	}
	d.incoming = recv
	d.incomingStarted = time.Now()
	if err := d.sess.Send(acceptMsg); err != nil {
		d.status = StatusMessage(KindIo, err)
		d.terminate = true
	}
	return nil
}

func (d *Driver) handleReject() error {
	if d.pendingOfferIn == nil {
		d.status = "no pending offer"
		return nil
	}
	offer := d.pendingOfferIn
	d.pendingOfferIn = nil
	if err := d.sess.Send(protocol.EncodeFileReject()); err != nil {
		d.status = StatusMessage(KindIo, err)
		d.terminate = true
		return nil
	}
	d.status = fmt.Sprintf("rejected %s", offer.Name)
	return nil
}

func (d *Driver) handleCancel() error {
	if d.incoming != nil {
		d.incoming.Cancel()
		d.incoming = nil
		if err := d.sess.Send(protocol.EncodeFileCancel()); err != nil {
			d.status = StatusMessage(KindIo, err)
			d.terminate = true
			return nil
		}
		d.status = "incoming transfer cancelled"
		return nil
	}
	if d.outgoing != nil {
		msg := d.outgoing.Cancel()
		d.outgoing = nil
		if err := d.sess.Send(msg); err != nil {
			d.status = StatusMessage(KindIo, err)
			d.terminate = true
			return nil
		}
		d.status = "outgoing transfer cancelled"
	}
	return nil
}

func (d *Driver) sendText(line string) error {
	if protocol.IsControlPrefixed([]byte(line)) {
		d.status = "message cannot begin with a null byte"
		return nil
	}
	if err := d.sess.Send(protocol.EncodeText(line)); err != nil {
		d.status = StatusMessage(KindIo, err)
		d.terminate = true
		return nil
	}
	d.appendMessage(history.Sent, line)
	return nil
}

// handleIncoming decodes one application message and routes it, per §4.7
// step 3's "Received bytes → decode per §4.4 → route to file engine or UI".
func (d *Driver) handleIncoming(payload []byte) {
	msg := protocol.Decode(payload)
	switch msg.Kind {
	case protocol.KindText:
		d.appendMessage(history.Received, msg.Text)
		if err := d.sess.Send(protocol.EncodeDelivered()); err != nil {
			d.status = StatusMessage(KindIo, err)
			d.terminate = true
		}
	case protocol.KindDelivered:
		// Acknowledgement only: no driver state changes and the Snapshot
		// carries no delivery marker, so nothing is displayed for it.
	case protocol.KindFileOffer:
		offer := msg
		d.pendingOfferIn = &offer
		d.status = fmt.Sprintf("incoming offer: %s (%s)", msg.Name, filetransfer.FormatSize(msg.Size))
	case protocol.KindFileAccept:
		if d.outgoing != nil {
			d.outgoing.Accept()
			d.outgoingStarted = time.Now()
		}
	case protocol.KindFileReject:
		if d.outgoing != nil {
			name := d.outgoing.Name
			d.outgoing.Rejected()
			d.outgoing = nil
			d.status = fmt.Sprintf("peer rejected %s", name)
		}
	case protocol.KindFileChunk:
		if d.incoming != nil {
			if err := d.incoming.WriteChunk(msg.Chunk); err != nil {
				d.status = StatusMessage(KindFileIo, err)
				d.incoming = nil
			}
		}
	case protocol.KindFileDone:
		if d.incoming != nil {
			path, size, err := d.incoming.Done()
			if err != nil {
				d.status = StatusMessage(KindFileIo, err)
			} else {
				d.logThroughput("received", path, size, d.incomingStarted)
				d.status = fmt.Sprintf("received %s (%s)", path, filetransfer.FormatSize(size))
			}
			d.incoming = nil
		}
	case protocol.KindFileCancel:
		if d.incoming != nil {
			d.incoming.Cancel()
			d.incoming = nil
			d.status = "peer cancelled transfer"
		}
		if d.outgoing != nil {
			d.outgoing = nil
			d.status = "peer cancelled transfer"
		}
	case protocol.KindTypingStart:
		d.peerTyping = true
	case protocol.KindTypingStop:
		d.peerTyping = false
	}
}

func (d *Driver) appendMessage(direction history.Direction, text string) {
	msg := DisplayMessage{Direction: direction, Text: text, Timestamp: time.Now()}
	d.messages = append(d.messages, msg)
	if d.store != nil {
		if err := d.store.Save(direction, []byte(text)); err != nil {
			d.log.Warn("history save failed", logging.KeyError, err.Error())
			d.status = fmt.Sprintf("history save failed: %v", err)
		}
	}
}

func (d *Driver) snapshot() Snapshot {
	snap := Snapshot{
		Messages:   d.messages,
		Status:     Status{Kind: d.connKind, Message: d.status},
		PeerTyping: d.peerTyping,
	}
	if d.outgoing != nil {
		snap.Outgoing = &TransferProgress{
			Name:        d.outgoing.Name,
			TotalSize:   d.outgoing.TotalSize,
			Transferred: d.outgoing.BytesSent,
			State:       d.outgoing.State,
		}
	}
	if d.incoming != nil {
		snap.Incoming = &TransferProgress{
			Name:        d.incoming.Name,
			TotalSize:   d.incoming.TotalSize,
			Transferred: d.incoming.BytesReceived,
			State:       d.incoming.State,
		}
	}
	return snap
}
