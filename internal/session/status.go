// Package session implements the session driver (component G): the
// cooperative loop that owns the Noise session, the UI event sink, the
// input-event source, and at most one outgoing/incoming file transfer,
// per spec §4.7.
package session

import "fmt"

// ErrorKind classifies failures per §7's abstract error-kind table, each
// mapped to a one-line status message for the UI's status bar.
type ErrorKind int

const (
	KindConfig ErrorKind = iota
	KindPassphrase
	KindCrypto
	KindAuth
	KindFrame
	KindIo
	KindFileIo
	KindOverlay
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPassphrase:
		return "passphrase"
	case KindCrypto:
		return "crypto"
	case KindAuth:
		return "auth"
	case KindFrame:
		return "frame"
	case KindIo:
		return "io"
	case KindFileIo:
		return "file-io"
	case KindOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// StatusMessage renders the one-line status-bar text for an error of the
// given kind, per §7's "each error kind maps to a one-line status message".
func StatusMessage(kind ErrorKind, err error) string {
	switch kind {
	case KindConfig:
		return fmt.Sprintf("configuration error: %v", err)
	case KindPassphrase:
		return "incorrect history passphrase"
	case KindCrypto:
		return fmt.Sprintf("secure channel error: %v", err)
	case KindAuth:
		return "authentication failed"
	case KindFrame:
		return fmt.Sprintf("malformed frame: %v", err)
	case KindIo:
		return "peer disconnected"
	case KindFileIo:
		return fmt.Sprintf("file transfer error: %v", err)
	case KindOverlay:
		return fmt.Sprintf("overlay network error: %v", err)
	default:
		return fmt.Sprintf("error: %v", err)
	}
}

// Fatal reports whether an error of the given kind, per §7's propagation
// policy, aborts the whole process rather than just the current session or
// transfer.
func Fatal(kind ErrorKind) bool {
	switch kind {
	case KindConfig, KindPassphrase:
		return true
	default:
		return false
	}
}

// ConnectionKind is the status bar's persistent connection state, distinct
// from the transient one-line notices StatusMessage produces (a file offer,
// a rejection, an error). The CLI drives Connecting/Handshaking/
// Authenticating while setting up a session; the driver itself only ever
// reports Connected or Disconnected, since by the time a Driver exists the
// handshake has already finished.
type ConnectionKind int

const (
	ConnectionConnecting ConnectionKind = iota
	ConnectionHandshaking
	ConnectionAuthenticating
	ConnectionConnected
	ConnectionDisconnected
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnectionConnecting:
		return "Connecting…"
	case ConnectionHandshaking:
		return "Handshaking…"
	case ConnectionAuthenticating:
		return "Authenticating…"
	case ConnectionConnected:
		return "Connected"
	case ConnectionDisconnected:
		return "Peer disconnected"
	default:
		return ""
	}
}

// Status is the status bar's full render input: the persistent connection
// Kind plus an optional transient Message (empty when there is no notice to
// show alongside the connection state).
type Status struct {
	Kind    ConnectionKind
	Message string
}
