package sshsession

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why an SSH session operation failed.
type Kind string

const (
	KindConnection     Kind = "ConnectionError"
	KindHandshake      Kind = "HandshakeError"
	KindAuthentication Kind = "AuthenticationError"
	KindChannel        Kind = "ChannelError"
	KindProtocol       Kind = "ProtocolError"
	KindRegistry       Kind = "RegistryError"
)

// Error wraps an underlying failure with the taxonomy from the error
// handling design: callers map Kind to a client-facing error_code.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// NewProtocolError reports a client frame that failed to decode as a known
// command: malformed JSON, or JSON carrying an unrecognized or missing
// "type".
func NewProtocolError(op, rawFrame string) error {
	return wrap(KindProtocol, op, fmt.Errorf("unrecognized client frame: %q", rawFrame))
}

// NewRegistryError reports a lookup against the session registry that found
// no session for the given id.
func NewRegistryError(op, sessionID string) error {
	return wrap(KindRegistry, op, fmt.Errorf("no session registered for id %q", sessionID))
}

// isBannerClassError reports whether err looks like a failure of the SSH
// identification-banner exchange rather than a real negotiation or network
// failure. golang.org/x/crypto/ssh does not expose a distinct error code for
// this (unlike libssh2's SSH2_FX_* constants), so detection is by message
// substring, matching this codebase's existing convention of classifying
// errors from their text (see the connect handler's error_code mapping).
func isBannerClassError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"banner", "version string", "overflow reading version"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// isPasswordRetryClassError reports whether a password-auth failure looks
// transient (a stalled prompt/response round-trip) rather than a definitive
// credential rejection.
func isPasswordRetryClassError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"waiting for password", "timeout", "i/o timeout", "eof"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// isClosedClassError reports whether err indicates the peer tore down the
// connection (broken pipe, reset, or an explicit "closed" in the message).
func isClosedClassError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"broken pipe", "connection reset", "closed", "use of closed network connection"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
