// Package sshsession implements the connect/handshake/authenticate/PTY
// bootstrap state machine for one interactive SSH session, and the session
// object's read/write/resize/close surface consumed by the I/O bridge.
package sshsession

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

const maxHandshakeAttempts = 3
const handshakeRetryPause = 500 * time.Millisecond

// Credentials are the attributes captured at construction for
// clone-equivalence: everything needed to re-dial an identical session.
type Credentials struct {
	Hostname       string
	Port           int
	Username       string
	Password       string // empty if unused
	PrivateKey     string // PEM text; empty if unused
	DeviceTypeHint string
}

func (c Credentials) addr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// shutdownFlag is the reference-counted cancellation cell shared between a
// session and its clones: Close on either flips it, and every loop that
// drives either instance's channel observes the flip.
type shutdownFlag struct {
	flag atomic.Bool
}

func (f *shutdownFlag) set()        { f.flag.Store(true) }
func (f *shutdownFlag) isSet() bool { return f.flag.Load() }

// Session owns one TCP connection, one SSH transport, and one interactive
// channel with an allocated PTY.
type Session struct {
	creds    Credentials
	settings Settings

	client  *ssh.Client
	conn    net.Conn // raw TCP connection backing client, for applying ChannelTimeout around channel setup
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	setup   string // which device-class setup variant won the fallback ladder

	writeMu sync.Mutex

	shutdown *shutdownFlag
}

// Open performs the full bootstrap sequence described for the SSH session
// object: dial, transport init, banner-retry handshake, authenticate (with
// retry for transient password failures), and device-class fallback PTY
// allocation.
func Open(creds Credentials, settings Settings) (*Session, error) {
	authMethods, err := authMethodsFor(creds)
	if err != nil {
		return nil, wrap(KindAuthentication, "sshsession.Open", err)
	}

	ciphers := mergeUnique(settings.CiphersC2S, settings.CiphersS2C)
	if settings.Compress && len(ciphers) > 0 {
		// golang.org/x/crypto/ssh has no compression algorithm list; the
		// OpenSSH zlib name is prepended to the cipher list instead. The
		// library drops cipher names it does not implement before
		// negotiation, so this name is never offered and Compress has no
		// effect on the connection. It is only added to an explicit cipher
		// list: on its own it would replace the library's default ciphers
		// with a list that is empty after that filtering.
		ciphers = append([]string{"zlib@openssh.com"}, ciphers...)
	}

	cfg := &ssh.ClientConfig{
		User:              creds.Username,
		Auth:              authMethods,
		HostKeyCallback:   ssh.InsecureIgnoreHostKey(), // see design notes: no host-key verification
		Timeout:           settings.DialTimeout,
		HostKeyAlgorithms: settings.HostKeys,
		Config: ssh.Config{
			KeyExchanges: settings.KeyExchanges,
			Ciphers:      ciphers,
			MACs:         mergeUnique(settings.MACsC2S, settings.MACsS2C),
		},
	}

	client, conn, err := connectWithRetry(creds, cfg, settings, creds.Password != "")
	if err != nil {
		return nil, err
	}

	shutdown := &shutdownFlag{}
	sess := &Session{creds: creds, settings: settings, client: client, conn: conn, shutdown: shutdown}

	if err := sess.openChannel(); err != nil {
		client.Close()
		return nil, err
	}

	// Hand back a ready-to-drive channel. No flush is performed, and there
	// is no non-blocking mode switch to perform here: the bridge's reader
	// goroutine (see internal/bridge) is what turns this session's blocking
	// Read into a pollable one.
	return sess, nil
}

// connectWithRetry performs the TCP dial + SSH handshake + auth, making up
// to maxHandshakeAttempts attempts in total when the failure looks like a banner-class
// error or (when password auth is in use) a transient auth round-trip
// failure. Every retry fully recreates the TCP connection and transport.
func connectWithRetry(creds Credentials, cfg *ssh.ClientConfig, settings Settings, usesPassword bool) (*ssh.Client, net.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= maxHandshakeAttempts; attempt++ {
		conn, dialErr := net.DialTimeout("tcp", creds.addr(), settings.DialTimeout)
		if dialErr != nil {
			return nil, nil, wrap(KindConnection, "sshsession.Open", dialErr)
		}

		// Bound the handshake itself by the configured read/write timeouts;
		// cleared once the handshake succeeds so they don't also throttle
		// the long-lived interactive session (that's what keepalives are
		// for).
		if settings.ReadTimeout > 0 || settings.WriteTimeout > 0 {
			deadline := time.Now().Add(settings.ReadTimeout + settings.WriteTimeout)
			conn.SetDeadline(deadline)
		}

		sshConn, chans, reqs, hsErr := ssh.NewClientConn(conn, creds.addr(), cfg)
		if hsErr == nil {
			conn.SetDeadline(time.Time{})
			return ssh.NewClient(sshConn, chans, reqs), conn, nil
		}
		conn.Close()
		lastErr = hsErr

		switch {
		case isBannerClassError(hsErr):
			if attempt < maxHandshakeAttempts {
				time.Sleep(handshakeRetryPause)
				continue
			}
			return nil, nil, wrap(KindHandshake, "sshsession.Open", hsErr)
		case usesPassword && isAuthFailure(hsErr) && isPasswordRetryClassError(hsErr):
			if attempt < maxHandshakeAttempts {
				time.Sleep(handshakeRetryPause)
				continue
			}
			return nil, nil, wrap(KindAuthentication, "sshsession.Open", hsErr)
		case isAuthFailure(hsErr):
			return nil, nil, wrap(KindAuthentication, "sshsession.Open", hsErr)
		default:
			return nil, nil, wrap(KindHandshake, "sshsession.Open", hsErr)
		}
	}
	return nil, nil, wrap(KindHandshake, "sshsession.Open", lastErr)
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unable to authenticate")
}

// authMethodsFor resolves the auth method list from the credentials: a
// password, an explicit PEM private key, or a terminal "no authentication
// method provided" failure.
func authMethodsFor(creds Credentials) ([]ssh.AuthMethod, error) {
	switch {
	case creds.Password != "":
		return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
	case creds.PrivateKey != "":
		if !strings.Contains(creds.PrivateKey, "-----BEGIN") {
			return nil, fmt.Errorf("private key is not PEM-encoded")
		}
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, fmt.Errorf("no authentication method provided")
	}
}

// ResizePTY clamps to the minimum terminal size and requests the change.
func (s *Session) ResizePTY(rows, cols uint32) error {
	if rows < 24 {
		rows = 24
	}
	if cols < 80 {
		cols = 80
	}
	s.applyChannelDeadline()
	defer s.clearDeadline()
	if err := s.session.WindowChange(int(rows), int(cols)); err != nil {
		return wrap(KindChannel, "sshsession.ResizePTY", err)
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

// applyChannelDeadline bounds the next channel-level operation (PTY
// request, shell start, window change) by ChannelTimeout. clearDeadline
// lifts it afterward so it doesn't also throttle the interactive session's
// steady-state reads and writes.
func (s *Session) applyChannelDeadline() {
	if s.conn != nil && s.settings.ChannelTimeout > 0 {
		s.conn.SetDeadline(time.Now().Add(s.settings.ChannelTimeout))
	}
}

func (s *Session) clearDeadline() {
	if s.conn != nil {
		s.conn.SetDeadline(time.Time{})
	}
}

// SendKeepalive issues a keepalive global request on the transport.
func (s *Session) SendKeepalive() error {
	_, _, err := s.client.SendRequest("keepalive@openssh.com", true, nil)
	if err != nil {
		return wrap(KindConnection, "sshsession.SendKeepalive", err)
	}
	return nil
}

// Write serializes writer access; the bridge and any concurrent caller must
// not write to the channel unsynchronized.
func (s *Session) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.stdin.Write(p)
}

// Read is unprotected: exactly one goroutine (the bridge's SSH-owning
// reader) may call Read at a time.
func (s *Session) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// IsShutdown reports whether this session (or a clone sharing its shutdown
// cell) has been closed.
func (s *Session) IsShutdown() bool { return s.shutdown.isSet() }

// Close sets the shared shutdown flag, sends EOF, closes the channel, and
// disconnects the transport without waiting for a close acknowledgment.
// Every step is attempted even if an earlier one fails; the first failure
// is returned as a ChannelError for the caller to log. Calling it again
// has no further effect on the session.
func (s *Session) Close() error {
	s.shutdown.set()
	var errs []error
	if s.stdin != nil {
		if err := s.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("send eof: %w", err))
		}
	}
	if s.session != nil {
		if err := s.session.Close(); err != nil && err != io.EOF {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect transport: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return wrap(KindChannel, "sshsession.Close", errs[0])
}

// Clone re-opens a fresh SSH session with the same credentials, sharing the
// shutdown cell so Close on either instance terminates both.
func (s *Session) Clone() (*Session, error) {
	clone, err := Open(s.creds, s.settings)
	if err != nil {
		return nil, err
	}
	clone.shutdown = s.shutdown
	return clone, nil
}
