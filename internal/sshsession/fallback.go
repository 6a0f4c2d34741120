package sshsession

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
)

// deviceSetup describes one variant of the device-class fallback ladder:
// the PTY term type, terminal modes, and any wake bytes written to elicit
// a prompt from devices that don't print one unsolicited. Every variant
// requests a shell after PTY allocation; none enters interactive mode
// without one.
type deviceSetup struct {
	name     string
	termType string
	modes    ssh.TerminalModes
	wake     []byte
}

var (
	setupStandard = deviceSetup{
		name:     "standard",
		termType: "xterm-256color",
		modes: ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		},
	}
	setupGenericUnix = deviceSetup{
		name:     "generic-unix",
		termType: "vt100",
		modes: ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 9600,
			ssh.TTY_OP_OSPEED: 9600,
		},
	}
	setupNetworkDevice = deviceSetup{
		name:     "network-device",
		termType: "vt100",
		modes: ssh.TerminalModes{
			ssh.ECHO: 1,
		},
		wake: []byte("\r\n"),
	}
)

// networkHints lists the device_type_hint values that route straight to the
// network-device setup, skipping the rest of the ladder.
var networkHints = map[string]bool{"cisco": true, "router": true, "switch": true}

// candidatesFor selects the device-class fallback ladder order for a given
// device_type_hint: network-only for the named network-device hints,
// otherwise standard -> generic-unix -> network-device.
func candidatesFor(hint string) []deviceSetup {
	if networkHints[strings.ToLower(hint)] {
		return []deviceSetup{setupNetworkDevice}
	}
	return []deviceSetup{setupStandard, setupGenericUnix, setupNetworkDevice}
}

// openChannel runs the device-class fallback ladder: it opens the
// interactive channel and allocates an 80x24 PTY, selecting the setup
// variant by device_type_hint and otherwise trying standard, then
// generic-Unix, then network-device, keeping only the last error if every
// variant fails.
func (s *Session) openChannel() error {
	candidates := candidatesFor(s.creds.DeviceTypeHint)

	var lastErr error
	for _, setup := range candidates {
		sess, stdin, stdout, err := s.tryOpen(setup)
		if err != nil {
			lastErr = err
			continue
		}
		s.session = sess
		s.stdin = stdin
		s.stdout = stdout
		s.setup = setup.name
		return nil
	}
	return wrap(KindChannel, "sshsession.openChannel", lastErr)
}

func (s *Session) tryOpen(setup deviceSetup) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	s.applyChannelDeadline()
	defer s.clearDeadline()

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: new session: %w", setup.name, err)
	}
	if err := sess.RequestPty(setup.termType, 24, 80, setup.modes); err != nil {
		sess.Close()
		return nil, nil, nil, fmt.Errorf("%s: request pty: %w", setup.name, err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, nil, nil, fmt.Errorf("%s: stdin pipe: %w", setup.name, err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, nil, nil, fmt.Errorf("%s: stdout pipe: %w", setup.name, err)
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, nil, nil, fmt.Errorf("%s: shell: %w", setup.name, err)
	}
	if len(setup.wake) > 0 {
		_, _ = stdin.Write(setup.wake)
	}
	return sess, stdin, stdout, nil
}
