package sshsession

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// testServer is a minimal interactive-shell SSH server used to exercise
// Open/Read/Write/Close without a real network host.
type testServer struct {
	listener net.Listener
	addr     string
	port     int
}

func startTestServer(t *testing.T, password string) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, errAuthRejected
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{listener: ln, addr: ln.Addr().String()}
	_, portStr, _ := net.SplitHostPort(srv.addr)
	srv.port = mustAtoi(portStr)

	go srv.acceptLoop(cfg)
	t.Cleanup(func() { ln.Close() })
	return srv
}

func (s *testServer) acceptLoop(cfg *ssh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn, cfg)
	}
}

func (s *testServer) handleConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *testServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "shell", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
			if req.Type == "shell" {
				go func() {
					io.Copy(ch, ch) // echo loop
					ch.CloseWrite()
				}()
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func TestOpenSucceedsWithPasswordAuth(t *testing.T) {
	srv := startTestServer(t, "correct-horse")
	sess, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "correct-horse",
	}, fastTestSettings())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if _, err := sess.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := sess.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		t.Fatal("expected echoed bytes back")
	}
}

func TestOpenFailsWithBadPassword(t *testing.T) {
	srv := startTestServer(t, "correct-horse")
	_, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "wrong",
	}, fastTestSettings())
	if err == nil {
		t.Fatal("expected error for bad password")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindAuthentication {
		t.Fatalf("expected AuthenticationError, got %v (ok=%v)", kind, ok)
	}
}

func TestOpenFailsWithNoCredentials(t *testing.T) {
	srv := startTestServer(t, "correct-horse")
	_, err := Open(Credentials{Hostname: "127.0.0.1", Port: srv.port, Username: "tester"}, fastTestSettings())
	if err == nil {
		t.Fatal("expected error when no auth method is provided")
	}
}

func TestCloneSharesShutdownFlag(t *testing.T) {
	srv := startTestServer(t, "correct-horse")
	sess, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "correct-horse",
	}, fastTestSettings())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	clone, err := sess.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	defer clone.Close()

	if sess.shutdown != clone.shutdown {
		t.Fatal("expected clone to share the shutdown cell")
	}
	clone.Close()
	if !sess.IsShutdown() {
		t.Fatal("closing the clone should mark the original shut down too")
	}
}

// startFlakyHandshakeServer behaves like startTestServer except the first
// failures connections never reach the SSH handshake at all: the server
// writes an overlong, newline-free run of bytes and closes, which makes
// golang.org/x/crypto/ssh's version-exchange reader fail with "overflow
// reading version string" — a banner-class error connectWithRetry is meant
// to retry past.
func startFlakyHandshakeServer(t *testing.T, failures int, password string) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, errAuthRejected
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{listener: ln, addr: ln.Addr().String()}
	_, portStr, _ := net.SplitHostPort(srv.addr)
	srv.port = mustAtoi(portStr)

	var attempts atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if int(attempts.Add(1)) <= failures {
				conn.Write(bytes.Repeat([]byte("X"), 300))
				conn.Close()
				continue
			}
			go srv.handleConn(conn, cfg)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func TestConnectWithRetrySucceedsAfterBannerClassFailures(t *testing.T) {
	srv := startFlakyHandshakeServer(t, maxHandshakeAttempts-1, "correct-horse")
	sess, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "correct-horse",
	}, fastTestSettings())
	if err != nil {
		t.Fatalf("expected Open to succeed on the final attempt, got: %v", err)
	}
	defer sess.Close()
}

func TestConnectWithRetryFailsAfterExhaustingAttempts(t *testing.T) {
	srv := startFlakyHandshakeServer(t, maxHandshakeAttempts, "correct-horse")
	_, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "correct-horse",
	}, fastTestSettings())
	if err == nil {
		t.Fatal("expected Open to fail once every attempt hits a banner-class error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindHandshake {
		t.Fatalf("expected HandshakeError, got %v (ok=%v)", kind, ok)
	}
}

func fastTestSettings() Settings {
	s := DefaultSettings()
	s.DialTimeout = 2 * time.Second
	return s
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

var errAuthRejected = &authRejectedError{}

type authRejectedError struct{}

func (*authRejectedError) Error() string { return "password rejected" }
