package sshsession

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

func namesOf(setups []deviceSetup) []string {
	names := make([]string, len(setups))
	for i, s := range setups {
		names[i] = s.name
	}
	return names
}

func TestCandidatesForNoHintTriesAllThreeInOrder(t *testing.T) {
	got := namesOf(candidatesFor(""))
	want := []string{"standard", "generic-unix", "network-device"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCandidatesForNetworkHintsSkipLadder(t *testing.T) {
	for _, hint := range []string{"cisco", "Router", "SWITCH"} {
		got := namesOf(candidatesFor(hint))
		if len(got) != 1 || got[0] != "network-device" {
			t.Fatalf("hint %q: got %v, want only network-device", hint, got)
		}
	}
}

func TestCandidatesForUnrecognizedHintFallsBackToLadder(t *testing.T) {
	got := namesOf(candidatesFor("some-unknown-os"))
	if len(got) != 3 {
		t.Fatalf("expected full ladder for unrecognized hint, got %v", got)
	}
}

// startPTYRejectingServer rejects the pty-req on the first rejectChannels
// "session" channels opened against it (whichever candidate setup is
// trying), then accepts every request normally afterward. This drives the
// fallback ladder's actual runtime fallthrough without depending on which
// term type a given candidate requests.
func startPTYRejectingServer(t *testing.T, rejectChannels int, password string) *testServer {
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

	var channels atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
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
					reject := int(channels.Add(1)) <= rejectChannels
					go handlePTYSession(ch, requests, reject)
				}
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func handlePTYSession(ch ssh.Channel, requests <-chan *ssh.Request, rejectPty bool) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			if req.WantReply {
				req.Reply(!rejectPty, nil)
			}
			if rejectPty {
				return
			}
		case "shell", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
			if req.Type == "shell" {
				go func() {
					io.Copy(ch, ch)
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

func TestOpenChannelFallsThroughToNetworkDeviceAfterPTYRejections(t *testing.T) {
	srv := startPTYRejectingServer(t, 2, "correct-horse")
	sess, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "correct-horse",
	}, fastTestSettings())
	if err != nil {
		t.Fatalf("expected the ladder to fall through to network-device, got: %v", err)
	}
	defer sess.Close()
	if sess.setup != setupNetworkDevice.name {
		t.Fatalf("expected setup %q to win, got %q", setupNetworkDevice.name, sess.setup)
	}
}

func TestOpenChannelFailsWhenEveryCandidateRejectsPTY(t *testing.T) {
	srv := startPTYRejectingServer(t, 3, "correct-horse")
	_, err := Open(Credentials{
		Hostname: "127.0.0.1",
		Port:     srv.port,
		Username: "tester",
		Password: "correct-horse",
	}, fastTestSettings())
	if err == nil {
		t.Fatal("expected Open to fail when every candidate's pty-req is rejected")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindChannel {
		t.Fatalf("expected ChannelError, got %v (ok=%v)", kind, ok)
	}
}
