package sshsession

import (
	"errors"
	"testing"
)

func TestIsBannerClassErrorDetectsBannerFailures(t *testing.T) {
	cases := map[string]bool{
		"ssh: could not read banner":         true,
		"ssh: overflow reading version string": true,
		"ssh: unable to authenticate":        false,
		"dial tcp: connection refused":       false,
	}
	for msg, want := range cases {
		if got := isBannerClassError(errors.New(msg)); got != want {
			t.Errorf("isBannerClassError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestIsClosedClassErrorDetectsTeardown(t *testing.T) {
	cases := map[string]bool{
		"write: broken pipe":                    true,
		"read: connection reset by peer":        true,
		"use of closed network connection":      true,
		"ssh: unable to authenticate":           false,
	}
	for msg, want := range cases {
		if got := isClosedClassError(errors.New(msg)); got != want {
			t.Errorf("isClosedClassError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestErrorUnwrapAndKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := wrap(KindChannel, "op", base)
	if !errors.Is(wrapped, base) {
		t.Fatal("expected errors.Is to see through the wrap")
	}
	kind, ok := KindOf(wrapped)
	if !ok || kind != KindChannel {
		t.Fatalf("KindOf = %v, %v, want KindChannel, true", kind, ok)
	}
}
