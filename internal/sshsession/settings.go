package sshsession

import "time"

// Settings is the snapshot of SSH connection and crypto tuning captured at
// session construction time; see the settings document in the configuration
// package for how this is populated from disk/env.
type Settings struct {
	DialTimeout       time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ChannelTimeout    time.Duration
	KeepaliveInterval time.Duration
	Compress          bool

	KeyExchanges  []string
	HostKeys      []string
	CiphersC2S    []string
	CiphersS2C    []string
	MACsC2S       []string
	MACsS2C       []string
}

// DefaultSettings mirrors the defaults the original gateway shipped with:
// generous timeouts suitable for interactive sessions and no algorithm
// preference lists, so the SSH library's own default algorithm set applies.
func DefaultSettings() Settings {
	return Settings{
		DialTimeout:       10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ChannelTimeout:    30 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		Compress:          false,
	}
}

// mergeUnique unions two algorithm preference lists, preserving the order
// client→server list is encountered first. golang.org/x/crypto/ssh only
// exposes one preference list per method class (no separate client→server
// and server→client negotiation like libssh2), so direction-specific
// settings are merged here rather than dropped. Returns nil when both lists
// are empty, which leaves the library's defaults in effect.
func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
