// Package gwconfig loads the gateway's settings document: server bind
// address/port/TLS flag, SSH connection tuning, and SSH crypto preference
// lists, from a TOML file with environment variable overrides.
package gwconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/webssh/gateway/internal/sshsession"
)

// ServerConfig is the server{} table of the settings document.
type ServerConfig struct {
	Address    string `toml:"address"`
	Port       int    `toml:"port"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// SSHConnectionConfig is the ssh_connection{} table.
type SSHConnectionConfig struct {
	TimeoutSeconds        int  `toml:"timeout_seconds"`
	ReadTimeoutSeconds    int  `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int  `toml:"write_timeout_seconds"`
	ChannelTimeoutSeconds int  `toml:"channel_timeout_seconds"`
	KeepaliveSeconds      int  `toml:"keepalive_seconds"`
	Compress              bool `toml:"compress"`
}

// SSHCryptoConfig is the ssh crypto preference-list table.
type SSHCryptoConfig struct {
	KeyExchanges  []string `toml:"key_exchanges"`
	HostKeys      []string `toml:"host_keys"`
	CiphersC2S    []string `toml:"ciphers_client_to_server"`
	CiphersS2C    []string `toml:"ciphers_server_to_client"`
	MACsC2S       []string `toml:"macs_client_to_server"`
	MACsS2C       []string `toml:"macs_server_to_client"`
}

// Config is the complete settings document.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	SSHConnection SSHConnectionConfig `toml:"ssh_connection"`
	SSHCrypto     SSHCryptoConfig     `toml:"ssh_crypto"`
	LogLevel      string              `toml:"log_level"`
}

// Default returns the settings document's defaults, used when no file is
// present and as the base that a decoded file is merged onto.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:    "0.0.0.0",
			Port:       8080,
			TLSEnabled: false,
		},
		SSHConnection: SSHConnectionConfig{
			TimeoutSeconds:        10,
			ReadTimeoutSeconds:    30,
			WriteTimeoutSeconds:   30,
			ChannelTimeoutSeconds: 30,
			KeepaliveSeconds:      30,
			Compress:              false,
		},
		LogLevel: "info",
	}
}

// Load reads the settings document from path (if it exists) onto the
// defaults, then applies WEBSSH_SERVER_ADDRESS / WEBSSH_SERVER_PORT /
// WEBSSH_LOG_LEVEL environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if v := os.Getenv("WEBSSH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("WEBSSH_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("WEBSSH_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("WEBSSH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// Addr is the host:port the HTTP server should bind.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// SSHSettings projects the connection/crypto tables onto the domain
// settings type the session bootstrap consumes.
func (c Config) SSHSettings() sshsession.Settings {
	return sshsession.Settings{
		DialTimeout:       time.Duration(c.SSHConnection.TimeoutSeconds) * time.Second,
		ReadTimeout:       time.Duration(c.SSHConnection.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(c.SSHConnection.WriteTimeoutSeconds) * time.Second,
		ChannelTimeout:    time.Duration(c.SSHConnection.ChannelTimeoutSeconds) * time.Second,
		KeepaliveInterval: time.Duration(c.SSHConnection.KeepaliveSeconds) * time.Second,
		Compress:          c.SSHConnection.Compress,
		KeyExchanges:      c.SSHCrypto.KeyExchanges,
		HostKeys:          c.SSHCrypto.HostKeys,
		CiphersC2S:        c.SSHCrypto.CiphersC2S,
		CiphersS2C:        c.SSHCrypto.CiphersS2C,
		MACsC2S:           c.SSHCrypto.MACsC2S,
		MACsS2C:           c.SSHCrypto.MACsS2C,
	}
}
