package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aeolun/ircrelay/pkg/logging"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Limits    LimitsSection    `toml:"limits"`
	Metrics   MetricsSection   `toml:"metrics"`
	WebSocket WebSocketSection `toml:"websocket"`
}

type ServerSection struct {
	Name     string   `toml:"name"`
	Network  string   `toml:"network"`
	MOTD     []string `toml:"motd"`
	LogLevel string   `toml:"log_level"`
	Bind     string   `toml:"bind"`
}

type LimitsSection struct {
	MaxLineBytes         int `toml:"max_line_bytes"`
	MaxNickLength        int `toml:"max_nick_length"`
	MaxChannelLength     int `toml:"max_channel_length"`
	MaxTopicLength       int `toml:"max_topic_length"`
	MaxChannelsPerClient int `toml:"max_channels_per_client"`
	SendQLines           int `toml:"sendq_lines"`
	MaxBatch             int `toml:"max_batch"`
}

type MetricsSection struct {
	Listen string `toml:"listen"`
}

type WebSocketSection struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Name:     "irc.local",
			Network:  "ircrelay",
			LogLevel: "info",
		},
		Limits: LimitsSection{
			MaxLineBytes:         512, // terminator included
			MaxNickLength:        30,
			MaxChannelLength:     50,
			MaxTopicLength:       390,
			MaxChannelsPerClient: 20,
			SendQLines:           512,
			MaxBatch:             64,
		},
	}
}

// LoadConfig loads configuration from a TOML file. Keys missing from the file
// keep their defaults. An empty path returns the defaults.
func LoadConfig(path string) (TOMLConfig, error) {
	config := DefaultTOMLConfig()
	if path == "" {
		return config, nil
	}

	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return TOMLConfig{}, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := config.Validate(); err != nil {
		return TOMLConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks value ranges
func (c *TOMLConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Name) == "" || strings.ContainsAny(c.Server.Name, " \r\n") {
		errs = append(errs, fmt.Errorf("server.name %q must be a single non-empty word", c.Server.Name))
	}
	if strings.ContainsAny(c.Server.Network, " \r\n") {
		errs = append(errs, fmt.Errorf("server.network %q must not contain spaces", c.Server.Network))
	}
	if !logging.ValidLevel(c.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is not a known level", c.Server.LogLevel))
	}
	for i, line := range c.Server.MOTD {
		if strings.ContainsAny(line, "\r\n") {
			errs = append(errs, fmt.Errorf("server.motd[%d] must not contain line breaks", i))
		}
	}

	limits := []struct {
		name  string
		value int
		min   int
	}{
		{"limits.max_line_bytes", c.Limits.MaxLineBytes, 64},
		{"limits.max_nick_length", c.Limits.MaxNickLength, 1},
		{"limits.max_channel_length", c.Limits.MaxChannelLength, 2},
		{"limits.max_topic_length", c.Limits.MaxTopicLength, 1},
		{"limits.max_channels_per_client", c.Limits.MaxChannelsPerClient, 1},
		{"limits.sendq_lines", c.Limits.SendQLines, 1},
		{"limits.max_batch", c.Limits.MaxBatch, 1},
	}
	for _, l := range limits {
		if l.value < l.min {
			errs = append(errs, fmt.Errorf("%s must be at least %d, got %d", l.name, l.min, l.value))
		}
	}

	for _, addr := range []struct{ name, value string }{
		{"metrics.listen", c.Metrics.Listen},
		{"websocket.listen", c.WebSocket.Listen},
	} {
		if addr.value == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr.value); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", addr.name, addr.value, err))
		}
	}

	return errors.Join(errs...)
}

// ServerConfig holds the runtime configuration of one server instance
type ServerConfig struct {
	Port     int    // TCP listen port, from the command line
	Password string // empty disables the PASS gate, from the command line

	BindAddress string
	ServerName  string
	NetworkName string
	MOTD        []string
	LogLevel    string

	MaxLineBytes         int
	MaxNickLength        int
	MaxChannelLength     int
	MaxTopicLength       int
	MaxChannelsPerClient int
	SendQLines           int
	MaxBatch             int

	MetricsListen   string // empty = no metrics listener
	WebSocketListen string // empty = no WebSocket listener
	AllowedOrigins  []string
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	cfg := DefaultTOMLConfig()
	return cfg.ToServerConfig(6667, "")
}

// ToServerConfig converts TOMLConfig to ServerConfig. The port and password
// only ever come from the command line.
func (c *TOMLConfig) ToServerConfig(port int, password string) ServerConfig {
	return ServerConfig{
		Port:     port,
		Password: password,

		BindAddress: c.Server.Bind,
		ServerName:  c.Server.Name,
		NetworkName: c.Server.Network,
		MOTD:        append([]string(nil), c.Server.MOTD...),
		LogLevel:    c.Server.LogLevel,

		MaxLineBytes:         c.Limits.MaxLineBytes,
		MaxNickLength:        c.Limits.MaxNickLength,
		MaxChannelLength:     c.Limits.MaxChannelLength,
		MaxTopicLength:       c.Limits.MaxTopicLength,
		MaxChannelsPerClient: c.Limits.MaxChannelsPerClient,
		SendQLines:           c.Limits.SendQLines,
		MaxBatch:             c.Limits.MaxBatch,

		MetricsListen:   c.Metrics.Listen,
		WebSocketListen: c.WebSocket.Listen,
		AllowedOrigins:  append([]string(nil), c.WebSocket.AllowedOrigins...),
	}
}

// ListenAddress returns the host:port the TCP listener binds to
func (c ServerConfig) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, fmt.Sprint(c.Port))
}

// maxLineBody is the line limit with the CRLF terminator taken off
func (c ServerConfig) maxLineBody() int {
	return c.MaxLineBytes - 2
}
