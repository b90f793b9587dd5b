package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level API daemon configuration (TOML).
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Store     StoreConfig     `mapstructure:"store"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	TLS       *TLSConfig      `mapstructure:"tls"`
	Servers   []ServerEntry   `mapstructure:"servers"`

	path string
}

type GeneralConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	BasePath string `mapstructure:"base_path"`
	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
}

// StoreConfig selects the persistence backend for API keys and player
// sessions. Driver is "sqlite" or "postgres".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// AnalyticsConfig lists optional export sinks for player-count samples.
type AnalyticsConfig struct {
	Sinks []SinkConfig `mapstructure:"sinks"`
}

type SinkConfig struct {
	Type  string `mapstructure:"type"`  // "opensearch" or "clickhouse"
	URL   string `mapstructure:"url"`   // opensearch base URL
	Index string `mapstructure:"index"` // opensearch index
	DSN   string `mapstructure:"dsn"`   // clickhouse DSN
	Table string `mapstructure:"table"` // clickhouse table
}

// TLSConfig enables HTTPS on the API listener. Either cert_file/key_file
// point at existing certificates, or dir names a directory where a
// self-signed pair is kept (and generated when auto_generate is set).
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	CommonName   string   `mapstructure:"common_name"`
	DNSNames     []string `mapstructure:"dns_names"`
	ValidDays    int      `mapstructure:"valid_days"`
	MinVersion   string   `mapstructure:"min_version"` // "1.2" or "1.3"
}

// ServerEntry names a supervised server and its working directory.
type ServerEntry struct {
	Name      string `mapstructure:"name"`
	Path      string `mapstructure:"path"`
	Autostart bool   `mapstructure:"autostart"`
}

// Load reads the API configuration file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("general.host", "127.0.0.1")
	v.SetDefault("general.port", 8000)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "mcconsole.db")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.path = path
	for i, s := range c.Servers {
		if s.Name == "" {
			return nil, fmt.Errorf("servers[%d]: name required", i)
		}
		if s.Path == "" {
			return nil, fmt.Errorf("server %q: path required", s.Name)
		}
	}
	return &c, nil
}

// Reload re-reads the file this config was loaded from.
func (c *Config) Reload() error {
	nc, err := Load(c.path)
	if err != nil {
		return err
	}
	*c = *nc
	return nil
}

// Server looks up a configured server entry by name.
func (c *Config) Server(name string) (ServerEntry, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerEntry{}, false
}

// ServerConfig is the per-server configuration read from config.toml in
// the server's working directory.
type ServerConfig struct {
	Minecraft MinecraftConfig `mapstructure:"minecraft"`
}

type MinecraftConfig struct {
	JavaPath       string          `mapstructure:"java_path"`
	JVMArgs        []string        `mapstructure:"jvm_args"`
	Env            []string        `mapstructure:"env"`        // "K=V" overrides, ${VAR} expanded
	ServerJar      string          `mapstructure:"server_jar"` // glob pattern
	CommandTimeout time.Duration   `mapstructure:"command_timeout"`
	Console        ConsolePatterns `mapstructure:"console"`
	Restarts       RestartPolicy   `mapstructure:"restarts"`
}

// ConsolePatterns are the regexes used to extract player activity from
// console lines. Named groups: username, ip, reason, message.
type ConsolePatterns struct {
	PlayerConnected    string `mapstructure:"player_connected"`
	PlayerDisconnected string `mapstructure:"player_disconnected"`
	PlayerChat         string `mapstructure:"player_chat"`
}

// RestartPolicy drives scheduled automatic restarts. RestartInterval is
// in hours; AlertIntervals are the advance-warning offsets in seconds.
type RestartPolicy struct {
	AutoRestart     bool    `mapstructure:"auto_restart"`
	RestartInterval float64 `mapstructure:"restart_interval"`
	AlertIntervals  []int   `mapstructure:"alert_intervals"`
}

// DefaultCommandTimeout bounds the wait for a command's console response.
const DefaultCommandTimeout = 10 * time.Second

// LoadServer reads config.toml from the server working directory.
func LoadServer(dir string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.toml"))
	v.SetConfigType("toml")
	v.SetDefault("minecraft.java_path", "java")
	v.SetDefault("minecraft.server_jar", "*.jar")
	v.SetDefault("minecraft.command_timeout", DefaultCommandTimeout)
	v.SetDefault("minecraft.console.player_connected",
		`(?P<username>[\w]+)\[/(?P<ip>[\d.:]+)\] logged in`)
	v.SetDefault("minecraft.console.player_disconnected",
		`(?P<username>[\w]+) lost connection: (?P<reason>.*)`)
	v.SetDefault("minecraft.console.player_chat",
		`<(?P<username>[\w]+)> (?P<message>.*)`)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("server config at %s: %w", dir, err)
	}
	var sc ServerConfig
	if err := v.Unmarshal(&sc); err != nil {
		return nil, err
	}
	if sc.Minecraft.CommandTimeout <= 0 {
		sc.Minecraft.CommandTimeout = DefaultCommandTimeout
	}
	return &sc, nil
}

// RestartDelay converts the policy interval (hours) to a duration.
func (p RestartPolicy) RestartDelay() time.Duration {
	return time.Duration(p.RestartInterval * float64(time.Hour))
}

// AlertOffsets converts the alert intervals (seconds) to durations.
func (p RestartPolicy) AlertOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(p.AlertIntervals))
	for _, s := range p.AlertIntervals {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}
