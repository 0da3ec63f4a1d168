// Package config layers default, config-file, environment, and CLI-flag
// settings into one Config via viper, the way the teacher's config.Manager
// merged user and project JSON but generalized to viper's precedence stack
// and a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/beachside/beach/internal/framed"
)

// ICEServer is a STUN/TURN server entry for the WebRTC negotiator,
// persisted in config.yaml under ice_servers.
type ICEServer struct {
	URLs       []string `yaml:"urls" mapstructure:"urls"`
	Username   string   `yaml:"username,omitempty" mapstructure:"username"`
	Credential string   `yaml:"credential,omitempty" mapstructure:"credential"`
}

// Config is the fully resolved, merged configuration for one beachd or
// beach process.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	SessionServerURL string `mapstructure:"session_server_url"`

	FramedChunkSize   int    `mapstructure:"framed_chunk_size"`
	FramedTimeoutMs   int    `mapstructure:"framed_timeout_ms"`
	FramedMaxInflight int    `mapstructure:"framed_max_inflight"`
	FramedMaxBytes    int    `mapstructure:"framed_max_bytes"`
	FramedMacKeyID    int    `mapstructure:"framed_mac_key_id"`
	FramedMacKeysRaw  string `mapstructure:"framed_mac_keys"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`
}

// FramedTimeout returns FramedTimeoutMs as a time.Duration.
func (c Config) FramedTimeout() time.Duration {
	return time.Duration(c.FramedTimeoutMs) * time.Millisecond
}

// MacKeys parses FramedMacKeysRaw into a framed.KeySet, or nil (and no
// error) if it is empty.
func (c Config) MacKeys() (framed.KeySet, error) {
	return ParseMacKeys(c.FramedMacKeysRaw)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("session_server_url", "https://relay.beachside.dev")
	v.SetDefault("framed_chunk_size", 16*1024)
	v.SetDefault("framed_timeout_ms", 30_000)
	v.SetDefault("framed_max_inflight", 256)
	v.SetDefault("framed_max_bytes", 8*1024*1024)
	v.SetDefault("framed_mac_key_id", 0)
	v.SetDefault("framed_mac_keys", "")
}

// bindEnv wires the environment variables spec.md §6 names explicitly,
// rather than relying on AutomaticEnv's prefix-plus-uppercase guess, since
// the names (BEACH_SESSION_SERVER_URL, not BEACH_SESSIONSERVERURL) don't
// match viper's default key-to-env transform.
func bindEnv(v *viper.Viper) error {
	binds := map[string]string{
		"framed_chunk_size":   "BEACH_FRAMED_CHUNK_SIZE",
		"framed_timeout_ms":   "BEACH_FRAMED_TIMEOUT_MS",
		"framed_max_inflight": "BEACH_FRAMED_MAX_INFLIGHT",
		"framed_max_bytes":    "BEACH_FRAMED_MAX_BYTES",
		"framed_mac_key_id":   "BEACH_FRAMED_MAC_KEY_ID",
		"framed_mac_keys":     "BEACH_FRAMED_MAC_KEYS",
		"session_server_url":  "BEACH_SESSION_SERVER_URL",
	}
	for key, env := range binds {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("config: bind env %s: %w", env, err)
		}
	}
	return nil
}

// Load resolves Config from, in increasing precedence: built-in defaults,
// path (if non-empty and present; DefaultConfigPath otherwise), bound
// environment variables, then flags (if non-nil, already parsed).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path == "" {
		defPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
