// Package config implements the daemon's YAML configuration: loading,
// include-file resolution, env-var overrides, secret encryption, and
// validation, trimmed from a larger application config down to what the
// daemon runtime actually consumes (socket path, data directory, guidance
// document, scheduler/pulse settings, channel collaborators).
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Socket       string `yaml:"socket" json:"socket"`
	DataDir      string `yaml:"data_dir" json:"dataDir"`
	GuidancePath string `yaml:"guidance_path" json:"guidancePath"`

	Logger    LoggerConfig    `yaml:"logger" json:"logger"`
	Tracer    TracerConfig    `yaml:"tracer" json:"tracer"`
	RPC       RPCConfig       `yaml:"rpc" json:"rpc"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Pulse     PulseConfig     `yaml:"pulse" json:"pulse"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Channels  []ChannelConfig `yaml:"channels" json:"channels"`

	Includes []string `yaml:"includes,omitempty" json:"-"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Exporter string `yaml:"exporter" json:"exporter"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// RPCConfig holds local RPC transport settings.
type RPCConfig struct {
	// SocketPermissions is the octal file mode applied to the unix socket
	// after it is created (e.g. "0600").
	SocketPermissions string `yaml:"socket_permissions" json:"socketPermissions"`
	// MaxConnections caps simultaneously connected RPC clients; 0 means
	// unlimited.
	MaxConnections int `yaml:"max_connections,omitempty" json:"maxConnections,omitempty"`
}

// SchedulerConfig holds cron/scheduler settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled" json:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// ScheduledTaskConfig defines one additional named cron job beyond the
// built-in pulse job.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name" json:"name"`
	Schedule string `yaml:"schedule" json:"schedule"`
}

// PulseConfig configures the built-in Pulse Job. NamedDestinations and
// Tools are resolved into domain.PulseConfig at boot, once the daemon's
// domain.Destination and domain.ToolRegistry values are available.
type PulseConfig struct {
	Enabled           bool                     `yaml:"enabled" json:"enabled"`
	Schedule          string                   `yaml:"schedule" json:"schedule"`
	ResponseTo        string                   `yaml:"response_to,omitempty" json:"responseTo,omitempty"`
	PulsePromptPath   string                   `yaml:"pulse_prompt_path,omitempty" json:"pulsePromptPath,omitempty"`
	NamedDestinations map[string]DestinationCfg `yaml:"destinations,omitempty" json:"destinations,omitempty"`
	Tools             []string                 `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// DestinationCfg is the YAML-facing shape of a domain.Destination.
type DestinationCfg struct {
	ChannelID string            `yaml:"channel_id" json:"channelId"`
	Ref       string            `yaml:"ref" json:"ref"`
	Metadata  map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// SecurityConfig holds secret-handling settings.
type SecurityConfig struct {
	Encryption EncryptionConfig `yaml:"encryption" json:"encryption"`
}

// EncryptionConfig toggles at-rest secret encryption for channel tokens.
type EncryptionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ChannelConfig holds settings for a single configured channel collaborator.
type ChannelConfig struct {
	Type    string                `yaml:"type" json:"type"`
	Discord *DiscordChannelConfig `yaml:"discord,omitempty" json:"discord,omitempty"`
	Slack   *SlackChannelConfig   `yaml:"slack,omitempty" json:"slack,omitempty"`
}

// DiscordChannelConfig holds Discord channel settings.
type DiscordChannelConfig struct {
	Token   string `yaml:"token" json:"token"`
	GuildID string `yaml:"guild_id,omitempty" json:"guildId,omitempty"`
}

// SlackChannelConfig holds Slack channel settings.
type SlackChannelConfig struct {
	BotToken string `yaml:"bot_token" json:"botToken"`
	AppToken string `yaml:"app_token" json:"appToken"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.alfred-daemon/data, falling back to "./data".
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".alfred-daemon", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Socket:       filepath.Join(dataDir, "daemon.sock"),
		DataDir:      dataDir,
		GuidancePath: "",
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		RPC: RPCConfig{
			SocketPermissions: "0600",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Pulse: PulseConfig{
			Enabled: false,
		},
		Security: SecurityConfig{
			Encryption: EncryptionConfig{Enabled: false},
		},
	}
}

// Load reads a YAML config file, resolves includes, applies env overrides,
// decrypts secrets, and validates the result. A missing file is not an
// error: Defaults() is returned instead (env overrides and validation still
// apply), matching the daemon's "zero-config start" requirement.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("ALFREDD_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps ALFREDD_* env vars onto cfg, the daemon's
// equivalent of the teacher's ALFREDAI_* override table.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALFREDD_SOCKET"); v != "" {
		cfg.Socket = v
	}
	if v := os.Getenv("ALFREDD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ALFREDD_GUIDANCE_PATH"); v != "" {
		cfg.GuidancePath = v
	}
	if v := os.Getenv("ALFREDD_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ALFREDD_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ALFREDD_TRACER_ENABLED"); v != "" {
		cfg.Tracer.Enabled = v == "true"
	}
	if v := os.Getenv("ALFREDD_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("ALFREDD_PULSE_SCHEDULE"); v != "" {
		cfg.Pulse.Schedule = v
	}
	if v := os.Getenv("ALFREDD_PULSE_ENABLED"); v != "" {
		cfg.Pulse.Enabled = v == "true"
	}
	if v := os.Getenv("ALFREDD_DISCORD_TOKEN"); v != "" {
		for i := range cfg.Channels {
			if cfg.Channels[i].Discord != nil && cfg.Channels[i].Discord.Token == "" {
				cfg.Channels[i].Discord.Token = v
			}
		}
	}
	if v := os.Getenv("ALFREDD_SLACK_BOT_TOKEN"); v != "" {
		for i := range cfg.Channels {
			if cfg.Channels[i].Slack != nil && cfg.Channels[i].Slack.BotToken == "" {
				cfg.Channels[i].Slack.BotToken = v
			}
		}
	}
}

// decryptSecrets finds "enc:..." values in channel tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		var fields []*string
		if ch.Discord != nil {
			fields = append(fields, &ch.Discord.Token)
		}
		if ch.Slack != nil {
			fields = append(fields, &ch.Slack.BotToken, &ch.Slack.AppToken)
		}
		for _, fp := range fields {
			if strings.HasPrefix(*fp, "enc:") {
				decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
				if err != nil {
					return fmt.Errorf("channel %s token: %w", ch.Type, err)
				}
				*fp = decrypted
			}
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

// Reader adapts a loaded Config into rpcserver.AppConfigReader: a redacted
// Safe() view for config.get and a Validate(doc) check for config.validate
// that never mutates the live config.
type Reader struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewReader wraps cfg for RPC exposure.
func NewReader(cfg *Config) *Reader {
	return &Reader{cfg: cfg}
}

// safeView is Config with every channel token field redacted.
type safeView struct {
	Config
	Channels []safeChannelView `json:"channels"`
}

type safeChannelView struct {
	ChannelConfig
	Discord *safeDiscordView `json:"discord,omitempty"`
	Slack   *safeSlackView   `json:"slack,omitempty"`
}

type safeDiscordView struct {
	GuildID string `json:"guildId,omitempty"`
}

type safeSlackView struct{}

// Safe returns a redacted view of the configuration: channel bot tokens are
// never serialized back over the wire.
func (r *Reader) Safe() (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	view := safeView{Config: *r.cfg}
	view.Channels = make([]safeChannelView, len(r.cfg.Channels))
	for i, ch := range r.cfg.Channels {
		cv := safeChannelView{ChannelConfig: ChannelConfig{Type: ch.Type}}
		if ch.Discord != nil {
			cv.Discord = &safeDiscordView{GuildID: ch.Discord.GuildID}
		}
		if ch.Slack != nil {
			cv.Slack = &safeSlackView{}
		}
		view.Channels[i] = cv
	}
	return view, nil
}

// Validate type-checks a candidate configuration document (JSON, matching
// the RPC wire format) without applying it.
func (r *Reader) Validate(doc json.RawMessage) error {
	var candidate Config
	if err := json.Unmarshal(doc, &candidate); err != nil {
		return fmt.Errorf("parse config document: %w", err)
	}
	return Validate(&candidate)
}
