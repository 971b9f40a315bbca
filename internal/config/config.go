package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	appDirName       = "landrop"
	settingsFileName = "settings.json"
	historyFileName  = "history.db"

	DefaultPort = 5000

	// Bounds for the runtime-mutable upload limit.
	MinUploadBytes = 1 << 20   // 1 MiB
	MaxUploadBytes = 100 << 30 // 100 GiB

	defaultUploadBytes = 10 << 30 // 10 GiB
	defaultSessionTTL  = 8 * time.Hour
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Session  SessionConfig
	Upload   UploadConfig
	LogLevel string

	settings *viper.Viper
	mu       sync.Mutex
}

type ServerConfig struct {
	Port     int
	OpenPage bool
	// TerminalQR prints the mobile pairing URL as a scannable QR code on
	// stdout at startup.
	TerminalQR bool
}

type StorageConfig struct {
	// DataDir holds history.db and settings.json. It must be a stable
	// per-user location, never anything under a self-extracting temp dir.
	DataDir string
	// SaveDir is where received files are written.
	SaveDir string
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type UploadConfig struct {
	MaxBytes int64
}

// Load resolves configuration from, in ascending precedence: defaults,
// settings.json in the data dir, and LANDROP_* environment variables.
func Load() (*Config, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data dir: %w", err)
	}

	settings := viper.New()
	settings.SetConfigFile(filepath.Join(dataDir, settingsFileName))
	settings.SetConfigType("json")
	if err := settings.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("LANDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", DefaultPort)
	v.SetDefault("save_dir", settings.GetString("save_dir"))
	v.SetDefault("session_ttl", defaultSessionTTL)
	v.SetDefault("session_sweep_interval", time.Minute)
	v.SetDefault("log_level", "info")

	maxBytes := settings.GetInt64("max_upload_bytes")
	if maxBytes < MinUploadBytes || maxBytes > MaxUploadBytes {
		maxBytes = defaultUploadBytes
	}

	saveDir := v.GetString("save_dir")
	if saveDir == "" {
		saveDir = defaultSaveDir()
	}
	saveDir, err = filepath.Abs(saveDir)
	if err != nil {
		return nil, fmt.Errorf("resolving save dir: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:       v.GetInt("port"),
			OpenPage:   true,
			TerminalQR: true,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			SaveDir: saveDir,
		},
		Session: SessionConfig{
			TTL:           v.GetDuration("session_ttl"),
			SweepInterval: v.GetDuration("session_sweep_interval"),
		},
		Upload: UploadConfig{
			MaxBytes: maxBytes,
		},
		LogLevel: v.GetString("log_level"),
		settings: settings,
	}, nil
}

// New builds a config rooted at explicit directories, bypassing per-user
// discovery. Callers embedding the server, and tests, wire through here.
func New(dataDir, saveDir string) *Config {
	settings := viper.New()
	settings.SetConfigType("json")
	return &Config{
		Server: ServerConfig{
			Port:       DefaultPort,
			OpenPage:   false,
			TerminalQR: false,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
			SaveDir: saveDir,
		},
		Session: SessionConfig{
			TTL:           defaultSessionTTL,
			SweepInterval: time.Minute,
		},
		Upload: UploadConfig{
			MaxBytes: defaultUploadBytes,
		},
		LogLevel: "info",
		settings: settings,
	}
}

func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Storage.DataDir, historyFileName)
}

// SaveDir returns the current destination for received files. It is mutable
// at runtime through the settings endpoint, so reads go through the lock.
func (c *Config) SaveDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Storage.SaveDir
}

// SetSaveDir switches where future uploads land. Already-saved files keep
// their recorded paths. Relative paths are resolved against the working
// directory, so recorded file paths are always absolute.
func (c *Config) SetSaveDir(dir string) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Storage.SaveDir = dir
}

// PersistSetting writes a runtime-mutable setting back to settings.json so it
// survives a restart. Failures are non-fatal for callers: the in-memory value
// already took effect.
func (c *Config) PersistSetting(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Set(key, value)
	return c.settings.WriteConfigAs(filepath.Join(c.Storage.DataDir, settingsFileName))
}

// resolveDataDir prefers the per-user config dir and falls back to the
// directory of the executable itself.
func resolveDataDir() (string, error) {
	if base, err := os.UserConfigDir(); err == nil {
		dir := filepath.Join(base, appDirName)
		if err := os.MkdirAll(dir, 0o755); err == nil {
			return dir, nil
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(exe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func defaultSaveDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads", "landrop")
	}
	return filepath.Join(".", "received_files")
}
