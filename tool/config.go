package tool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/assetlink/types"
)

var ConfigPath = "config.yaml" // be aware that it can be changed, default to ./config.yaml

func DefaultConfig() types.AppConfig {
	return types.AppConfig{
		Port:                  3000,
		Protocol:              "http", // put a TLS terminating proxy in front, or switch to https for a self-signed cert.
		AssetsDir:             "assets",
		PasswordFile:          "upload_pw.txt",
		ChunkSize:             30 * 1024 * 1024,
		ProgressInterval:      time.Second,
		IdleTimeout:           2 * time.Minute,
		HistoryTTL:            time.Hour,
		AuthAttemptsPerMinute: 10,
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *types.AppConfig) {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = def.Protocol
	}
	if cfg.AssetsDir == "" {
		cfg.AssetsDir = def.AssetsDir
	}
	if cfg.PasswordFile == "" {
		cfg.PasswordFile = def.PasswordFile
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.HistoryTTL == 0 {
		cfg.HistoryTTL = def.HistoryTTL
	}
	if cfg.AuthAttemptsPerMinute == 0 {
		cfg.AuthAttemptsPerMinute = def.AuthAttemptsPerMinute
	}
}

func validateConfig(cfg types.AppConfig) error {
	if cfg.Protocol != "http" && cfg.Protocol != "https" {
		return fmt.Errorf("unsupported protocol %q (want http or https)", cfg.Protocol)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.ChunkSize < 0 {
		return fmt.Errorf("invalid chunkSize %d", cfg.ChunkSize)
	}
	if cfg.IdleTimeout < 0 {
		return fmt.Errorf("invalid idleTimeout %s", cfg.IdleTimeout)
	}
	return nil
}

func LoadConfig(path string) (types.AppConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	ConfigPath = path

	cfg := DefaultConfig()

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := writeConfig(path, cfg); writeErr != nil {
				return cfg, fmt.Errorf("config file not found, and failed to generate default config: %v", writeErr)
			}
			DefaultLogger.Infof("Created new config file %s with default values", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if info.IsDir() {
		return cfg, fmt.Errorf("config file path is a directory: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyFlagOverrides merges CLI overrides into cfg.
func ApplyFlagOverrides(cfg *types.AppConfig, flags types.Config) {
	if flags.UsePort > 0 {
		cfg.Port = flags.UsePort
	}
	if flags.UseAssetsDir != "" {
		cfg.AssetsDir = flags.UseAssetsDir
	}
	if flags.UseHttps {
		cfg.Protocol = "https"
	}
	if flags.ChunkSize > 0 {
		cfg.ChunkSize = flags.ChunkSize
	}
}

func writeConfig(path string, cfg types.AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// PersistConfig writes cfg back to the loaded config path, e.g. after a certificate was generated.
func PersistConfig(cfg types.AppConfig) {
	if err := writeConfig(ConfigPath, cfg); err != nil {
		DefaultLogger.Warnf("Failed to persist config: %v", err)
	}
}
