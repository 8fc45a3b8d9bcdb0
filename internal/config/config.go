package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Enterprise конфигурация движка затирания
type Config struct {
	Engine struct {
		BufferSize    int     `yaml:"buffer_size"`
		ShutdownGrace string  `yaml:"shutdown_grace"`
		MaxSpeedMBps  float64 `yaml:"max_speed_mbps"`
		BusName       string  `yaml:"bus_name"`
	} `yaml:"engine"`

	Policy struct {
		AllowedPrefixes []string `yaml:"allowed_prefixes"`
		ListActionID    string   `yaml:"list_action_id"`
		WipeActionID    string   `yaml:"wipe_action_id"`
		SkipPolkit      bool     `yaml:"skip_polkit"`
	} `yaml:"policy"`

	ATA struct {
		TempPassword string `yaml:"temp_password"`
		SmartctlPath string `yaml:"smartctl_path"`
	} `yaml:"ata"`

	Logging struct {
		Level     string `yaml:"level"`
		File      string `yaml:"file"`
		MaxSizeMB int    `yaml:"max_size_mb"`
		MaxFiles  int    `yaml:"max_files"`
	} `yaml:"logging"`

	Reporting struct {
		Enabled   bool   `yaml:"enabled"`
		LocalPath string `yaml:"local_path"`
	} `yaml:"reporting"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}

	cfg.Engine.BufferSize = 1024 * 1024 // 1MB
	cfg.Engine.ShutdownGrace = "5s"
	cfg.Engine.MaxSpeedMBps = 0 // без ограничения
	cfg.Engine.BusName = "ru.kidoz.StorageWiper1"

	cfg.Policy.AllowedPrefixes = []string{
		"/dev/sd", "/dev/hd", "/dev/nvme", "/dev/mmcblk", "/dev/vd", "/dev/xvd",
	}
	cfg.Policy.ListActionID = "ru.kidoz.storage-wiper.list"
	cfg.Policy.WipeActionID = "ru.kidoz.storage-wiper.wipe"
	cfg.Policy.SkipPolkit = false

	cfg.ATA.TempPassword = "storage-wiper-temp"
	cfg.ATA.SmartctlPath = "smartctl"

	cfg.Logging.Level = "INFO"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxFiles = 5

	cfg.Reporting.Enabled = true
	cfg.Reporting.LocalPath = "/var/lib/storage-wiper/reports"

	return cfg
}

// Load загружает конфигурацию из файла
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Валидация конфигурации
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate проверяет конфигурацию на валидность
func Validate(config *Config) error {
	if config.Engine.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", config.Engine.BufferSize)
	}
	if config.Engine.BufferSize > 64*1024*1024 { // 64MB max
		return fmt.Errorf("buffer size too large (max 64MB), got %d", config.Engine.BufferSize)
	}

	if config.Engine.MaxSpeedMBps < 0 {
		return fmt.Errorf("max speed cannot be negative, got %f", config.Engine.MaxSpeedMBps)
	}

	if config.Engine.ShutdownGrace != "" {
		if _, err := time.ParseDuration(config.Engine.ShutdownGrace); err != nil {
			return fmt.Errorf("invalid shutdown grace format: %s", config.Engine.ShutdownGrace)
		}
	}

	if len(config.Policy.AllowedPrefixes) == 0 {
		return fmt.Errorf("allowed prefixes list cannot be empty")
	}
	for _, prefix := range config.Policy.AllowedPrefixes {
		if !strings.HasPrefix(prefix, "/dev/") {
			return fmt.Errorf("allowed prefix must start with /dev/: %s", prefix)
		}
		// Логические dm/mapper тома никогда не могут быть разрешены
		if strings.HasPrefix(prefix, "/dev/dm-") || strings.HasPrefix(prefix, "/dev/mapper/") {
			return fmt.Errorf("device-mapper prefix cannot be allowed: %s", prefix)
		}
	}

	if config.ATA.TempPassword == "" {
		return fmt.Errorf("ATA temporary password cannot be empty")
	}
	if len(config.ATA.TempPassword) > 32 {
		// Лимит протокола: поле пароля в SECURITY SET PASSWORD — 32 байта
		return fmt.Errorf("ATA temporary password too long (max 32 bytes), got %d", len(config.ATA.TempPassword))
	}

	validLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
	}
	if !validLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if config.Logging.MaxSizeMB <= 0 || config.Logging.MaxSizeMB > 1000 {
		return fmt.Errorf("log max size must be between 1MB and 1000MB, got %d", config.Logging.MaxSizeMB)
	}

	if config.Logging.MaxFiles <= 0 || config.Logging.MaxFiles > 50 {
		return fmt.Errorf("log max files must be between 1 and 50, got %d", config.Logging.MaxFiles)
	}

	return nil
}

// Save сохраняет конфигурацию в файл
func Save(config *Config, path string) error {
	// Валидация перед сохранением
	if err := Validate(config); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetShutdownGrace возвращает лимит ожидания воркера при остановке
func (config *Config) GetShutdownGrace() time.Duration {
	if config.Engine.ShutdownGrace == "" {
		return 5 * time.Second
	}

	grace, err := time.ParseDuration(config.Engine.ShutdownGrace)
	if err != nil {
		return 5 * time.Second // Fallback
	}

	return grace
}
