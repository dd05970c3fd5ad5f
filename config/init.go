package config

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// NetworkParams — сетевые параметры одного интерфейса (subnet/endpoint
// подмешиваются в распарсенный конфиг, если в нём есть Address).
type NetworkParams struct {
	Subnet   string `mapstructure:"subnet"`   // 10.10.0.0/24
	Endpoint string `mapstructure:"endpoint"` // host:port
	Address  string `mapstructure:"address"`  // адрес сервера в туннеле
	Port     int    `mapstructure:"port"`     // listen port (информативно)
}

// Конечная структура конфигурации сервиса зеркалирования.
type Config struct {
	Server struct {
		Address  string `mapstructure:"address"`   // 0.0.0.0
		HTTPPort string `mapstructure:"http_port"` // 8090
	} `mapstructure:"server"`

	Webhook struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"webhook"`

	Wgrest struct {
		APIURL string `mapstructure:"api_url"` // http://localhost:51822
		APIKey string `mapstructure:"api_key"` // bearer-токен wgrest
	} `mapstructure:"wgrest"`

	Database struct {
		Driver string `mapstructure:"driver"` // "postgres" | "mysql"
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Sync struct {
		Mode                   string   `mapstructure:"mode"`             // event-driven|polling
		IntervalSeconds        int      `mapstructure:"interval_seconds"` // период polling-режима
		DebounceSeconds        int      `mapstructure:"debounce_seconds"`
		ConfigDir              string   `mapstructure:"config_dir"` // /etc/wireguard
		Interfaces             []string `mapstructure:"interfaces"` // wg0, wg1, ...
		PreferConfigListenPort bool     `mapstructure:"prefer_config_listen_port"`
		StoreRawConfig         bool     `mapstructure:"store_raw_config"`
	} `mapstructure:"sync"`

	Encryption struct {
		Key string `mapstructure:"key"` // base64; пусто — будет выведен из api_key
	} `mapstructure:"encryption"`

	Cleanup struct {
		Enabled        bool   `mapstructure:"enabled"`
		OlderThanHours int    `mapstructure:"older_than_hours"`
		Time           string `mapstructure:"time"` // "02:00"
	} `mapstructure:"cleanup"`

	// network.<iface>: subnet/endpoint/address/port
	Network map[string]NetworkParams `mapstructure:"network"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error|fatal
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // путь/префикс файла, пусто — только stdout
	} `mapstructure:"logs"`
}

// Load читает конфиг из env/файла с дефолтами.
func Load() (*Config, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Дефолты (минимальный рабочий набор)
	viper.SetDefault("server.address", "0.0.0.0")
	viper.SetDefault("server.http_port", "8090")
	viper.SetDefault("webhook.enabled", true)

	viper.SetDefault("wgrest.api_url", "http://localhost:51822")
	viper.SetDefault("wgrest.api_key", "")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.dsn", "")

	viper.SetDefault("sync.mode", "event-driven")
	viper.SetDefault("sync.interval_seconds", 300)
	viper.SetDefault("sync.debounce_seconds", 5)
	viper.SetDefault("sync.config_dir", "/etc/wireguard")
	viper.SetDefault("sync.interfaces", []string{"wg0", "wg1"})
	viper.SetDefault("sync.prefer_config_listen_port", false)
	viper.SetDefault("sync.store_raw_config", false)

	viper.SetDefault("encryption.key", "")

	viper.SetDefault("cleanup.enabled", true)
	viper.SetDefault("cleanup.older_than_hours", 24)
	viper.SetDefault("cleanup.time", "02:00")

	// Логи — дефолты
	viper.SetDefault("logs.level", "info")
	viper.SetDefault("logs.format", "text")
	viper.SetDefault("logs.file", "")

	// Источник файла
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			viper.AddConfigPath(filepath.Join(xdg, "wgmirror"))
		}
		viper.AddConfigPath("/etc/wgmirror")
	}

	// Чтение файла (опционально)
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if cfg.Encryption.Key == "" {
		cfg.Encryption.Key = DeriveEncryptionKey(cfg.Wgrest.APIKey)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// DeriveEncryptionKey детерминированно выводит ключ шифрования из
// api-ключа wgrest (sha256 → base64url). Тот же вывод использует
// decrypt-CLI: повторный деплой с тем же api-ключом читает старые секреты.
// Потеря api-ключа без явного encryption.key = потеря старых секретов.
func DeriveEncryptionKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(apiKey))
	return base64.URLEncoding.EncodeToString(sum[:])
}

// SubnetFor возвращает сетевые параметры интерфейса (пустые — если не заданы).
func (c *Config) SubnetFor(name string) NetworkParams {
	return c.Network[name]
}

func validate(c *Config) error {
	if strings.TrimSpace(c.Wgrest.APIKey) == "" {
		return errors.New("wgrest.api_key must be set")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn must be set")
	}
	if strings.TrimSpace(c.Encryption.Key) == "" {
		return errors.New("encryption.key not set and could not be derived")
	}
	switch c.Sync.Mode {
	case "event-driven", "polling":
	default:
		return fmt.Errorf("sync.mode must be event-driven or polling, got %q", c.Sync.Mode)
	}
	if c.Sync.IntervalSeconds <= 0 {
		return errors.New("sync.interval_seconds must be positive")
	}
	if c.Sync.DebounceSeconds <= 0 {
		return errors.New("sync.debounce_seconds must be positive")
	}
	if len(c.Sync.Interfaces) == 0 {
		return errors.New("sync.interfaces must not be empty")
	}
	return nil
}
