package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fieldsync/internal/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces device settings in the environment, e.g.
// FIELDSYNC_SERVER_URL.
const EnvPrefix = "FIELDSYNC"

// DeviceConfig is the configuration of the device agent.
type DeviceConfig struct {
	ServerURL    string        `mapstructure:"server_url"`
	UserName     string        `mapstructure:"user_name"`
	Organisation string        `mapstructure:"organisation"`
	Locale       string        `mapstructure:"locale"`
	Verified     bool          `mapstructure:"verified"`
	DeviceID     string        `mapstructure:"device_id"`
	Token        string        `mapstructure:"token"`
	Password     string        `mapstructure:"password"`
	DataDir      string        `mapstructure:"data_dir"`
	Concurrency  int           `mapstructure:"concurrency"`
	PageSize     int           `mapstructure:"page_size"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	LogFile      string        `mapstructure:"log_file"`
	LogMaxSizeMB int           `mapstructure:"log_max_size_mb"`
	LogBackups   int           `mapstructure:"log_max_backups"`
}

// SetDeviceDefaults registers defaults and environment binding on v. Every
// key gets a default so that Unmarshal sees values that only exist in the
// environment.
func SetDeviceDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("user_name", "")
	v.SetDefault("organisation", "")
	v.SetDefault("token", "")
	v.SetDefault("password", "")
	v.SetDefault("log_file", "")
	v.SetDefault("locale", "en")
	v.SetDefault("verified", true)
	v.SetDefault("device_id", "default")
	v.SetDefault("data_dir", "fieldsync-data")
	v.SetDefault("concurrency", 1)
	v.SetDefault("page_size", 30)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// LoadDevice reads the optional config file named by the "config" key and
// decodes v into a DeviceConfig.
func LoadDevice(v *viper.Viper) (*DeviceConfig, error) {
	godotenv.Load()
	SetDeviceDefaults(v)

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg DeviceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *DeviceConfig) Validate() error {
	if c.UserName == "" {
		return errors.New("user_name is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency %d", c.Concurrency)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("invalid page_size %d", c.PageSize)
	}
	return nil
}

// UserContext is the acting user for records written on this device.
func (c *DeviceConfig) UserContext() domain.UserContext {
	return domain.UserContext{
		UserName:     c.UserName,
		Organisation: c.Organisation,
		Locale:       c.Locale,
		Verified:     c.Verified,
		ServerURL:    c.ServerURL,
		DeviceID:     c.DeviceID,
	}
}

func (c *DeviceConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "records.db")
}

func (c *DeviceConfig) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

func (c *DeviceConfig) TokenPath() string {
	return filepath.Join(c.DataDir, "token")
}
