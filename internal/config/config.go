package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ClientURL  string        `mapstructure:"client_url"`
	Secret     string        `mapstructure:"secret"`
	DBPath     string        `mapstructure:"db_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	Media MediaConfig `mapstructure:"media"`
}

// MediaConfig bounds the voice relay's network and worker footprint.
type MediaConfig struct {
	// WorkerCapacity is the room count after which a new worker is
	// created instead of reusing an existing one.
	WorkerCapacity int    `mapstructure:"worker_capacity"`
	ListenIP       string `mapstructure:"listen_ip"`
	MinPort        uint16 `mapstructure:"min_port"`
	MaxPort        uint16 `mapstructure:"max_port"`
	STUNServer     string `mapstructure:"stun_server"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("client_url", "http://localhost:3000")
	v.SetDefault("db_path", "./parley.db")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("media.worker_capacity", 20)
	v.SetDefault("media.listen_ip", "")
	v.SetDefault("media.min_port", 40000)
	v.SetDefault("media.max_port", 49999)
	v.SetDefault("media.stun_server", "stun:stun.l.google.com:19302")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | DB: %s\n", cfg.Mode, cfg.Port, cfg.DBPath)
	return &cfg, nil
}
