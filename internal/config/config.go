// Package config 載入服務配置
//
// 優先順序（後者覆蓋前者）：
//
//	Default() → YAML 檔案 → BINGO_* 環境變數 → 命令列參數（在 main 處理）
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Juliapixel/chat-bingo/internal/game"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port" env:"PORT"`
		ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
		WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
		IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	} `yaml:"server" envPrefix:"SERVER_"`

	Log struct {
		Level  string `yaml:"level" env:"LEVEL"`
		Format string `yaml:"format" env:"FORMAT"`
		Output string `yaml:"output" env:"OUTPUT"`
	} `yaml:"log" envPrefix:"LOG_"`

	Session struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
		HeartbeatLeniency time.Duration `yaml:"heartbeat_leniency" env:"HEARTBEAT_LENIENCY"`
		WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
		ReadLimit         int64         `yaml:"read_limit" env:"READ_LIMIT"`
		InboundBuffer     int           `yaml:"inbound_buffer" env:"INBOUND_BUFFER"`
		AllowedOrigins    []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"session" envPrefix:"SESSION_"`

	Game struct {
		EventBuffer     int           `yaml:"event_buffer" env:"EVENT_BUFFER"`
		BoardStrategy   string        `yaml:"board_strategy" env:"BOARD_STRATEGY"`
		ReconnectDelay  time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
		MaxAge          time.Duration `yaml:"max_age" env:"MAX_AGE"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	} `yaml:"game" envPrefix:"GAME_"`
}

// Default 預設配置
//
// 心跳 29s + 寬限 1s，事件緩衝 8 個。
func Default() *Config {
	c := &Config{}

	c.Server.Port = 8080
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 30 * time.Second

	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.Output = "stdout"

	c.Session.HeartbeatInterval = 29 * time.Second
	c.Session.HeartbeatLeniency = 1 * time.Second
	c.Session.WriteTimeout = 10 * time.Second
	c.Session.ReadLimit = 4096
	c.Session.InboundBuffer = 16

	c.Game.EventBuffer = 8
	c.Game.BoardStrategy = string(game.BoardIndependent)
	c.Game.ReconnectDelay = 500 * time.Millisecond
	c.Game.MaxAge = 0 // 0 = 不自動清理
	c.Game.CleanupInterval = time.Minute

	return c
}

// Load 載入配置
//
// path 為空或檔案不存在時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		// #nosec G304 - 路徑來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(c, env.Options{Prefix: "BINGO_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Session.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("session.heartbeat_interval must be positive"))
	}
	if c.Session.HeartbeatLeniency < 0 {
		errs = append(errs, errors.New("session.heartbeat_leniency must not be negative"))
	}
	if c.Session.WriteTimeout <= 0 {
		errs = append(errs, errors.New("session.write_timeout must be positive"))
	}
	if c.Session.InboundBuffer <= 0 {
		errs = append(errs, errors.New("session.inbound_buffer must be positive"))
	}
	if c.Game.EventBuffer <= 0 {
		errs = append(errs, errors.New("game.event_buffer must be positive"))
	}
	if _, err := game.ParseBoardStrategy(c.Game.BoardStrategy); err != nil {
		errs = append(errs, fmt.Errorf("game.board_strategy: %w", err))
	}
	if c.Game.MaxAge > 0 && c.Game.CleanupInterval <= 0 {
		errs = append(errs, errors.New("game.cleanup_interval must be positive when game.max_age is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
