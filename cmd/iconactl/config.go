package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arloliu/go-icona/bridge"
	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/logger"
	"github.com/joho/godotenv"
)

// Environment variables read after the .env file is loaded.
const (
	envHost  = "ICONA_HOST"
	envPort  = "ICONA_PORT"
	envToken = "ICONA_TOKEN"
)

type fileConfig struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	Token               string `toml:"token"`
	ConnectTimeout      string `toml:"connect_timeout"`
	ResponseTimeout     string `toml:"response_timeout"`
	DoorRepeat          int    `toml:"door_repeat"`
	CloseControlChannel bool   `toml:"close_control_channel"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
}

type cliConfig struct {
	Host                string
	Port                int
	Token               string
	ConnectTimeout      time.Duration
	ResponseTimeout     time.Duration
	DoorRepeat          int
	CloseControlChannel bool
	LogLevel            string
	LogFormat           string
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Port:            icona.DefaultPort,
		ConnectTimeout:  10 * time.Second,
		ResponseTimeout: 2 * time.Second,
		DoorRepeat:      1,
		LogLevel:        "info",
	}
}

// loadConfigFile applies the keys defined in the TOML file at path on top of cfg.
func loadConfigFile(path string, cfg *cliConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load iconactl config: %w", err)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}

	if meta.IsDefined("response_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ResponseTimeout))
		if err != nil {
			return fmt.Errorf("parse response_timeout: %w", err)
		}
		cfg.ResponseTimeout = d
	}

	if meta.IsDefined("door_repeat") {
		cfg.DoorRepeat = raw.DoorRepeat
	}

	if meta.IsDefined("close_control_channel") {
		cfg.CloseControlChannel = raw.CloseControlChannel
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}

	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(raw.LogFormat))
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	return nil
}

// loadEnv loads envFile into the process environment, then applies the ICONA_* variables on top of
// cfg. A missing envFile is ignored unless required is true.
func loadEnv(envFile string, required bool, cfg *cliConfig) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	if v, ok := os.LookupEnv(envHost); ok {
		cfg.Host = strings.TrimSpace(v)
	}

	if v, ok := os.LookupEnv(envToken); ok {
		cfg.Token = strings.TrimSpace(v)
	}

	if v, ok := os.LookupEnv(envPort); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", envPort, err)
		}
		cfg.Port = port
	}

	return nil
}

// newLogger builds the CLI logger writing to w.
func (cfg cliConfig) newLogger(w io.Writer) (logger.Logger, error) {
	format, err := logger.ParseFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	return logger.NewSlogWithWriter(w, format, logger.ParseLevel(cfg.LogLevel), false), nil
}

// clientConfig converts cfg into a bridge client configuration.
func (cfg cliConfig) clientConfig(l logger.Logger) (*bridge.ClientConfig, error) {
	if cfg.Host == "" {
		return nil, errors.New("device host is not set")
	}

	return bridge.NewClientConfig(cfg.Host, cfg.Port,
		bridge.WithLogger(l),
		bridge.WithConnectTimeout(cfg.ConnectTimeout),
		bridge.WithResponseTimeout(cfg.ResponseTimeout),
		bridge.WithDoorRepeat(cfg.DoorRepeat),
		bridge.WithCloseControlChannel(cfg.CloseControlChannel),
	)
}
