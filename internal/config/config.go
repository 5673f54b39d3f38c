package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Server struct {
	Address   string
	OrderPort int // TCP order entry
	HTTPPort  int // JSON query and admin API
	Workers   uint
	// Origins allowed to call the HTTP API from a browser.
	CORSOrigins []string
}

type Exchange struct {
	// Cash every new account starts with.
	InitialBalance int64
	// Instruments listed at boot.
	Instruments []string
}

type Feed struct {
	KafkaBrokers []string // Feed disabled when empty
	KafkaTopic   string
}

type Log struct {
	Level  zerolog.Level
	Pretty bool
}

type Config struct {
	Server   Server
	Exchange Exchange
	Feed     Feed
	Log      Log
}

func Default() Config {
	return Config{
		Server: Server{
			Address:     "0.0.0.0",
			OrderPort:   9001,
			HTTPPort:    8080,
			Workers:     10,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Exchange: Exchange{
			InitialBalance: 100000,
		},
		Feed: Feed{
			KafkaTopic: "fills",
		},
		Log: Log{
			Level: zerolog.InfoLevel,
		},
	}
}

// Load reads configuration from an optional .env file and the environment.
// Priority: ENV > .env file > defaults. A missing .env file is not an error.
func Load(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var err error
	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if cfg.Server.OrderPort, err = intEnv("EXCHANGE_ORDER_PORT", cfg.Server.OrderPort); err != nil {
		return cfg, err
	}
	if cfg.Server.HTTPPort, err = intEnv("EXCHANGE_HTTP_PORT", cfg.Server.HTTPPort); err != nil {
		return cfg, err
	}
	workers, err := intEnv("ORDER_WORKERS", int(cfg.Server.Workers))
	if err != nil {
		return cfg, err
	}
	if workers <= 0 {
		return cfg, fmt.Errorf("ORDER_WORKERS: must be positive, got %d", workers)
	}
	cfg.Server.Workers = uint(workers)
	if v, ok := os.LookupEnv("EXCHANGE_CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = list(v)
	}

	if v := os.Getenv("EXCHANGE_INITIAL_BALANCE"); v != "" {
		balance, err := strconv.ParseInt(v, 10, 64)
		if err != nil || balance < 0 {
			return cfg, fmt.Errorf("EXCHANGE_INITIAL_BALANCE: invalid value %q", v)
		}
		cfg.Exchange.InitialBalance = balance
	}
	if v := os.Getenv("EXCHANGE_INSTRUMENTS"); v != "" {
		cfg.Exchange.Instruments = list(v)
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Feed.KafkaBrokers = list(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Feed.KafkaTopic = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := zerolog.ParseLevel(v)
		if err != nil {
			return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		cfg.Log.Level = level
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("LOG_PRETTY: %w", err)
		}
		cfg.Log.Pretty = pretty
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// list splits a comma separated value, dropping empty entries.
func list(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
