package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ppbverify-backend/lib/configutil"
	"ppbverify-backend/lib/scrapers/ppb"
	"ppbverify-backend/lib/serviceutil"
	"ppbverify-backend/lib/telemetry"
	"ppbverify-backend/services/verify"
	"ppbverify-backend/services/verify/server"
)

type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Backend    string `json:"backend"`
	TtlSeconds int    `json:"ttl_seconds"`
	MaxSize    int    `json:"max_size"`
	RedisUrl   string `json:"redis_url"`
}

type Config struct {
	Port    int    `json:"port"`
	BaseUrl string `json:"base_url"`

	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
	MaxRetries            int `json:"max_retries"`
	RetryBackoffMs        int `json:"retry_backoff_ms"`
	RateLimitMs           int `json:"rate_limit_ms"`
	CallBudgetSeconds     int `json:"call_budget_seconds"`

	Cache     CacheConfig `json:"cache"`
	Registers []string    `json:"registers"`
}

var defaultConfig = Config{
	Port:                  8460,
	RequestTimeoutSeconds: 15,
	MaxRetries:            2,
	RetryBackoffMs:        300,
	RateLimitMs:           1500,
	CallBudgetSeconds:     45,
	Cache: CacheConfig{
		Enabled:    true,
		Backend:    "memory",
		TtlSeconds: 3600,
		MaxSize:    1000,
	},
	Registers: []string{"facilities", "pharmacists", "pharmtechs"},
}

func (c Config) options() verify.Options {
	return verify.Options{
		BaseUrl:        c.BaseUrl,
		RequestTimeout: time.Duration(c.RequestTimeoutSeconds) * time.Second,
		MaxRetries:     c.MaxRetries,
		RetryBackoff:   time.Duration(c.RetryBackoffMs) * time.Millisecond,
		RateLimitDelay: time.Duration(c.RateLimitMs) * time.Millisecond,
		CallBudget:     time.Duration(c.CallBudgetSeconds) * time.Second,
		CacheEnabled:   c.Cache.Enabled,
		CacheBackend:   c.Cache.Backend,
		CacheTTL:       time.Duration(c.Cache.TtlSeconds) * time.Second,
		CacheMaxSize:   c.Cache.MaxSize,
		RedisUrl:       c.Cache.RedisUrl,
	}
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfigOrDefault("config.json5", defaultConfig)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	t, err := telemetry.SetupFromEnv(ctx, "verifyd")
	if err != nil {
		if !os.IsNotExist(err) {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		slog.Warn("no telemetry.json5 found, telemetry disabled")
	} else {
		defer t.Shutdown(context.Background())
	}

	var services []*verify.Service
	for _, name := range config.Registers {
		register, ok := ppb.ByName(name)
		if !ok {
			serviceutil.Fatal("invalid config", fmt.Errorf("unknown register %q", name))
		}
		service, err := verify.New(register, config.options())
		if err != nil {
			serviceutil.Fatal("failed to create verification service", err)
		}
		services = append(services, service)
	}

	go serviceutil.StartHttpServer(config.Port, server.New(services...).Handler())

	<-ctx.Done()
}
