package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type config struct {
	Addr     string
	LogLevel string

	// Storage backend: memory, postgres, or redis
	Storage     string
	PostgresDSN string
	RedisAddr   string

	StripeAPIKey        string
	StripeWebhookSecret string

	PriceProfessional string
	PriceAgency       string

	OpenAIAPIKey string
	OpenAIModel  string

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

func loadConfig() (*config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &config{
		Addr:                envOr("PITCHLY_ADDR", ":8080"),
		LogLevel:            envOr("PITCHLY_LOG_LEVEL", "info"),
		Storage:             envOr("PITCHLY_STORAGE", "memory"),
		PostgresDSN:         os.Getenv("PITCHLY_POSTGRES_DSN"),
		RedisAddr:           os.Getenv("PITCHLY_REDIS_ADDR"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PriceProfessional:   os.Getenv("PITCHLY_PRICE_PROFESSIONAL"),
		PriceAgency:         os.Getenv("PITCHLY_PRICE_AGENCY"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         os.Getenv("PITCHLY_OPENAI_MODEL"),
		CheckoutSuccessURL:  envOr("PITCHLY_CHECKOUT_SUCCESS_URL", "https://pitchly.app/billing/success"),
		CheckoutCancelURL:   envOr("PITCHLY_CHECKOUT_CANCEL_URL", "https://pitchly.app/billing/cancel"),
		PortalReturnURL:     envOr("PITCHLY_PORTAL_RETURN_URL", "https://pitchly.app/account"),
	}

	if cfg.StripeAPIKey == "" {
		return nil, fmt.Errorf("STRIPE_API_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	switch cfg.Storage {
	case "memory":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("PITCHLY_POSTGRES_DSN is required for postgres storage")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("PITCHLY_REDIS_ADDR is required for redis storage")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
