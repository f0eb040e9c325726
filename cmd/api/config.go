package main

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all environment-based configuration.
type Config struct {
	Port             string
	ModelPath        string
	ModelVariant     string
	FeatureOverrides string
	ORTLibPath       string
	AdminReload      bool
	NATSURL          string
	ReloadSubject    string
	CORSOrigin       string
	LogLevel         string
	LogFormat        string
	ServiceName      string
	MaxBodyBytes     int64
}

func loadConfig() Config {
	return Config{
		Port:             envOr("PORT", "5000"),
		ModelPath:        envOr("MODEL_PATH", "model/rf_diabetes_smote.json"),
		ModelVariant:     os.Getenv("MODEL_VARIANT"),
		FeatureOverrides: os.Getenv("FEATURE_OVERRIDES"),
		ORTLibPath:       os.Getenv("ORT_LIB_PATH"),
		AdminReload:      envBool("ADMIN_RELOAD", false),
		NATSURL:          os.Getenv("NATS_URL"),
		ReloadSubject:    envOr("NATS_RELOAD_SUBJECT", "diacheck.model.reload"),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		ServiceName:      envOr("OTEL_SERVICE_NAME", "diacheck-api"),
		MaxBodyBytes:     envInt("MAX_BODY_BYTES", 1<<20),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
