package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "seat-booking", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mock", cfg.Payment.Gateway)
	assert.Equal(t, "INR", cfg.Payment.Currency)
	assert.Equal(t, 10*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PAYMENT_CURRENCY", "usd")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("BOOKING_HOLD_TTL", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Payment.Currency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Booking.HoldTTL)
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=from-file\nPAYMENT_GATEWAY=mock\n"), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.App.Name)

	_, err = LoadWithPath(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		App:     AppConfig{Name: "seat-booking", Environment: "development"},
		Server:  ServerConfig{Port: 8080},
		JWT:     JWTConfig{Secret: "secret"},
		Payment: PaymentConfig{Gateway: "mock", SigningSecret: "sig", Currency: "INR"},
		Booking: BookingConfig{HoldTTL: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing app name", mutate: func(c *Config) { c.App.Name = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "empty jwt secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
		{
			name: "default jwt secret in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.JWT.Secret = defaultJWTSecret
			},
			wantErr: true,
		},
		{name: "unknown gateway", mutate: func(c *Config) { c.Payment.Gateway = "paypal" }, wantErr: true},
		{name: "stripe without key", mutate: func(c *Config) { c.Payment.Gateway = "stripe" }, wantErr: true},
		{
			name: "stripe with key",
			mutate: func(c *Config) {
				c.Payment.Gateway = "stripe"
				c.Payment.SecretKey = "sk_test_123"
			},
		},
		{name: "mock without signing secret", mutate: func(c *Config) { c.Payment.SigningSecret = "" }, wantErr: true},
		{
			name: "stripe without signing secret",
			mutate: func(c *Config) {
				c.Payment.Gateway = "stripe"
				c.Payment.SecretKey = "sk_test_123"
				c.Payment.SigningSecret = ""
			},
		},
		{name: "bad currency", mutate: func(c *Config) { c.Payment.Currency = "RUPEE" }, wantErr: true},
		{name: "zero hold ttl", mutate: func(c *Config) { c.Booking.HoldTTL = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := &DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "booking", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=booking sslmode=disable", d.DSN())
}
