package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load("api")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.Equal(t, "api", cfg.Server.ServiceName)
	assert.Equal(t, int64(10), cfg.Payments.PlatformFeePercent)
	assert.Equal(t, "eur", cfg.Payments.Currency)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.False(t, cfg.Redis.Enabled, "cache must be disabled when REDIS_HOST is unset")
	assert.False(t, cfg.NATS.Enabled)
	assert.NotEmpty(t, cfg.JWT.Secret, "development gets a fallback secret")
}

func TestLoadProductionRequiresJWTSecrets(t *testing.T) {
	os.Clearenv()
	os.Setenv("ENVIRONMENT", "production")

	_, err := Load("api")
	assert.Error(t, err)

	os.Setenv("JWT_SECRET", "s1")
	os.Setenv("JWT_REFRESH_SECRET", "s2")
	cfg, err := Load("api")
	require.NoError(t, err)
	assert.Equal(t, "s1", cfg.JWT.Secret)
	assert.Equal(t, "s2", cfg.JWT.RefreshSecret)
}

func TestLoadCustomValues(t *testing.T) {
	os.Clearenv()
	os.Setenv("REDIS_HOST", "redis.internal")
	os.Setenv("NATS_URL", "nats://localhost:4222")
	os.Setenv("PLATFORM_FEE_PERCENT", "15")
	os.Setenv("ACCESS_TTL", "30m")
	os.Setenv("REFRESH_TTL", "168h")

	cfg, err := Load("api")
	require.NoError(t, err)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.RedisAddr())
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, int64(15), cfg.Payments.PlatformFeePercent)
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.JWT.RefreshTTL)
}

func TestLoadRejectsOutOfRangeFee(t *testing.T) {
	os.Clearenv()
	os.Setenv("PLATFORM_FEE_PERCENT", "101")

	_, err := Load("api")
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", DBName: "carpool", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=carpool sslmode=disable", cfg.DSN())
	assert.Equal(t, "pgx5://u:p@db:5432/carpool?sslmode=disable", cfg.MigrateURL())
}
