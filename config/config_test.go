package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DELIVERY_FEE", "")
	t.Setenv("MATCHING_RADIUS_KM", "")

	cfg := Load()

	assert.Equal(t, int64(500), cfg.Business.DeliveryFee)
	assert.Equal(t, 10.0, cfg.Business.MatchingRadiusKm)
	assert.Equal(t, 20.0, cfg.Business.AverageSpeedKmh)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DELIVERY_FEE", "750")
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("JWT_TTL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, int64(750), cfg.Business.DeliveryFee)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}
