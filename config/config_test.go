package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_CART_QUANTITY", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, 10, cfg.Business.MaxCartQuantity)
	assert.Equal(t, 5*time.Second, cfg.Business.CartLockTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Business.OutboxPollInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_CART_QUANTITY", "25")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("OUTBOX_BATCH_SIZE", "-3")
	t.Setenv("DB_AUTO_MIGRATE", "false")

	cfg := Load()
	assert.Equal(t, 25, cfg.Business.MaxCartQuantity)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.Business.OutboxBatchSize)
	assert.False(t, cfg.Database.AutoMigrate)
}
