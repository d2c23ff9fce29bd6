package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PAYMENT_TIMEOUT", "")
	t.Setenv("PAYHERE_ENV", "")
	t.Setenv("CURRENCY", "")

	cfg := FromEnv()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Hour, cfg.PaymentTimeout)
	assert.Equal(t, "sandbox", cfg.PayHereEnv)
	assert.Equal(t, "LKR", cfg.Currency)
	assert.Equal(t, 14, cfg.DeliveryDays)
}

func TestFromEnvParsesUnits(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "15")
	t.Setenv("ANON_CART_TTL", "2")
	t.Setenv("RESERVATION_TIMEOUT", "not-a-number")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example/")

	cfg := FromEnv()
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2*time.Hour, cfg.AnonCartTTL)
	assert.Equal(t, 10*time.Minute, cfg.ReservationTimeout)
	assert.Equal(t, "https://shop.example/payments/notify", cfg.NotifyURL())
}

func TestValidateListsMissingSecrets(t *testing.T) {
	err := Config{StoreDriver: "mongo"}.Validate()
	require.Error(t, err)
	for _, key := range []string{"JWT_SECRET", "PAYHERE_MERCHANT_ID", "PAYHERE_MERCHANT_SECRET", "MONGO_URI"} {
		assert.Contains(t, err.Error(), key)
	}

	ok := Config{StoreDriver: "memory", JWTSecret: "x", PayHereMerchantID: "1", PayHereMerchantSecret: "s"}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.StoreDriver = "redis"
	assert.Error(t, bad.Validate())
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := Config{JWTSecret: "jwt-very-secret", PayHereMerchantSecret: "merchant-very-secret", PayHereMerchantID: "1211149"}
	out := cfg.Redacted()
	assert.NotContains(t, out, "very-secret")
	assert.Contains(t, out, "merchant=1211149")
	assert.Contains(t, out, "merchant_secret=set")
}
