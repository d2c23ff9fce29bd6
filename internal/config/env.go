package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	require("JWT_SECRET", c.JWTSecret)
	require("PAYHERE_MERCHANT_ID", c.PayHereMerchantID)
	require("PAYHERE_MERCHANT_SECRET", c.PayHereMerchantSecret)

	switch c.StoreDriver {
	case "mongo":
		require("MONGO_URI", c.MongoURI)
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be mongo or memory, got %q", c.StoreDriver)
	}

	if (c.StaffEmail == "") != (c.StaffPassword == "") {
		missing = append(missing, "STAFF_EMAIL and STAFF_PASSWORD together")
	}

	if len(missing) > 0 {
		return errors.New("ENV " + strings.Join(missing, ", ") + " required")
	}
	return nil
}

// Redacted summarizes the configuration for the startup log. Secrets are
// reported only as set or unset.
func (c Config) Redacted() string {
	state := func(v string) string {
		if v == "" {
			return "unset"
		}
		return "set"
	}
	return fmt.Sprintf(
		"port=%s driver=%s db=%s payhere_env=%s merchant=%s merchant_secret=%s jwt_secret=%s currency=%s kafka=%q payment_timeout=%s sweep=%s staff_password=%s",
		c.Port, c.StoreDriver, c.DBName, c.PayHereEnv, c.PayHereMerchantID, state(c.PayHereMerchantSecret),
		state(c.JWTSecret), c.Currency, c.KafkaBrokers, c.PaymentTimeout, c.SweepInterval,
		state(c.StaffPassword),
	)
}
