package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var AppEnv Config

type Config struct {
	Port        string
	StoreDriver string
	MongoURI    string
	DBName      string

	JWTSecret      string
	AccessTokenTTL time.Duration

	PayHereMerchantID     string
	PayHereMerchantSecret string
	PayHereEnv            string
	Currency              string
	PublicBaseURL         string

	PaymentTimeout     time.Duration
	ReservationTimeout time.Duration
	SweepInterval      time.Duration
	CheckoutSessionTTL time.Duration
	AnonCartTTL        time.Duration
	DeliveryDays       int

	KafkaBrokers    string
	KafkaOrderTopic string

	// Optional first staff account, created at startup when missing.
	StaffEmail    string
	StaffPassword string
}

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded:", err)
	}
	AppEnv = FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() Config {
	return Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		StoreDriver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", "mongo")),
		MongoURI:    getEnvOrDefault("MONGO_URI", ""),
		DBName:      getEnvOrDefault("DB_NAME", "storefront"),

		JWTSecret:      getEnvOrDefault("JWT_SECRET", ""),
		AccessTokenTTL: getDurationEnv("ACCESS_TOKEN_TTL", 20, time.Minute),

		PayHereMerchantID:     getEnvOrDefault("PAYHERE_MERCHANT_ID", ""),
		PayHereMerchantSecret: getEnvOrDefault("PAYHERE_MERCHANT_SECRET", ""),
		PayHereEnv:            strings.ToLower(getEnvOrDefault("PAYHERE_ENV", "sandbox")),
		Currency:              strings.ToUpper(getEnvOrDefault("CURRENCY", "LKR")),
		PublicBaseURL:         strings.TrimRight(getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		PaymentTimeout:     getDurationEnv("PAYMENT_TIMEOUT", 60, time.Minute),
		ReservationTimeout: getDurationEnv("RESERVATION_TIMEOUT", 10, time.Minute),
		SweepInterval:      getDurationEnv("SWEEP_INTERVAL", 60, time.Second),
		CheckoutSessionTTL: getDurationEnv("CHECKOUT_SESSION_TTL", 30, time.Minute),
		AnonCartTTL:        getDurationEnv("ANON_CART_TTL", 72, time.Hour),
		DeliveryDays:       getIntEnv("DELIVERY_DAYS", 14),

		KafkaBrokers:    getEnvOrDefault("KAFKA_BROKERS", ""),
		KafkaOrderTopic: getEnvOrDefault("KAFKA_ORDER_TOPIC", "storefront.orders"),

		StaffEmail:    strings.ToLower(strings.TrimSpace(getEnvOrDefault("STAFF_EMAIL", ""))),
		StaffPassword: getEnvOrDefault("STAFF_PASSWORD", ""),
	}
}

func (c Config) ReturnURL() string { return c.PublicBaseURL + "/thankyou.html" }
func (c Config) CancelURL() string { return c.PublicBaseURL + "/checkout-payment.html" }
func (c Config) NotifyURL() string { return c.PublicBaseURL + "/payments/notify" }

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int, unit time.Duration) time.Duration {
	return time.Duration(getIntEnv(key, defaultValue)) * unit
}
