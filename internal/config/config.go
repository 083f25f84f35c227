package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tourbook/internal/cache"
	"tourbook/internal/database"
	"tourbook/internal/external"
	"tourbook/internal/messaging"
	"tourbook/internal/notifier"
)

// Драйверы хранилища
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	// Профилирование
	PprofEnabled bool
	PprofPort    string

	StoreDriver string

	// учетная запись администратора для memory-режима и генератора
	AdminEmail    string
	AdminPassword string

	Database      database.Config
	NATS          messaging.Config
	Valkey        cache.Config
	ValkeyEnabled bool
	Elasticsearch ElasticsearchConfig
	Payment       external.PaymentConfig
	Booking       BookingConfig
	SMTP          notifier.Config
}

// BookingConfig - политика бронирования
type BookingConfig struct {
	DefaultCapacity     int
	LeadTimeDays        int
	Timezone            string
	RefPrefix           string
	HoldTTL             time.Duration
	SweepInterval       time.Duration
	MaxAvailabilityDays int
	ApplyCouponStrict   bool
}

// Location возвращает часовой пояс, в котором считается сегодняшняя дата
func (b BookingConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKING_TIMEZONE %q: %w", b.Timezone, err)
	}
	return loc, nil
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Port:           v.GetString("PORT"),
		GinMode:        v.GetString("GIN_MODE"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
		RequestTimeout: time.Duration(v.GetInt("REQUEST_TIMEOUT_SEC")) * time.Second,

		PprofEnabled: v.GetBool("PPROF_ENABLED"),
		PprofPort:    v.GetString("PPROF_PORT"),

		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),

		AdminEmail:    v.GetString("ADMIN_EMAIL"),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),

		Database: database.Config{
			Host:               v.GetString("DB_HOST"),
			Port:               v.GetInt("DB_PORT"),
			User:               v.GetString("DB_USER"),
			Password:           v.GetString("DB_PASSWORD"),
			DBName:             v.GetString("DB_NAME"),
			SSLMode:            v.GetString("DB_SSLMODE"),
			MaxOpenConns:       v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:       v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetimeMin: v.GetInt("DB_CONN_MAX_LIFETIME_MIN"),
			ConnMaxIdleTimeMin: v.GetInt("DB_CONN_MAX_IDLE_TIME_MIN"),
		},

		NATS: messaging.Config{
			Enabled:   v.GetBool("NATS_ENABLED"),
			URL:       v.GetString("NATS_URL"),
			ClusterID: v.GetString("NATS_CLUSTER_ID"),
			ClientID:  v.GetString("NATS_CLIENT_ID"),
		},

		ValkeyEnabled: v.GetBool("VALKEY_ENABLED"),
		Valkey: cache.Config{
			Addr:         v.GetString("VALKEY_ADDR"),
			Password:     v.GetString("VALKEY_PASSWORD"),
			DB:           v.GetInt("VALKEY_DB"),
			UsersHashKey: v.GetString("VALKEY_USERS_HASH_KEY"),
			ActivityTTL:  v.GetDuration("VALKEY_ACTIVITY_TTL"),
		},

		Elasticsearch: loadElasticsearchConfig(v),

		Payment: external.PaymentConfig{
			BaseURL:             v.GetString("PAYMENT_GATEWAY_URL"),
			APIKey:              v.GetString("PAYMENT_API_KEY"),
			SecretKey:           v.GetString("PAYMENT_SECRET_KEY"),
			Timeout:             time.Duration(v.GetInt("PAYMENT_TIMEOUT_SEC")) * time.Second,
			CallbackURL:         v.GetString("PAYMENT_CALLBACK_URL"),
			ResultURL:           v.GetString("PAYMENT_RESULT_URL"),
			Locale:              v.GetString("PAYMENT_LOCALE"),
			EnabledInstallments: parseIntList(v.GetString("PAYMENT_ENABLED_INSTALLMENTS")),
			TokenTTL:            v.GetDuration("PAYMENT_TOKEN_TTL"),
		},

		Booking: BookingConfig{
			DefaultCapacity:     v.GetInt("BOOKING_DEFAULT_CAPACITY"),
			LeadTimeDays:        v.GetInt("BOOKING_LEAD_TIME_DAYS"),
			Timezone:            v.GetString("BOOKING_TIMEZONE"),
			RefPrefix:           strings.ToUpper(v.GetString("BOOKING_REF_PREFIX")),
			HoldTTL:             v.GetDuration("BOOKING_HOLD_TTL"),
			SweepInterval:       v.GetDuration("BOOKING_SWEEP_INTERVAL"),
			MaxAvailabilityDays: v.GetInt("BOOKING_MAX_AVAILABILITY_DAYS"),
			ApplyCouponStrict:   v.GetBool("BOOKING_APPLY_COUPON_STRICT"),
		},

		SMTP: notifier.Config{
			Enabled:  v.GetBool("SMTP_ENABLED"),
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
			FromName: v.GetString("SMTP_FROM_NAME"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8081")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("REQUEST_TIMEOUT_SEC", 30)
	v.SetDefault("PPROF_ENABLED", false)
	v.SetDefault("PPROF_PORT", "6060")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("ADMIN_EMAIL", "admin@localhost")
	v.SetDefault("ADMIN_PASSWORD", "admin")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "tourbook")
	v.SetDefault("DB_PASSWORD", "tourbook")
	v.SetDefault("DB_NAME", "tourbook")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MIN", 5)
	v.SetDefault("DB_CONN_MAX_IDLE_TIME_MIN", 1)

	v.SetDefault("NATS_ENABLED", true)
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_CLUSTER_ID", "tourbook")
	v.SetDefault("NATS_CLIENT_ID", "tourbook-api")

	v.SetDefault("VALKEY_ENABLED", true)
	v.SetDefault("VALKEY_ADDR", "localhost:6379")
	v.SetDefault("VALKEY_DB", 0)
	v.SetDefault("VALKEY_USERS_HASH_KEY", "users:auth")
	v.SetDefault("VALKEY_ACTIVITY_TTL", 5*time.Minute)

	v.SetDefault("PAYMENT_GATEWAY_URL", "https://sandbox-api.iyzipay.com")
	v.SetDefault("PAYMENT_TIMEOUT_SEC", 15)
	v.SetDefault("PAYMENT_CALLBACK_URL", "http://localhost:8081/api/payments/callback")
	v.SetDefault("PAYMENT_RESULT_URL", "http://localhost:3000/booking/result")
	v.SetDefault("PAYMENT_LOCALE", "en")
	v.SetDefault("PAYMENT_ENABLED_INSTALLMENTS", "1,2,3,6,9")
	v.SetDefault("PAYMENT_TOKEN_TTL", 30*time.Minute)

	v.SetDefault("BOOKING_DEFAULT_CAPACITY", 20)
	v.SetDefault("BOOKING_LEAD_TIME_DAYS", 1)
	v.SetDefault("BOOKING_TIMEZONE", "Europe/Istanbul")
	v.SetDefault("BOOKING_REF_PREFIX", "TB")
	v.SetDefault("BOOKING_HOLD_TTL", 45*time.Minute)
	v.SetDefault("BOOKING_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("BOOKING_MAX_AVAILABILITY_DAYS", 366)
	v.SetDefault("BOOKING_APPLY_COUPON_STRICT", false)

	v.SetDefault("SMTP_ENABLED", false)
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 1025)
	v.SetDefault("SMTP_FROM", "bookings@localhost")
	v.SetDefault("SMTP_FROM_NAME", "Tour Bookings")
}

// parseIntList парсит список чисел через запятую, пропуская мусор
func parseIntList(raw string) []int {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
