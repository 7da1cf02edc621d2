package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kat-co/vala"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName         string
		Build           string
		Env             string // DEV (local; default), TEST, QA, PROD
		Debug           bool
		TestMode        bool
		WorkDir         string
		SecretKey       string
		RollbarToken    string
		FrontendBaseURL string

		Database     DatabaseConfig
		Server       ServerConfig
		Email        EmailConfig
		Payment      PaymentConfig
		Reconcile    ReconcileConfig
		Subscription SubscriptionConfig
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Name          string
		DisableTLS    bool
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	EmailConfig struct {
		DefaultFromEmail mail.Address
		SendgridAPIKey   string
	}

	PaymentConfig struct {
		FeePercentage    decimal.Decimal
		Currency         string
		Gateway          string // mock | http
		GatewayURL       string
		GatewayAPIKey    string
		GatewayTimeout   time.Duration
		NextPaymentDelta time.Duration
	}

	ReconcileConfig struct {
		Schedule    string
		MaxAttempts int
		Concurrency int
	}

	SubscriptionConfig struct {
		GracePeriod    time.Duration
		ExpirySchedule string
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

// NewConfig loads the configuration from the environment (and `config/.env.<env>` if it exists).
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("appName", "Darasa")
	conf.SetDefault("secretKey", "k9t%-t6n!)x2pa$vrq=+c3hw8m@e7$zq*dy5b(u#0s&kfj4gl")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("frontendBaseUrl", "http://localhost:3000")

	conf.SetDefault("databaseEngine", "postgres")
	conf.SetDefault("databaseHost", "localhost")
	conf.SetDefault("databasePort", "5432")
	conf.SetDefault("databaseUser", "darasa")
	conf.SetDefault("databasePassword", "darasa")
	conf.SetDefault("databaseAdminUser", "postgres")
	conf.SetDefault("databaseAdminPassword", "postgres")
	conf.SetDefault("databaseName", "darasa")
	conf.SetDefault("databaseDisableTls", true)

	conf.SetDefault("serverHost", "0.0.0.0:8000")
	conf.SetDefault("serverDebugHost", "0.0.0.0:4000")
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("shutdownTimeout", 5*time.Second)

	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("platformFeePercentage", "10")
	conf.SetDefault("paymentCurrency", "USD")
	conf.SetDefault("paymentGateway", "mock")
	conf.SetDefault("paymentGatewayUrl", "")
	conf.SetDefault("paymentGatewayApiKey", "")
	conf.SetDefault("paymentGatewayTimeout", 10*time.Second)
	conf.SetDefault("nextPaymentDelta", 30*24*time.Hour)

	conf.SetDefault("reconcileSchedule", "@every 5m")
	conf.SetDefault("reconcileMaxAttempts", 10)
	conf.SetDefault("reconcileConcurrency", 4)

	conf.SetDefault("subscriptionGracePeriod", 3*24*time.Hour)
	conf.SetDefault("subscriptionExpirySchedule", "@daily")

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		conf.SetDefault("testMode", true)
		conf.SetDefault("databaseEngine", "memory")
	}
	conf.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	feePct, err := decimal.NewFromString(conf.GetString("platformFeePercentage"))
	if err != nil {
		log.Fatalf("config.platformFeePercentage: %v", err)
	}

	cfg := &Config{
		AppName:         conf.GetString("appName"),
		Build:           conf.GetString("build"),
		Env:             env,
		Debug:           conf.GetBool("debug"),
		TestMode:        conf.GetBool("testMode"),
		WorkDir:         wd,
		SecretKey:       conf.GetString("secretKey"),
		RollbarToken:    conf.GetString("rollbarToken"),
		FrontendBaseURL: conf.GetString("frontendBaseUrl"),
		Database: DatabaseConfig{
			Engine:        conf.GetString("databaseEngine"),
			Host:          conf.GetString("databaseHost"),
			Port:          conf.GetString("databasePort"),
			User:          conf.GetString("databaseUser"),
			Password:      conf.GetString("databasePassword"),
			AdminUser:     conf.GetString("databaseAdminUser"),
			AdminPassword: conf.GetString("databaseAdminPassword"),
			Name:          conf.GetString("databaseName"),
			DisableTLS:    conf.GetBool("databaseDisableTls"),
		},
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			DebugHost:                 conf.GetString("serverDebugHost"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
			ShutdownTimeout:           conf.GetDuration("shutdownTimeout"),
		},
		Email: EmailConfig{
			DefaultFromEmail: mail.Address{Name: conf.GetString("appName"), Address: conf.GetString("defaultFromEmail")},
			SendgridAPIKey:   conf.GetString("sendgridApiKey"),
		},
		Payment: PaymentConfig{
			FeePercentage:    feePct,
			Currency:         strings.ToUpper(conf.GetString("paymentCurrency")),
			Gateway:          conf.GetString("paymentGateway"),
			GatewayURL:       conf.GetString("paymentGatewayUrl"),
			GatewayAPIKey:    conf.GetString("paymentGatewayApiKey"),
			GatewayTimeout:   conf.GetDuration("paymentGatewayTimeout"),
			NextPaymentDelta: conf.GetDuration("nextPaymentDelta"),
		},
		Reconcile: ReconcileConfig{
			Schedule:    conf.GetString("reconcileSchedule"),
			MaxAttempts: conf.GetInt("reconcileMaxAttempts"),
			Concurrency: conf.GetInt("reconcileConcurrency"),
		},
		Subscription: SubscriptionConfig{
			GracePeriod:    conf.GetDuration("subscriptionGracePeriod"),
			ExpirySchedule: conf.GetString("subscriptionExpirySchedule"),
		},
	}
	if err = cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Validate checks the settings the services cannot run without.
func (c *Config) Validate() error {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(c.AppName, "appName"),
		vala.StringNotEmpty(c.SecretKey, "secretKey"),
		vala.StringNotEmpty(c.Payment.Currency, "paymentCurrency"),
		vala.GreaterThan(c.Reconcile.MaxAttempts, 0, "reconcileMaxAttempts"),
		vala.GreaterThan(c.Reconcile.Concurrency, 0, "reconcileConcurrency"),
	).Check(); err != nil {
		return err
	}
	if c.Payment.FeePercentage.IsNegative() || c.Payment.FeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("platformFeePercentage must be within [0, 100], got %s", c.Payment.FeePercentage)
	}
	if c.Payment.Gateway == "http" && c.Payment.GatewayURL == "" {
		return fmt.Errorf("paymentGatewayUrl is required with the http gateway")
	}
	return nil
}

// NewTestConfig returns a Config suitable for tests: in-memory storage, mocked gateway, no rollbar.
func NewTestConfig() *Config {
	return &Config{
		AppName:   "Darasa",
		Build:     "test",
		Env:       "TEST",
		Debug:     true,
		TestMode:  true,
		WorkDir:   Getwd(),
		SecretKey: "secret",
		Database:  DatabaseConfig{Engine: "memory"},
		Server: ServerConfig{
			Host:                      "localhost:8000",
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			ShutdownTimeout:           time.Second,
		},
		Email: EmailConfig{DefaultFromEmail: mail.Address{Name: "Darasa", Address: "noreply@localhost"}},
		Payment: PaymentConfig{
			FeePercentage:    decimal.NewFromInt(10),
			Currency:         "USD",
			Gateway:          "mock",
			GatewayTimeout:   time.Second,
			NextPaymentDelta: 30 * 24 * time.Hour,
		},
		Reconcile:    ReconcileConfig{Schedule: "@every 5m", MaxAttempts: 3, Concurrency: 2},
		Subscription: SubscriptionConfig{GracePeriod: 3 * 24 * time.Hour, ExpirySchedule: "@daily"},
	}
}
