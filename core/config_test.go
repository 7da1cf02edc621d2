package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "test config", mutate: func(*Config) {}},
		{name: "no secret key", mutate: func(c *Config) { c.SecretKey = "" }, wantErr: true},
		{name: "no currency", mutate: func(c *Config) { c.Payment.Currency = "" }, wantErr: true},
		{name: "no reconcile attempts", mutate: func(c *Config) { c.Reconcile.MaxAttempts = 0 }, wantErr: true},
		{name: "no reconcile concurrency", mutate: func(c *Config) { c.Reconcile.Concurrency = 0 }, wantErr: true},
		{name: "negative fee", mutate: func(c *Config) { c.Payment.FeePercentage = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "fee over 100", mutate: func(c *Config) { c.Payment.FeePercentage = decimal.NewFromInt(101) }, wantErr: true},
		{name: "zero fee", mutate: func(c *Config) { c.Payment.FeePercentage = decimal.Zero }},
		{name: "http gateway without url", mutate: func(c *Config) { c.Payment.Gateway = "http" }, wantErr: true},
		{
			name: "http gateway",
			mutate: func(c *Config) {
				c.Payment.Gateway = "http"
				c.Payment.GatewayURL = "https://pay.test"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := NewTestConfig()
			tt.mutate(conf)
			err := conf.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCleanOrderings(t *testing.T) {
	allowed := map[string]string{"created_at": "created_at", "month": "month_number"}
	got := CleanOrderings([]DBOrdering{
		{Field: "Month", Ascending: true},
		{Field: "password"},
		{Field: "created_at"},
	}, allowed)

	assert.Equal(t, []DBOrdering{
		{Field: "month_number", Ascending: true},
		{Field: "created_at"},
	}, got)
	assert.Equal(t, "month_number ASC", got[0].String())
	assert.Equal(t, "created_at DESC", got[1].String())
}
