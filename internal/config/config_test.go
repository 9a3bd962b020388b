package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Load()
	cfg.WalletAddress = "TXYZabc1234567890123456789012345678"
	return cfg
}

func TestValidateRequiresWalletAddress(t *testing.T) {
	cfg := validConfig()
	cfg.WalletAddress = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when WALLET_ADDRESS is unset")
	}
	if !strings.Contains(err.Error(), "WALLET_ADDRESS") {
		t.Fatalf("expected WALLET_ADDRESS error, got: %v", err)
	}
}

func TestValidateRequiresHTTPS(t *testing.T) {
	cfg := validConfig()
	cfg.TronscanAPIURL = "http://apilist.tronscanapi.com/api"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "https") {
		t.Fatalf("expected https validation error, got: %v", err)
	}
}

func TestValidateAggregatesMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.WalletAddress = ""
	cfg.APIRequestsPerMinute = 0
	cfg.DBPoolSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected aggregated validation error")
	}
	msg := err.Error()
	for _, want := range []string{"WALLET_ADDRESS", "API_REQUESTS_PER_MINUTE", "DB_POOL_SIZE"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected aggregated error to mention %s, got: %s", want, msg)
		}
	}
}

func TestValidatePasses(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_REQUESTS_PER_MINUTE", "")
	t.Setenv("API_RATE_LIMIT", "")
	cfg := Load()
	if cfg.APIRequestsPerMinute != 20 {
		t.Errorf("expected default API_REQUESTS_PER_MINUTE=20, got %d", cfg.APIRequestsPerMinute)
	}
	if cfg.DBPoolSize != 5 {
		t.Errorf("expected default DB_POOL_SIZE=5, got %d", cfg.DBPoolSize)
	}
	if cfg.DefaultFormExpiresHours != 24 {
		t.Errorf("expected default DEFAULT_FORM_EXPIRES_HOURS=24, got %d", cfg.DefaultFormExpiresHours)
	}
}

func TestLoadInvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("DB_POOL_SIZE", "not-a-number")
	cfg := Load()
	if cfg.DBPoolSize != 5 {
		t.Errorf("expected fallback to default on invalid int, got %d", cfg.DBPoolSize)
	}
}

func TestGetEnvSliceParsesCommaSeparated(t *testing.T) {
	t.Setenv("BLACKLISTED_ADDRESSES", "TAddr1, TAddr2 ,TAddr3")
	cfg := Load()
	want := []string{"TAddr1", "TAddr2", "TAddr3"}
	if len(cfg.BlacklistedAddresses) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.BlacklistedAddresses)
	}
	for i, w := range want {
		if cfg.BlacklistedAddresses[i] != w {
			t.Errorf("index %d: expected %q, got %q", i, w, cfg.BlacklistedAddresses[i])
		}
	}
}
