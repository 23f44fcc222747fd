package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `
telegram:
  token: test-token
wallet:
  secret: test-secret
chain:
  rpc_url: http://localhost:8545
assets:
  trade: "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
venues:
  pooled:
    - name: amm
      base_url: http://localhost:9000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	settings, err := Load(GlobalFlags{ConfigPath: writeConfig(t, minimalConfig), Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout, got %s", settings.Timeout)
	}
	if settings.DefaultSlippageBps != 100 || settings.ServiceFeeBps != 100 {
		t.Fatalf("expected default bps, got %d/%d", settings.DefaultSlippageBps, settings.ServiceFeeBps)
	}
	if settings.SessionIdleTTL != 30*time.Minute {
		t.Fatalf("expected default idle ttl, got %s", settings.SessionIdleTTL)
	}
	if len(settings.PooledVenues) != 1 || settings.PooledVenues[0].Name != "amm" {
		t.Fatalf("unexpected venues %+v", settings.PooledVenues)
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	path := writeConfig(t, minimalConfig+"timeout: 3s\nretries: 1\n")

	t.Setenv("DEXBOT_TIMEOUT", "7s")
	settings, err := Load(GlobalFlags{ConfigPath: path, Timeout: "12s", Retries: 5})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.Timeout != 12*time.Second {
		t.Fatalf("expected flag to win, got %s", settings.Timeout)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	t.Setenv("DEXBOT_TELEGRAM_TOKEN", "env-token")
	settings, err := Load(GlobalFlags{ConfigPath: path, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.TelegramToken != "env-token" {
		t.Fatalf("expected env token, got %q", settings.TelegramToken)
	}
}

func TestLoadRejectsMissingToken(t *testing.T) {
	path := writeConfig(t, `
wallet:
  secret: test-secret
chain:
  rpc_url: http://localhost:8545
assets:
  trade: "0xee"
venues:
  pooled:
    - name: amm
      base_url: http://localhost:9000
`)
	if _, err := Load(GlobalFlags{ConfigPath: path, Retries: -1}); err == nil {
		t.Fatal("expected error for missing telegram token")
	}
}

func TestLoadRejectsInvalidFee(t *testing.T) {
	path := writeConfig(t, minimalConfig+"trading:\n  service_fee_bps: 10000\n")
	if _, err := Load(GlobalFlags{ConfigPath: path, Retries: -1}); err == nil {
		t.Fatal("expected error for out-of-range fee")
	}
}
