package config

import (
	"testing"
	"time"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend struct {
	data map[string]any
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m *mapBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *mapBackend) Delete(key string) error         { delete(m.data, key); return nil }

// TestDefaults verifies default values survive an empty backend.
func TestDefaults(t *testing.T) {
	t.Setenv("CAMPA_CAMPAIGN_API_KEY", "test-key")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q, want default", cfg.LLM.BaseURL)
	}
	if cfg.Memory.RecentTurns != 10 {
		t.Errorf("Memory.RecentTurns = %d, want 10", cfg.Memory.RecentTurns)
	}
	if cfg.Memory.CheckpointTTL != 30*time.Minute {
		t.Errorf("Memory.CheckpointTTL = %v, want 30m", cfg.Memory.CheckpointTTL)
	}
	if cfg.Campaign.APIKey != "test-key" {
		t.Errorf("Campaign.APIKey = %q, want test-key", cfg.Campaign.APIKey)
	}
}

// TestBackendValuesApplied verifies backend values override defaults.
func TestBackendValuesApplied(t *testing.T) {
	t.Setenv("CAMPA_CAMPAIGN_API_KEY", "test-key")

	b := &mapBackend{data: map[string]any{
		"server.port":           5000,
		"llm.analyzer_model":    "qwen2.5",
		"memory.recent_turns":   4,
		"memory.checkpoint_ttl": "5m",
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.LLM.AnalyzerModel != "qwen2.5" {
		t.Errorf("LLM.AnalyzerModel = %q, want qwen2.5", cfg.LLM.AnalyzerModel)
	}
	if cfg.Memory.RecentTurns != 4 {
		t.Errorf("Memory.RecentTurns = %d, want 4", cfg.Memory.RecentTurns)
	}
	if cfg.Memory.CheckpointTTL != 5*time.Minute {
		t.Errorf("Memory.CheckpointTTL = %v, want 5m", cfg.Memory.CheckpointTTL)
	}
}

// TestEnvOverridesBackend verifies env vars beat backend values.
func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("CAMPA_CAMPAIGN_API_KEY", "test-key")
	t.Setenv("CAMPA_SERVER_PORT", "7777")

	b := &mapBackend{data: map[string]any{"server.port": 5000}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (env override)", cfg.Server.Port)
	}
}

// TestAPITokenEnvName pins the env var that feeds server.api_token; the CLI
// points operators at it by name.
func TestAPITokenEnvName(t *testing.T) {
	t.Setenv("CAMPA_CAMPAIGN_API_KEY", "test-key")
	t.Setenv("CAMPA_API_TOKEN", "stable-token")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.APIToken != "stable-token" {
		t.Errorf("Server.APIToken = %q, want the CAMPA_API_TOKEN value", cfg.Server.APIToken)
	}
}

// TestMissingAPIKey verifies Load fails without the campaign API key.
func TestMissingAPIKey(t *testing.T) {
	t.Setenv("CAMPA_CAMPAIGN_API_KEY", "")

	if _, err := loadWith(&mapBackend{data: map[string]any{}}); err == nil {
		t.Fatal("expected error for missing campaign API key, got nil")
	}
}
