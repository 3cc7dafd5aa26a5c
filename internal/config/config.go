package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Campaign CampaignConfig
	Docs     DocsConfig
	Memory   MemoryConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type LLMConfig struct {
	BaseURL       string
	AnalyzerModel string
	AnswerModel   string
	CallTimeout   time.Duration
}

type StorageConfig struct {
	DataDir string
}

// CampaignConfig points at the campaign data API (external collaborator).
type CampaignConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DocsConfig points at the document search service (external collaborator).
type DocsConfig struct {
	BaseURL string
	TopK    int
	Timeout time.Duration
}

// MemoryConfig bounds the two memory layers. The recent-turns cap and the
// checkpoint eviction policy are deliberate defaults, both overridable.
type MemoryConfig struct {
	RecentTurns        int
	CheckpointTTL      time.Duration
	CheckpointCapacity int
	FlushMaxAttempts   int
	FlushPollInterval  time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		LLM: LLMConfig{
			BaseURL:       "http://localhost:11434",
			AnalyzerModel: "phi3.5",
			AnswerModel:   "mistral-nemo",
			CallTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Campaign: CampaignConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 5 * time.Second,
		},
		Docs: DocsConfig{
			BaseURL: "http://localhost:8030",
			TopK:    3,
			Timeout: 5 * time.Second,
		},
		Memory: MemoryConfig{
			RecentTurns:        10,
			CheckpointTTL:      30 * time.Minute,
			CheckpointCapacity: 1024,
			FlushMaxAttempts:   5,
			FlushPollInterval:  2 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend
// ($XDG_CONFIG_HOME/campa/config.json, if present) with CAMPA_* environment
// variables overriding file values.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Campaign.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: campaign API key; set the CAMPA_CAMPAIGN_API_KEY environment variable")
	}

	return cfg, nil
}
