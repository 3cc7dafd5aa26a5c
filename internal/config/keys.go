package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CAMPA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "CAMPA_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "CAMPA_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "llm.base_url", typ: kString, env: "CAMPA_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.analyzer_model", typ: kString, env: "CAMPA_LLM_ANALYZER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.AnalyzerModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnalyzerModel },
	},
	{
		key: "llm.answer_model", typ: kString, env: "CAMPA_LLM_ANSWER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.AnswerModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.AnswerModel },
	},
	{
		key: "llm.call_timeout", typ: kDuration, env: "CAMPA_LLM_CALL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.CallTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.CallTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CAMPA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "campaign.base_url", typ: kString, env: "CAMPA_CAMPAIGN_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Campaign.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Campaign.BaseURL },
	},
	{
		key: "campaign.api_key", typ: kString, env: "CAMPA_CAMPAIGN_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Campaign.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Campaign.APIKey },
	},
	{
		key: "campaign.timeout", typ: kDuration, env: "CAMPA_CAMPAIGN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Campaign.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Campaign.Timeout },
	},
	{
		key: "docs.base_url", typ: kString, env: "CAMPA_DOCS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Docs.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Docs.BaseURL },
	},
	{
		key: "docs.top_k", typ: kInt, env: "CAMPA_DOCS_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Docs.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Docs.TopK },
	},
	{
		key: "docs.timeout", typ: kDuration, env: "CAMPA_DOCS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Docs.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Docs.Timeout },
	},
	{
		key: "memory.recent_turns", typ: kInt, env: "CAMPA_MEMORY_RECENT_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Memory.RecentTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.RecentTurns },
	},
	{
		key: "memory.checkpoint_ttl", typ: kDuration, env: "CAMPA_MEMORY_CHECKPOINT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Memory.CheckpointTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.CheckpointTTL },
	},
	{
		key: "memory.checkpoint_capacity", typ: kInt, env: "CAMPA_MEMORY_CHECKPOINT_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Memory.CheckpointCapacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.CheckpointCapacity },
	},
	{
		key: "memory.flush_max_attempts", typ: kInt, env: "CAMPA_MEMORY_FLUSH_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Memory.FlushMaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.FlushMaxAttempts },
	},
	{
		key: "memory.flush_poll_interval", typ: kDuration, env: "CAMPA_MEMORY_FLUSH_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Memory.FlushPollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Memory.FlushPollInterval },
	},
	{
		key: "log.level", typ: kString, env: "CAMPA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the file backend.
func SetKey(key, value string) error {
	b := newFileBackend()

	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		switch s.typ {
		case kString, kDuration:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}
