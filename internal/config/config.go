package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Vision    VisionConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Owner     OwnerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	EmbedModel  string
	VisionModel string
}

type VisionConfig struct {
	TimeoutSeconds int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
}

type OwnerConfig struct {
	ID string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		LLM: LLMConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "anthropic/claude-sonnet-4",
			EmbedModel:  "openai/text-embedding-3-small",
			VisionModel: "openai/gpt-4o-mini",
		},
		Vision: VisionConfig{
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Retrieval: RetrievalConfig{
			TopK:      5,
			Threshold: 0.25,
		},
		Owner: OwnerConfig{
			ID: "local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.huddle.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/huddle/config.json
// and secrets live in a mode-0600 secrets file under $XDG_DATA_HOME.
//
// Environment variables (HUDDLE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the LLM API key if still empty.
	if cfg.LLM.APIKey == "" {
		if key, err := kc.Get("huddle", "llm_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}

	if cfg.LLM.APIKey == "" {
		msg := "missing required config: LLM API key. " +
			"Set it via environment variable HUDDLE_LLM_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
