package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/handlers"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/MegaGrindStone/chat-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	completer(systemPrompt string, logger *slog.Logger) (conversation.Completer, handlers.Transcriber, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port             string
	SystemPrompt     string
	DefaultModel     string
	DefaultMaxTokens int
	RateLimit        rateLimitConfig
	LLM              llmConfig
	Models           map[string]models.ModelInfo
	PromptTemplates  map[string]string
}

type rateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Per      time.Duration `yaml:"per"`
}

type openAIConfig struct {
	BaseLLMConfig      `yaml:",inline"`
	APIKey             string `yaml:"apiKey"`
	BaseURL            string `yaml:"baseURL"`
	TranscriptionModel string `yaml:"transcriptionModel"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

const (
	defaultPort             = "8080"
	defaultMaxTokens        = 1024
	defaultTranscriptionLLM = "whisper-large-v3"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port             string                      `yaml:"port"`
		SystemPrompt     string                      `yaml:"systemPrompt"`
		DefaultModel     string                      `yaml:"defaultModel"`
		DefaultMaxTokens int                         `yaml:"defaultMaxTokens"`
		RateLimit        rateLimitConfig             `yaml:"rateLimit"`
		LLM              map[string]any              `yaml:"llm"`
		Models           map[string]models.ModelInfo `yaml:"models"`
		PromptTemplates  map[string]string           `yaml:"promptTemplates"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai", "groq":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.DefaultModel = rawConfig.DefaultModel
	c.DefaultMaxTokens = rawConfig.DefaultMaxTokens
	c.RateLimit = rawConfig.RateLimit
	c.LLM = llm
	c.Models = rawConfig.Models
	c.PromptTemplates = rawConfig.PromptTemplates

	return nil
}

// loadConfig reads and validates the configuration file at path. Missing optional values are defaulted and
// reported through logger.
func loadConfig(path string, logger *slog.Logger) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	var cfg config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if len(cfg.Models) == 0 {
		return config{}, fmt.Errorf("the 'models' section is missing from the config file")
	}
	for id, info := range cfg.Models {
		if info.Tokens <= 0 {
			return config{}, fmt.Errorf("model %s: tokens must be positive", id)
		}
	}
	if cfg.DefaultModel != "" {
		if _, ok := cfg.Models[cfg.DefaultModel]; !ok {
			return config{}, fmt.Errorf("default model %s is not defined in the config file", cfg.DefaultModel)
		}
	}
	if cfg.DefaultMaxTokens == 0 {
		logger.Warn("'defaultMaxTokens' is not specified in the config, using default",
			slog.Int("defaultMaxTokens", defaultMaxTokens))
		cfg.DefaultMaxTokens = defaultMaxTokens
	}
	if len(cfg.PromptTemplates) == 0 {
		logger.Warn("No prompt templates found in the config")
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	return cfg, nil
}

func (c config) catalog() models.Catalog {
	return models.Catalog{
		Models:           c.Models,
		DefaultMaxTokens: c.DefaultMaxTokens,
	}
}

func (c config) handlerOptions() handlers.Options {
	return handlers.Options{
		Catalog:         c.catalog(),
		DefaultModel:    c.DefaultModel,
		PromptTemplates: c.PromptTemplates,
		RateLimit: handlers.RateLimit{
			Requests: c.RateLimit.Requests,
			Per:      c.RateLimit.Per,
		},
	}
}

func (o openAIConfig) completer(systemPrompt string, logger *slog.Logger) (conversation.Completer, handlers.Transcriber, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, nil, fmt.Errorf("GROQ_API_KEY environment variable not found")
	}

	transcriptionModel := o.TranscriptionModel
	if transcriptionModel == "" && o.BaseURL == "" {
		transcriptionModel = defaultTranscriptionLLM
	}

	oa := services.NewOpenAI(apiKey, o.BaseURL, systemPrompt, transcriptionModel, logger)
	if transcriptionModel == "" {
		return oa, nil, nil
	}
	return oa, oa, nil
}

func (o ollamaConfig) completer(systemPrompt string, logger *slog.Logger) (conversation.Completer, handlers.Transcriber, error) {
	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://127.0.0.1:11434"
	}

	ol, err := services.NewOllama(host, systemPrompt, logger)
	if err != nil {
		return nil, nil, err
	}
	return ol, nil, nil
}

func (a anthropicConfig) completer(systemPrompt string, logger *slog.Logger) (conversation.Completer, handlers.Transcriber, error) {
	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not found")
	}
	return services.NewAnthropic(apiKey, "", systemPrompt, logger), nil, nil
}
