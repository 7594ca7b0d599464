package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/ai/claude"
	"github.com/nawresmhed/guidezella/pkg/ai/gemini"
	"github.com/nawresmhed/guidezella/pkg/ai/openai"
)

type ModelType string

const (
	ModelTypeOpenAI ModelType = "openai"
	ModelTypeGemini ModelType = "gemini"
	ModelTypeClaude ModelType = "claude"
)

func modelConfigFrom(m map[string]any) (ai.Config, error) {
	mtData, ok := m["type"]
	if !ok {
		return nil, fmt.Errorf("missing field type for generator config")
	}
	mtStr, ok := mtData.(string)
	if !ok {
		return nil, fmt.Errorf("type mismatch for type field: want string got %T", mtData)
	}
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k != "type" {
			fields[k] = v
		}
	}
	marshaled, err := toml.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var cfg interface {
		ai.Config
		validate() error
	}
	switch ModelType(mtStr) {
	case ModelTypeOpenAI:
		cfg = &openAIConfig{}
	case ModelTypeGemini:
		cfg = &geminiConfig{}
	case ModelTypeClaude:
		cfg = &claudeConfig{}
	default:
		return nil, fmt.Errorf("unknown generator type %s", mtStr)
	}
	md, err := toml.Decode(string(marshaled), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys for %s generator: %v", mtStr, undecoded)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validatePolicy(p ai.CallPolicy) error {
	if p.Valid() {
		return nil
	}
	return fmt.Errorf("unknown call_policy %q", p)
}

type openAIConfig struct{ openai.Config }

func (c *openAIConfig) validate() error { return validatePolicy(c.CallPolicy) }

type geminiConfig struct{ gemini.Config }

func (c *geminiConfig) validate() error { return validatePolicy(c.CallPolicy) }

type claudeConfig struct{ claude.Config }

func (c *claudeConfig) validate() error { return validatePolicy(c.CallPolicy) }
