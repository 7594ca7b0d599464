package claude

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nawresmhed/guidezella/pkg/ai"
)

const (
	DefaultModel     = anthropic.ModelClaudeSonnet4_5_20250929
	DefaultMaxTokens = 4096
)

type Config struct {
	ConfigName    string        `toml:"name"`
	BaseURL       string        `toml:"base_url,omitempty"`
	APIKey        string        `toml:"api_key,omitempty"`
	APIKeyFromEnv string        `toml:"api_key_env,omitempty"`
	ModelName     string        `toml:"model_name,omitempty"`
	MaxTokens     int           `toml:"max_tokens,omitempty"`
	CallPolicy    ai.CallPolicy `toml:"call_policy,omitempty"`
}

func (c *Config) Name() string {
	return c.ConfigName
}

func (c *Config) GetOpts() ([]option.RequestOption, error) {
	var opts []option.RequestOption
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	if c.APIKeyFromEnv != "" {
		apikey := os.Getenv(c.APIKeyFromEnv)
		if apikey == "" {
			return nil, fmt.Errorf("environment variable %s not found", c.APIKeyFromEnv)
		}
		opts = append(opts, option.WithAPIKey(apikey))
	} else if c.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.APIKey))
	}
	return opts, nil
}

func (c *Config) NewGenerator(ctx context.Context) (ai.Generator, error) {
	opts, err := c.GetOpts()
	if err != nil {
		return nil, err
	}
	model := anthropic.Model(c.ModelName)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return New(model, int64(maxTokens), c.CallPolicy, opts...), nil
}
