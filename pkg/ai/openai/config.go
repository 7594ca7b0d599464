package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/openai/openai-go/v3/option"
)

const DefaultModel = "gpt-4o"

type Config struct {
	ConfigName    string        `toml:"name"`
	BaseURL       string        `toml:"base_url,omitempty"`
	APIKey        string        `toml:"api_key,omitempty"`
	APIKeyFromEnv string        `toml:"api_key_env,omitempty"`
	ModelName     string        `toml:"model_name,omitempty"`
	CallPolicy    ai.CallPolicy `toml:"call_policy,omitempty"`
}

func (c *Config) Name() string {
	return c.ConfigName
}

// GetOpts turns the config into client options. Without any key setting the
// client falls back to OPENAI_API_KEY.
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
	model := c.ModelName
	if model == "" {
		model = DefaultModel
	}
	return New(model, c.CallPolicy, opts...), nil
}
