package gemini

import (
	"context"
	"fmt"
	"os"

	"github.com/nawresmhed/guidezella/pkg/ai"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	ConfigName    string        `toml:"name"`
	ModelName     string        `toml:"model_name,omitempty"`
	APIKey        string        `toml:"api_key,omitempty"`
	APIKeyFromEnv string        `toml:"api_key_env,omitempty"`
	BaseURL       string        `toml:"base_url,omitempty"`
	Backend       string        `toml:"backend,omitempty"`
	Project       string        `toml:"project,omitempty"`
	Location      string        `toml:"location,omitempty"`
	CallPolicy    ai.CallPolicy `toml:"call_policy,omitempty"`
}

func (gc *Config) Name() string {
	return gc.ConfigName
}

func (gc *Config) clientConfig() (*genai.ClientConfig, error) {
	backend := genai.BackendUnspecified
	if gc.Backend == genai.BackendGeminiAPI.String() {
		backend = genai.BackendGeminiAPI
	} else if gc.Backend == genai.BackendVertexAI.String() {
		backend = genai.BackendVertexAI
	}
	apiKey := gc.APIKey
	if gc.APIKeyFromEnv != "" {
		apiKey = os.Getenv(gc.APIKeyFromEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("environment variable %s not found", gc.APIKeyFromEnv)
		}
	}
	cc := &genai.ClientConfig{
		APIKey:   apiKey,
		Backend:  backend,
		Project:  gc.Project,
		Location: gc.Location,
	}
	if gc.BaseURL != "" {
		cc.HTTPOptions.BaseURL = gc.BaseURL
	}
	return cc, nil
}

func (gc *Config) NewGenerator(ctx context.Context) (ai.Generator, error) {
	cc, err := gc.clientConfig()
	if err != nil {
		return nil, err
	}
	model := gc.ModelName
	if model == "" {
		model = DefaultModel
	}
	return New(ctx, model, gc.CallPolicy, cc)
}
