// Package config loads the guidezella server configuration from a TOML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/nawresmhed/guidezella/pkg/ai"
	"github.com/nawresmhed/guidezella/pkg/chat"
	"github.com/nawresmhed/guidezella/pkg/speech"
	"github.com/nawresmhed/guidezella/pkg/tools"
	"github.com/nawresmhed/guidezella/pkg/tools/aci"
)

const (
	DefaultConfigFile = "guidezella.toml"
	DefaultListen     = ":5000"

	OwnerIDEnv        = "LINKED_ACCOUNT_OWNER_ID"
	ACIKeyEnv         = "ACI_API_KEY"
	ElevenLabsKeyEnv  = "ELEVENLABS_API_KEY"
	providerACI       = "aci"
	providerMCP       = "mcp"
	defaultGenerator  = "openai"
	defaultToolFormat = tools.FormatOpenAI
)

var ErrMissingOwnerID = fmt.Errorf("%s is not set", OwnerIDEnv)

// DefaultBuiltinTools are offered to the model before any discovery.
var DefaultBuiltinTools = []string{
	tools.SearchFunctionName,
	"GOOGLE_MAPS__TEXT_SEARCH",
	"GOOGLE_MAPS__GET_DIRECTIONS",
	"BRAVE_SEARCH__WEB_SEARCH",
	"BRAVE_SEARCH__IMAGE_SEARCH",
	"BRAVE_SEARCH__NEWS_SEARCH",
	"FIRECRAWL__SEARCH",
	"FIRECRAWL__SCRAPE",
	"FIRECRAWL__EXTRACT",
}

type ToolsConfig struct {
	// Provider is either "aci" or "mcp".
	Provider        string       `toml:"provider"`
	BaseURL         string       `toml:"base_url,omitempty"`
	APIKey          string       `toml:"api_key,omitempty"`
	APIKeyFromEnv   string       `toml:"api_key_env,omitempty"`
	AllowedAppsOnly bool         `toml:"allowed_apps_only"`
	Format          tools.Format `toml:"format,omitempty"`
	MCP             MCPConfig    `toml:"mcp"`
}

type SpeechConfig struct {
	BaseURL       string `toml:"base_url,omitempty"`
	APIKey        string `toml:"api_key,omitempty"`
	APIKeyFromEnv string `toml:"api_key_env,omitempty"`
	VoiceID       string `toml:"voice_id,omitempty"`
	ModelID       string `toml:"model_id,omitempty"`
}

type Config struct {
	Listen           string           `toml:"listen"`
	Generator        string           `toml:"generator"`
	Generators       []map[string]any `toml:"generators"`
	SystemPromptFile string           `toml:"system_prompt_file,omitempty"`
	BuiltinTools     []string         `toml:"builtin_tools"`
	MaxIterations    int              `toml:"max_iterations"`
	GeneratorTimeout time.Duration    `toml:"generator_timeout"`
	ToolTimeout      time.Duration    `toml:"tool_timeout"`
	LogLevel         slog.Level       `toml:"log_level"`
	SessionLogDir    string           `toml:"session_log_dir,omitempty"`
	Tools            ToolsConfig      `toml:"tools"`
	Speech           SpeechConfig     `toml:"speech"`

	// OwnerID comes from LINKED_ACCOUNT_OWNER_ID only.
	OwnerID string `toml:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Listen:    DefaultListen,
		Generator: defaultGenerator,
		Generators: []map[string]any{
			{"type": string(ModelTypeOpenAI), "name": defaultGenerator, "model_name": "gpt-4o"},
		},
		BuiltinTools:     slices.Clone(DefaultBuiltinTools),
		MaxIterations:    chat.DefaultMaxIterations,
		GeneratorTimeout: 2 * time.Minute,
		ToolTimeout:      time.Minute,
		LogLevel:         slog.LevelInfo,
		Tools: ToolsConfig{
			Provider:        providerACI,
			APIKeyFromEnv:   ACIKeyEnv,
			AllowedAppsOnly: true,
			Format:          defaultToolFormat,
		},
		Speech: SpeechConfig{
			APIKeyFromEnv: ElevenLabsKeyEnv,
			VoiceID:       speech.DefaultVoiceID,
			ModelID:       speech.DefaultModelID,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()
	// The decoder fills existing slice elements in place, so list defaults
	// are applied only when the file leaves them unset.
	defaultGenerators, defaultBuiltins := c.Generators, c.BuiltinTools
	c.Generators, c.BuiltinTools = nil, nil
	if path != "" {
		md, err := toml.DecodeFile(path, c)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, 0, len(undecoded))
				for _, k := range undecoded {
					keys = append(keys, k.String())
				}
				return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}
	if len(c.Generators) == 0 {
		c.Generators = defaultGenerators
	}
	if c.BuiltinTools == nil {
		c.BuiltinTools = defaultBuiltins
	}
	c.OwnerID = os.Getenv(OwnerIDEnv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var allerr error
	if c.OwnerID == "" {
		allerr = errors.Join(allerr, ErrMissingOwnerID)
	}
	if c.MaxIterations < 0 {
		allerr = errors.Join(allerr, fmt.Errorf("max_iterations must not be negative, got %d", c.MaxIterations))
	}
	if c.GeneratorTimeout < 0 || c.ToolTimeout < 0 {
		allerr = errors.Join(allerr, errors.New("timeouts must not be negative"))
	}
	if _, err := c.GeneratorConfig(); err != nil {
		allerr = errors.Join(allerr, err)
	}
	switch c.Tools.Provider {
	case providerACI:
	case providerMCP:
		if err := c.Tools.MCP.validate(); err != nil {
			allerr = errors.Join(allerr, err)
		}
	default:
		allerr = errors.Join(allerr, fmt.Errorf("unknown tools provider %q", c.Tools.Provider))
	}
	switch c.Tools.Format {
	case tools.FormatOpenAI, tools.FormatAnthropic, tools.FormatBasic:
	default:
		allerr = errors.Join(allerr, fmt.Errorf("unknown tool format %q", c.Tools.Format))
	}
	return allerr
}

// GeneratorConfig returns the generator config selected by the generator key.
func (c *Config) GeneratorConfig() (ai.Config, error) {
	var allerr error
	for i, m := range c.Generators {
		cfg, err := modelConfigFrom(m)
		if err != nil {
			allerr = errors.Join(allerr, fmt.Errorf("failed to parse %d-th generator config: %w", i, err))
			continue
		}
		if cfg.Name() == c.Generator {
			return cfg, nil
		}
	}
	return nil, errors.Join(allerr, fmt.Errorf("generator config %q not found", c.Generator))
}

// SystemPrompt returns the prompt file content or the built-in prompt.
func (c *Config) SystemPrompt() (string, error) {
	return ai.LoadSystemPrompt(c.SystemPromptFile)
}

func (c *Config) Auth() tools.Auth {
	return tools.Auth{
		LinkedAccountOwnerID: c.OwnerID,
		AllowedAppsOnly:      c.Tools.AllowedAppsOnly,
	}
}

func apiKey(key, env string) string {
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return key
}

// NewToolProvider builds the configured tool backend. MCP providers hold a
// connection and should be closed.
func (c *Config) NewToolProvider() (tools.Provider, error) {
	switch c.Tools.Provider {
	case providerMCP:
		return c.Tools.MCP.newClient()
	case providerACI:
		return aci.New(aci.Options{
			BaseURL: c.Tools.BaseURL,
			APIKey:  apiKey(c.Tools.APIKey, c.Tools.APIKeyFromEnv),
		})
	}
	return nil, fmt.Errorf("unknown tools provider %q", c.Tools.Provider)
}

// NewSpeaker returns nil without error when no speech api key is available.
func (c *Config) NewSpeaker() (speech.Speaker, error) {
	key := apiKey(c.Speech.APIKey, c.Speech.APIKeyFromEnv)
	if key == "" {
		return nil, nil
	}
	return speech.NewElevenLabs(speech.Options{
		BaseURL: c.Speech.BaseURL,
		APIKey:  key,
		VoiceID: c.Speech.VoiceID,
		ModelID: c.Speech.ModelID,
	})
}
