// Package config loads assistd configuration from JSONC files and the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/jsonc"
)

// Config is the resolved server configuration.
type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `json:"addr"`

	// AuthURL is the base URL of the external auth provider whose
	// /api/auth/session endpoint verifies cookies.
	AuthURL string `json:"authURL"`

	// Provider selects the model backend: "anthropic" or "openai".
	Provider string `json:"provider"`

	// Model overrides the provider's default model.
	Model string `json:"model"`

	// MaxTokens caps each model response.
	MaxTokens int `json:"maxTokens"`

	// Temperature for model sampling.
	Temperature float64 `json:"temperature"`

	// RequestTimeout bounds a whole chat request, streaming included.
	RequestTimeout Duration `json:"requestTimeout"`

	// LogLevel is a zerolog level name.
	LogLevel string `json:"logLevel"`

	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string `json:"corsOrigins"`

	// AnthropicAPIKey and OpenAIAPIKey come from config or environment.
	AnthropicAPIKey string `json:"anthropicAPIKey"`
	OpenAIAPIKey    string `json:"openaiAPIKey"`
}

// Duration unmarshals from a Go duration string ("60s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"60s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

const fileName = "assistd.jsonc"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:           ":8080",
		AuthURL:        "http://localhost:3000",
		Provider:       "anthropic",
		RequestTimeout: Duration(60 * time.Second),
		LogLevel:       "info",
		CORSOrigins:    []string{"http://localhost:3000"},
	}
}

// Load resolves configuration in priority order: built-in defaults, then
// assistd.jsonc in directory, then the ASSISTD_CONFIG file, then environment
// variables.
func Load(directory string) (*Config, error) {
	config := Default()

	if directory != "" {
		if err := loadFile(filepath.Join(directory, fileName), config); err != nil {
			return nil, err
		}
	}

	if path := os.Getenv("ASSISTD_CONFIG"); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadFile merges one JSONC config file into config. A missing file is not
// an error; a malformed one is.
func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data)

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate replaces {env:VAR} placeholders with environment values.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("ASSISTD_ADDR"); v != "" {
		config.Addr = v
	}
	if v := os.Getenv("ASSISTD_AUTH_URL"); v != "" {
		config.AuthURL = v
	}
	if v := os.Getenv("ASSISTD_PROVIDER"); v != "" {
		config.Provider = v
	}
	if v := os.Getenv("ASSISTD_MODEL"); v != "" {
		config.Model = v
	}
	if v := os.Getenv("ASSISTD_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("ASSISTD_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ASSISTD_MAX_TOKENS: %w", err)
		}
		config.MaxTokens = n
	}
	if v := os.Getenv("ASSISTD_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ASSISTD_REQUEST_TIMEOUT: %w", err)
		}
		config.RequestTimeout = Duration(d)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		config.OpenAIAPIKey = v
	}
	return nil
}

// Validate checks the resolved configuration for startup errors.
func (c *Config) Validate() error {
	switch c.Provider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("provider anthropic requires ANTHROPIC_API_KEY")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("provider openai requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown provider %q (want anthropic or openai)", c.Provider)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive")
	}
	return nil
}
