// Package profile holds process configuration resolved from flags and
// environment variables.
package profile

import (
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hearthd/hearth/agent"
)

// Profile is the configuration to start hearth.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	LLMProvider string // openai, deepseek, openrouter, ollama, ...
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  int // request timeout in seconds

	// Home Assistant instance.
	HAURL   string
	HAToken string

	// Default reasoning architecture for requests that do not name one.
	Arch string

	// Server configuration.
	Addr string
	Port int

	// DSN of the SQLite run log. Empty disables persistence.
	DSN string

	Version string
}

// FromEnv overlays environment variables onto the profile. Environment wins
// over zero values only; explicit flag values are kept.
func (p *Profile) FromEnv() {
	setIfEmpty(&p.LLMProvider, os.Getenv("LLM_PROVIDER"))
	setIfEmpty(&p.LLMModel, os.Getenv("LLM_MODEL"))
	setIfEmpty(&p.LLMAPIKey, os.Getenv("LLM_API_KEY"))
	setIfEmpty(&p.LLMBaseURL, os.Getenv("LLM_BASE_URL"))
	if p.LLMTimeout == 0 {
		if v, err := strconv.Atoi(os.Getenv("LLM_TIMEOUT")); err == nil {
			p.LLMTimeout = v
		}
	}
	setIfEmpty(&p.HAURL, os.Getenv("HA_URL"))
	setIfEmpty(&p.HAToken, os.Getenv("HA_TOKEN"))
	setIfEmpty(&p.Arch, os.Getenv("HEARTH_ARCH"))
	setIfEmpty(&p.DSN, os.Getenv("HEARTH_DSN"))
}

// Validate checks required fields and applies defaults.
func (p *Profile) Validate() error {
	if p.LLMModel == "" {
		return errors.New("LLM model is required (LLM_MODEL or --llm-model)")
	}
	if p.HAURL == "" {
		return errors.New("Home Assistant URL is required (HA_URL or --ha-url)")
	}
	if p.LLMProvider == "" {
		p.LLMProvider = "openai"
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 120
	}
	if p.Arch == "" {
		p.Arch = agent.ArchToT
	}
	if _, err := agent.PresetConfig(p.Arch); err != nil {
		return errors.Wrap(err, "invalid architecture")
	}
	if p.Addr == "" {
		p.Addr = "127.0.0.1"
	}
	if p.Port <= 0 {
		p.Port = 8230
	}
	return nil
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
