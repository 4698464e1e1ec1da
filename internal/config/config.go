package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Provider          string                    `yaml:"provider"`
	APIKeyEnv         string                    `yaml:"api_key_env"`
	RequestTimeoutSec int                       `yaml:"request_timeout_sec"`
	Output            OutputConfig              `yaml:"output"`
	Server            ServerConfig              `yaml:"server"`
	Pipeline          PipelineConfig            `yaml:"pipeline"`
	Providers         map[string]ProviderConfig `yaml:"providers"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	SessionIdleSec int    `yaml:"session_idle_sec"`
	SessionDoneSec int    `yaml:"session_done_sec"`
}

type ProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Temperature is sent with every request when set; nil leaves the
	// provider default.
	Temperature *float64 `yaml:"temperature,omitempty"`
}

type TierShares struct {
	Direct   float64 `yaml:"direct"`
	Related  float64 `yaml:"related"`
	Indirect float64 `yaml:"indirect"`
}

type PipelineConfig struct {
	SelectCount         int        `yaml:"select_count"`
	SelectMaxAttempts   int        `yaml:"select_max_attempts"`
	SelectRetryDelayMS  int        `yaml:"select_retry_delay_ms"`
	TierShares          TierShares `yaml:"tier_shares"`
	TitleMaxChars       int        `yaml:"title_max_chars"`
	TitleKeywordCap     int        `yaml:"title_keyword_cap"`
	BulletMinItems      int        `yaml:"bullet_min_items"`
	BulletMaxItems      int        `yaml:"bullet_max_items"`
	BulletMinChars      int        `yaml:"bullet_min_chars"`
	BulletMaxChars      int        `yaml:"bullet_max_chars"`
	DescriptionMaxChars int        `yaml:"description_max_chars"`
	LLMFilter           *bool      `yaml:"llm_filter"`
	BrandTokens         []string   `yaml:"brand_tokens"`
}

type Paths struct {
	HomeDir      string
	RootDir      string
	ConfigPath   string
	EnvPath      string
	EnvExample   string
	ConfigSource string
}

var defaultProviders = map[string]ProviderConfig{
	"openai": {
		BaseURL:   "https://api.openai.com",
		Model:     "gpt-4o",
		APIKeyEnv: "OPENAI_API_KEY",
	},
	"deepseek": {
		BaseURL:   "https://api.deepseek.com",
		Model:     "deepseek-chat",
		APIKeyEnv: "DEEPSEEK_API_KEY",
	},
	"claude": {
		BaseURL:   "https://api.anthropic.com",
		Model:     "claude-sonnet-4-5",
		APIKeyEnv: "ANTHROPIC_API_KEY",
	},
}

func (c *Config) applyDefaults() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = 120
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		c.Output.Dir = "."
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.SessionIdleSec <= 0 {
		c.Server.SessionIdleSec = 3600
	}
	if c.Server.SessionDoneSec <= 0 {
		c.Server.SessionDoneSec = 600
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, def := range defaultProviders {
		p, ok := c.Providers[name]
		if !ok {
			c.Providers[name] = def
			continue
		}
		if strings.TrimSpace(p.BaseURL) == "" {
			p.BaseURL = def.BaseURL
		}
		if strings.TrimSpace(p.Model) == "" {
			p.Model = def.Model
		}
		if strings.TrimSpace(p.APIKeyEnv) == "" {
			p.APIKeyEnv = def.APIKeyEnv
		}
		c.Providers[name] = p
	}
	c.Pipeline.applyDefaults()
}

func (p *PipelineConfig) applyDefaults() {
	if p.SelectCount <= 0 {
		p.SelectCount = 50
	}
	if p.SelectMaxAttempts <= 0 {
		p.SelectMaxAttempts = 3
	}
	if p.SelectRetryDelayMS < 0 {
		p.SelectRetryDelayMS = 0
	}
	if p.TierShares.Direct <= 0 && p.TierShares.Related <= 0 && p.TierShares.Indirect <= 0 {
		p.TierShares = TierShares{Direct: 0.5, Related: 0.3, Indirect: 0.2}
	}
	if p.TitleMaxChars <= 0 {
		p.TitleMaxChars = 200
	}
	if p.TitleKeywordCap <= 0 {
		p.TitleKeywordCap = 10
	}
	if p.BulletMinItems <= 0 {
		p.BulletMinItems = 5
	}
	if p.BulletMaxItems <= 0 {
		p.BulletMaxItems = 7
	}
	if p.BulletMinChars <= 0 {
		p.BulletMinChars = 150
	}
	if p.BulletMaxChars <= 0 {
		p.BulletMaxChars = 250
	}
	if p.DescriptionMaxChars <= 0 {
		p.DescriptionMaxChars = 2000
	}
	if p.LLMFilter == nil {
		enabled := true
		p.LLMFilter = &enabled
	}
}

func (c *Config) validate() error {
	if _, ok := c.Providers[c.Provider]; !ok {
		return fmt.Errorf("配置中不存在 provider：%s", c.Provider)
	}
	for name, pc := range c.Providers {
		if t := pc.Temperature; t != nil && (*t < 0 || *t > 2) {
			return fmt.Errorf("providers.%s.temperature 超出范围：%g 不在 0-2 之间", name, *t)
		}
	}
	p := c.Pipeline
	if p.TierShares.Direct < 0 || p.TierShares.Related < 0 || p.TierShares.Indirect < 0 {
		return fmt.Errorf("tier_shares 不能为负数")
	}
	if p.BulletMinItems > p.BulletMaxItems {
		return fmt.Errorf("bullet_min_items 大于 bullet_max_items：%d > %d", p.BulletMinItems, p.BulletMaxItems)
	}
	if p.BulletMinChars > p.BulletMaxChars {
		return fmt.Errorf("bullet_min_chars 大于 bullet_max_chars：%d > %d", p.BulletMinChars, p.BulletMaxChars)
	}
	return nil
}

// KeyName is the environment variable that holds the active provider's API key.
func (c *Config) KeyName() string {
	if k := strings.TrimSpace(c.APIKeyEnv); k != "" {
		return k
	}
	if p, ok := c.Providers[c.Provider]; ok && strings.TrimSpace(p.APIKeyEnv) != "" {
		return p.APIKeyEnv
	}
	return strings.ToUpper(c.Provider) + "_API_KEY"
}

// WithDefaults returns a copy with every unset field filled in.
func (p PipelineConfig) WithDefaults() PipelineConfig {
	p.applyDefaults()
	return p
}

func (p PipelineConfig) LLMFilterEnabled() bool {
	return p.LLMFilter == nil || *p.LLMFilter
}
