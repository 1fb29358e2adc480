package providers

import "time"

// BaseConfig holds the fields shared by every vendor adapter's config.
type BaseConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Models  []string      `json:"models,omitempty" yaml:"models,omitempty"` // allow-list consulted by the registry
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig configures the OpenAI-style Responses API adapter.
type OpenAIConfig struct {
	BaseConfig     `yaml:",inline"`
	Organization   string `json:"organization,omitempty" yaml:"organization,omitempty"`
	ReasoningModel bool   `json:"reasoning_model,omitempty" yaml:"reasoning_model,omitempty"` // rejects temperature
}

// VertexConfig configures the Vertex/Gemini GenerateContent adapter.
type VertexConfig struct {
	BaseConfig `yaml:",inline"`
	ProjectID  string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Region     string `json:"region,omitempty" yaml:"region,omitempty"`
}
