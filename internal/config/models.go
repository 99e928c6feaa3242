package config

// EvaluatorsConfig represents the fusion weights and allowlist
type EvaluatorsConfig struct {
	ContentWeight  float64
	LinkWeight     float64
	BehaviorWeight float64
	QRWeight       float64
	TrustedDomains []string
}

// ScorerConfig represents the ML text scorer selection
type ScorerConfig struct {
	Provider string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// HistoryConfig represents the sender history storage configuration
type HistoryConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// HTTPConfig represents the HTTP API configuration
type HTTPConfig struct {
	Enabled       bool
	ListenAddress string
	CORSOrigins   []string
}

// SMTPConfig represents the SMTP filter configuration
type SMTPConfig struct {
	Enabled          bool
	ListenAddress    string
	Domain           string
	BlockQuarantined bool
	UpstreamEnabled  bool
	UpstreamAddress  string
	ActionHeader     string
	ScoreHeader      string
	SummaryHeader    string
}

// GetEvaluators returns the evaluator configuration
func (c *Config) GetEvaluators() EvaluatorsConfig {
	return EvaluatorsConfig{
		ContentWeight:  c.GetFloat64("evaluators.content_weight"),
		LinkWeight:     c.GetFloat64("evaluators.link_weight"),
		BehaviorWeight: c.GetFloat64("evaluators.behavior_weight"),
		QRWeight:       c.GetFloat64("evaluators.qr_weight"),
		TrustedDomains: c.GetStringSlice("evaluators.trusted_domains"),
	}
}

// GetScorer returns the ML scorer configuration
func (c *Config) GetScorer() ScorerConfig {
	return ScorerConfig{
		Provider: c.GetString("scorer.provider"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetHistory returns the sender history configuration
func (c *Config) GetHistory() HistoryConfig {
	return HistoryConfig{
		Type:       c.GetString("history.type"),
		SQLitePath: c.GetString("history.sqlite_path"),
		MySQLDSN:   c.GetString("history.mysql_dsn"),
	}
}

// GetHTTP returns the HTTP API configuration
func (c *Config) GetHTTP() HTTPConfig {
	return HTTPConfig{
		Enabled:       c.GetBool("http.enabled"),
		ListenAddress: c.GetString("http.listen_address"),
		CORSOrigins:   c.GetStringSlice("http.cors_origins"),
	}
}

// GetSMTP returns the SMTP filter configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Enabled:          c.GetBool("smtp.enabled"),
		ListenAddress:    c.GetString("smtp.listen_address"),
		Domain:           c.GetString("smtp.domain"),
		BlockQuarantined: c.GetBool("smtp.block_quarantined"),
		UpstreamEnabled:  c.GetBool("smtp.upstream.enabled"),
		UpstreamAddress:  c.GetString("smtp.upstream.address"),
		ActionHeader:     c.GetString("smtp.headers.action"),
		ScoreHeader:      c.GetString("smtp.headers.score"),
		SummaryHeader:    c.GetString("smtp.headers.summary"),
	}
}
