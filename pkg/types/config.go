package types

// ForgeConfig holds connection settings for the remote CI REST API.
type ForgeConfig struct {
	BaseURL        string   `yaml:"baseUrl" json:"baseUrl"`
	Owner          string   `yaml:"owner" json:"owner"`
	Repo           string   `yaml:"repo" json:"repo"`
	Tokens         []string `yaml:"tokens,omitempty" json:"-"`
	TokensSecret   string   `yaml:"tokensSecret,omitempty" json:"tokensSecret,omitempty"`
	RequestTimeout string   `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"` // per-call HTTP timeout, default "10s"
	Breaker        bool     `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// RetryConfig configures the backoff policy applied to every remote call.
type RetryConfig struct {
	MaxRetries      int     `yaml:"maxRetries" json:"maxRetries"`
	BaseDelay       string  `yaml:"baseDelay,omitempty" json:"baseDelay,omitempty"`
	MaxDelay        string  `yaml:"maxDelay,omitempty" json:"maxDelay,omitempty"`
	ExponentialBase float64 `yaml:"exponentialBase,omitempty" json:"exponentialBase,omitempty"`
	Jitter          *bool   `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// PollConfig configures run discovery and polling.
type PollConfig struct {
	Interval          string `yaml:"interval,omitempty" json:"interval,omitempty"`           // default "4s"
	Lookback          string `yaml:"lookback,omitempty" json:"lookback,omitempty"`           // default "5m"
	Grace             string `yaml:"grace,omitempty" json:"grace,omitempty"`                 // default "2s"
	DiscoveryAttempts int    `yaml:"discoveryAttempts,omitempty" json:"discoveryAttempts,omitempty"`
	TimeoutSeconds    int    `yaml:"timeoutSeconds,omitempty" json:"timeoutSeconds,omitempty"` // default 180
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings for the dispatch store.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password,omitempty"`
	DB           int    `yaml:"db,omitempty"`
	KeyPrefix    string `yaml:"keyPrefix,omitempty"`
	IndexLimit   int    `yaml:"indexLimit,omitempty"`   // max dispatch records kept in the recency index
	RetentionTTL string `yaml:"retentionTtl,omitempty"` // default "168h" (7 days)
}

// StoreConfig selects and configures the dispatch record backend.
type StoreConfig struct {
	Provider string       `yaml:"provider"` // "memory" or "redis"
	Redis    *RedisConfig `yaml:"redis,omitempty"`
}

// ProjectConfig represents the top-level opsrelay.yaml configuration.
type ProjectConfig struct {
	Forge  ForgeConfig   `yaml:"forge"`
	Retry  *RetryConfig  `yaml:"retry,omitempty"`
	Poll   *PollConfig   `yaml:"poll,omitempty"`
	Server *ServerConfig `yaml:"server,omitempty"`
	Store  StoreConfig   `yaml:"store"`
}
