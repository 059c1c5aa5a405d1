package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline system
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Graph      GraphConfig      `mapstructure:"graph"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	LLM        LLMConfig        `mapstructure:"llm"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// GraphConfig controls the step scheduler.
type GraphConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
}

func (g GraphConfig) Validate() error {
	if g.MaxRetries < 0 {
		return fmt.Errorf("graph.max_retries cannot be negative")
	}
	if g.StepTimeout < 0 {
		return fmt.Errorf("graph.step_timeout cannot be negative")
	}
	return nil
}

// Normalize applies defaults for unset scheduler values.
func (g GraphConfig) Normalize() GraphConfig {
	if g.MaxRetries == 0 {
		g.MaxRetries = 2
	}
	if g.StepTimeout == 0 {
		g.StepTimeout = 30 * time.Second
	}
	return g
}

// GovernanceConfig declares the policy gate defaults. A YAML policy file may
// override individual values (see internal/governance.LoadPolicy).
type GovernanceConfig struct {
	PolicyFile        string   `mapstructure:"policy_file"`
	MaxInputChars     int      `mapstructure:"max_input_chars"`
	RateLimitPerMin   int      `mapstructure:"rate_limit_per_min"`
	RequireModeration bool     `mapstructure:"require_moderation"`
	EnableHITL        bool     `mapstructure:"enable_hitl"`
	ApprovalFile      string   `mapstructure:"approval_file"`
	DryRun            bool     `mapstructure:"dry_run"`
	AllowedTools      []string `mapstructure:"allowed_tools"`
}

func (g GovernanceConfig) Validate() error {
	if g.MaxInputChars <= 0 {
		return fmt.Errorf("governance.max_input_chars must be greater than zero")
	}
	if g.RateLimitPerMin <= 0 {
		return fmt.Errorf("governance.rate_limit_per_min must be greater than zero")
	}
	if g.EnableHITL && strings.TrimSpace(g.ApprovalFile) == "" {
		return fmt.Errorf("governance.approval_file required when hitl is enabled")
	}
	return nil
}

// RetrievalConfig controls chunking, ranking and caching for the hybrid engine.
type RetrievalConfig struct {
	ChunkSize           int           `mapstructure:"chunk_size"`
	ChunkOverlap        int           `mapstructure:"chunk_overlap"`
	TopK                int           `mapstructure:"top_k"`
	CandidateMultiplier int           `mapstructure:"candidate_multiplier"`
	KeywordWeight       float64       `mapstructure:"keyword_weight"`
	ExpandQuery         bool          `mapstructure:"expand_query"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity       int           `mapstructure:"cache_capacity"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
}

func (r RetrievalConfig) Validate() error {
	if r.ChunkSize <= 0 {
		return fmt.Errorf("retrieval.chunk_size must be greater than zero")
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap must be in [0, chunk_size)")
	}
	if r.KeywordWeight < 0 || r.KeywordWeight > 1 {
		return fmt.Errorf("retrieval.keyword_weight must be within [0,1]")
	}
	if r.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be greater than zero")
	}
	if r.CandidateMultiplier <= 0 {
		return fmt.Errorf("retrieval.candidate_multiplier must be greater than zero")
	}
	return nil
}

// CheckpointConfig selects and configures the durable snapshot store.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"` // file or postgres
	Dir     string `mapstructure:"dir"`
}

func (c CheckpointConfig) Validate() error {
	switch c.Backend {
	case "", "file", "postgres":
	default:
		return fmt.Errorf("checkpoint.backend must be file or postgres, got %q", c.Backend)
	}
	if (c.Backend == "" || c.Backend == "file") && strings.TrimSpace(c.Dir) == "" {
		return fmt.Errorf("checkpoint.dir required for the file backend")
	}
	return nil
}

// ToolsConfig configures local tool execution and the remote tool client.
type ToolsConfig struct {
	RemoteBaseURL string        `mapstructure:"remote_base_url"`
	RemoteToken   string        `mapstructure:"remote_token"`
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
	ShellAllowed  []string      `mapstructure:"shell_allowed"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
}

// Normalize applies defaults for unset tool values.
func (t ToolsConfig) Normalize() ToolsConfig {
	if t.RemoteTimeout <= 0 {
		t.RemoteTimeout = 25 * time.Second
	}
	if t.FetchTimeout <= 0 {
		t.FetchTimeout = 15 * time.Second
	}
	if len(t.ShellAllowed) == 0 {
		t.ShellAllowed = []string{"ls", "pwd", "df", "echo"}
	}
	return t
}

// ServerConfig contains tool-server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains settings for the optional storage backends.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return nil // redis is optional; absent host disables it
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    string        `mapstructure:"port"`
	User    string        `mapstructure:"user"`
	Pass    string        `mapstructure:"password"`
	DBName  string        `mapstructure:"dbname"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN assembles a connection string from the discrete fields unless an
// explicit URL was supplied.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return nil // postgres is optional; absent host disables it
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when host is set")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LLMConfig selects the provider used for synthesis/moderation/embeddings.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"` // openai or static
	APIKey         string        `mapstructure:"api_key"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("graph.max_retries", 2)
	viper.SetDefault("graph.step_timeout", "30s")
	viper.SetDefault("governance.max_input_chars", 5000)
	viper.SetDefault("governance.rate_limit_per_min", 30)
	viper.SetDefault("governance.require_moderation", true)
	viper.SetDefault("governance.approval_file", ".hitl_approve")
	viper.SetDefault("governance.allowed_tools", []string{"search", "fetch", "shell"})
	viper.SetDefault("retrieval.chunk_size", 400)
	viper.SetDefault("retrieval.chunk_overlap", 80)
	viper.SetDefault("retrieval.top_k", 4)
	viper.SetDefault("retrieval.candidate_multiplier", 3)
	viper.SetDefault("retrieval.keyword_weight", 0.4)
	viper.SetDefault("retrieval.cache_ttl", "5m")
	viper.SetDefault("retrieval.cache_capacity", 128)
	viper.SetDefault("retrieval.embedding_dimensions", 64)
	viper.SetDefault("checkpoint.backend", "file")
	viper.SetDefault("checkpoint.dir", ".conductor_ckpts")
	viper.SetDefault("llm.provider", "static")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CONDUCTOR")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv() // read in environment variables that match (CONDUCTOR_*)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Graph = config.Graph.Normalize()
	config.Tools = config.Tools.Normalize()

	if err := config.Graph.Validate(); err != nil {
		panic(err)
	}
	if err := config.Governance.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	if err := config.Checkpoint.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
