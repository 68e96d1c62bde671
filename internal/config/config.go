// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server for the serve command
	Host string `envconfig:"RICE_EVAL_HOST" yaml:"host"`
	Port int    `envconfig:"RICE_EVAL_PORT" yaml:"port"`
	// Per-client limit on POST requests. Zero disables limiting.
	RateLimit float64 `envconfig:"RICE_EVAL_RATE_LIMIT" yaml:"rate_limit"`
	RateBurst int     `envconfig:"RICE_EVAL_RATE_BURST" yaml:"rate_burst"`

	Log       LogConfig       `yaml:"log"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Backend   BackendConfig   `yaml:"backend"`
	Vespa     VespaConfig     `yaml:"vespa"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Judge     JudgeConfig     `yaml:"judge"`
	Synth     SynthConfig     `yaml:"synth"`
	Eval      EvalConfig      `yaml:"eval"`
	Sink      SinkConfig      `yaml:"sink"`
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RICE_EVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RICE_EVAL_LOG_FORMAT" yaml:"format"`
}

// ReasoningConfig holds settings for the chat-completion service used by the
// synthesizer and the judge.
type ReasoningConfig struct {
	BaseURL     string        `envconfig:"RICE_EVAL_REASONING_URL" yaml:"base_url"`
	APIKey      string        `envconfig:"RICE_EVAL_REASONING_API_KEY" yaml:"api_key"`
	Model       string        `envconfig:"RICE_EVAL_REASONING_MODEL" yaml:"model"`
	MaxTokens   int           `envconfig:"RICE_EVAL_REASONING_MAX_TOKENS" yaml:"max_tokens"`
	Temperature float32       `envconfig:"RICE_EVAL_REASONING_TEMPERATURE" yaml:"temperature"`
	Timeout     time.Duration `envconfig:"RICE_EVAL_REASONING_TIMEOUT" yaml:"timeout"`

	// Shared quota across workers. Zero disables limiting.
	RequestsPerSecond float64 `envconfig:"RICE_EVAL_REASONING_RPS" yaml:"requests_per_second"`
	Burst             int     `envconfig:"RICE_EVAL_REASONING_BURST" yaml:"burst"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the reasoning service.
type BreakerConfig struct {
	Enabled          bool          `envconfig:"RICE_EVAL_BREAKER_ENABLED" yaml:"enabled"`
	FailureThreshold uint32        `envconfig:"RICE_EVAL_BREAKER_FAILURES" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `envconfig:"RICE_EVAL_BREAKER_OPEN_TIMEOUT" yaml:"open_timeout"`
	HalfOpenRequests uint32        `envconfig:"RICE_EVAL_BREAKER_HALF_OPEN" yaml:"half_open_requests"`
}

// EmbeddingConfig holds settings for query embeddings used by the Qdrant backend.
type EmbeddingConfig struct {
	BaseURL   string `envconfig:"RICE_EVAL_EMBED_URL" yaml:"base_url"`
	APIKey    string `envconfig:"RICE_EVAL_EMBED_API_KEY" yaml:"api_key"`
	Model     string `envconfig:"RICE_EVAL_EMBED_MODEL" yaml:"model"`
	CacheSize int    `envconfig:"RICE_EVAL_EMBED_CACHE_SIZE" yaml:"cache_size"`
}

// BackendConfig selects the retrieval backend.
type BackendConfig struct {
	Type       string `envconfig:"RICE_EVAL_BACKEND" yaml:"type"`
	NHits      int    `envconfig:"RICE_EVAL_N_HITS" yaml:"n_hits"`
	StaticPath string `envconfig:"RICE_EVAL_STATIC_HITS" yaml:"static_path"`
}

// VespaConfig holds Vespa query settings.
type VespaConfig struct {
	Endpoint string        `envconfig:"RICE_EVAL_VESPA_ENDPOINT" yaml:"endpoint"`
	Ranking  string        `envconfig:"RICE_EVAL_VESPA_RANKING" yaml:"ranking"`
	YQL      string        `envconfig:"RICE_EVAL_VESPA_YQL" yaml:"yql"`
	Timeout  time.Duration `envconfig:"RICE_EVAL_VESPA_TIMEOUT" yaml:"timeout"`
	CertFile string        `envconfig:"RICE_EVAL_VESPA_CERT" yaml:"cert_file"`
	KeyFile  string        `envconfig:"RICE_EVAL_VESPA_KEY" yaml:"key_file"`

	// Query tensor name to embedder id, sent as input.query(name)=embed(id, "...").
	Embedders map[string]string `envconfig:"RICE_EVAL_VESPA_EMBEDDERS" yaml:"embedders"`
	// Match-feature name to signal name.
	Features map[string]string `envconfig:"RICE_EVAL_VESPA_FEATURES" yaml:"features"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host         string        `envconfig:"RICE_EVAL_QDRANT_HOST" yaml:"host"`
	Port         int           `envconfig:"RICE_EVAL_QDRANT_PORT" yaml:"port"`
	APIKey       string        `envconfig:"RICE_EVAL_QDRANT_API_KEY" yaml:"api_key"`
	UseTLS       bool          `envconfig:"RICE_EVAL_QDRANT_TLS" yaml:"use_tls"`
	Collection   string        `envconfig:"RICE_EVAL_QDRANT_COLLECTION" yaml:"collection"`
	DenseVector  string        `envconfig:"RICE_EVAL_QDRANT_DENSE" yaml:"dense_vector"`
	SparseVector string        `envconfig:"RICE_EVAL_QDRANT_SPARSE" yaml:"sparse_vector"`
	Timeout      time.Duration `envconfig:"RICE_EVAL_QDRANT_TIMEOUT" yaml:"timeout"`
}

// FusionConfig configures how per-signal scores become one ranking.
type FusionConfig struct {
	Kind            string             `envconfig:"RICE_EVAL_FUSION" yaml:"kind"`
	FirstPhase      string             `envconfig:"RICE_EVAL_FUSION_FIRST_PHASE" yaml:"first_phase"`
	FirstPhasePool  int                `envconfig:"RICE_EVAL_FUSION_POOL" yaml:"first_phase_pool"`
	SecondPhase     string             `envconfig:"RICE_EVAL_FUSION_SECOND_PHASE" yaml:"second_phase"`
	LateInteraction string             `envconfig:"RICE_EVAL_FUSION_MAXSIM" yaml:"late_interaction"`
	GlobalWeights   map[string]float64 `envconfig:"RICE_EVAL_FUSION_WEIGHTS" yaml:"global_weights"`
	GlobalWindow    int                `envconfig:"RICE_EVAL_FUSION_WINDOW" yaml:"global_window"`
	RRFK            int                `envconfig:"RICE_EVAL_FUSION_RRF_K" yaml:"rrf_k"`
}

// JudgeConfig configures the relevance judge.
type JudgeConfig struct {
	Mode              string        `envconfig:"RICE_EVAL_JUDGE_MODE" yaml:"mode"`
	TransportBackoff  time.Duration `envconfig:"RICE_EVAL_JUDGE_TRANSPORT_BACKOFF" yaml:"transport_backoff"`
	ValidationBackoff time.Duration `envconfig:"RICE_EVAL_JUDGE_VALIDATION_BACKOFF" yaml:"validation_backoff"`
	MaxAttempts       int           `envconfig:"RICE_EVAL_JUDGE_MAX_ATTEMPTS" yaml:"max_attempts"`
	RepairJSON        bool          `envconfig:"RICE_EVAL_JUDGE_REPAIR_JSON" yaml:"repair_json"`
}

// SynthConfig configures query synthesis.
type SynthConfig struct {
	Limit       int           `envconfig:"RICE_EVAL_SYNTH_LIMIT" yaml:"limit"`
	Delay       time.Duration `envconfig:"RICE_EVAL_SYNTH_DELAY" yaml:"delay"`
	Backoff     time.Duration `envconfig:"RICE_EVAL_SYNTH_BACKOFF" yaml:"backoff"`
	MaxAttempts int           `envconfig:"RICE_EVAL_SYNTH_MAX_ATTEMPTS" yaml:"max_attempts"`
}

// EvalConfig configures evaluation runs.
type EvalConfig struct {
	SampleLimit int    `envconfig:"RICE_EVAL_SAMPLE_LIMIT" yaml:"sample_limit"`
	Workers     int    `envconfig:"RICE_EVAL_WORKERS" yaml:"workers"`
	JudgeTopK   int    `envconfig:"RICE_EVAL_JUDGE_TOP_K" yaml:"judge_top_k"`
	ModelName   string `envconfig:"RICE_EVAL_MODEL_NAME" yaml:"model_name"`
	Ks          []int  `envconfig:"RICE_EVAL_KS" yaml:"ks"`
}

// SinkConfig configures where judgments and metrics are written.
type SinkConfig struct {
	Table           string `envconfig:"RICE_EVAL_TABLE" yaml:"table"`
	CSVDir          string `envconfig:"RICE_EVAL_CSV_DIR" yaml:"csv_dir"`
	SpreadsheetID   string `envconfig:"RICE_EVAL_SPREADSHEET_ID" yaml:"spreadsheet_id"`
	CredentialsFile string `envconfig:"RICE_EVAL_SHEETS_CREDENTIALS" yaml:"credentials_file"`
	Range           string `envconfig:"RICE_EVAL_SHEETS_RANGE" yaml:"range"`

	// JudgmentsLog, if set, receives one JSON line per validated judgment.
	JudgmentsLog string `envconfig:"RICE_EVAL_JUDGMENTS_LOG" yaml:"judgments_log"`
}

// StoreConfig configures the judgment store.
type StoreConfig struct {
	Type      string `envconfig:"RICE_EVAL_STORE" yaml:"type"`
	RedisURL  string `envconfig:"RICE_EVAL_REDIS_URL" yaml:"redis_url"`
	KeyPrefix string `envconfig:"RICE_EVAL_REDIS_PREFIX" yaml:"key_prefix"`
	Dir       string `envconfig:"RICE_EVAL_STORE_DIR" yaml:"dir"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_EVAL_BUS" yaml:"type"`
	KafkaBrokers string `envconfig:"RICE_EVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	Topic        string `envconfig:"RICE_EVAL_BUS_TOPIC" yaml:"topic"`
	EventLog     string `envconfig:"RICE_EVAL_EVENT_LOG" yaml:"event_log"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `envconfig:"RICE_EVAL_METRICS_ENABLED" yaml:"enabled"`
	Path    string `envconfig:"RICE_EVAL_METRICS_PATH" yaml:"path"`
}

// Load loads configuration from defaults, an optional YAML file, and the
// environment, in increasing priority.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// The hosted provider's conventional variable.
	if cfg.Reasoning.APIKey == "" {
		cfg.Reasoning.APIKey = os.Getenv("GROQ_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8090
	cfg.RateLimit = 1
	cfg.RateBurst = 5

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Reasoning = ReasoningConfig{
		BaseURL:   "https://api.groq.com/openai/v1",
		Model:     "llama3-70b-8192",
		MaxTokens: 1000,
		Timeout:   60 * time.Second,
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			HalfOpenRequests: 1,
		},
	}

	cfg.Embedding = EmbeddingConfig{
		BaseURL:   "https://api.openai.com/v1",
		Model:     "text-embedding-3-small",
		CacheSize: 1000,
	}

	cfg.Backend = BackendConfig{
		Type:  "vespa",
		NHits: 10,
	}

	cfg.Vespa = VespaConfig{
		Endpoint:  "http://localhost:8080",
		Ranking:   "fusion",
		YQL:       "select * from sources * where rank({targetHits:1000}nearestNeighbor(embedding,q), userQuery())",
		Timeout:   10 * time.Second,
		Embedders: map[string]string{"q": ""},
		Features: map[string]string{
			"bm25sum":       "lexical",
			"cos_sim":       "vector",
			"max_sim_local": "late_interaction",
		},
	}

	cfg.Qdrant = QdrantConfig{
		Host:         "localhost",
		Port:         6334,
		Collection:   "articles",
		DenseVector:  "dense",
		SparseVector: "sparse",
		Timeout:      30 * time.Second,
	}

	cfg.Fusion = FusionConfig{
		Kind:            "phased",
		FirstPhase:      "vector",
		LateInteraction: "local",
		GlobalWeights:   map[string]float64{"lexical": 1, "vector": 1},
		GlobalWindow:    1000,
		RRFK:            60,
	}

	cfg.Judge = JudgeConfig{
		Mode:              "graded",
		TransportBackoff:  30 * time.Second,
		ValidationBackoff: time.Second,
	}

	cfg.Synth = SynthConfig{
		Limit:   15,
		Delay:   2 * time.Second,
		Backoff: 30 * time.Second,
	}

	cfg.Eval = EvalConfig{
		Workers:   4,
		ModelName: "default",
		Ks:        []int{1, 3, 5, 10},
	}

	cfg.Sink = SinkConfig{
		Table:  "none",
		CSVDir: "./metrics",
		Range:  "A:AZ",
	}

	cfg.Store = StoreConfig{
		Type:      "memory",
		RedisURL:  "redis://localhost:6379",
		KeyPrefix: "rice-eval",
		Dir:       "./judgments",
	}

	cfg.Bus = BusConfig{
		Type:  "memory",
		Topic: "rice-eval.events",
	}

	cfg.Metrics = MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, "rate_limit and rate_burst cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Reasoning.Model == "" {
		errs = append(errs, "reasoning.model is required")
	}
	if c.Reasoning.MaxTokens < 1 {
		errs = append(errs, "reasoning.max_tokens must be positive")
	}
	if c.Reasoning.RequestsPerSecond < 0 {
		errs = append(errs, "reasoning.requests_per_second cannot be negative")
	}

	validBackends := map[string]bool{"vespa": true, "qdrant": true, "static": true}
	if !validBackends[c.Backend.Type] {
		errs = append(errs, fmt.Sprintf("invalid backend: %s (must be vespa, qdrant, or static)", c.Backend.Type))
	}
	if c.Backend.NHits < 1 {
		errs = append(errs, "backend.n_hits must be positive")
	}
	if c.Backend.Type == "static" && c.Backend.StaticPath == "" {
		errs = append(errs, "backend.static_path is required for the static backend")
	}

	validFusion := map[string]bool{"phased": true, "rrf": true}
	if !validFusion[c.Fusion.Kind] {
		errs = append(errs, fmt.Sprintf("invalid fusion kind: %s (must be phased or rrf)", c.Fusion.Kind))
	}
	if c.Fusion.Kind == "phased" && c.Fusion.FirstPhase == "" {
		errs = append(errs, "fusion.first_phase is required for phased fusion")
	}
	if c.Fusion.FirstPhasePool < 0 || c.Fusion.GlobalWindow < 0 {
		errs = append(errs, "fusion windows cannot be negative")
	}
	validMaxSim := map[string]bool{"local": true, "global": true}
	if !validMaxSim[c.Fusion.LateInteraction] {
		errs = append(errs, fmt.Sprintf("invalid late_interaction: %s (must be local or global)", c.Fusion.LateInteraction))
	}

	validModes := map[string]bool{"graded": true, "boolean": true}
	if !validModes[c.Judge.Mode] {
		errs = append(errs, fmt.Sprintf("invalid judge mode: %s (must be graded or boolean)", c.Judge.Mode))
	}
	if c.Judge.MaxAttempts < 0 || c.Synth.MaxAttempts < 0 {
		errs = append(errs, "max_attempts cannot be negative")
	}

	if c.Eval.Workers < 1 {
		errs = append(errs, "eval.workers must be positive")
	}
	if c.Eval.SampleLimit < 0 || c.Synth.Limit < 0 || c.Eval.JudgeTopK < 0 {
		errs = append(errs, "limits cannot be negative")
	}

	validTables := map[string]bool{"none": true, "csv": true, "sheets": true}
	if !validTables[c.Sink.Table] {
		errs = append(errs, fmt.Sprintf("invalid table sink: %s (must be none, csv, or sheets)", c.Sink.Table))
	}
	if c.Sink.Table == "sheets" && c.Sink.SpreadsheetID == "" {
		errs = append(errs, "sink.spreadsheet_id is required for the sheets sink")
	}

	validStores := map[string]bool{"none": true, "memory": true, "redis": true, "file": true}
	if !validStores[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be none, memory, redis, or file)", c.Store.Type))
	}

	validBusTypes := map[string]bool{"none": true, "memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be none, memory, or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "bus.kafka_brokers is required for the kafka bus")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaBrokerList splits the comma-separated broker list.
func (c BusConfig) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
