package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/quotegate/backend/internal/features"
)

var (
	ErrInvalidAlpha   = errors.New("retrieval.alpha must be within [0,1]")
	ErrInvalidBackend = errors.New("unknown index backend")
	ErrInvalidMargin  = errors.New("rerank route min margin must exceed every non-rerank route margin")
	ErrInvalidTopK    = errors.New("retrieval.topK and retrieval.retrieveK must be positive")
	ErrInvalidEmbed   = errors.New("unknown embedding provider")
)

type Config struct {
	Server     ServerConfig
	Retrieval  RetrievalConfig
	Gate       GateConfig
	Answer     AnswerConfig
	Features   FeaturesConfig
	Index      IndexConfig
	Milvus     MilvusConfig
	Embedding  EmbeddingConfig
	Reranker   RerankerConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
	Lexical    LexicalConfig
	Ingestion  IngestionConfig
	Evaluation EvaluationConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	AllowOrigins    string
	RateLimitPerMin int
	MaxQueryLength  int
	Development     bool
}

type RetrievalConfig struct {
	TopK        int
	RetrieveK   int
	Alpha       float64
	UseReranker bool
}

// RouteThresholds are the gate limits for one retrieval route. MinScore is
// ignored on rerank routes.
type RouteThresholds struct {
	MinScore  float64
	MinMargin float64
}

type GateConfig struct {
	DefinitionDense RouteThresholds
	Hybrid          RouteThresholds
	HybridRerank    RouteThresholds
	AnchorTerms     []string
}

type AnswerConfig struct {
	MaxChunks         int
	MaxCandidateLines int
	MaxQuotes         int
	MaxLineLen        int
}

type FeaturesConfig struct {
	Mode string
}

type IndexConfig struct {
	Backend string
}

type MilvusConfig struct {
	Address        string
	APIKey         string
	CollectionName string
	TimeoutSec     int
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dim        int
	BatchSize  int
	TimeoutSec int
	CacheTTL   int
}

type RerankerConfig struct {
	Enabled    bool
	Endpoint   string
	Model      string
	TimeoutSec int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type LexicalConfig struct {
	IndexPath string
}

type IngestionConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type EvaluationConfig struct {
	DatasetPath string
	K           int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml from the usual locations, overlays QUOTEGATE_*
// environment variables and validates the result.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/quotegate")
	}

	v.SetEnvPrefix("QUOTEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if _, err := features.FromName(c.Features.Mode); err != nil {
		return err
	}

	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidAlpha, c.Retrieval.Alpha)
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.RetrieveK <= 0 {
		return ErrInvalidTopK
	}

	switch c.Index.Backend {
	case "memory", "milvus":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Index.Backend)
	}

	switch c.Embedding.Provider {
	case "openai", "hash":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEmbed, c.Embedding.Provider)
	}

	rerankMargin := c.Gate.HybridRerank.MinMargin
	if rerankMargin <= c.Gate.DefinitionDense.MinMargin || rerankMargin <= c.Gate.Hybrid.MinMargin {
		return fmt.Errorf("%w: rerank=%v dense=%v hybrid=%v", ErrInvalidMargin,
			rerankMargin, c.Gate.DefinitionDense.MinMargin, c.Gate.Hybrid.MinMargin)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowOrigins", "*")
	v.SetDefault("server.rateLimitPerMin", 60)
	v.SetDefault("server.maxQueryLength", 2000)
	v.SetDefault("server.development", false)

	v.SetDefault("retrieval.topK", 5)
	v.SetDefault("retrieval.retrieveK", 20)
	v.SetDefault("retrieval.alpha", 0.2)
	v.SetDefault("retrieval.useReranker", false)

	v.SetDefault("gate.definitionDense.minScore", 0.35)
	v.SetDefault("gate.definitionDense.minMargin", 0.05)
	v.SetDefault("gate.hybrid.minScore", 0.35)
	v.SetDefault("gate.hybrid.minMargin", 0.05)
	v.SetDefault("gate.hybridRerank.minScore", -12.0)
	v.SetDefault("gate.hybridRerank.minMargin", 0.25)
	v.SetDefault("gate.anchorTerms", []string{
		"policy", "allowed", "leave", "probation", "notice", "days", "period", "shall", "must",
	})

	v.SetDefault("answer.maxChunks", 4)
	v.SetDefault("answer.maxCandidateLines", 40)
	v.SetDefault("answer.maxQuotes", 4)
	v.SetDefault("answer.maxLineLen", 200)

	v.SetDefault("features.mode", "full")

	v.SetDefault("index.backend", "memory")

	v.SetDefault("milvus.address", "localhost:19530")
	v.SetDefault("milvus.collectionName", "policy_chunks")
	v.SetDefault("milvus.timeoutSec", 10)

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dim", 384)
	v.SetDefault("embedding.batchSize", 64)
	v.SetDefault("embedding.timeoutSec", 30)
	v.SetDefault("embedding.cacheTTL", 86400)

	v.SetDefault("reranker.enabled", false)
	v.SetDefault("reranker.endpoint", "http://localhost:8081/rerank")
	v.SetDefault("reranker.model", "cross-encoder/ms-marco-MiniLM-L-6-v2")
	v.SetDefault("reranker.timeoutSec", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "./data/quotegate.db")

	v.SetDefault("lexical.indexPath", "")

	v.SetDefault("ingestion.chunkSize", 500)
	v.SetDefault("ingestion.chunkOverlap", 80)

	v.SetDefault("evaluation.datasetPath", "./data/eval.json")
	v.SetDefault("evaluation.k", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
