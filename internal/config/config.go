package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"2"`

	// ServiceToken authenticates calls from the API gateway; user identity
	// arrives in the X-User-ID header set upstream.
	ServiceToken string `envconfig:"SERVICE_TOKEN"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	// Transcript store: session transcripts written by the capture pipeline
	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3AccessKey      string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `envconfig:"S3_SECRET_ACCESS_KEY"`
	TranscriptBucket string `envconfig:"TRANSCRIPT_BUCKET" default:"qmama-transcripts"`
	S3Region         string `envconfig:"S3_REGION" default:"us-east-1"`

	// Knowledge atom policy knobs
	MaxAtomsPerUser     int     `envconfig:"MAX_ATOMS_PER_USER" default:"500"`
	MinConfidence       float64 `envconfig:"MIN_EXTRACTION_CONFIDENCE" default:"0.4"`
	MinTranscriptChars  int     `envconfig:"MIN_TRANSCRIPT_CHARS" default:"100"`
	TranscriptTailChars int     `envconfig:"TRANSCRIPT_TAIL_CHARS" default:"6000"`
	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.85"`
	LowQualityMinUsage  int     `envconfig:"LOW_QUALITY_MIN_USAGE" default:"5"`
	LowQualityMaxRatio  float64 `envconfig:"LOW_QUALITY_MAX_RATIO" default:"0.3"`
	StaleAfterDays      int     `envconfig:"STALE_AFTER_DAYS" default:"90"`

	CompletionTimeoutSeconds int `envconfig:"COMPLETION_TIMEOUT_SECONDS" default:"60"`
	EmbeddingTimeoutSeconds  int `envconfig:"EMBEDDING_TIMEOUT_SECONDS" default:"15"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("QMAMA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasTranscriptStore() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) CompletionTimeout() time.Duration {
	return time.Duration(c.CompletionTimeoutSeconds) * time.Second
}

func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.EmbeddingTimeoutSeconds) * time.Second
}
