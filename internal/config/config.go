package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Training       TrainingConfig       `mapstructure:"training"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		ContentEvents     string `mapstructure:"content_events"`
		TrainingCompleted string `mapstructure:"training_completed"`
	} `mapstructure:"topics"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RecommendationConfig covers the serving path: per-algorithm score weight
// tables, candidate generation, diversity reranking, and caching.
type RecommendationConfig struct {
	Algorithms map[string]ScoreWeights `mapstructure:"algorithms"`
	Candidates CandidateConfig         `mapstructure:"candidates"`
	Diversity  DiversityConfig         `mapstructure:"diversity"`
	Caching    CachingConfig           `mapstructure:"caching"`
}

// ScoreWeights are the hybrid score components for one algorithm name.
// Each table must sum to 1.
type ScoreWeights struct {
	Content       float64 `mapstructure:"content"`
	Collaborative float64 `mapstructure:"collaborative"`
	Recency       float64 `mapstructure:"recency"`
	Popularity    float64 `mapstructure:"popularity"`
}

type CandidateConfig struct {
	LimitMultiplier int `mapstructure:"limit_multiplier"`
	MaxCandidates   int `mapstructure:"max_candidates"`
}

type DiversityConfig struct {
	DefaultBoost float64 `mapstructure:"default_boost"`
}

type CachingConfig struct {
	RecommendationsTTL time.Duration `mapstructure:"recommendations_ttl"`
	ProfilesTTL        time.Duration `mapstructure:"profiles_ttl"`
	CollabSignalTTL    time.Duration `mapstructure:"collab_signal_ttl"`
}

// TrainingConfig covers the offline path: data-sufficiency floors, the
// cluster count, job bounds, and the online learning rates.
type TrainingConfig struct {
	MinContentItems  int            `mapstructure:"min_content_items"`
	MinInteractions  int            `mapstructure:"min_interactions"`
	VectorDimensions int            `mapstructure:"vector_dimensions"`
	K                int            `mapstructure:"k"`
	MaxIterations    int            `mapstructure:"max_iterations"`
	JobTimeout       time.Duration  `mapstructure:"job_timeout"`
	Learning         LearningConfig `mapstructure:"learning"`
}

// LearningConfig bounds the profile updater's exponential moving average.
type LearningConfig struct {
	Rate            float64       `mapstructure:"rate"`
	MinAlpha        float64       `mapstructure:"min_alpha"`
	MaxAlpha        float64       `mapstructure:"max_alpha"`
	NegativeScale   float64       `mapstructure:"negative_scale"`
	RecencyHalfLife time.Duration `mapstructure:"recency_half_life"`
	ProfileHalfLife time.Duration `mapstructure:"profile_half_life"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Recommendation.Algorithms == nil {
		config.Recommendation.Algorithms = DefaultAlgorithmWeights()
	}

	return &config, nil
}

// DefaultAlgorithmWeights returns the built-in per-algorithm weight tables.
func DefaultAlgorithmWeights() map[string]ScoreWeights {
	return map[string]ScoreWeights{
		"content":       {Content: 1.0},
		"collaborative": {Collaborative: 0.8, Popularity: 0.2},
		"popularity":    {Recency: 0.3, Popularity: 0.7},
		"hybrid":        {Content: 0.5, Collaborative: 0.2, Recency: 0.15, Popularity: 0.15},
	}
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.hot.max_retries", 3)
	viper.SetDefault("redis.hot.pool_size", 10)
	viper.SetDefault("redis.hot.timeout", "5s")
	viper.SetDefault("redis.warm.max_retries", 3)
	viper.SetDefault("redis.warm.pool_size", 5)
	viper.SetDefault("redis.warm.timeout", "10s")

	// Kafka defaults
	viper.SetDefault("kafka.topics.content_events", "content-events")
	viper.SetDefault("kafka.topics.training_completed", "training-completed")

	// Auth defaults
	viper.SetDefault("auth.token_ttl", "24h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Serving defaults
	viper.SetDefault("recommendation.candidates.limit_multiplier", 3)
	viper.SetDefault("recommendation.candidates.max_candidates", 500)
	viper.SetDefault("recommendation.diversity.default_boost", 0.3)
	viper.SetDefault("recommendation.caching.recommendations_ttl", "15m")
	viper.SetDefault("recommendation.caching.profiles_ttl", "1h")
	viper.SetDefault("recommendation.caching.collab_signal_ttl", "30m")

	// Training defaults
	viper.SetDefault("training.min_content_items", 10)
	viper.SetDefault("training.min_interactions", 20)
	viper.SetDefault("training.vector_dimensions", 64)
	viper.SetDefault("training.k", 0) // 0 selects the sqrt(corpus) heuristic
	viper.SetDefault("training.max_iterations", 50)
	viper.SetDefault("training.job_timeout", "10m")
	viper.SetDefault("training.learning.rate", 0.7)
	viper.SetDefault("training.learning.min_alpha", 0.05)
	viper.SetDefault("training.learning.max_alpha", 0.9)
	viper.SetDefault("training.learning.negative_scale", 0.3)
	viper.SetDefault("training.learning.recency_half_life", "168h")
	viper.SetDefault("training.learning.profile_half_life", "720h")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
