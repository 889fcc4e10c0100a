package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int              `json:"port"`
	DataDir        string           `json:"data_dir"`
	LogConfig      logger.LogConfig `json:"log_config"`
	Database       DatabaseConfig   `json:"database"`
	Chunker        ChunkerConfig    `json:"chunker"`
	Index          IndexConfig      `json:"index"`
	AI             AIConfig         `json:"ai"`
	EmbedCache     EmbedCacheConfig `json:"embed_cache"`
	FileStore      FileStoreConfig  `json:"file_store"`
	Events         EventsConfig     `json:"events"`
	Watch          WatchConfig      `json:"watch"`
	RateLimitMs    int              `json:"rate_limit_ms"`
	CORSAllowlist  []string         `json:"cors_allowlist"`
	MaxUploadBytes int64            `json:"max_upload_bytes"`
}

type DatabaseConfig struct {
	DSN          string `json:"dsn"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"dbname"`
	SSLMode      string `json:"sslmode"`
	MaxOpenConns int    `json:"max_open_conns"`
}

func (c DatabaseConfig) Enabled() bool {
	return c.DSN != "" || c.Host != ""
}

func (c DatabaseConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.DBName, sslmode)
}

type ChunkerConfig struct {
	MaxTokens int `json:"max_tokens"`
	// nil means the default of 20 words, 0 disables overlap.
	OverlapTokens *int `json:"overlap_tokens"`
}

func (c ChunkerConfig) Overlap() int {
	if c.OverlapTokens == nil {
		return 20
	}
	if *c.OverlapTokens < 0 {
		return 0
	}
	return *c.OverlapTokens
}

type IndexConfig struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Distance string `json:"distance"`
}

// Args is the backend specific settings handed to the index factory.
func (c IndexConfig) Args() map[string]interface{} {
	return map[string]interface{}{
		"path":     c.Path,
		"distance": c.Distance,
	}
}

type AIConfig struct {
	Timeout        int              `json:"timeout"`
	EmbedBatchSize int              `json:"embed_batch_size"`
	EmbedParallel  int              `json:"embed_parallel"`
	Generators     []ProviderConfig `json:"generators"`
	Embedders      []ProviderConfig `json:"embedders"`
}

type ProviderConfig struct {
	Name     string                 `json:"name"`
	Provider string                 `json:"provider"`
	Model    string                 `json:"model"`
	Data     map[string]interface{} `json:"data"`
}

type EmbedCacheConfig struct {
	LRUSize       int              `json:"lru_size"`
	LRUTTLSeconds int              `json:"lru_ttl_seconds"`
	Redis         RedisCacheConfig `json:"redis"`
	DB            DBCacheConfig    `json:"db"`
}

type RedisCacheConfig struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
	Prefix     string `json:"prefix"`
}

type DBCacheConfig struct {
	Enable      bool   `json:"enable"`
	MaxAgeDays  int    `json:"max_age_days"`
	CleanupSpec string `json:"cleanup_spec"`
}

type FileStoreConfig struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

type EventsConfig struct {
	Kafka KafkaConfig `json:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type WatchConfig struct {
	Enable     bool   `json:"enable"`
	DebounceMs int    `json:"debounce_ms"`
	SyncSpec   string `json:"sync_spec"`
}

// Load reads a json or yaml config. An empty path yields the defaults.
// Environment overrides are applied before defaults and validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err := decode(path, raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode reads yaml through a generic map so json tags are the only schema.
func decode(path string, raw []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var m map[string]interface{}
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		raw = data
	}
	return json.Unmarshal(raw, cfg)
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DOCRAG_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRAG_INDEX_TYPE")); v != "" {
		cfg.Index.Type = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.File == "" {
		cfg.LogConfig.Console = true
	}
	if cfg.Chunker.MaxTokens <= 0 {
		cfg.Chunker.MaxTokens = 100
	}
	overlap := cfg.Chunker.Overlap()
	cfg.Chunker.OverlapTokens = &overlap
	if cfg.Index.Type == "" {
		cfg.Index.Type = "sqlite"
	}
	cfg.Index.Type = strings.ToLower(cfg.Index.Type)
	if cfg.Index.Type == "sqlite" && cfg.Index.Path == "" {
		cfg.Index.Path = filepath.Join(cfg.DataDir, "index", "chunks.db")
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.EmbedBatchSize <= 0 {
		cfg.AI.EmbedBatchSize = 64
	}
	if cfg.AI.EmbedParallel <= 0 {
		cfg.AI.EmbedParallel = 2
	}
	if len(cfg.AI.Generators) == 0 {
		cfg.AI.Generators = []ProviderConfig{{Name: "ollama", Provider: "ollama", Model: "gemma:2b"}}
	}
	if len(cfg.AI.Embedders) == 0 {
		cfg.AI.Embedders = []ProviderConfig{{Name: "hashing", Provider: "hashing"}}
	}
	for _, list := range [][]ProviderConfig{cfg.AI.Generators, cfg.AI.Embedders} {
		for i := range list {
			if list[i].Name == "" {
				list[i].Name = list[i].Provider
			}
		}
	}
	if cfg.EmbedCache.LRUSize == 0 {
		cfg.EmbedCache.LRUSize = 10000
	}
	if cfg.EmbedCache.LRUTTLSeconds == 0 {
		cfg.EmbedCache.LRUTTLSeconds = 7200
	}
	if cfg.EmbedCache.Redis.TTLSeconds == 0 {
		cfg.EmbedCache.Redis.TTLSeconds = 86400
	}
	if cfg.EmbedCache.DB.MaxAgeDays == 0 {
		cfg.EmbedCache.DB.MaxAgeDays = 30
	}
	if cfg.EmbedCache.DB.CleanupSpec == "" {
		cfg.EmbedCache.DB.CleanupSpec = "@daily"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	cfg.FileStore.Type = strings.ToLower(cfg.FileStore.Type)
	if cfg.FileStore.Type == "local" {
		if cfg.FileStore.Data == nil {
			cfg.FileStore.Data = map[string]interface{}{}
		}
		if _, ok := cfg.FileStore.Data["dir"]; !ok {
			cfg.FileStore.Data["dir"] = cfg.DataDir
		}
	}
	if cfg.Watch.DebounceMs <= 0 {
		cfg.Watch.DebounceMs = 500
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
}

func validate(cfg *Config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.Port)
	}
	switch cfg.Index.Type {
	case "memory", "sqlite":
	case "pgvector":
		if !cfg.Database.Enabled() {
			return fmt.Errorf("index.type pgvector requires database settings")
		}
	default:
		return fmt.Errorf("index.type must be memory, sqlite or pgvector")
	}
	if cfg.EmbedCache.DB.Enable && !cfg.Database.Enabled() {
		return fmt.Errorf("embed_cache.db requires database settings")
	}
	switch cfg.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	for _, p := range append(append([]ProviderConfig{}, cfg.AI.Generators...), cfg.AI.Embedders...) {
		if p.Provider == "" {
			return fmt.Errorf("ai provider %q has no provider type", p.Name)
		}
	}
	if len(cfg.Events.Kafka.Brokers) > 0 && cfg.Events.Kafka.Topic == "" {
		return fmt.Errorf("events.kafka.topic is required when brokers are set")
	}
	return nil
}
