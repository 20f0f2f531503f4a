package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port         int                `json:"port"`
	LogConfig    logger.LogConfig   `json:"log_config"`
	Database     DatabaseConfig     `json:"database"`
	DocCache     DocCacheConfig     `json:"doc_cache"`
	AI           AIConfig           `json:"ai"`
	ECFR         ECFRConfig         `json:"ecfr"`
	DRS          DRSConfig          `json:"drs"`
	Queue        QueueConfig        `json:"queue"`
	Chunking     ChunkingConfig     `json:"chunking"`
	Conversation ConversationConfig `json:"conversation"`
	Search       SearchConfig       `json:"search"`
	RateLimitMS  int                `json:"rate_limit_ms"`
	CORSAllow    []string           `json:"cors_allow"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type DocCacheConfig struct {
	Type     string      `json:"type"`
	TTLHours int         `json:"ttl_hours"`
	Data     interface{} `json:"data"`
}

type ProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	Chat           []ProviderConfig `json:"chat"`
	Embed          []ProviderConfig `json:"embed"`
	Timeout        int              `json:"timeout"`
	MaxInputChars  int              `json:"max_input_chars"`
	EmbedCacheSize int              `json:"embed_cache_size"`
}

type ECFRConfig struct {
	BaseURL string `json:"base_url"`
}

type DRSConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type QueueConfig struct {
	PollSpec          string `json:"poll_spec"`
	Batch             int    `json:"batch"`
	MaxDequeue        int    `json:"max_dequeue"`
	VisibilitySeconds int    `json:"visibility_seconds"`
	MaxDocumentChars  int    `json:"max_document_chars"`
}

type ChunkingConfig struct {
	TargetSize    int `json:"target_size"`
	MinSize       int `json:"min_size"`
	MaxChunks     int `json:"max_chunks"`
	AnalysisLimit int `json:"analysis_limit"`
}

type ConversationConfig struct {
	TTLDays      int `json:"ttl_days"`
	MaxTurns     int `json:"max_turns"`
	ContextTurns int `json:"context_turns"`
}

type SearchConfig struct {
	MinScore float64 `json:"min_score"`
	TopK     int     `json:"top_k"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.DocCache.Type == "" {
		cfg.DocCache.Type = "memory"
	}
	if cfg.DocCache.TTLHours <= 0 {
		cfg.DocCache.TTLHours = 24 * 7
	}
	if cfg.ECFR.BaseURL == "" {
		cfg.ECFR.BaseURL = "https://www.ecfr.gov"
	}
	if cfg.DRS.TimeoutSeconds <= 0 {
		cfg.DRS.TimeoutSeconds = 15
	}
	if cfg.Queue.PollSpec == "" {
		cfg.Queue.PollSpec = "* * * * *"
	}
	if cfg.Queue.Batch <= 0 {
		cfg.Queue.Batch = 10
	}
	if cfg.Queue.MaxDequeue <= 0 {
		cfg.Queue.MaxDequeue = 5
	}
	if cfg.Queue.VisibilitySeconds <= 0 {
		cfg.Queue.VisibilitySeconds = 300
	}
	if cfg.Queue.MaxDocumentChars <= 0 {
		cfg.Queue.MaxDocumentChars = 100000
	}
	if cfg.Chunking.TargetSize <= 0 {
		cfg.Chunking.TargetSize = 2000
	}
	if cfg.Chunking.MinSize <= 0 {
		cfg.Chunking.MinSize = 200
	}
	if cfg.Chunking.MaxChunks <= 0 {
		cfg.Chunking.MaxChunks = 50
	}
	if cfg.Chunking.AnalysisLimit <= 0 {
		cfg.Chunking.AnalysisLimit = 30000
	}
	if cfg.Conversation.TTLDays <= 0 {
		cfg.Conversation.TTLDays = 30
	}
	if cfg.Conversation.MaxTurns <= 0 {
		cfg.Conversation.MaxTurns = 40
	}
	if cfg.Conversation.ContextTurns <= 0 {
		cfg.Conversation.ContextTurns = 6
	}
	if cfg.Search.MinScore <= 0 {
		cfg.Search.MinScore = 0.7
	}
	if cfg.Search.TopK <= 0 {
		cfg.Search.TopK = 5
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.MaxInputChars <= 0 {
		cfg.AI.MaxInputChars = 200000
	}
	if cfg.AI.EmbedCacheSize <= 0 {
		cfg.AI.EmbedCacheSize = 4096
	}
	return &cfg, nil
}
