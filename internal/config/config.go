package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/classpulse-backend/internal/logger"
	"github.com/yungbote/classpulse-backend/internal/utils"
)

// Retrieval carries the two knobs spec'd for context assembly:
// TopK caps context size/cost before filtering, Threshold filters
// low-relevance documents out of the assembled context.
type Retrieval struct {
	TopK      int     `yaml:"top_k"`
	Threshold float64 `yaml:"threshold"`
}

type Streaming struct {
	// FlushWindowMS is the coalescing window for streamed deltas.
	FlushWindowMS int `yaml:"flush_window_ms"`
	// FlushWatermarkBytes forces a flush mid-window once the pending
	// buffer grows past this size.
	FlushWatermarkBytes int `yaml:"flush_watermark_bytes"`
}

type Analytics struct {
	// SupportThreshold is the average percentage below which a student is
	// named in the class summary as needing support.
	SupportThreshold float64 `yaml:"support_threshold"`
}

type Embedding struct {
	// MaxChars truncates summary/query text before embedding.
	MaxChars int `yaml:"max_chars"`
}

type Config struct {
	Retrieval Retrieval `yaml:"retrieval"`
	Streaming Streaming `yaml:"streaming"`
	Analytics Analytics `yaml:"analytics"`
	Embedding Embedding `yaml:"embedding"`
}

func defaults() Config {
	return Config{
		Retrieval: Retrieval{TopK: 10, Threshold: 0.3},
		Streaming: Streaming{FlushWindowMS: 50, FlushWatermarkBytes: 512},
		Analytics: Analytics{SupportThreshold: 70},
		Embedding: Embedding{MaxChars: 10000},
	}
}

// Load reads the optional yaml file named by CLASSPULSE_CONFIG, then applies
// env overrides on top. Missing file is not an error; a malformed file is.
func Load(log *logger.Logger) (Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("CLASSPULSE_CONFIG"))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
			if log != nil {
				log.Warn("Config file not found, using defaults", "path", path)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Retrieval.TopK = utils.GetEnvAsInt("RETRIEVAL_TOP_K", cfg.Retrieval.TopK, log)
	cfg.Retrieval.Threshold = utils.GetEnvAsFloat("RETRIEVAL_THRESHOLD", cfg.Retrieval.Threshold, log)
	cfg.Streaming.FlushWindowMS = utils.GetEnvAsInt("STREAM_FLUSH_WINDOW_MS", cfg.Streaming.FlushWindowMS, log)
	cfg.Streaming.FlushWatermarkBytes = utils.GetEnvAsInt("STREAM_FLUSH_WATERMARK_BYTES", cfg.Streaming.FlushWatermarkBytes, log)
	cfg.Analytics.SupportThreshold = utils.GetEnvAsFloat("ANALYTICS_SUPPORT_THRESHOLD", cfg.Analytics.SupportThreshold, log)
	cfg.Embedding.MaxChars = utils.GetEnvAsInt("EMBED_MAX_CHARS", cfg.Embedding.MaxChars, log)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be within [-1,1], got %v", c.Retrieval.Threshold)
	}
	if c.Streaming.FlushWindowMS <= 0 {
		return fmt.Errorf("streaming.flush_window_ms must be positive, got %d", c.Streaming.FlushWindowMS)
	}
	if c.Embedding.MaxChars <= 0 {
		return fmt.Errorf("embedding.max_chars must be positive, got %d", c.Embedding.MaxChars)
	}
	return nil
}

func (s Streaming) FlushWindow() time.Duration {
	return time.Duration(s.FlushWindowMS) * time.Millisecond
}
