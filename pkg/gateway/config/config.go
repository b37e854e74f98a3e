package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-agent/pkg/core/media"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

const (
	EmbeddingsOpenAI = "openai"
	EmbeddingsGemini = "gemini"
)

// DefaultVideo is the sample clip shared when nothing better is known.
const DefaultVideo = "https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4"

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORSAllowedOrigins also gates websocket upgrades from browsers.
	CORSAllowedOrigins map[string]struct{}

	MaxBodyBytes int64

	AgentName   string
	PersonaFile string

	// Screen share.
	PublishWidth       int
	PublishHeight      int
	PublishFormat      media.PixelFormat
	DefaultFPS         float64
	Scaler             string
	DefaultVideo       string
	MediaCacheDir      string
	MediaFetchTimeout  time.Duration
	MediaMaxBytes      int64
	S3Region           string
	S3Endpoint         string
	ParticipantTimeout time.Duration
	ViewerQueueFrames  int
	ViewerGrace        time.Duration

	// Voice runtime control channel.
	ReplyTimeout     time.Duration
	HandshakeTimeout time.Duration
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration

	// Knowledge lookup.
	StatusUpdateDelay    time.Duration
	LookupTopK           int
	LookupTimeout        time.Duration
	PineconeAPIKey       string
	PineconeIndex        string
	PineconeIndexHost    string
	PineconeNamespace    string
	PineconeControlURL   string
	EmbeddingsProvider   string
	EmbeddingsModel      string
	EmbeddingsDimensions int
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	GeminiAPIKey         string

	// Content store. Empty DatabaseURL disables it.
	DatabaseURL string
	DBMaxConns  int

	// Job dispatch over NATS. Empty NATSURL disables it.
	NATSURL             string
	NATSDispatchSubject string
	NATSQueue           string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("VAI_AGENT_ADDR", ":8080"),
		AuthMode:             AuthMode(envOr("VAI_AGENT_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:              make(map[string]struct{}),
		CORSAllowedOrigins:   make(map[string]struct{}),
		MaxBodyBytes:         envInt64Or("VAI_AGENT_MAX_BODY_BYTES", 1<<20),
		AgentName:            envOr("VAI_AGENT_AGENT_NAME", "context-agent"),
		PersonaFile:          envOr("VAI_AGENT_PERSONA_FILE", ""),
		PublishWidth:         envIntOr("VAI_AGENT_PUBLISH_WIDTH", 1280),
		PublishHeight:        envIntOr("VAI_AGENT_PUBLISH_HEIGHT", 720),
		PublishFormat:        media.PixelFormat(strings.ToLower(envOr("VAI_AGENT_PUBLISH_FORMAT", string(media.FormatARGB)))),
		DefaultFPS:           envFloat64Or("VAI_AGENT_DEFAULT_FPS", 30),
		Scaler:               envOr("VAI_AGENT_SCALER", "approx_bilinear"),
		DefaultVideo:         envOr("VAI_AGENT_DEFAULT_VIDEO", DefaultVideo),
		MediaCacheDir:        envOr("VAI_AGENT_MEDIA_CACHE_DIR", ""),
		MediaFetchTimeout:    envDurationOr("VAI_AGENT_MEDIA_FETCH_TIMEOUT", 5*time.Minute),
		MediaMaxBytes:        envInt64Or("VAI_AGENT_MEDIA_MAX_BYTES", 2<<30),
		S3Region:             envOr("VAI_AGENT_S3_REGION", ""),
		S3Endpoint:           envOr("VAI_AGENT_S3_ENDPOINT", ""),
		ParticipantTimeout:   envDurationOr("VAI_AGENT_PARTICIPANT_TIMEOUT", 10*time.Second),
		ViewerQueueFrames:    envIntOr("VAI_AGENT_VIEWER_QUEUE_FRAMES", 2),
		ViewerGrace:          envDurationOr("VAI_AGENT_VIEWER_GRACE", 5*time.Second),
		ReplyTimeout:         envDurationOr("VAI_AGENT_REPLY_TIMEOUT", 30*time.Second),
		HandshakeTimeout:     envDurationOr("VAI_AGENT_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSWriteTimeout:       envDurationOr("VAI_AGENT_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:       envDurationOr("VAI_AGENT_WS_PING_INTERVAL", 20*time.Second),
		StatusUpdateDelay:    envDurationOr("VAI_AGENT_STATUS_UPDATE_DELAY", 500*time.Millisecond),
		LookupTopK:           envIntOr("VAI_AGENT_LOOKUP_TOP_K", 3),
		LookupTimeout:        envDurationOr("VAI_AGENT_LOOKUP_TIMEOUT", 20*time.Second),
		PineconeAPIKey:       envOr("VAI_AGENT_PINECONE_API_KEY", ""),
		PineconeIndex:        envOr("VAI_AGENT_PINECONE_INDEX", "web-scraper-index-three"),
		PineconeIndexHost:    envOr("VAI_AGENT_PINECONE_INDEX_HOST", ""),
		PineconeNamespace:    envOr("VAI_AGENT_PINECONE_NAMESPACE", "default"),
		PineconeControlURL:   envOr("VAI_AGENT_PINECONE_CONTROL_URL", "https://api.pinecone.io"),
		EmbeddingsProvider:   strings.ToLower(envOr("VAI_AGENT_EMBEDDINGS_PROVIDER", EmbeddingsOpenAI)),
		EmbeddingsModel:      envOr("VAI_AGENT_EMBEDDINGS_MODEL", ""),
		EmbeddingsDimensions: envIntOr("VAI_AGENT_EMBEDDINGS_DIMENSIONS", 1536),
		OpenAIAPIKey:         envOr("VAI_AGENT_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:        envOr("VAI_AGENT_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiAPIKey:         envOr("VAI_AGENT_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		DatabaseURL:          envOr("VAI_AGENT_DATABASE_URL", ""),
		DBMaxConns:           envIntOr("VAI_AGENT_DB_MAX_CONNS", 10),
		NATSURL:              envOr("VAI_AGENT_NATS_URL", ""),
		NATSDispatchSubject:  envOr("VAI_AGENT_NATS_DISPATCH_SUBJECT", "vai.agent.dispatch"),
		NATSQueue:            envOr("VAI_AGENT_NATS_QUEUE", "vai-agent"),
		ReadHeaderTimeout:    envDurationOr("VAI_AGENT_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("VAI_AGENT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_AGENT_AUTH_MODE must be one of required|optional|disabled")
	}
	for _, key := range splitCSV(os.Getenv("VAI_AGENT_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("VAI_AGENT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_API_KEYS must be set when VAI_AGENT_AUTH_MODE=required")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_MAX_BODY_BYTES must be > 0")
	}
	if cfg.PublishWidth <= 0 || cfg.PublishHeight <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_PUBLISH_WIDTH and VAI_AGENT_PUBLISH_HEIGHT must be > 0")
	}
	if _, err := media.ParsePixelFormat(string(cfg.PublishFormat)); err != nil {
		return Config{}, fmt.Errorf("VAI_AGENT_PUBLISH_FORMAT: %w", err)
	}
	if _, err := media.ParseScaler(cfg.Scaler); err != nil {
		return Config{}, fmt.Errorf("VAI_AGENT_SCALER: %w", err)
	}
	if cfg.DefaultFPS <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_DEFAULT_FPS must be > 0")
	}
	if cfg.ParticipantTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_PARTICIPANT_TIMEOUT must be > 0")
	}
	if cfg.ViewerQueueFrames <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_VIEWER_QUEUE_FRAMES must be > 0")
	}
	if cfg.MediaFetchTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_MEDIA_FETCH_TIMEOUT must be > 0")
	}
	if cfg.MediaMaxBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_MEDIA_MAX_BYTES must be > 0")
	}
	if cfg.ViewerGrace <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_VIEWER_GRACE must be > 0")
	}
	if cfg.ReplyTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_REPLY_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_WS_PING_INTERVAL must be > 0")
	}
	if cfg.StatusUpdateDelay <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_STATUS_UPDATE_DELAY must be > 0")
	}
	if cfg.LookupTopK <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_LOOKUP_TOP_K must be > 0")
	}
	if cfg.LookupTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_LOOKUP_TIMEOUT must be >= 0")
	}
	switch cfg.EmbeddingsProvider {
	case EmbeddingsOpenAI, EmbeddingsGemini:
	default:
		return Config{}, fmt.Errorf("VAI_AGENT_EMBEDDINGS_PROVIDER must be one of openai|gemini")
	}
	if cfg.EmbeddingsDimensions < 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_EMBEDDINGS_DIMENSIONS must be >= 0")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_DB_MAX_CONNS must be > 0")
	}
	if cfg.NATSURL != "" && strings.TrimSpace(cfg.NATSDispatchSubject) == "" {
		return Config{}, fmt.Errorf("VAI_AGENT_NATS_DISPATCH_SUBJECT must be set when VAI_AGENT_NATS_URL is set")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_AGENT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return cfg, nil
}

// KnowledgeConfigured reports whether a vector index can be reached.
func (c Config) KnowledgeConfigured() bool {
	if c.PineconeAPIKey == "" {
		return false
	}
	switch c.EmbeddingsProvider {
	case EmbeddingsGemini:
		return c.GeminiAPIKey != ""
	default:
		return c.OpenAIAPIKey != ""
	}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return strings.TrimSpace(def)
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
