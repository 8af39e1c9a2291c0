package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string

	// Upstream completion provider (OpenAI wire protocol).
	OpenAIBaseURL string
	OpenAIAPIKey  string
	Model         string
	MaxTokens     int
	Temperature   float64

	// RequestTimeout bounds one whole chat turn: document retrieval plus
	// the upstream completion round trip.
	RequestTimeout time.Duration
	DocTimeout     time.Duration
	DocByteBudget  int

	// Framing is the declared wire contract for streamed responses:
	// "text" or "sse". It never varies per request.
	Framing string

	// AuthToken is the static shared secret. Empty disables auth.
	AuthToken string

	// DatabaseURL points at the lag metadata store. Empty disables
	// reference-document retrieval entirely.
	DatabaseURL string

	// PersonaFile optionally overrides the built-in persona templates.
	PersonaFile     string
	DefaultLanguage string

	TTSModel string
	TTSVoice string

	// A2A
	A2AEnabled  bool
	A2APort     int
	AgentName   string
	AgentDesc   string
	AgentShop   string
	AgentShopID string
}

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "Relay listen address")
	flag.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", getEnv("OPENAI_BASE_URL", "https://api.openai.com"), "Completion provider base URL or full chat-completions URL")
	flag.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", getEnv("OPENAI_API_KEY", ""), "Completion provider API key (required for /chat)")
	flag.StringVar(&cfg.Model, "model", getEnv("OPENAI_MODEL", "gpt-4o-mini"), "Completion model")
	flag.IntVar(&cfg.MaxTokens, "max-tokens", getEnvInt("OPENAI_MAX_TOKENS", 500), "Completion max_tokens (fixed per deployment)")
	flag.Float64Var(&cfg.Temperature, "temperature", getEnvFloat("OPENAI_TEMPERATURE", 0.7), "Completion temperature (fixed per deployment)")

	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 120*time.Second), "Overall per-turn deadline")
	flag.DurationVar(&cfg.DocTimeout, "doc-fetch-timeout", getEnvDuration("DOC_FETCH_TIMEOUT", 10*time.Second), "Per reference-document fetch timeout")
	flag.IntVar(&cfg.DocByteBudget, "doc-byte-budget", getEnvInt("DOC_BYTE_BUDGET", 32*1024), "Total byte cap for the reference block")

	flag.StringVar(&cfg.Framing, "stream-framing", getEnv("STREAM_FRAMING", "text"), `Stream wire framing: "text" or "sse"`)
	flag.StringVar(&cfg.AuthToken, "auth-token", getEnv("RELAY_AUTH_TOKEN", ""), "Static bearer token for inbound requests (empty = open)")
	flag.StringVar(&cfg.DatabaseURL, "db-url", getEnv("DB_URL", ""), "Postgres URL for the lag metadata store")
	flag.StringVar(&cfg.PersonaFile, "persona-file", getEnv("PERSONA_FILE", ""), "YAML file overriding the built-in persona templates")
	flag.StringVar(&cfg.DefaultLanguage, "default-language", getEnv("DEFAULT_LANGUAGE", "ja"), `Default response language: "ja" or "en"`)

	flag.StringVar(&cfg.TTSModel, "tts-model", getEnv("OPENAI_TTS_MODEL", "tts-1"), "Speech synthesis model")
	flag.StringVar(&cfg.TTSVoice, "tts-voice", getEnv("OPENAI_TTS_VOICE", "alloy"), "Speech synthesis voice")

	flag.BoolVar(&cfg.A2AEnabled, "a2a", getEnvBool("A2A_ENABLED", false), "Expose a street persona as an A2A agent alongside the relay")
	flag.IntVar(&cfg.A2APort, "a2a-port", getEnvInt("A2A_PORT", 8000), "A2A server listen port")
	flag.StringVar(&cfg.AgentName, "agent-name", getEnv("AGENT_NAME", "machikado"), "A2A AgentCard name")
	flag.StringVar(&cfg.AgentDesc, "agent-desc", getEnv("AGENT_DESC", "Shopping-street persona exposed via A2A protocol"), "A2A AgentCard description")
	flag.StringVar(&cfg.AgentShop, "agent-shop", getEnv("AGENT_SHOP_TYPE", ""), "Shop category the A2A agent speaks as")
	flag.StringVar(&cfg.AgentShopID, "agent-shop-id", getEnv("AGENT_SHOP_ID", ""), "Entity id whose lags ground the A2A agent")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}
