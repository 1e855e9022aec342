package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// DefaultInstructions are sent to the realtime service when neither
// REALTIME_INSTRUCTIONS nor REALTIME_INSTRUCTIONS_FILE is set.
const DefaultInstructions = `You are the phone receptionist for an independent auto repair shop.

Opening hours: Monday to Friday 8am to 6pm, Saturday 9am to 1pm, closed Sunday.
Services: general repair, diagnostics, brakes, oil changes, engine and electrical work, tires, state inspections, light diesel.

On every call:
- Greet the caller and keep answers short.
- Ask for the vehicle's year, make and model.
- Ask what the problem is.
- Ask when they would like to bring the vehicle in.
- Ask for their name and phone number.
- Finish by reading back a short summary of the request.

Be friendly and professional.`

type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR,default=:3000"`
	Port      string `env:"PORT"` // overrides HTTPAddr when set
	PublicDir string `env:"PUBLIC_DIR,default=public"`

	// Upstream realtime service
	OpenAIAPIKey     string   `env:"OPENAI_API_KEY"`
	RealtimeURL      string   `env:"OPENAI_REALTIME_URL,default=wss://api.openai.com/v1/realtime"`
	RealtimeModel    string   `env:"OPENAI_REALTIME_MODEL,default=gpt-4o-realtime-preview"`
	OpenAIBeta       string   `env:"OPENAI_BETA,default=realtime=v1"`
	Voice            string   `env:"REALTIME_VOICE,default=alloy"`
	Modalities       []string `env:"REALTIME_MODALITIES,default=text;audio"`
	Instructions     string   `env:"REALTIME_INSTRUCTIONS"`
	InstructionsFile string   `env:"REALTIME_INSTRUCTIONS_FILE"`

	// Commit interception
	AutoRespond        bool     `env:"AUTO_RESPOND_ON_COMMIT,default=true"`
	ResponseModalities []string `env:"RESPONSE_MODALITIES,default=audio;text"`

	// Session limits
	ConnectTimeout    time.Duration `env:"UPSTREAM_CONNECT_TIMEOUT,default=10s"`
	PendingLimit      int           `env:"PENDING_MESSAGE_LIMIT,default=64"`
	OutboundQueueSize int           `env:"OUTBOUND_QUEUE_SIZE,default=256"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	CloseGrace        time.Duration `env:"CLOSE_GRACE,default=1s"`
	PingInterval      time.Duration `env:"PING_INTERVAL,default=30s"`
	MaxMessageBytes   int64         `env:"MAX_MESSAGE_BYTES,default=4194304"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	// Admin access
	AdminAPIKey string `env:"ADMIN_API_KEY"`

	// Error monitoring
	SentryDSN string `env:"SENTRY_DSN"`
}

// LoadConfigFromEnv decodes the environment into a Config, fills derived
// values and validates it.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port != "" {
		c.HTTPAddr = ":" + strings.TrimPrefix(c.Port, ":")
	}

	if c.InstructionsFile != "" {
		data, err := os.ReadFile(c.InstructionsFile)
		if err != nil {
			return fmt.Errorf("read REALTIME_INSTRUCTIONS_FILE: %w", err)
		}
		c.Instructions = string(data)
	}
	c.Instructions = strings.TrimSpace(c.Instructions)
	if c.Instructions == "" {
		c.Instructions = DefaultInstructions
	}

	c.Modalities = parseList(c.Modalities)
	c.ResponseModalities = parseList(c.ResponseModalities)

	c.PendingLimit = clampInt(c.PendingLimit, 64, 1, 4096)
	c.OutboundQueueSize = clampInt(c.OutboundQueueSize, 256, 1, 65536)

	c.ConnectTimeout = positiveOr(c.ConnectTimeout, 10*time.Second)
	c.WriteTimeout = positiveOr(c.WriteTimeout, 10*time.Second)
	c.CloseGrace = positiveOr(c.CloseGrace, time.Second)
	c.ShutdownTimeout = positiveOr(c.ShutdownTimeout, 10*time.Second)
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.MaxMessageBytes < 0 {
		c.MaxMessageBytes = 0
	}
	return nil
}

// Validate reports the first configuration problem that prevents startup.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.RealtimeURL == "" {
		return errors.New("OPENAI_REALTIME_URL must not be empty")
	}
	if c.RealtimeModel == "" {
		return errors.New("OPENAI_REALTIME_MODEL must not be empty")
	}
	return nil
}

// parseList trims and lowercases entries and drops empty ones.
func parseList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// clampInt keeps v within [min, max]. Zero means unset and yields def.
func clampInt(v, def, min, max int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func positiveOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
