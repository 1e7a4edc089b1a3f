package config

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// gateway
	DatabaseURL   string
	SslCertPath   string
	JWTSecret     string
	TokenTTLHours int
	Port          string
	CORSOrigins   []string
	AutoBootstrap bool

	// client
	GatewayURL         string
	AIAPIKey           string
	GenModel           string
	MaxAttachmentBytes int

	// attachment archive (optional)
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	LogLevel string
	LogFile  string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	return &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SslCertPath:        getEnv("SSL_CERT_PATH", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenTTLHours:      getEnvInt("TOKEN_TTL_HOURS", 24),
		Port:               getEnv("PORT", "8080"),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		AutoBootstrap:      getEnvBool("AUTO_BOOTSTRAP", true),
		GatewayURL:         getEnv("GATEWAY_URL", "http://localhost:8080"),
		AIAPIKey:           getEnv("GEMINI_API_KEY", ""),
		GenModel:           getEnv("GEN_MODEL", "gemini-1.5-flash"),
		MaxAttachmentBytes: getEnvInt("MAX_ATTACHMENT_BYTES", 5<<20),
		AwsAccessKey:       getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:       getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:          getEnv("AWS_REGION", "us-east-2"),
		BucketName:         getEnv("BUCKET_NAME", ""),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		LogFile:            getEnv("LOG_FILE", ""),
	}
}

// ValidateGateway reports the settings the backend gateway cannot start without.
func (c *Config) ValidateGateway() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive, got %d", c.TokenTTLHours)
	}
	return nil
}

// ValidateClient reports the settings the chat client cannot start without.
// A missing GEMINI_API_KEY is not an error: the assistant then answers with
// its unavailable message.
func (c *Config) ValidateClient() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL not set")
	}
	if c.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive, got %d", c.MaxAttachmentBytes)
	}
	return nil
}

// ArchiveEnabled is true when attachments should be mirrored to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// NewLogger builds the process logger. When LOG_FILE is set the log goes
// there, otherwise to the given fallback writer.
func (c *Config) NewLogger(fallback io.Writer) (*slog.Logger, io.Closer, error) {
	out := fallback
	var closer io.Closer = io.NopCloser(nil)
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", c.LogFile, err)
		}
		out, closer = f, f
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(c.LogLevel)})
	return slog.New(handler), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
