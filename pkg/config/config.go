package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	NATS      NATSConfig
	Subjects  SubjectConfig
	Storage   StorageConfig
	Broadcast BroadcastConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

type NATSConfig struct {
	URL           string
	ClientName    string
	ReconnectWait time.Duration
	MaxReconnects int // -1 retries forever
}

// SubjectConfig names the bus subjects the relay listens and answers on.
type SubjectConfig struct {
	Entry    string
	Exit     string
	Metadata string
	Ack      string
}

type StorageConfig struct {
	LogFile   string
	UploadDir string
	ImageDir  string
}

type BroadcastConfig struct {
	EntryClearDelay time.Duration
	ExitClearDelay  time.Duration
	ClientBuffer    int
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, is loaded first and never overrides variables that
// are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "5000"),
			ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			MaxUploadBytes: int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),
			AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			ClientName:    getEnv("NATS_CLIENT_NAME", "gatekeeper-relay"),
			ReconnectWait: getDuration("NATS_RECONNECT_WAIT", 2*time.Second),
			MaxReconnects: getInt("NATS_MAX_RECONNECTS", -1),
		},
		Subjects: SubjectConfig{
			Entry:    getEnv("SUBJECT_ENTRY", "esp32.new_entry"),
			Exit:     getEnv("SUBJECT_EXIT", "court.access"),
			Metadata: getEnv("SUBJECT_METADATA", "camera.metadata"),
			Ack:      getEnv("SUBJECT_ACK", "camera.ack"),
		},
		Storage: StorageConfig{
			LogFile:   getEnv("LOG_FILE", "log.csv"),
			UploadDir: getEnv("UPLOAD_DIR", "uploads"),
			ImageDir:  getEnv("IMAGE_DIR", "images"),
		},
		Broadcast: BroadcastConfig{
			EntryClearDelay: getDuration("ENTRY_CLEAR_DELAY", 20*time.Second),
			ExitClearDelay:  getDuration("EXIT_CLEAR_DELAY", 5*time.Second),
			ClientBuffer:    getInt("VIEWER_BUFFER", 16),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getList splits a comma separated variable, dropping empty items.
func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
