package app

import (
	"strings"
	"time"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/utils"
)

type Config struct {
	AppEnv       string
	Port         string
	AllowOrigins []string
	ServiceName  string

	// KVBackend selects the persistence port: gorm (default), redis, memory.
	KVBackend string

	GenerationTTL     time.Duration
	ReconcileInterval time.Duration
	ShutdownTimeout   time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	origins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173", log), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return Config{
		AppEnv:            utils.GetEnv("APP_ENV", "development", log),
		Port:              utils.GetEnv("PORT", "8080", log),
		AllowOrigins:      origins,
		ServiceName:       utils.GetEnv("OTEL_SERVICE_NAME", "loom-backend", log),
		KVBackend:         strings.ToLower(utils.GetEnv("KV_BACKEND", "gorm", log)),
		GenerationTTL:     utils.GetEnvAsDuration("LEARN_GENERATION_TTL", 10*time.Minute, log),
		ReconcileInterval: utils.GetEnvAsDuration("LEARN_RECONCILE_INTERVAL", 5*time.Minute, log),
		ShutdownTimeout:   utils.GetEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second, log),
	}
}
