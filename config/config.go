package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr  string
	MediaRoot string // 本地媒体根目录，资源路径均相对于此目录

	// 存储后端: local 或 minio
	StorageBackend string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBLogLevel string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// 任务队列与处理配置
	QueueName         string
	WorkerConcurrency int
	JobMaxAttempts    int
	JobRetryDelay     time.Duration
	JobRetryMaxDelay  time.Duration
	JobSoftTimeLimit  time.Duration
	JobResultTTL      time.Duration

	FFmpegPath     string
	FFprobePath    string
	SeparatorCmd   string // 人声分离命令，为空时跳过
	TranscriberCmd string // 歌词转写命令，为空时跳过

	StreamChunkSize int
	AssetCacheTTL   time.Duration // 资源记录缓存时间，0 表示不缓存

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8000"),
		MediaRoot: getEnv("MEDIA_ROOT", "./media"),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "nebulaktv"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "nebulaktv"),
		DBLogLevel: getEnv("DB_LOG_LEVEL", "warn"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		QueueName:         getEnv("QUEUE_NAME", "ai_processing"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		JobMaxAttempts:    getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobRetryDelay:     getEnvDuration("JOB_RETRY_DELAY", 60*time.Second),
		JobRetryMaxDelay:  getEnvDuration("JOB_RETRY_MAX_DELAY", 10*time.Minute),
		JobSoftTimeLimit:  getEnvDuration("JOB_SOFT_TIME_LIMIT", 50*time.Minute),
		JobResultTTL:      getEnvDuration("JOB_RESULT_TTL", 24*time.Hour),

		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:    getEnv("FFPROBE_PATH", "ffprobe"),
		SeparatorCmd:   os.Getenv("SEPARATOR_CMD"),
		TranscriberCmd: os.Getenv("TRANSCRIBER_CMD"),

		StreamChunkSize: getEnvInt("STREAM_CHUNK_SIZE", 8192),
		AssetCacheTTL:   getEnvDuration("ASSET_CACHE_TTL", 5*time.Minute),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}
