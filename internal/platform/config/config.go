package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort        string
	AllowedOrigins []string
	JWTKey         []byte
	JWTExp         time.Duration

	LogLevel  string
	LogFormat string
	LogOutput string

	StoreDriver string // "postgres" or "memory"
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSslMode   string
	DBConnStr   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Judge
	JudgeMode            string // "local" runs in-process, "redis" dispatches to judge workers
	JudgeWorkers         int    // in-process queue consumers started by the server in redis mode
	JudgeQueueName       string
	JudgeResultPrefix    string
	JudgeJobPrefix       string
	JudgeLockTTLSeconds  int
	JudgeWaitSeconds     int
	JudgeWorkRoot        string
	JudgeHelperPath      string
	JudgeEnableNs        bool
	JudgeRootFS          string
	JudgeBindMounts      []string
	JudgeAllowUnsandbox  bool
	JudgeEnableSeccomp   bool
	JudgeSeccompProfile  string
	JudgeParallelism     int
	JudgeBudgetSeconds   int
	JudgeCompileSeconds  int
	JudgeOutputLimitKb   int
	DefaultTimeLimitMs   int
	DefaultMemoryLimitKb int
	MaxSourceBytes       int

	// Matches and matchmaking
	MatchDurationSeconds    int
	MatchSweepSeconds       int
	PairingSweepSeconds     int
	RatingBand              int
	RatingKFactor           int
	InitialRating           int
	RoomCodeLength          int
	StatsReconcileSeconds   int
	StatsRetryAttempts      int
	QueueCountRetryAttempts int

	// Events
	EventChannel  string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaClientID string

	// Problem catalog
	ProblemDir     string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioPrefix    string
	MinioSecure    bool
}

var AppConfig *Config

func Load() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = &Config{
		APIPort:        getEnv("API_PORT", "8080"),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		JWTKey:         []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:         time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "user"),
		DBPassword:  getEnv("DB_PASSWORD", "password"),
		DBName:      getEnv("DB_NAME", "duel_arena_db"),
		DBSslMode:   getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		JudgeMode:            getEnv("JUDGE_MODE", "local"),
		JudgeWorkers:         getEnvAsInt("JUDGE_WORKERS", 1),
		JudgeQueueName:       getEnv("JUDGE_QUEUE_NAME", "judge_jobs_queue"),
		JudgeResultPrefix:    getEnv("JUDGE_RESULT_PREFIX", "judge:result:"),
		JudgeJobPrefix:       getEnv("JUDGE_JOB_PREFIX", "judge:job:"),
		JudgeLockTTLSeconds:  getEnvAsInt("JUDGE_LOCK_TTL_SECONDS", 120),
		JudgeWaitSeconds:     getEnvAsInt("JUDGE_WAIT_SECONDS", 90),
		JudgeWorkRoot:        getEnv("JUDGE_WORK_ROOT", os.TempDir()),
		JudgeHelperPath:      getEnv("JUDGE_HELPER_PATH", "sandbox-init"),
		JudgeEnableNs:        getEnvAsBool("JUDGE_ENABLE_NAMESPACES", true),
		JudgeRootFS:          getEnv("JUDGE_ROOTFS", ""),
		JudgeBindMounts:      getEnvAsList("JUDGE_BIND_MOUNTS", nil),
		JudgeAllowUnsandbox:  getEnvAsBool("JUDGE_ALLOW_UNSANDBOXED", false),
		JudgeEnableSeccomp:   getEnvAsBool("JUDGE_ENABLE_SECCOMP", false),
		JudgeSeccompProfile:  getEnv("JUDGE_SECCOMP_PROFILE", ""),
		JudgeParallelism:     getEnvAsInt("JUDGE_PARALLELISM", 4),
		JudgeBudgetSeconds:   getEnvAsInt("JUDGE_BUDGET_SECONDS", 30),
		JudgeCompileSeconds:  getEnvAsInt("JUDGE_COMPILE_SECONDS", 10),
		JudgeOutputLimitKb:   getEnvAsInt("JUDGE_OUTPUT_LIMIT_KB", 64),
		DefaultTimeLimitMs:   getEnvAsInt("DEFAULT_TIME_LIMIT_MS", 2000),
		DefaultMemoryLimitKb: getEnvAsInt("DEFAULT_MEMORY_LIMIT_KB", 262144),
		MaxSourceBytes:       getEnvAsInt("MAX_SOURCE_BYTES", 64*1024),

		MatchDurationSeconds:    getEnvAsInt("MATCH_DURATION_SECONDS", 1800),
		MatchSweepSeconds:       getEnvAsInt("MATCH_SWEEP_SECONDS", 5),
		PairingSweepSeconds:     getEnvAsInt("PAIRING_SWEEP_SECONDS", 2),
		RatingBand:              getEnvAsInt("MATCHMAKING_RATING_BAND", 0),
		RatingKFactor:           getEnvAsInt("RATING_K_FACTOR", 32),
		InitialRating:           getEnvAsInt("INITIAL_RATING", 1200),
		RoomCodeLength:          getEnvAsInt("ROOM_CODE_LENGTH", 8),
		StatsReconcileSeconds:   getEnvAsInt("STATS_RECONCILE_SECONDS", 30),
		StatsRetryAttempts:      getEnvAsInt("STATS_RETRY_ATTEMPTS", 3),
		QueueCountRetryAttempts: getEnvAsInt("QUEUE_COUNT_RETRY_ATTEMPTS", 3),

		EventChannel:  getEnv("EVENT_CHANNEL", "duel:events"),
		KafkaBrokers:  getEnvAsList("KAFKA_BROKERS", nil),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "duel.events"),
		KafkaClientID: getEnv("KAFKA_CLIENT_ID", "duel-arena"),

		ProblemDir:     getEnv("PROBLEM_DIR", "problems"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "problems"),
		MinioPrefix:    getEnv("MINIO_PREFIX", ""),
		MinioSecure:    getEnvAsBool("MINIO_SECURE", false),
	}

	AppConfig.DBConnStr = "host=" + AppConfig.DBHost +
		" port=" + AppConfig.DBPort +
		" user=" + AppConfig.DBUser +
		" password=" + AppConfig.DBPassword +
		" dbname=" + AppConfig.DBName +
		" sslmode=" + AppConfig.DBSslMode
}

// MatchDuration is the ceiling after which an active match resolves without a winner.
func (c *Config) MatchDuration() time.Duration {
	return time.Duration(c.MatchDurationSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
