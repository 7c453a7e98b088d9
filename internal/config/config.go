// Пакет config — загрузка и валидация конфигурации finportal
// из переменных окружения (префикс FP_).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // часовые пояса доступны и в distroless-образе
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы доставки побочных эффектов активности.
const (
	DispatchAsync = "async"
	DispatchSync  = "sync"
	DispatchAMQP  = "amqp"
)

// Хранилища производных счётчиков.
const (
	CounterStoreAirtable = "airtable"
	CounterStoreRedis    = "redis"
)

// Config содержит все параметры конфигурации finportal.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Разрешённые CORS origins (SPA)
	CORSOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// --- Airtable ---

	AirtableURL       string
	AirtableAPIKey    string
	AirtableBaseID    string
	AirtableTimeout   time.Duration
	AirtableRateLimit float64
	// Схема имён колонок: standard (camelCase) или legacy ("Download Count").
	AirtableFieldSchema string
	Tables              Tables
	FilesView           string

	// --- Каталог ---

	CatalogCacheTTL      time.Duration
	CatalogRequireSector bool
	LatestLimit          int

	// --- Firebase ---

	FirebaseProjectID       string
	FirebaseJWKSURL         string
	FirebaseCredentialsFile string
	IdentityURL             string
	JWKSRefreshInterval     time.Duration
	JWKSClientTimeout       time.Duration
	JWTLeeway               time.Duration

	// --- Администраторы ---

	AdminEmails          []string
	AdminLegacyAllowlist bool
	AdminLegacyTable     bool
	GrantRequireAdmin    bool

	// --- Активность ---

	ActivityDispatch     string
	ActivityWorkers      int
	ActivityQueueSize    int
	ActivityRetries      int
	ActivityRetryBackoff time.Duration

	// --- Счётчики ---

	CounterStore   string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// --- Статистика ---

	StatsDays int
	Location  *time.Location

	// --- RabbitMQ ---

	AMQPURL   string
	AMQPQueue string

	// --- MinIO (зеркало вложений, опционально) ---

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	// --- OpenTelemetry ---

	OTelEndpoint    string
	OTelInsecure    bool
	OTelServiceName string

	// --- topologymetrics ---

	DephealthEnabled       bool
	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Tables — имена таблиц в базе Airtable.
type Tables struct {
	Files         string
	Activity      string
	FileStats     string
	DailyStats    string
	UserStats     string
	DeviceStats   string
	BrowserStats  string
	AdminUsers    string
	Users         string
	Announcements string
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("FP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FP_PORT: порт вне диапазона 1-65535: %d", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FP_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FP_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.CORSOrigins = getEnvList("FP_CORS_ORIGINS", []string{"*"})

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"FP_HTTP_READ_TIMEOUT", &cfg.HTTPReadTimeout, 30 * time.Second},
		{"FP_HTTP_WRITE_TIMEOUT", &cfg.HTTPWriteTimeout, 120 * time.Second},
		{"FP_HTTP_IDLE_TIMEOUT", &cfg.HTTPIdleTimeout, 120 * time.Second},
		{"FP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 10 * time.Second},
		{"FP_AIRTABLE_TIMEOUT", &cfg.AirtableTimeout, 15 * time.Second},
		{"FP_CATALOG_CACHE_TTL", &cfg.CatalogCacheTTL, 5 * time.Minute},
		{"FP_JWKS_REFRESH_INTERVAL", &cfg.JWKSRefreshInterval, time.Hour},
		{"FP_JWKS_CLIENT_TIMEOUT", &cfg.JWKSClientTimeout, 10 * time.Second},
		{"FP_JWT_LEEWAY", &cfg.JWTLeeway, 30 * time.Second},
		{"FP_ACTIVITY_RETRY_BACKOFF", &cfg.ActivityRetryBackoff, 500 * time.Millisecond},
		{"FP_DEPHEALTH_CHECK_INTERVAL", &cfg.DephealthCheckInterval, 15 * time.Second},
	}
	for _, d := range durations {
		*d.dst, err = getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	// --- Airtable ---

	cfg.AirtableURL = strings.TrimRight(getEnvDefault("FP_AIRTABLE_URL", "https://api.airtable.com"), "/")
	if cfg.AirtableAPIKey, err = getEnvRequired("FP_AIRTABLE_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.AirtableBaseID, err = getEnvRequired("FP_AIRTABLE_BASE_ID"); err != nil {
		return nil, err
	}

	cfg.AirtableRateLimit, err = getEnvFloat("FP_AIRTABLE_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("FP_AIRTABLE_RATE_LIMIT: %w", err)
	}
	if cfg.AirtableRateLimit <= 0 {
		return nil, fmt.Errorf("FP_AIRTABLE_RATE_LIMIT: значение должно быть > 0")
	}

	cfg.AirtableFieldSchema = getEnvDefault("FP_AIRTABLE_FIELD_SCHEMA", "standard")
	if cfg.AirtableFieldSchema != "standard" && cfg.AirtableFieldSchema != "legacy" {
		return nil, fmt.Errorf("FP_AIRTABLE_FIELD_SCHEMA: недопустимая схема %q, допустимые: standard, legacy", cfg.AirtableFieldSchema)
	}

	cfg.Tables = Tables{
		Files:         getEnvDefault("FP_AIRTABLE_FILES_TABLE", "Files"),
		Activity:      getEnvDefault("FP_AIRTABLE_ACTIVITY_TABLE", "Activity_Logs"),
		FileStats:     getEnvDefault("FP_AIRTABLE_FILE_STATS_TABLE", "File_Stats"),
		DailyStats:    getEnvDefault("FP_AIRTABLE_DAILY_STATS_TABLE", "Daily_Stats"),
		UserStats:     getEnvDefault("FP_AIRTABLE_USER_STATS_TABLE", "User_Stats"),
		DeviceStats:   getEnvDefault("FP_AIRTABLE_DEVICE_STATS_TABLE", "Device_Stats"),
		BrowserStats:  getEnvDefault("FP_AIRTABLE_BROWSER_STATS_TABLE", "Browser_Stats"),
		AdminUsers:    getEnvDefault("FP_AIRTABLE_ADMIN_USERS_TABLE", "Admin_Users"),
		Users:         getEnvDefault("FP_AIRTABLE_USERS_TABLE", "Users"),
		Announcements: getEnvDefault("FP_AIRTABLE_ANNOUNCEMENTS_TABLE", "Announcements"),
	}
	cfg.FilesView = os.Getenv("FP_AIRTABLE_FILES_VIEW")

	// --- Каталог ---

	cfg.CatalogRequireSector, err = getEnvBool("FP_CATALOG_REQUIRE_SECTOR", true)
	if err != nil {
		return nil, fmt.Errorf("FP_CATALOG_REQUIRE_SECTOR: %w", err)
	}
	cfg.LatestLimit, err = getEnvInt("FP_LATEST_LIMIT", 6)
	if err != nil {
		return nil, fmt.Errorf("FP_LATEST_LIMIT: %w", err)
	}

	// --- Firebase ---

	if cfg.FirebaseProjectID, err = getEnvRequired("FP_FIREBASE_PROJECT_ID"); err != nil {
		return nil, err
	}
	cfg.FirebaseJWKSURL = getEnvDefault("FP_FIREBASE_JWKS_URL",
		"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com")
	cfg.FirebaseCredentialsFile = os.Getenv("FP_FIREBASE_CREDENTIALS_FILE")
	cfg.IdentityURL = strings.TrimRight(getEnvDefault("FP_IDENTITY_URL", "https://identitytoolkit.googleapis.com"), "/")

	// --- Администраторы ---

	cfg.AdminEmails = normalizeEmails(getEnvList("FP_ADMIN_EMAILS", nil))
	if cfg.AdminLegacyAllowlist, err = getEnvBool("FP_ADMIN_LEGACY_ALLOWLIST", false); err != nil {
		return nil, fmt.Errorf("FP_ADMIN_LEGACY_ALLOWLIST: %w", err)
	}
	if cfg.AdminLegacyTable, err = getEnvBool("FP_ADMIN_LEGACY_TABLE", false); err != nil {
		return nil, fmt.Errorf("FP_ADMIN_LEGACY_TABLE: %w", err)
	}
	if cfg.GrantRequireAdmin, err = getEnvBool("FP_GRANT_REQUIRE_ADMIN", true); err != nil {
		return nil, fmt.Errorf("FP_GRANT_REQUIRE_ADMIN: %w", err)
	}

	// --- Активность ---

	cfg.ActivityDispatch = getEnvDefault("FP_ACTIVITY_DISPATCH", DispatchAsync)
	switch cfg.ActivityDispatch {
	case DispatchAsync, DispatchSync, DispatchAMQP:
	default:
		return nil, fmt.Errorf("FP_ACTIVITY_DISPATCH: недопустимый режим %q, допустимые: async, sync, amqp", cfg.ActivityDispatch)
	}
	if cfg.ActivityWorkers, err = getEnvInt("FP_ACTIVITY_WORKERS", 4); err != nil {
		return nil, fmt.Errorf("FP_ACTIVITY_WORKERS: %w", err)
	}
	if cfg.ActivityQueueSize, err = getEnvInt("FP_ACTIVITY_QUEUE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("FP_ACTIVITY_QUEUE_SIZE: %w", err)
	}
	if cfg.ActivityRetries, err = getEnvInt("FP_ACTIVITY_RETRIES", 3); err != nil {
		return nil, fmt.Errorf("FP_ACTIVITY_RETRIES: %w", err)
	}
	if cfg.ActivityWorkers < 1 || cfg.ActivityQueueSize < 1 || cfg.ActivityRetries < 1 {
		return nil, fmt.Errorf("FP_ACTIVITY_WORKERS, FP_ACTIVITY_QUEUE_SIZE, FP_ACTIVITY_RETRIES: значения должны быть >= 1")
	}

	// --- Счётчики ---

	cfg.RedisAddr = os.Getenv("FP_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("FP_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("FP_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("FP_REDIS_DB: %w", err)
	}
	cfg.RedisKeyPrefix = getEnvDefault("FP_REDIS_KEY_PREFIX", "fp:stats")

	defaultStore := CounterStoreAirtable
	if cfg.RedisAddr != "" {
		defaultStore = CounterStoreRedis
	}
	cfg.CounterStore = getEnvDefault("FP_COUNTER_STORE", defaultStore)
	switch cfg.CounterStore {
	case CounterStoreAirtable:
	case CounterStoreRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("FP_COUNTER_STORE=redis требует FP_REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("FP_COUNTER_STORE: недопустимое значение %q, допустимые: airtable, redis", cfg.CounterStore)
	}

	// --- Статистика ---

	if cfg.StatsDays, err = getEnvInt("FP_STATS_DAYS", 7); err != nil {
		return nil, fmt.Errorf("FP_STATS_DAYS: %w", err)
	}
	if cfg.StatsDays < 1 || cfg.StatsDays > 366 {
		return nil, fmt.Errorf("FP_STATS_DAYS: значение вне диапазона 1-366: %d", cfg.StatsDays)
	}
	tz := getEnvDefault("FP_TIMEZONE", "Asia/Taipei")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("FP_TIMEZONE: неизвестный часовой пояс %q", tz)
	}

	// --- RabbitMQ ---

	cfg.AMQPURL = os.Getenv("FP_AMQP_URL")
	cfg.AMQPQueue = getEnvDefault("FP_AMQP_QUEUE", "activity_events")
	if cfg.ActivityDispatch == DispatchAMQP && cfg.AMQPURL == "" {
		return nil, fmt.Errorf("FP_ACTIVITY_DISPATCH=amqp требует FP_AMQP_URL")
	}

	// --- MinIO ---

	cfg.MinIOEndpoint = os.Getenv("FP_MINIO_ENDPOINT")
	cfg.MinIOAccessKey = os.Getenv("FP_MINIO_ACCESS_KEY")
	cfg.MinIOSecretKey = os.Getenv("FP_MINIO_SECRET_KEY")
	cfg.MinIOBucket = getEnvDefault("FP_MINIO_BUCKET", "finportal-files")
	if cfg.MinIOUseSSL, err = getEnvBool("FP_MINIO_USE_SSL", false); err != nil {
		return nil, fmt.Errorf("FP_MINIO_USE_SSL: %w", err)
	}

	// --- OpenTelemetry ---

	cfg.OTelEndpoint = os.Getenv("FP_OTEL_ENDPOINT")
	if cfg.OTelInsecure, err = getEnvBool("FP_OTEL_INSECURE", true); err != nil {
		return nil, fmt.Errorf("FP_OTEL_INSECURE: %w", err)
	}
	cfg.OTelServiceName = getEnvDefault("FP_OTEL_SERVICE_NAME", "finportal")

	// --- topologymetrics ---

	if cfg.DephealthEnabled, err = getEnvBool("FP_DEPHEALTH_ENABLED", true); err != nil {
		return nil, fmt.Errorf("FP_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FP_DEPHEALTH_GROUP", "finportal")

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvList разбирает список через запятую. Пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func normalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		out = append(out, strings.ToLower(strings.TrimSpace(e)))
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
