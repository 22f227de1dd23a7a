package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreScylla = "scylla"
)

// Audit sinks
const (
	SinkLog           = "log"
	SinkKafka         = "kafka"
	SinkElasticsearch = "elasticsearch"
	SinkClickhouse    = "clickhouse"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Auth          AuthConfig
	Store         StoreConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Audit         AuditConfig

	// warnings collected while loading, logged once the logger exists
	Warnings []string
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AllowedOrigins lists the cross-origin callers allowed to use the API
	// with credentials. Empty means same-origin only.
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig carries the session gate settings. AdminPassword may be empty,
// in which case every login fails with a configuration error.
type AuthConfig struct {
	AdminPassword         string
	AdminPasswordCipher   string
	SessionTimeoutMinutes int
	MaxLoginAttempts      int
	LockoutMinutes        int
	AllowWeakTokens       bool
	SessionCheckInterval  time.Duration
	LockCountdownInterval time.Duration
	SessionCookieName     string
}

type StoreConfig struct {
	Backend   string
	KeyPrefix string
}

type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Table    string
	Username string
	Password string
	// TLS is enabled when CAPath is set.
	CAPath   string
	CertPath string
	KeyPath  string
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	EnableTLS  bool
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	URL        string
	Username   string
	Password   string
	Database   string
	AuditTable string
	CAFile     string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
}

type AuditConfig struct {
	Sinks []string
}

var (
	current   *Config
	currentMu sync.RWMutex
)

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.Environment = getEnv("ENVIRONMENT", "development")

	cfg.Server = ServerConfig{
		Host:         getEnv("HOST", ""),
		Port:         cfg.getEnvInt("PORT", 8080),
		TLSPort:      cfg.getEnvInt("TLS_PORT", 8443),
		EnableTLS:    getEnvBool("TLS_ENABLED", false),
		AutoCert:     getEnvBool("TLS_AUTOCERT", false),
		Domain:       getEnv("TLS_DOMAIN", "localhost"),
		CertFile:     getEnv("TLS_CERT_FILE", ""),
		KeyFile:      getEnv("TLS_KEY_FILE", ""),
		AutoCertDir:  getEnv("TLS_AUTOCERT_DIR", "./certs"),
		Email:        getEnv("TLS_EMAIL", ""),
		ReadTimeout:  cfg.getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: cfg.getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  cfg.getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),

		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", nil),
	}

	cfg.Logging = LoggingConfig{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "console"),
	}

	cfg.Auth = AuthConfig{
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordCipher:   os.Getenv("ADMIN_PASSWORD_CIPHERTEXT"),
		SessionTimeoutMinutes: cfg.getEnvInt("SESSION_TIMEOUT", 30),
		MaxLoginAttempts:      cfg.getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockoutMinutes:        cfg.getEnvInt("LOGIN_LOCKOUT_MINUTES", 15),
		AllowWeakTokens:       getEnvBool("ALLOW_WEAK_TOKENS", false),
		SessionCheckInterval:  cfg.getEnvDuration("SESSION_CHECK_INTERVAL", 60*time.Second),
		LockCountdownInterval: cfg.getEnvDuration("LOCK_COUNTDOWN_INTERVAL", time.Second),
		SessionCookieName:     getEnv("SESSION_COOKIE_NAME", "studio_admin_session"),
	}

	cfg.Store = StoreConfig{
		Backend:   strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		KeyPrefix: getEnv("STORE_KEY_PREFIX", "studio_admin"),
	}

	cfg.Redis = RedisConfig{
		URL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       cfg.getEnvIntAllowZero("REDIS_DB", 0),
		PoolSize: cfg.getEnvInt("REDIS_POOL_SIZE", 20),

		TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
		TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt"),
		TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key"),
	}

	cfg.Scylla = ScyllaConfig{
		Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
		Keyspace: getEnv("SCYLLA_KEYSPACE", "admin_gate"),
		Table:    getEnv("SCYLLA_TABLE", "admin_gate_kv"),
		Username: getEnv("SCYLLA_USERNAME", ""),
		Password: getEnv("SCYLLA_PASSWORD", ""),
		CAPath:   getEnv("SCYLLA_TLS_CA_FILE", ""),
		CertPath: getEnv("SCYLLA_TLS_CERT_FILE", ""),
		KeyPath:  getEnv("SCYLLA_TLS_KEY_FILE", ""),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:    getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "admin-gate.audit"),
		EnableTLS:  getEnvBool("KAFKA_TLS_ENABLED", false),
	}

	cfg.Elasticsearch = ElasticsearchConfig{
		URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
		Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
		Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
		AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "admin-gate-audit"),
	}

	cfg.Clickhouse = ClickhouseConfig{
		URL:        getEnv("CLICKHOUSE_URL", "localhost:9000"),
		Username:   getEnv("CLICKHOUSE_USERNAME", "default"),
		Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
		Database:   getEnv("CLICKHOUSE_DATABASE", "default"),
		AuditTable: getEnv("CLICKHOUSE_AUDIT_TABLE", "admin_gate_audit"),
		CAFile:     getEnv("CLICKHOUSE_CA_FILE", ""),
	}

	cfg.KMS = KMSConfig{
		Enabled: getEnvBool("KMS_ENABLED", false),
		Region:  getEnv("KMS_REGION", "us-east-1"),
		KeyID:   getEnv("KMS_KEY_ID", ""),
	}

	cfg.Audit = AuditConfig{
		Sinks: getEnvSlice("AUDIT_SINKS", []string{SinkLog}),
	}
	for i, sink := range cfg.Audit.Sinks {
		cfg.Audit.Sinks[i] = strings.ToLower(sink)
	}

	currentMu.Lock()
	current = cfg
	currentMu.Unlock()

	return cfg
}

// Get returns the last loaded configuration, loading it on first use.
func Get() *Config {
	currentMu.RLock()
	cfg := current
	currentMu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreRedis, StoreScylla:
	default:
		return fmt.Errorf("%w: unknown STORE_BACKEND %q", ErrInvalidConfig, c.Store.Backend)
	}
	for _, sink := range c.Audit.Sinks {
		switch sink {
		case SinkLog, SinkKafka, SinkElasticsearch, SinkClickhouse:
		default:
			return fmt.Errorf("%w: unknown audit sink %q", ErrInvalidConfig, sink)
		}
	}
	if c.Store.KeyPrefix == "" {
		return fmt.Errorf("%w: STORE_KEY_PREFIX must not be empty", ErrInvalidConfig)
	}
	if c.Server.EnableTLS && !c.Server.AutoCert && (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("%w: TLS_CERT_FILE and TLS_KEY_FILE must be set together", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SessionTimeout is the session lifetime granted by a successful login.
func (a AuthConfig) SessionTimeout() time.Duration {
	return time.Duration(a.SessionTimeoutMinutes) * time.Minute
}

func (a AuthConfig) LockoutDuration() time.Duration {
	return time.Duration(a.LockoutMinutes) * time.Minute
}

// HasSink reports whether the named audit sink is enabled.
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Audit.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses a positive integer; anything else falls back to the default.
func (c *Config) getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, raw, defaultValue))
		return defaultValue
	}
	return v
}

func (c *Config) getEnvIntAllowZero(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a valid integer, using %d", key, raw, defaultValue))
		return defaultValue
	}
	return v
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a positive duration, using %s", key, raw, defaultValue))
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvSlice(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
