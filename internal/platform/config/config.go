// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid marks an unparsable environment value.
var ErrInvalid = errors.New("invalid configuration value")

// Config is the whole process configuration.
type Config struct {
	Server     Server
	MessageLog MessageLog
	Postgres   Postgres
	Redis      Redis
	Kafka      Kafka
	Signer     Signer
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr     string
	LogLevel string
}

// MessageLog configures logging, time-stamping, archiving and cleaning.
type MessageLog struct {
	TSAURLs              []string
	TimestampImmediately bool
	// AcceptableTimestampFailurePeriod is not clamped; zero disables the check.
	AcceptableTimestampFailurePeriod time.Duration
	// TimestampingInterval is in seconds and clamped by the scheduler.
	TimestampingInterval    int
	TimestamperInitialDelay time.Duration
	TimestampTimeout        time.Duration
	MaxBatchSize            int

	ArchiveInterval        string
	CleanInterval          string
	ArchivePath            string
	TempFilesPath          string
	ArchiveMaxRecords      int
	ArchiveTransactionSize int
	KeepRecordsFor         time.Duration
	// ArchiveRetention of zero keeps archive units forever.
	ArchiveRetention time.Duration

	HashAlgorithm        string
	BodyLogging          bool
	BodyLoggingOverrides []string
}

// Postgres configures the record repository. An empty URL selects the
// in-memory repository.
type Postgres struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Redis configures the pending queue. An empty URL keeps the queue in memory.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures archive notifications. No brokers disables them.
type Kafka struct {
	Brokers      []string
	ArchiveTopic string
}

// Signer locates the signer service that talks to the TSAs.
type Signer struct {
	URL string
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	e := &env{}
	cfg := Config{
		Server: Server{
			Addr:     e.str("MSGLOG_ADDR", ":8080"),
			LogLevel: e.str("MSGLOG_LOG_LEVEL", "info"),
		},
		MessageLog: MessageLog{
			TSAURLs:                          e.list("MSGLOG_TSA_URLS"),
			TimestampImmediately:             e.bool("MSGLOG_TIMESTAMP_IMMEDIATELY", false),
			AcceptableTimestampFailurePeriod: time.Duration(e.int("MSGLOG_ACCEPTABLE_TIMESTAMP_FAILURE_PERIOD", 14400)) * time.Second,
			TimestampingInterval:             e.int("MSGLOG_TIMESTAMPING_INTERVAL", 60),
			TimestamperInitialDelay:          e.duration("MSGLOG_TIMESTAMPER_INITIAL_DELAY", time.Second),
			TimestampTimeout:                 e.duration("MSGLOG_TIMESTAMP_TIMEOUT", 30*time.Second),
			MaxBatchSize:                     e.int("MSGLOG_TIMESTAMP_RECORDS_LIMIT", 10000),
			ArchiveInterval:                  e.str("MSGLOG_ARCHIVE_INTERVAL", "0 */2 * * *"),
			CleanInterval:                    e.str("MSGLOG_CLEAN_INTERVAL", "0 */12 * * *"),
			ArchivePath:                      e.str("MSGLOG_ARCHIVE_PATH", "/var/lib/msglog/archive"),
			TempFilesPath:                    e.str("MSGLOG_TEMP_FILES_PATH", os.TempDir()),
			ArchiveMaxRecords:                e.int("MSGLOG_ARCHIVE_MAX_RECORDS", 10000),
			ArchiveTransactionSize:           e.int("MSGLOG_ARCHIVE_TRANSACTION_SIZE", 10000),
			KeepRecordsFor:                   time.Duration(e.int("MSGLOG_KEEP_RECORDS_FOR", 30)) * 24 * time.Hour,
			ArchiveRetention:                 time.Duration(e.int("MSGLOG_ARCHIVE_RETENTION_DAYS", 0)) * 24 * time.Hour,
			HashAlgorithm:                    e.str("MSGLOG_HASH_ALGORITHM", "SHA-512"),
			BodyLogging:                      e.bool("MSGLOG_BODY_LOGGING", true),
			BodyLoggingOverrides:             e.list("MSGLOG_BODY_LOGGING_OVERRIDES"),
		},
		Postgres: Postgres{
			URL:          os.Getenv("MSGLOG_DATABASE_URL"),
			MaxOpenConns: e.int("MSGLOG_DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: e.int("MSGLOG_DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: Redis{
			URL:          os.Getenv("MSGLOG_REDIS_URL"),
			PoolSize:     e.int("MSGLOG_REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("MSGLOG_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("MSGLOG_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("MSGLOG_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("MSGLOG_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:      e.list("MSGLOG_KAFKA_BROKERS"),
			ArchiveTopic: e.str("MSGLOG_KAFKA_ARCHIVE_TOPIC", "msglog.archive.sealed"),
		},
		Signer: Signer{
			URL: e.str("MSGLOG_SIGNER_URL", "http://127.0.0.1:5558"),
		},
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Static serves fixed TSA settings to the components that would otherwise
// ask a configuration service.
type Static struct {
	URLs            []string
	IntervalSeconds int
}

// NewStatic returns the global settings held in c.
func NewStatic(c MessageLog) *Static {
	return &Static{URLs: c.TSAURLs, IntervalSeconds: c.TimestampingInterval}
}

// TSAURLs lists the configured time-stamping authorities.
func (s *Static) TSAURLs() []string {
	return append([]string(nil), s.URLs...)
}

// TimestampingIntervalSeconds returns the configured interval unclamped.
func (s *Static) TimestampingIntervalSeconds() (int, error) {
	return s.IntervalSeconds, nil
}

// env collects parse errors so every bad variable is reported at once.
type env struct {
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// list splits a comma separated value, dropping blanks and repeats.
func (e *env) list(key string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if _, dup := seen[part]; part == "" || dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

func (e *env) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
		return def
	}
	return b
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
		return def
	}
	return d
}
