package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("MSGLOG_TSA_URLS", "")
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.MessageLog.TSAURLs)
	assert.Equal(t, 60, cfg.MessageLog.TimestampingInterval)
	assert.Equal(t, 4*time.Hour, cfg.MessageLog.AcceptableTimestampFailurePeriod)
	assert.Equal(t, 30*24*time.Hour, cfg.MessageLog.KeepRecordsFor)
	assert.Zero(t, cfg.MessageLog.ArchiveRetention)
	assert.True(t, cfg.MessageLog.BodyLogging)
	assert.Equal(t, "0 */2 * * *", cfg.MessageLog.ArchiveInterval)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MSGLOG_TSA_URLS", "https://tsa1, https://tsa2,https://tsa1,")
	t.Setenv("MSGLOG_TIMESTAMP_IMMEDIATELY", "true")
	t.Setenv("MSGLOG_ACCEPTABLE_TIMESTAMP_FAILURE_PERIOD", "0")
	t.Setenv("MSGLOG_TIMESTAMPING_INTERVAL", "5")
	t.Setenv("MSGLOG_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://tsa1", "https://tsa2"}, cfg.MessageLog.TSAURLs)
	assert.True(t, cfg.MessageLog.TimestampImmediately)
	assert.Zero(t, cfg.MessageLog.AcceptableTimestampFailurePeriod)
	// clamping happens in the scheduler, not here
	assert.Equal(t, 5, cfg.MessageLog.TimestampingInterval)
	assert.Len(t, cfg.Kafka.Brokers, 2)

	static := NewStatic(cfg.MessageLog)
	assert.Equal(t, cfg.MessageLog.TSAURLs, static.TSAURLs())
	interval, err := static.TimestampingIntervalSeconds()
	require.NoError(t, err)
	assert.Equal(t, 5, interval)
}

func TestFromEnvReportsEveryInvalidValue(t *testing.T) {
	t.Setenv("MSGLOG_TIMESTAMPING_INTERVAL", "soon")
	t.Setenv("MSGLOG_BODY_LOGGING", "maybe")
	t.Setenv("MSGLOG_TIMESTAMP_TIMEOUT", "30")

	_, err := FromEnv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.ErrorContains(t, err, "MSGLOG_TIMESTAMPING_INTERVAL")
	assert.ErrorContains(t, err, "MSGLOG_BODY_LOGGING")
	assert.ErrorContains(t, err, "MSGLOG_TIMESTAMP_TIMEOUT")
}
