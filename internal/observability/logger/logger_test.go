package logger

import (
	"context"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/paysettle/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithClientIP(ctx, "10.0.0.1")

	WithPayment(WithContext(ctx, zap.New(core)), "PAY-01").Info("callback")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "10.0.0.1", fields["client_ip"])
		assert.Equal(t, "PAY-01", fields["payment_reference"])
	}
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("update payments set status = ?"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH due AS (SELECT 1) SELECT * FROM due"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestGormLoggerTraceLogsSlowQueries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(GormLoggerConfig{
		Base:          zap.New(core),
		Level:         gormlogger.Warn,
		SlowThreshold: time.Millisecond,
	})

	l.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) {
		return "SELECT * FROM payments WHERE reference = ? FOR UPDATE", 1
	}, nil)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, true, entries[0].ContextMap()["row_lock"])
	}
}

func TestGormLoggerIgnoresRecordNotFound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(GormLoggerConfig{Base: zap.New(core), Level: gormlogger.Error, IgnoreRecordNotFound: true})

	l.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 0 }, gormlogger.ErrRecordNotFound)
	assert.Empty(t, logs.All())
}
