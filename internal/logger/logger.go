package logger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	Log        *zap.Logger = zap.NewNop()
	gormLogger gormlogger.Interface
)

// sensitiveWords are masked in traced SQL. Generated DDL never carries
// credentials, but connection-level statements issued by drivers may.
var sensitiveWords = []string{"password", "pwd", "token", "secret", "apikey", "credential"}

// GormLogger routes gorm's statement tracing into zap.
type GormLogger struct {
	logger        *zap.Logger
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
	redactors     []*regexp.Regexp
}

// Init initializes the global Zap logger and the GORM logger wrapper.
func Init(debug bool, jsonOutput bool) error {
	var config zap.Config
	var encoderConfig zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config = zap.NewProductionConfig()
		encoderConfig = zap.NewProductionEncoderConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.DisableCaller = true
	}

	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "level"
	encoderConfig.NameKey = "logger"
	encoderConfig.MessageKey = "msg"
	encoderConfig.StacktraceKey = "stacktrace"
	if !config.DisableCaller {
		encoderConfig.CallerKey = "caller"
	}

	config.EncoderConfig = encoderConfig
	config.DisableStacktrace = !debug
	// The summary table goes to stdout, keep logs off it.
	config.OutputPaths = []string{"stderr"}
	if jsonOutput {
		config.Encoding = "json"
	} else {
		config.Encoding = "console"
	}

	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}
	Log = l
	gormLogger = NewGormLogger(Log, debug)

	Log.Info("Logger initialized",
		zap.Bool("debug_mode", debug),
		zap.Bool("json_output", jsonOutput),
		zap.String("log_level", config.Level.Level().String()),
	)
	return nil
}

// NewGormLogger creates a gorm logger backed by base. In debug mode every
// statement is traced, otherwise only errors and slow statements are.
func NewGormLogger(base *zap.Logger, debug bool) *GormLogger {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	redactors := make([]*regexp.Regexp, 0, len(sensitiveWords))
	for _, word := range sensitiveWords {
		redactors = append(redactors, regexp.MustCompile(fmt.Sprintf(`(?i)(%s\s*[:=]\s*)('.*?'|".*?"|\S+)`, regexp.QuoteMeta(word))))
	}
	return &GormLogger{
		logger:        base.Named("gorm"),
		LogLevel:      level,
		SlowThreshold: 2 * time.Second, // DDL is slower than OLTP statements
		redactors:     redactors,
	}
}

// LogMode sets the GORM log level.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs SQL statements and execution details.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("duration", elapsed.Round(time.Millisecond)),
		zap.String("sql", l.Redact(sql)),
	}
	if rows > -1 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		// Failed statements are reported by the phase executor with more
		// context; keep this at debug to avoid double error lines.
		l.logger.Debug("SQL Error", append(fields, zap.Error(err))...)
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold && l.LogLevel >= gormlogger.Warn:
		l.logger.Warn("Slow Query", append(fields, zap.Duration("threshold", l.SlowThreshold))...)
	case l.LogLevel >= gormlogger.Info:
		l.logger.Debug("SQL Query", fields...)
	}
}

// Redact masks key=value pairs whose key looks like a credential.
func (l *GormLogger) Redact(sql string) string {
	for _, re := range l.redactors {
		sql = re.ReplaceAllString(sql, `${1}***REDACTED***`)
	}
	return sql
}

// GetGormLogger returns the initialized GORM logger instance.
func GetGormLogger() gormlogger.Interface {
	if gormLogger == nil {
		return NewGormLogger(Log, false)
	}
	return gormLogger
}
