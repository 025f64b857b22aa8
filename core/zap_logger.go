package core

import (
	"go.uber.org/zap"
)

// ZapLogger adapts a zap.Logger to the Logger interface. It is the
// production logger; tests and optional dependencies use NoOpLogger.
type ZapLogger struct {
	logger *zap.SugaredLogger
}

// NewZapLogger creates a production logger. When development is true the
// logger uses the human-readable console encoder instead of JSON.
func NewZapLogger(development bool) (*ZapLogger, error) {
	var (
		base *zap.Logger
		err  error
	)
	if development {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger: base.Sugar()}, nil
}

// NewZapLoggerFromZap wraps an existing zap logger
func NewZapLoggerFromZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: base.Sugar()}
}

func flatten(fields map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}

func (z *ZapLogger) Info(msg string, fields map[string]interface{}) {
	z.logger.Infow(msg, flatten(fields)...)
}

func (z *ZapLogger) Error(msg string, fields map[string]interface{}) {
	z.logger.Errorw(msg, flatten(fields)...)
}

func (z *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	z.logger.Warnw(msg, flatten(fields)...)
}

func (z *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	z.logger.Debugw(msg, flatten(fields)...)
}

// Sync flushes buffered log entries. Call on shutdown.
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}
