package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/activitymap"
)

func newLogger(env, level string, production bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if production {
		zcfg = zap.NewProductionConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	zcfg.InitialFields = map[string]any{"env": env}

	return zcfg.Build()
}

// zapLogger adapts a sugared zap logger to connect.Logger
type zapLogger struct {
	s *zap.SugaredLogger
}

var _ connect.Logger = zapLogger{}

func newZapLogger(l *zap.Logger, name string) zapLogger {
	return zapLogger{s: l.Named(name).Sugar()}
}

func (l zapLogger) Debug(format string, args ...any) {
	l.s.Debugf(format, args...)
}

func (l zapLogger) Info(format string, args ...any) {
	l.s.Infof(format, args...)
}

func (l zapLogger) Error(format string, args ...any) {
	l.s.Errorf(format, args...)
}

// activityLogger records portal activity as structured log entries
func activityLogger(l *zap.Logger) connect.ActivitySink {
	lg := l.Named("activity")
	return connect.ActivitySinkFunc(func(_ context.Context, event connect.ActivityEvent) error {
		record := activitymap.Normalize(event)
		lg.Info(record.Verb,
			zap.String("actor_id", record.ActorID),
			zap.String("object_type", record.ObjectType),
			zap.String("object_id", record.ObjectID),
			zap.String("channel", record.Channel),
			zap.Time("occurred_at", record.OccurredAt),
			zap.Any("metadata", record.Metadata),
		)
		return nil
	})
}

func requestLogger(l *zap.Logger) fiber.Handler {
	lg := l.Named("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.IP()),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		lg.Info("request", fields...)
		return err
	}
}
