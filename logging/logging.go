/*
Package logging builds the process logger and the HTTP request logger.

PURPOSE:
  One zap.Logger is created at startup and handed to every component.
  Production mode writes JSON, development mode writes console output.
  When a file is configured, output is also written there and rotated by
  lumberjack.

EXAMPLE:
  log, err := logging.New(logging.Config{Level: "info", File: "./logs/points.log"})
  defer log.Sync()
*/
package logging

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level       string
	Development bool

	// File enables a rotated log file next to stderr output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder = zapcore.NewJSONEncoder(encCfg)
	if cfg.Development {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefaultInt(cfg.MaxSizeMB, 100),
			MaxBackups: orDefaultInt(cfg.MaxBackups, 5),
			MaxAge:     orDefaultInt(cfg.MaxAgeDays, 30),
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), lvl)
	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

// RequestLogger is chi middleware that logs one line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				log.Error("http request", fields...)
				return
			}
			log.Info("http request", fields...)
		})
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
