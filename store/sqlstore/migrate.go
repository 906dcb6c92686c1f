package sqlstore

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

func migrate(db *sql.DB, d dialect, log *zap.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log.Sugar()})

	if err := goose.SetDialect(d.String()); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// gooseLogger routes goose output through zap at debug level.
type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.Debugf(strings.TrimSpace(format), v...)
}
