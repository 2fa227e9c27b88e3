package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"TextRelay/deploy/migrations"
	"TextRelay/pkg/logger"
)

func runMigrations(ctx context.Context, db *sql.DB, driver string, dialect goose.Dialect) error {
	fsys, err := migrations.For(driver)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("初始化迁移失败: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("执行迁移失败: %w", err)
	}
	for _, r := range results {
		logger.Named("history").Info("已应用迁移",
			slog.String("driver", driver),
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration))
	}
	return nil
}
