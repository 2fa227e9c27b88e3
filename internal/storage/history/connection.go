package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Config 描述归档数据库的连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type dialectInfo struct {
	sqlDriver string
	goose     goose.Dialect
	insert    string
}

var dialects = map[string]dialectInfo{
	"mysql": {
		sqlDriver: "mysql",
		goose:     goose.DialectMySQL,
		insert:    "INSERT IGNORE INTO",
	},
	"sqlite": {
		sqlDriver: "sqlite",
		goose:     goose.DialectSQLite3,
		insert:    "INSERT OR IGNORE INTO",
	},
	"postgres": {
		sqlDriver: "pgx",
		goose:     goose.DialectPostgres,
		insert:    "INSERT INTO",
	},
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, dialectInfo, error) {
	info, ok := dialects[cfg.Driver]
	if !ok {
		return nil, dialectInfo{}, fmt.Errorf("不支持的归档驱动 %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, dialectInfo{}, fmt.Errorf("%s DSN 不能为空", cfg.Driver)
	}

	db, err := sql.Open(info.sqlDriver, cfg.DSN)
	if err != nil {
		return nil, dialectInfo{}, fmt.Errorf("连接 %s 失败: %w", cfg.Driver, err)
	}

	switch {
	case cfg.Driver == "sqlite":
		// SQLite 只允许单个写连接，内存库在多连接下也互不可见。
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	default:
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, dialectInfo{}, fmt.Errorf("无法连接到 %s: %w", cfg.Driver, err)
	}
	return db, info, nil
}
