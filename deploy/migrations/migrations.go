package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed mysql/*.sql sqlite/*.sql postgres/*.sql
var files embed.FS

// For 返回指定数据库方言的迁移文件，方言取值为 mysql、sqlite 或 postgres。
func For(dialect string) (fs.FS, error) {
	switch dialect {
	case "mysql", "sqlite", "postgres":
		return fs.Sub(files, dialect)
	default:
		return nil, fmt.Errorf("不支持的迁移方言 %q", dialect)
	}
}
