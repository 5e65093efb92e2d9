package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 嵌入式迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

// DatabaseType 数据库方言
type DatabaseType string

const (
	Postgres DatabaseType = "postgres"
	MySQL    DatabaseType = "mysql"
)

// ParseDatabaseType 解析配置中的数据库驱动名
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	default:
		return "", fmt.Errorf("unsupported database type for migrations: %q", s)
	}
}

// =============================================================================
// 🚀 迁移器
// =============================================================================

// Migrator 驱动数据库 schema 迁移
type Migrator struct {
	m      *migrate.Migrate
	dbType DatabaseType
	logger *zap.Logger
}

// MigrationInfo 单个迁移文件的元信息
type MigrationInfo struct {
	Version uint
	Name    string
}

// New 基于已打开的连接创建迁移器。调用方负责 db 的生命周期，
// Close 只释放迁移器自身持有的资源。
func New(db *sql.DB, dbType DatabaseType, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		driver database.Driver
		srcFS  embed.FS
		subDir string
		err    error
	)

	switch dbType {
	case Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
		srcFS, subDir = postgresFS, "migrations/postgres"
	case MySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{})
		srcFS, subDir = mysqlFS, "migrations/mysql"
	default:
		return nil, fmt.Errorf("unsupported database type: %q", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", dbType, err)
	}

	src, err := iofs.New(srcFS, subDir)
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dbType), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &Migrator{
		m:      m,
		dbType: dbType,
		logger: logger.With(zap.String("component", "migrator")),
	}, nil
}

// =============================================================================
// 🎯 核心操作
// =============================================================================

// Up 应用所有未执行的迁移
func (mg *Migrator) Up() error {
	mg.logger.Info("applying migrations", zap.String("database", string(mg.dbType)))

	if err := mg.m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mg.logger.Info("schema already up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, _, _ := mg.m.Version()
	mg.logger.Info("migrations applied", zap.Uint("version", version))
	return nil
}

// Down 回滚最近一次迁移
func (mg *Migrator) Down() error {
	mg.logger.Warn("rolling back one migration")

	if err := mg.m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

// Steps 应用 n 个迁移（负数为回滚）
func (mg *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := mg.m.Steps(n); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("apply %d migration steps: %w", n, err)
	}
	return nil
}

// Goto 迁移到指定版本
func (mg *Migrator) Goto(version uint) error {
	if err := mg.m.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate to version %d: %w", version, err)
	}
	return nil
}

// Force 强制设置版本号（不执行 SQL），用于修复 dirty 状态
func (mg *Migrator) Force(version int) error {
	mg.logger.Warn("forcing migration version", zap.Int("version", version))
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

// Version 返回当前版本与 dirty 标记。未迁移时版本为 0。
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Available 列出嵌入的迁移文件（按版本升序）
func (mg *Migrator) Available() ([]MigrationInfo, error) {
	var srcFS embed.FS
	var subDir string
	switch mg.dbType {
	case Postgres:
		srcFS, subDir = postgresFS, "migrations/postgres"
	case MySQL:
		srcFS, subDir = mysqlFS, "migrations/mysql"
	}
	return listMigrations(srcFS, subDir)
}

// Close 释放迁移器持有的 source 资源
func (mg *Migrator) Close() error {
	srcErr, _ := mg.m.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// listMigrations 解析 NNNNNN_name.up.sql 形式的文件名
func listMigrations(srcFS fs.FS, dir string) ([]MigrationInfo, error) {
	entries, err := fs.ReadDir(srcFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var infos []MigrationInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		base := strings.TrimSuffix(name, ".up.sql")
		idx := strings.Index(base, "_")
		if idx <= 0 {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(base[:idx], "%d", &version); err != nil {
			continue
		}
		infos = append(infos, MigrationInfo{Version: version, Name: base[idx+1:]})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Version < infos[j].Version })
	return infos, nil
}
