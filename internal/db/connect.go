// Package db opens the chat database and manages its schema.
package db

import (
	"fmt"

	"github.com/dentaflow/labchat/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN opens a private in-memory SQLite database.
const MemoryDSN = ":memory:"

// DSN builds a MySQL DSN from discrete connection settings.
func DSN(user, password, host string, port int, database string) string {
	auth := user
	if password != "" {
		auth += ":" + password
	}
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", auth, host, port, database)
}

// Dialector picks the GORM dialector for the configured driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = MemoryDSN
		}
		return sqlite.Open(dsn), nil
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
		}
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a GORM connection for the configured database.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect %s: %w", cfg.Driver, err)
	}
	if isMemory(cfg) {
		// Every new connection to :memory: is a fresh, empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect %s: %w", cfg.Driver, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func isMemory(cfg config.DatabaseConfig) bool {
	return (cfg.Driver == "sqlite" || cfg.Driver == "") && (cfg.DSN == "" || cfg.DSN == MemoryDSN)
}

// ConnectAdmin opens a connection to the MySQL server without selecting a
// database, used for CREATE DATABASE operations.
func ConnectAdmin(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := DSN(cfg.User, cfg.Password, cfg.Host, cfg.Port, "")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// DropDatabase drops the named database if it exists.
func DropDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: drop database %s: %w", name, err)
	}
	return nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}
