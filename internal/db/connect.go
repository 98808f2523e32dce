package db

import (
	"fmt"
	"net"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/zulandar/toxbot/internal/config"
	"github.com/zulandar/toxbot/internal/logging"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// DSN builds a MySQL DSN from the database config. An explicit DSN is
// parsed and normalised so that parseTime is always on.
func DSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		mc, err := mysqldrv.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("db: parse dsn: %w", err)
		}
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	}
	return mysqlConfig(cfg, cfg.Name).FormatDSN(), nil
}

func mysqlConfig(cfg config.DatabaseConfig, database string) *mysqldrv.Config {
	mc := mysqldrv.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = database
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc
}

// Dialector returns the gorm dialector for the configured driver.
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql":
		dsn, err := DSN(cfg)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// Connect opens a gorm connection for the configured driver. SQL logging
// goes through zerolog.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.GormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		// between the bridge workers and the scheduler.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect (sqlite): %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// ConnectAdmin opens a MySQL connection without selecting a database, used
// for CREATE DATABASE.
func ConnectAdmin(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Driver != "mysql" {
		return nil, fmt.Errorf("db: admin connect: driver %q has no server", cfg.Driver)
	}
	dsn := mysqlConfig(cfg, "").FormatDSN()
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logging.GormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// EnsureDatabase creates the MySQL database named in cfg when it is
// missing. It is a no-op for sqlite and for explicit DSNs.
func EnsureDatabase(cfg config.DatabaseConfig) error {
	if cfg.Driver != "mysql" || cfg.DSN != "" {
		return nil
	}
	adminDB, err := ConnectAdmin(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := adminDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	return CreateDatabase(adminDB, cfg.Name)
}
