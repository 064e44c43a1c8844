package model

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"fodb/pkg/config"
	"fodb/pkg/model/xgorm"
	"fodb/pkg/xlog"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var logger = xlog.GetLogger()

func gormConfig(debug bool) *gorm.Config {
	logMode := gormLogger.Info
	if !debug {
		logMode = gormLogger.Silent
	}
	newLogger := xgorm.New(
		log.New(os.Stdout, "", log.LstdFlags), // io writer
		gormLogger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logMode,     // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	return &gorm.Config{
		SkipDefaultTransaction: false,
		Logger:                 newLogger,
	}
}

// OpenSQL opens the database configured for the mirror, mysql first
func OpenSQL(c *config.Config) (*gorm.DB, error) {
	if c.MySQL.Main.Enabled {
		return OpenMySQL(c.MySQL.Main, c.IsDebug)
	}
	if c.SQLite.Enabled {
		return OpenSQLite(c.SQLite.Path, c.IsDebug)
	}
	return nil, errors.New("no sql database enabled")
}

func OpenMySQL(cfg config.MySQLServer, debug bool) (*gorm.DB, error) {
	if cfg.Host == "" {
		return nil, errors.New("empty mysql host")
	}

	logger.Infof("mysql connecting tcp(%s:%d)/%s", cfg.Host, cfg.Port, cfg.DB)

	url := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.DB,
	)

	db, err := gorm.Open(mysql.Open(url), gormConfig(debug))
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(10 * time.Hour)
	sqlDB.SetMaxIdleConns(20)

	logger.Infof("mysql connected tcp(%s:%d)/%s", cfg.Host, cfg.Port, cfg.DB)

	return db, nil
}

// OpenSQLite opens a sqlite file, ":memory:" for a private in-memory database
func OpenSQLite(path string, debug bool) (*gorm.DB, error) {
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig(debug))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// sqlite serializes writers anyway, one connection keeps :memory: databases shared
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	logger.Infof("sqlite opened %s", path)
	return db, nil
}

// Migrate creates the shared catalog tables and the checkpoint table
func Migrate(db *gorm.DB) error {
	if err := db.Scopes(ExchangeTable()).AutoMigrate(Exchange{}); err != nil {
		return err
	}
	if err := db.Scopes(InstrumentTable()).AutoMigrate(Instrument{}); err != nil {
		return err
	}
	if err := db.Scopes(ExpiryTable()).AutoMigrate(Expiry{}); err != nil {
		return err
	}
	return db.AutoMigrate(Lastkv{})
}

// MigratePartition creates the trade table of one partition
func MigratePartition(db *gorm.DB, partition string) error {
	return db.Scopes(TradeTable(partition)).AutoMigrate(Trade{})
}

func OpenRedis(cfg config.RedisServer) *redis.Client {
	logger.Infof("redis connecting %s[%d]", cfg.Addr, cfg.DB)

	opts := redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       cfg.DB,
	}

	return redis.NewClient(&opts)
}
