package config

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var PostgresDB *gorm.DB

// PostgresSettings configures the results archive and job lookup pool.
type PostgresSettings struct {
	URI             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	SlowQuery       time.Duration
}

func LoadPostgresSettings() PostgresSettings {
	return PostgresSettings{
		URI:             envString("POSTGRES_URI", ""),
		MaxIdleConns:    envInt("POSTGRES_MAX_IDLE_CONNS", 10),
		MaxOpenConns:    envInt("POSTGRES_MAX_OPEN_CONNS", 100),
		ConnMaxLifetime: envDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnMaxIdleTime: envDuration("POSTGRES_CONN_MAX_IDLE_TIME", 5*time.Minute),
		SlowQuery:       envDuration("POSTGRES_SLOW_QUERY", 500*time.Millisecond),
	}
}

func (s PostgresSettings) gormConfig(log *logrus.Logger) *gorm.Config {
	cfg := &gorm.Config{}
	if log != nil {
		cfg.Logger = gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             s.SlowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}
	return cfg
}

// InitPostgres opens the pool; SQL warnings and slow queries go to log.
func InitPostgres(log *logrus.Logger) error {
	s := LoadPostgresSettings()
	if s.URI == "" {
		return errors.New("POSTGRES_URI environment variable is not set")
	}
	db, err := gorm.Open(postgres.Open(s.URI), s.gormConfig(log))
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(s.MaxIdleConns)
	sqlDB.SetMaxOpenConns(s.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(s.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(s.ConnMaxIdleTime)

	PostgresDB = db
	return nil
}
