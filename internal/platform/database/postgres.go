package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"duel_arena/internal/platform/config"
	"duel_arena/internal/platform/logger"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

var DB *sql.DB

func Connect() {
	var err error
	DB, err = sql.Open("pgx", config.AppConfig.DBConnStr)
	if err != nil {
		logger.Fatal(context.Background(), "error opening database", zap.Error(err))
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = DB.PingContext(ctx); err != nil {
		logger.Fatal(ctx, "error connecting to database", zap.Error(err))
	}

	logger.Info(ctx, "connected to PostgreSQL", zap.String("host", config.AppConfig.DBHost), zap.String("db", config.AppConfig.DBName))
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func Close() {
	if DB != nil {
		DB.Close()
		logger.Info(context.Background(), "database connection closed")
	}
}
