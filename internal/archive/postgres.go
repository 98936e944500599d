package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArchive 以 PostgreSQL 封存訊息
type PostgresArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresArchive 創建封存，資料表需先由 Migrator 建立
func NewPostgresArchive(pool *pgxpool.Pool, logger *slog.Logger) *PostgresArchive {
	return &PostgresArchive{
		pool:   pool,
		logger: logger.With("component", "archive"),
	}
}

// Save 寫入一則訊息
func (a *PostgresArchive) Save(ctx context.Context, user string, ts int64, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("archive message from %s: body is not valid JSON", user)
	}

	id := uuid.New()
	_, err := a.pool.Exec(ctx,
		`INSERT INTO messages (id, user_id, sent_at, body) VALUES ($1, $2, $3, $4)`,
		id, user, ts, body,
	)
	if err != nil {
		a.logger.Error("archive insert failed", "user", user, "error", err)
		return fmt.Errorf("insert message: %w", err)
	}

	a.logger.Debug("message archived", "id", id, "user", user)
	return nil
}

// Count 某玩家已封存的訊息數
func (a *PostgresArchive) Count(ctx context.Context, user string) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = $1`, user).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Ping 檢查連線
func (a *PostgresArchive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}
