package mafia

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Result is one finished game, archived for stats.
type Result struct {
	ID          string
	ChatID      int64
	Winner      Winner
	PlayerCount int
	MafiaCount  int
	Days        int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Repository persists finished game results. Sessions themselves are
// memory-only; only outcomes survive a restart.
type Repository interface {
	SaveResult(ctx context.Context, r *Result) error
	RecentResults(ctx context.Context, chatID int64, limit int) ([]*Result, error)
	Close() error
}

type pgRepository struct {
	db *sql.DB
}

func NewPGRepository(databaseURL string) (Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &pgRepository{db: db}, nil
}

func (r *pgRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *pgRepository) SaveResult(ctx context.Context, res *Result) error {
	if r == nil || r.db == nil || res == nil {
		return nil
	}
	duration := res.EndedAt.Sub(res.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	const q = `INSERT INTO mafia_games (
	    game_id, chat_id, winner, player_count, mafia_count, days,
	    started_at, ended_at, duration_ms
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	  ON CONFLICT (game_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q,
		res.ID, res.ChatID, string(res.Winner),
		res.PlayerCount, res.MafiaCount, res.Days,
		res.StartedAt, res.EndedAt, duration,
	)
	return err
}

func (r *pgRepository) RecentResults(ctx context.Context, chatID int64, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `SELECT game_id, chat_id, winner, player_count, mafia_count, days,
	    started_at, ended_at
	  FROM mafia_games WHERE chat_id = $1
	  ORDER BY ended_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Result
	for rows.Next() {
		var res Result
		var winner string
		if err := rows.Scan(&res.ID, &res.ChatID, &winner, &res.PlayerCount,
			&res.MafiaCount, &res.Days, &res.StartedAt, &res.EndedAt); err != nil {
			return nil, err
		}
		res.Winner = Winner(winner)
		out = append(out, &res)
	}
	return out, rows.Err()
}
