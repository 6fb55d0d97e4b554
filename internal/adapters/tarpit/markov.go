// Package tarpit serves deterministic, deliberately slow fake content to
// requests the edge filter rewrote. Page text comes from a persisted Markov
// model; pacing, hop accounting and the escalation hand-off live here too.
package tarpit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/xoelrdgz/webtrap/internal/ports"
)

// successorLimit bounds how many candidate continuations a bigram query
// returns; sampling over the most frequent 20 matches the trained corpus
// distribution closely enough while keeping queries cheap.
const successorLimit = 20

const successorQuery = `
SELECT w.word, w.id, s.freq
FROM markov_sequences s
JOIN markov_words w ON s.next_id = w.id
WHERE s.p1 = $1 AND s.p2 = $2
ORDER BY s.freq DESC, s.next_id
LIMIT 20`

// SQLModel reads the bigram table trained offline into PostgreSQL.
//
// Schema: markov_words(id, word unique) and
// markov_sequences(p1, p2, next_id, freq, unique(p1,p2,next_id)), with the
// empty token reserved at id 1.
//
// The ORDER BY is part of the contract: a stable candidate order is what
// makes seeded sampling reproduce identical pages across restarts.
type SQLModel struct {
	db *sql.DB
}

// MarkovConfig carries PostgreSQL connection settings.
type MarkovConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// OpenPostgres connects to the Markov database and verifies reachability.
func OpenPostgres(ctx context.Context, cfg MarkovConfig) (*SQLModel, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable connect_timeout=5",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open markov db: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping markov db: %w", err)
	}
	return &SQLModel{db: db}, nil
}

// NewSQLModel wraps an existing handle, used by tests.
func NewSQLModel(db *sql.DB) *SQLModel {
	return &SQLModel{db: db}
}

func (m *SQLModel) Successors(ctx context.Context, p1, p2 int64) ([]ports.Successor, error) {
	rows, err := m.db.QueryContext(ctx, successorQuery, p1, p2)
	if err != nil {
		return nil, fmt.Errorf("markov successors (%d,%d): %w", p1, p2, err)
	}
	defer rows.Close()

	out := make([]ports.Successor, 0, successorLimit)
	for rows.Next() {
		var s ports.Successor
		if err := rows.Scan(&s.Word, &s.ID, &s.Freq); err != nil {
			return nil, fmt.Errorf("markov scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (m *SQLModel) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *SQLModel) Close() error {
	return m.db.Close()
}
