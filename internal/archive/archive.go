// Package archive keeps a SQLite ledger of finished battles.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tatianab/silver-tongue/internal/models"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("archive: record not found")

const schema = `
CREATE TABLE IF NOT EXISTS battles (
	id            TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL,
	player_id     TEXT NOT NULL,
	opponent_id   TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	turns         INTEGER NOT NULL,
	final_sanity  INTEGER NOT NULL,
	max_sanity    INTEGER NOT NULL,
	transcript    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS battles_finished_at ON battles (finished_at DESC);
`

// Record is one finished battle.
type Record struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	PlayerID    string
	OpponentID  string
	Outcome     models.Outcome
	Turns       int
	FinalSanity int
	MaxSanity   int
	Transcript  []models.ConversationEntry
}

// FromState builds a record from a finished battle's final state.
func FromState(playerID, opponentID string, outcome models.Outcome, startedAt, finishedAt time.Time, s models.BattleState) Record {
	turns := s.CurrentTurn
	if turns > s.MaxTurns {
		turns = s.MaxTurns
	}
	return Record{
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		PlayerID:    playerID,
		OpponentID:  opponentID,
		Outcome:     outcome,
		Turns:       turns,
		FinalSanity: s.OpponentSanity.Current,
		MaxSanity:   s.OpponentSanity.Max,
		Transcript:  s.ConversationHistory,
	}
}

// Store is the SQLite-backed archive.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) the archive at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("archive: path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: create dir: %w", err)
		}
	}

	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("archive: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record stores a finished battle and returns its id. A missing id is generated.
func (s *Store) Record(ctx context.Context, rec Record) (string, error) {
	if s == nil || s.sqlDB == nil {
		return "", errors.New("archive: store is not open")
	}
	if rec.Outcome == models.OutcomeNone {
		return "", errors.New("archive: outcome is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	transcript, err := models.MarshalTranscript(rec.Transcript)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO battles (
	id, started_at, finished_at, player_id, opponent_id, outcome, turns, final_sanity, max_sanity, transcript
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ID,
		toMillis(rec.StartedAt),
		toMillis(rec.FinishedAt),
		rec.PlayerID,
		rec.OpponentID,
		string(rec.Outcome),
		rec.Turns,
		rec.FinalSanity,
		rec.MaxSanity,
		transcript,
	)
	if err != nil {
		return "", fmt.Errorf("archive: insert battle: %w", err)
	}
	return rec.ID, nil
}

const selectColumns = `id, started_at, finished_at, player_id, opponent_id, outcome, turns, final_sanity, max_sanity, transcript`

// List returns up to limit battles, most recently finished first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM battles ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list battles: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list battles: %w", err)
	}
	return out, nil
}

// Get returns one battle by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM battles WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec                   Record
		startedAt, finishedAt int64
		outcome, transcript   string
	)
	if err := sc.Scan(
		&rec.ID,
		&startedAt,
		&finishedAt,
		&rec.PlayerID,
		&rec.OpponentID,
		&outcome,
		&rec.Turns,
		&rec.FinalSanity,
		&rec.MaxSanity,
		&transcript,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("archive: scan battle: %w", err)
	}
	rec.StartedAt = fromMillis(startedAt)
	rec.FinishedAt = fromMillis(finishedAt)
	rec.Outcome = models.Outcome(outcome)

	entries, err := models.UnmarshalTranscript(transcript)
	if err != nil {
		return Record{}, fmt.Errorf("archive: %w", err)
	}
	rec.Transcript = entries
	return rec, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
