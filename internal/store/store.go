package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

// sampleQuestions are inserted by Seed into an empty questions table.
var sampleQuestions = []string{
	"What is your favorite hobby and why?",
	"Describe a memorable trip you've taken.",
	"What are your career goals for the next 5 years?",
	"How do you handle stress in your daily life?",
	"What book or movie has influenced you the most?",
}

type Store struct {
	db *sqlx.DB
}

// New opens dbPath and idempotently creates the schema. Existing tables
// and rows are never touched.
func New(dbPath string) (*Store, error) {
	s, err := connect(dbPath)
	if err != nil {
		return nil, err
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Open opens an existing, initialized database. It returns ErrNotInitialized
// when the file or the schema is missing.
func Open(dbPath string) (*Store, error) {
	if dbPath != memoryDSN {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNotInitialized, dbPath)
		}
	}
	s, err := connect(dbPath)
	if err != nil {
		return nil, err
	}
	ok, err := s.hasSchema()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("inspect schema: %w", err)
	}
	if !ok {
		s.Close()
		return nil, fmt.Errorf("%w: %s is missing the practice schema", ErrNotInitialized, dbPath)
	}
	return s, nil
}

// Init creates the schema and seeds sample questions on first run.
// It returns the number of questions seeded.
func Init(ctx context.Context, dbPath string) (*Store, int, error) {
	s, err := New(dbPath)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.Seed(ctx)
	if err != nil {
		s.Close()
		return nil, 0, fmt.Errorf("seed: %w", err)
	}
	return s, n, nil
}

func connect(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dbPath != memoryDSN {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			question TEXT NOT NULL,
			type TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS answers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			question_id INTEGER NOT NULL,
			answer TEXT NOT NULL,
			difficulty INTEGER NOT NULL CHECK(difficulty >= 1 AND difficulty <= 5),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (question_id) REFERENCES questions (id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS feedbacks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			answer_id INTEGER NOT NULL UNIQUE,
			feedback_content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (answer_id) REFERENCES answers (id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_answers_question_id ON answers (question_id)`,
		`CREATE TABLE IF NOT EXISTS app_metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_sessions (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// Databases created before the type label existed lack the column.
	return s.ensureColumn("questions", "type", "TEXT")
}

func (s *Store) ensureColumn(table, column, decl string) error {
	var cols []struct {
		CID        int            `db:"cid"`
		Name       string         `db:"name"`
		Type       string         `db:"type"`
		NotNull    int            `db:"notnull"`
		Default    sql.NullString `db:"dflt_value"`
		PrimaryKey int            `db:"pk"`
	}
	if err := s.db.Select(&cols, `PRAGMA table_info(`+table+`)`); err != nil {
		return fmt.Errorf("table info %s: %w", table, err)
	}
	for _, c := range cols {
		if c.Name == column {
			return nil
		}
	}
	slog.Info("adding missing column", "table", table, "column", column)
	_, err := s.db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl)
	return err
}

func (s *Store) hasSchema() (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('questions', 'answers', 'feedbacks')`)
	if err != nil {
		return false, err
	}
	return n == 3, nil
}

// Seed inserts the sample questions when the questions table is empty.
func (s *Store) Seed(ctx context.Context) (int, error) {
	count, err := s.QuestionCount(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Info("questions already present, skipping seed", "count", count)
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, q := range sampleQuestions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions (question, created_at) VALUES (?, ?)`, q, now()); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	slog.Info("seeded sample questions", "count", len(sampleQuestions))
	return len(sampleQuestions), nil
}
