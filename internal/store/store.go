package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every data-access method. It runs against the database
// directly or against a transaction handed out by InTx.
type Queries struct {
	db dbtx
}

type Store struct {
	*Queries
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	memory := dbPath == ":memory:"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{Queries: &Queries{db: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn inside one transaction. The transaction is committed when fn
// returns nil and rolled back otherwise. fn must only use the Queries it is
// given, never the Store.
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		academic_year INTEGER NOT NULL,
		exam_date DATETIME,
		UNIQUE (name, academic_year)
	);

	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL UNIQUE,
		zipgrade_id TEXT UNIQUE
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		academic_year INTEGER NOT NULL,
		grade INTEGER NOT NULL DEFAULT 0,
		group_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		UNIQUE (student_id, academic_year),
		FOREIGN KEY (student_id) REFERENCES students(id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		session_number INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		zipgrade_quiz_name TEXT NOT NULL DEFAULT '',
		total_questions INTEGER NOT NULL DEFAULT 0,
		UNIQUE (exam_id, session_number),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS exam_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_session_id INTEGER NOT NULL,
		question_number INTEGER NOT NULL,
		correct_answer TEXT NOT NULL DEFAULT '',
		response_1 TEXT NOT NULL DEFAULT '',
		response_1_pct REAL,
		response_2 TEXT NOT NULL DEFAULT '',
		response_2_pct REAL,
		response_3 TEXT NOT NULL DEFAULT '',
		response_3_pct REAL,
		response_4 TEXT NOT NULL DEFAULT '',
		response_4_pct REAL,
		UNIQUE (exam_session_id, question_number),
		FOREIGN KEY (exam_session_id) REFERENCES exam_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS tag_hierarchy (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag_name TEXT NOT NULL UNIQUE,
		tag_type TEXT NOT NULL,
		parent_area TEXT
	);

	CREATE TABLE IF NOT EXISTS tag_normalizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tag_csv_name TEXT NOT NULL UNIQUE,
		tag_system_name TEXT NOT NULL,
		tag_type TEXT NOT NULL,
		parent_area TEXT,
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS question_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_question_id INTEGER NOT NULL,
		tag_hierarchy_id INTEGER NOT NULL,
		inferred_area TEXT,
		UNIQUE (exam_question_id, tag_hierarchy_id),
		FOREIGN KEY (exam_question_id) REFERENCES exam_questions(id),
		FOREIGN KEY (tag_hierarchy_id) REFERENCES tag_hierarchy(id)
	);

	CREATE TABLE IF NOT EXISTS student_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_question_id INTEGER NOT NULL,
		enrollment_id INTEGER NOT NULL,
		is_correct INTEGER NOT NULL,
		UNIQUE (exam_question_id, enrollment_id),
		FOREIGN KEY (exam_question_id) REFERENCES exam_questions(id),
		FOREIGN KEY (enrollment_id) REFERENCES enrollments(id)
	);

	CREATE TABLE IF NOT EXISTS zipgrade_imports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_session_id INTEGER NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		total_rows INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (exam_session_id) REFERENCES exam_sessions(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
