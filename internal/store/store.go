package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite snapshot of a workspace index: documents, exported
// symbols, reference edges and diagnostics.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
  id              INTEGER PRIMARY KEY,
  uri             TEXT NOT NULL UNIQUE,
  language        TEXT NOT NULL,
  hash            TEXT,
  state           TEXT NOT NULL,
  indexed_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  document_id     INTEGER NOT NULL REFERENCES documents(id),
  name            TEXT NOT NULL,
  type            TEXT NOT NULL,
  path            TEXT NOT NULL,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS refs (
  id              INTEGER PRIMARY KEY,
  document_id     INTEGER NOT NULL REFERENCES documents(id),
  source_path     TEXT NOT NULL,
  target_uri      TEXT NOT NULL,
  target_path     TEXT NOT NULL,
  text            TEXT,
  local           BOOLEAN DEFAULT FALSE,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  document_id     INTEGER NOT NULL REFERENCES documents(id),
  severity        INTEGER NOT NULL,
  message         TEXT NOT NULL,
  code            TEXT,
  category        TEXT,
  path            TEXT,
  property        TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_document ON symbols(document_id);
CREATE INDEX IF NOT EXISTS idx_refs_target ON refs(target_uri, target_path);
CREATE INDEX IF NOT EXISTS idx_refs_document ON refs(document_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_document ON diagnostics(document_id);
`

// DeleteDocument transactionally removes a document and all rows it owns.
// Deleting an unknown URI is a no-op.
func (s *Store) DeleteDocument(uri string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteDocumentTx(tx, uri); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteDocumentTx deletes in reverse-dependency order to respect FK
// constraints.
func deleteDocumentTx(tx *sql.Tx, uri string) error {
	var id int64
	err := tx.QueryRow("SELECT id FROM documents WHERE uri = ?", uri).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query document: %w", err)
	}
	for _, q := range []string{
		"DELETE FROM diagnostics WHERE document_id = ?",
		"DELETE FROM refs WHERE document_id = ?",
		"DELETE FROM symbols WHERE document_id = ?",
		"DELETE FROM documents WHERE id = ?",
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete document data: %w", err)
		}
	}
	return nil
}
