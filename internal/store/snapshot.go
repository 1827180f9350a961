package store

import (
	"database/sql"
	"fmt"
)

// WriteDocument replaces everything stored for snap.Document.URI with the
// snapshot, within a single transaction.
func (s *Store) WriteDocument(snap *Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("write document: begin: %w", err)
	}
	defer tx.Rollback()

	d := &snap.Document
	if err := deleteDocumentTx(tx, d.URI); err != nil {
		return fmt.Errorf("write document %s: %w", d.URI, err)
	}
	res, err := tx.Exec(
		"INSERT INTO documents (uri, language, hash, state, indexed_at) VALUES (?, ?, ?, ?, ?)",
		d.URI, d.LanguageID, d.Hash, d.State, d.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("write document %s: %w", d.URI, err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	d.ID = docID

	if err := insertSymbolsTx(tx, docID, snap.Symbols); err != nil {
		return fmt.Errorf("write document %s: %w", d.URI, err)
	}
	if err := insertRefsTx(tx, docID, snap.Refs); err != nil {
		return fmt.Errorf("write document %s: %w", d.URI, err)
	}
	if err := insertDiagnosticsTx(tx, docID, snap.Diagnostics); err != nil {
		return fmt.Errorf("write document %s: %w", d.URI, err)
	}
	return tx.Commit()
}

func insertSymbolsTx(tx *sql.Tx, docID int64, symbols []Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(
		`INSERT INTO symbols (document_id, name, type, path, start_line, start_col, end_line, end_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbol insert: %w", err)
	}
	defer stmt.Close()
	for _, sym := range symbols {
		if _, err := stmt.Exec(docID, sym.Name, sym.Type, sym.Path,
			sym.StartLine, sym.StartCol, sym.EndLine, sym.EndCol); err != nil {
			return fmt.Errorf("symbol %q: %w", sym.Name, err)
		}
	}
	return nil
}

func insertRefsTx(tx *sql.Tx, docID int64, refs []Ref) error {
	if len(refs) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(
		`INSERT INTO refs (document_id, source_path, target_uri, target_path, text, local,
			start_line, start_col, end_line, end_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare ref insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range refs {
		if _, err := stmt.Exec(docID, r.SourcePath, r.TargetURI, r.TargetPath, r.Text, r.Local,
			r.StartLine, r.StartCol, r.EndLine, r.EndCol); err != nil {
			return fmt.Errorf("ref %q: %w", r.Text, err)
		}
	}
	return nil
}

func insertDiagnosticsTx(tx *sql.Tx, docID int64, diags []Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(
		`INSERT INTO diagnostics (document_id, severity, message, code, category, path, property,
			start_line, start_col, end_line, end_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare diagnostic insert: %w", err)
	}
	defer stmt.Close()
	for _, d := range diags {
		if _, err := stmt.Exec(docID, d.Severity, d.Message, d.Code, d.Category, d.Path, d.Property,
			d.StartLine, d.StartCol, d.EndLine, d.EndCol); err != nil {
			return fmt.Errorf("diagnostic %q: %w", d.Message, err)
		}
	}
	return nil
}
