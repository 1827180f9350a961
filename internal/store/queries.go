package store

import (
	"database/sql"
	"fmt"
)

// --- Documents ---

const documentCols = `id, uri, language, hash, state, indexed_at`

func scanDocument(sc scanner) (*Document, error) {
	d := &Document{}
	var hash sql.NullString
	var indexedAt sql.NullTime
	if err := sc.Scan(&d.ID, &d.URI, &d.LanguageID, &hash, &d.State, &indexedAt); err != nil {
		return nil, err
	}
	d.Hash = hash.String
	d.IndexedAt = indexedAt.Time
	return d, nil
}

// DocumentByURI returns the stored document, or nil if there is none.
func (s *Store) DocumentByURI(uri string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRow("SELECT "+documentCols+" FROM documents WHERE uri = ?", uri))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("document by uri: %w", err)
	}
	return d, nil
}

// Documents returns every stored document ordered by URI.
func (s *Store) Documents() ([]*Document, error) {
	rows, err := s.db.Query("SELECT " + documentCols + " FROM documents ORDER BY uri")
	if err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DocumentsReferencing returns the distinct URIs of documents holding a
// reference into any of targetURIs, excluding the targets themselves.
func (s *Store) DocumentsReferencing(targetURIs ...string) ([]string, error) {
	if len(targetURIs) == 0 {
		return nil, nil
	}
	ph := placeholderList(len(targetURIs))
	args := stringsToArgs(targetURIs)
	args = append(args, args...)
	rows, err := s.db.Query(
		`SELECT DISTINCT d.uri FROM refs r JOIN documents d ON d.id = r.document_id
		 WHERE r.target_uri IN (`+ph+`) AND d.uri NOT IN (`+ph+`)
		 ORDER BY d.uri`, args...)
	if err != nil {
		return nil, fmt.Errorf("documents referencing: %w", err)
	}
	defer rows.Close()
	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan uri: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// --- Symbols ---

const symbolCols = `d.uri, s.id, s.name, s.type, s.path, s.start_line, s.start_col, s.end_line, s.end_col`

func (s *Store) querySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var symbols []*Symbol
	for rows.Next() {
		sym := &Symbol{}
		if err := rows.Scan(&sym.DocumentURI, &sym.ID, &sym.Name, &sym.Type, &sym.Path,
			&sym.StartLine, &sym.StartCol, &sym.EndLine, &sym.EndCol); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SymbolsByName returns the symbols exported under name, ordered by
// document and path.
func (s *Store) SymbolsByName(name string) ([]*Symbol, error) {
	return s.querySymbols(
		"SELECT "+symbolCols+" FROM symbols s JOIN documents d ON d.id = s.document_id WHERE s.name = ? ORDER BY d.uri, s.id",
		name)
}

// Symbols returns every stored symbol, ordered by document.
func (s *Store) Symbols() ([]*Symbol, error) {
	return s.querySymbols(
		"SELECT " + symbolCols + " FROM symbols s JOIN documents d ON d.id = s.document_id ORDER BY d.uri, s.id")
}

// --- References ---

// ReferencesTo returns the reference edges targeting the node at path in
// targetURI. An empty path matches every node of the document.
func (s *Store) ReferencesTo(targetURI, path string) ([]*Ref, error) {
	q := `SELECT d.uri, r.id, r.source_path, r.target_uri, r.target_path, r.text, r.local,
			r.start_line, r.start_col, r.end_line, r.end_col
		 FROM refs r JOIN documents d ON d.id = r.document_id
		 WHERE r.target_uri = ?`
	args := []any{targetURI}
	if path != "" {
		q += " AND r.target_path = ?"
		args = append(args, path)
	}
	q += " ORDER BY d.uri, r.id"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("references to: %w", err)
	}
	defer rows.Close()
	var refs []*Ref
	for rows.Next() {
		r := &Ref{}
		var text sql.NullString
		if err := rows.Scan(&r.SourceURI, &r.ID, &r.SourcePath, &r.TargetURI, &r.TargetPath, &text, &r.Local,
			&r.StartLine, &r.StartCol, &r.EndLine, &r.EndCol); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		r.Text = text.String
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// --- Diagnostics ---

// DiagnosticsFor returns the diagnostics of a document in the order they
// were reported. An empty uri returns the diagnostics of every document.
func (s *Store) DiagnosticsFor(uri string) ([]*Diagnostic, error) {
	q := `SELECT d.uri, g.id, g.severity, g.message, g.code, g.category, g.path, g.property,
			g.start_line, g.start_col, g.end_line, g.end_col
		 FROM diagnostics g JOIN documents d ON d.id = g.document_id`
	var args []any
	if uri != "" {
		q += " WHERE d.uri = ?"
		args = append(args, uri)
	}
	q += " ORDER BY d.uri, g.id"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("diagnostics for: %w", err)
	}
	defer rows.Close()
	var diags []*Diagnostic
	for rows.Next() {
		g := &Diagnostic{}
		var code, category, path, property sql.NullString
		if err := rows.Scan(&g.DocumentURI, &g.ID, &g.Severity, &g.Message, &code, &category, &path, &property,
			&g.StartLine, &g.StartCol, &g.EndLine, &g.EndCol); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		g.Code, g.Category, g.Path, g.Property = code.String, category.String, path.String, property.String
		diags = append(diags, g)
	}
	return diags, rows.Err()
}
