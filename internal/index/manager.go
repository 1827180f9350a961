// Package index holds the workspace-wide symbol table and the cross-document
// reference edges used for incremental invalidation.
package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
)

// Exporter computes the symbols a document makes visible to other documents.
type Exporter interface {
	ExportedSymbols(ctx context.Context, doc *document.Document) ([]*ast.Description, error)
}

// ReferenceDescription is a directed edge from the node at SourcePath in
// SourceURI to the node at TargetPath in TargetURI.
type ReferenceDescription struct {
	SourceURI  string    `json:"source_uri"`
	SourcePath string    `json:"source_path"`
	TargetURI  string    `json:"target_uri"`
	TargetPath string    `json:"target_path"`
	Segment    ast.Range `json:"segment"`
	Text       string    `json:"text"`
	Local      bool      `json:"local"`
}

// Manager is the symbol and reference index. All methods are safe for
// concurrent use.
type Manager struct {
	reflection *ast.Reflection
	exporter   Exporter

	mu         sync.RWMutex
	symbols    map[string][]*ast.Description
	order      []string
	references map[string][]ReferenceDescription
	// cache holds AllSymbols results per type filter. Any content change
	// clears it entirely.
	cache map[string][]*ast.Description
}

// NewManager returns an empty index.
func NewManager(reflection *ast.Reflection, exporter Exporter) *Manager {
	return &Manager{
		reflection: reflection,
		exporter:   exporter,
		symbols:    make(map[string][]*ast.Description),
		references: make(map[string][]ReferenceDescription),
		cache:      make(map[string][]*ast.Description),
	}
}

// UpdateContent replaces the document's exported symbols. Descriptions are
// stored without node pointers. The table is only touched once the exports
// have been computed, so a cancelled computation leaves the previous entry.
func (m *Manager) UpdateContent(ctx context.Context, doc *document.Document) ([]*ast.Description, error) {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "UpdateContent", doc.URI)

	exports, err := m.exporter.ExportedSymbols(ctx, doc)
	if err != nil {
		finishOperation(ctx, span, "UpdateContent", start, 0, err)
		return nil, fmt.Errorf("index: export symbols of %s: %w", doc.URI, err)
	}
	stored := make([]*ast.Description, len(exports))
	for i, d := range exports {
		stored[i] = d.Detached()
	}

	m.mu.Lock()
	if _, ok := m.symbols[doc.URI]; !ok {
		m.order = append(m.order, doc.URI)
	}
	m.symbols[doc.URI] = stored
	clear(m.cache)
	total := m.symbolCountLocked()
	m.mu.Unlock()

	recordSymbolCount(ctx, total)
	finishOperation(ctx, span, "UpdateContent", start, len(stored), nil)
	return stored, nil
}

// UpdateReferences replaces the document's outgoing reference edges with one
// edge per resolved reference. Unresolved references produce no edge.
func (m *Manager) UpdateReferences(ctx context.Context, doc *document.Document) ([]ReferenceDescription, error) {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, "UpdateReferences", doc.URI)

	var edges []ReferenceDescription
	if root := doc.Root(); root != nil {
		for _, ref := range ast.AllReferences(root) {
			desc := ref.Description()
			if desc == nil {
				continue
			}
			edges = append(edges, ReferenceDescription{
				SourceURI:  doc.URI,
				SourcePath: ast.Path(ref.Container),
				TargetURI:  desc.DocumentURI,
				TargetPath: desc.Path,
				Segment:    ref.Range,
				Text:       ref.Text,
				Local:      desc.DocumentURI == doc.URI,
			})
		}
	}

	m.mu.Lock()
	m.references[doc.URI] = edges
	m.mu.Unlock()

	finishOperation(ctx, span, "UpdateReferences", start, len(edges), nil)
	return edges, nil
}

// AllSymbols returns every exported symbol whose type is typeFilter or one of
// its subtypes. An empty filter returns everything. Results are cached per
// filter; callers must not modify the returned slice.
func (m *Manager) AllSymbols(typeFilter string) []*ast.Description {
	m.mu.RLock()
	cached, ok := m.cache[typeFilter]
	m.mu.RUnlock()
	if ok {
		return cached
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[typeFilter]; ok {
		return cached
	}
	recordCacheMiss(context.Background(), typeFilter)
	out := []*ast.Description{}
	for _, uri := range m.order {
		for _, d := range m.symbols[uri] {
			if m.reflection.IsSubtype(d.Type, typeFilter) {
				out = append(out, d)
			}
		}
	}
	m.cache[typeFilter] = out
	return out
}

// Symbols returns the exports indexed for uri.
func (m *Manager) Symbols(uri string) []*ast.Description {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.symbols[uri]
}

// References returns the outgoing edges indexed for uri.
func (m *Manager) References(uri string) []ReferenceDescription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.references[uri]
}

// FindAllReferences scans every document's edges for those pointing at the
// node at targetPath in target's document.
func (m *Manager) FindAllReferences(target *ast.Node, targetPath string) []ReferenceDescription {
	if target == nil {
		return nil
	}
	return m.FindReferencesTo(target.DocumentURI(), targetPath)
}

// FindReferencesTo is FindAllReferences addressed by URI and path.
func (m *Manager) FindReferencesTo(targetURI, targetPath string) []ReferenceDescription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ReferenceDescription
	for _, uri := range m.referenceOrderLocked() {
		for _, e := range m.references[uri] {
			if e.TargetURI == targetURI && e.TargetPath == targetPath {
				out = append(out, e)
			}
		}
	}
	return out
}

// IsAffected reports whether doc may resolve differently after the documents
// in changed were modified: it has an unresolved reference, or a non-local
// edge into a changed document.
func (m *Manager) IsAffected(doc *document.Document, changed map[string]bool) bool {
	for _, ref := range doc.References {
		if ref.Error() != nil {
			return true
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.references[doc.URI] {
		if !e.Local && changed[e.TargetURI] {
			return true
		}
	}
	return false
}

// Remove deletes every entry for the given URIs.
func (m *Manager) Remove(uris ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uri := range uris {
		m.removeContentLocked(uri)
		delete(m.references, uri)
	}
	clear(m.cache)
}

// RemoveContent deletes the exported symbols of uri.
func (m *Manager) RemoveContent(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeContentLocked(uri)
	clear(m.cache)
}

// RemoveReferences deletes the outgoing edges of uri.
func (m *Manager) RemoveReferences(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.references, uri)
}

func (m *Manager) removeContentLocked(uri string) {
	if _, ok := m.symbols[uri]; !ok {
		return
	}
	delete(m.symbols, uri)
	for i, u := range m.order {
		if u == uri {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Manager) symbolCountLocked() int {
	n := 0
	for _, syms := range m.symbols {
		n += len(syms)
	}
	return n
}

// referenceOrderLocked lists URIs with edges: indexed documents first in
// insertion order, then any others.
func (m *Manager) referenceOrderLocked() []string {
	seen := make(map[string]bool, len(m.references))
	out := make([]string, 0, len(m.references))
	for _, uri := range m.order {
		if _, ok := m.references[uri]; ok {
			out = append(out, uri)
			seen[uri] = true
		}
	}
	for uri := range m.references {
		if !seen[uri] {
			out = append(out, uri)
		}
	}
	return out
}
