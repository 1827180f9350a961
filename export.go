package trellis

import (
	"context"
	"fmt"
	"time"

	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/store"
)

// Export writes the current index into st: one transactional replace per
// tracked document, and removal of stored documents no longer tracked.
func (w *Workspace) Export(ctx context.Context, st *store.Store) error {
	return w.mutex.Read(ctx, func(ctx context.Context) error {
		tracked := make(map[string]bool)
		var errs []error
		now := time.Now()
		for _, doc := range w.docs.All() {
			if err := ctx.Err(); err != nil {
				return err
			}
			tracked[doc.URI] = true
			if err := st.WriteDocument(w.snapshot(doc, now)); err != nil {
				errs = append(errs, err)
			}
		}

		stored, err := st.Documents()
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		for _, d := range stored {
			if tracked[d.URI] {
				continue
			}
			if err := st.DeleteDocument(d.URI); err != nil {
				errs = append(errs, err)
			}
		}

		if len(errs) > 0 {
			return fmt.Errorf("export had %d error(s): %w", len(errs), errs[0])
		}
		return nil
	})
}

func (w *Workspace) snapshot(doc *document.Document, now time.Time) *store.Snapshot {
	snap := &store.Snapshot{
		Document: store.Document{
			URI:        doc.URI,
			LanguageID: doc.LanguageID,
			Hash:       doc.Hash(),
			State:      doc.State.String(),
			IndexedAt:  now,
		},
	}
	for _, d := range w.index.Symbols(doc.URI) {
		snap.Symbols = append(snap.Symbols, store.Symbol{
			Name:      d.Name,
			Type:      d.Type,
			Path:      d.Path,
			StartLine: d.NameRange.Start.Line,
			StartCol:  d.NameRange.Start.Column,
			EndLine:   d.NameRange.End.Line,
			EndCol:    d.NameRange.End.Column,
		})
	}
	for _, r := range w.index.References(doc.URI) {
		snap.Refs = append(snap.Refs, store.Ref{
			SourcePath: r.SourcePath,
			TargetURI:  r.TargetURI,
			TargetPath: r.TargetPath,
			Text:       r.Text,
			Local:      r.Local,
			StartLine:  r.Segment.Start.Line,
			StartCol:   r.Segment.Start.Column,
			EndLine:    r.Segment.End.Line,
			EndCol:     r.Segment.End.Column,
		})
	}
	for _, g := range doc.Diagnostics {
		snap.Diagnostics = append(snap.Diagnostics, store.Diagnostic{
			Severity:  int(g.Severity),
			Message:   g.Message,
			Code:      g.Code,
			Category:  g.Category,
			Path:      g.Path,
			Property:  g.Property,
			StartLine: g.Range.Start.Line,
			StartCol:  g.Range.Start.Column,
			EndLine:   g.Range.End.Line,
			EndCol:    g.Range.End.Column,
		})
	}
	return snap
}
