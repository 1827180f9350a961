// Package trellis is the analysis core of a language workbench: it keeps a
// workspace of documents parsed into generic syntax trees, indexes the
// symbols they export, links cross-references through scopes, and validates
// the result, rebuilding incrementally as documents change.
//
// # Pipeline
//
// Every document moves through seven states in order:
//
//	Changed → Parsed → IndexedContent → ComputedScopes → Linked → IndexedReferences → Validated
//
// A rebuild drives a batch of documents one phase at a time, so that every
// document's exports are indexed before any document is linked. Parse
// errors, unresolved references, and rule violations become diagnostics;
// only cancellation stops a build early.
//
// # Usage
//
//	ws, err := trellis.New()
//	if err != nil { ... }
//
//	ctx := context.Background()
//	err = ws.LoadDirectory(ctx, "path/to/project")
//	diags, err := ws.Diagnostics(ctx, uri)
//
//	err = ws.Open(ctx, uri, text) // editor buffer overrides disk
//	refs, err := ws.FindAllReferences(ctx, uri, "/elements@0")
//
// # Incremental Updates
//
// [Workspace.Update] resets changed documents completely and relinks only
// documents holding a reference into a changed or deleted one. A newer
// update cancels a running one; its changes are carried forward.
//
// # Rules
//
// Besides each language's built-in checks, validation rules can be written
// as Risor scripts laid out as {category}/{NodeType}.risor under a rules
// directory (see [WithRulesDir] and [WithRulesFS]). A rule runs once per
// node of that type or a subtype and reports through accept(severity,
// message, {property, index, code}).
//
// # Snapshots
//
// [Workspace.Export] writes documents, symbols, reference edges and
// diagnostics into a SQLite [Store] for offline queries.
package trellis
