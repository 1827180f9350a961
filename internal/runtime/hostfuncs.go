package runtime

import (
	"context"
	"log/slog"

	"github.com/risor-io/risor/object"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/validation"
)

// nodeToObject converts n into a Risor map. Children appear only as
// summaries; scripts descend with the children global.
//
//	{type, name, path, uri, attrs, refs, features}
func nodeToObject(n *ast.Node) object.Object {
	attrs := map[string]object.Object{}
	for k, v := range n.Attrs() {
		attrs[k] = object.NewString(v)
	}
	features := map[string]object.Object{}
	for _, f := range n.Features() {
		items := make([]object.Object, 0, len(f.Nodes))
		for _, c := range f.Nodes {
			items = append(items, summaryObject(c))
		}
		features[f.Name] = object.NewList(items)
	}

	refs := make([]object.Object, 0, len(n.References()))
	for _, r := range n.References() {
		refs = append(refs, referenceObject(r))
	}

	return object.NewMap(map[string]object.Object{
		"type":     object.NewString(n.Type),
		"name":     object.NewString(n.Name),
		"path":     object.NewString(ast.Path(n)),
		"uri":      object.NewString(n.DocumentURI()),
		"attrs":    object.NewMap(attrs),
		"refs":     object.NewList(refs),
		"features": object.NewMap(features),
	})
}

func summaryObject(n *ast.Node) object.Object {
	return object.NewMap(map[string]object.Object{
		"type": object.NewString(n.Type),
		"name": object.NewString(n.Name),
		"path": object.NewString(ast.Path(n)),
	})
}

func referenceObject(r *ast.Reference) object.Object {
	m := map[string]object.Object{
		"property": object.NewString(r.Property),
		"text":     object.NewString(r.Text),
		"index":    object.NewInt(int64(r.Index)),
		"resolved": object.NewBool(r.IsResolved()),
		"error":    object.Nil,
		"target":   object.Nil,
	}
	if d := r.Description(); d != nil {
		m["target"] = object.NewMap(map[string]object.Object{
			"name": object.NewString(d.Name),
			"type": object.NewString(d.Type),
			"uri":  object.NewString(d.DocumentURI),
			"path": object.NewString(d.Path),
		})
	}
	if e := r.Error(); e != nil {
		m["error"] = object.NewString(e.Message)
	}
	return object.NewMap(m)
}

// makeChildrenFn creates "children" for the node under validation.
//
// children(feature) → [node]
func makeChildrenFn(n *ast.Node) *object.Builtin {
	return object.NewBuiltin("children", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("children", 1, len(args))
		}
		feature, err := toString(args[0])
		if err != nil {
			return object.Errorf("children: feature %v", err)
		}
		kids := n.Children(feature)
		items := make([]object.Object, 0, len(kids))
		for _, c := range kids {
			items = append(items, nodeToObject(c))
		}
		return object.NewList(items)
	})
}

// makeAcceptFn creates "accept", which reports a diagnostic on the node under
// validation.
//
// accept(severity, message)
// accept(severity, message, {property, index, code})
func makeAcceptFn(n *ast.Node, accept validation.Acceptor) *object.Builtin {
	return object.NewBuiltin("accept", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.Errorf("accept: expected 2 or 3 arguments, got %d", len(args))
		}
		sevName, err := toString(args[0])
		if err != nil {
			return object.Errorf("accept: severity %v", err)
		}
		severity, ok := parseSeverity(sevName)
		if !ok {
			return object.Errorf("accept: unknown severity %q", sevName)
		}
		message, err := toString(args[1])
		if err != nil {
			return object.Errorf("accept: message %v", err)
		}

		info := validation.Info{Node: n}
		if len(args) == 3 {
			m, err := extractMap(args[2])
			if err != nil {
				return object.Errorf("accept: options %v", err)
			}
			info.Property = getString(m, "property")
			info.Index = getInt(m, "index")
			info.Code = getString(m, "code")
		}
		accept(severity, message, info)
		return object.Nil
	})
}

// makeIsSubtypeFn creates "is_subtype". Without a reflection only equal
// types (or an empty supertype) match.
//
// is_subtype(sub, super) → bool
func makeIsSubtypeFn(refl *ast.Reflection) *object.Builtin {
	return object.NewBuiltin("is_subtype", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("is_subtype", 2, len(args))
		}
		sub, err := toString(args[0])
		if err != nil {
			return object.Errorf("is_subtype: %v", err)
		}
		super, err := toString(args[1])
		if err != nil {
			return object.Errorf("is_subtype: %v", err)
		}
		return object.NewBool(refl.IsSubtype(sub, super))
	})
}

func parseSeverity(s string) (document.Severity, bool) {
	switch s {
	case "error":
		return document.SeverityError, true
	case "warning", "warn":
		return document.SeverityWarning, true
	case "info", "information":
		return document.SeverityInformation, true
	case "hint":
		return document.SeverityHint, true
	}
	return 0, false
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
	node   *ast.Node
}

func (l *logObject) attrs() []any {
	if l.node == nil {
		return []any{"source", "rule"}
	}
	return []any{"source", "rule", "uri", l.node.DocumentURI(), "node_type", l.node.Type}
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg, l.attrs()...)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg, l.attrs()...)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg, l.attrs()...)
}
