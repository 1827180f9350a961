// Package domainmodel implements a small entity/datatype modelling language
// with packages, inheritance, and typed features.
package domainmodel

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/lang"
	"github.com/jward/trellis/internal/validation"
)

// LanguageID identifies the language in the registry.
const LanguageID = "domainmodel"

// Reflection is the language's type table.
var Reflection = ast.NewReflection(
	map[string][]string{
		TypePackage:  {TypeAbstractElement},
		TypeType:     {TypeAbstractElement},
		TypeDataType: {TypeType},
		TypeEntity:   {TypeType},
	},
	map[string]string{
		TypeEntity + ".superType": TypeEntity,
		TypeFeature + ".type":     TypeType,
	},
)

// Language returns the registry entry for domain model files.
func Language() *lang.Language {
	return &lang.Language{
		ID:             LanguageID,
		Extensions:     []string{".dmodel"},
		Parser:         document.ParserFunc(Parse),
		Reflection:     Reflection,
		IsNamespace:    func(n *ast.Node) bool { return n.Type == TypePackage },
		RegisterChecks: RegisterChecks,
	}
}

// RegisterChecks installs the language's validation checks.
func RegisterChecks(reg *validation.Registry) {
	reg.RegisterNamed(TypeType, validation.Fast, "type-capitalized", checkTypeCapitalized)
	reg.RegisterNamed(TypeEntity, validation.Fast, "unique-features", checkUniqueFeatures)
	reg.RegisterNamed(TypeEntity, validation.Slow, "no-inheritance-cycle", checkInheritanceCycle)
}

func checkTypeCapitalized(_ context.Context, n *ast.Node, accept validation.Acceptor) error {
	r, _ := utf8.DecodeRuneInString(n.Name)
	if n.Name != "" && !unicode.IsUpper(r) {
		accept(document.SeverityWarning, "Type name should start with a capital.",
			validation.Info{Node: n, Property: "name", Code: "type-capitalized"})
	}
	return nil
}

func checkUniqueFeatures(_ context.Context, n *ast.Node, accept validation.Acceptor) error {
	seen := map[string]bool{}
	for _, f := range n.Children("features") {
		if f.Name == "" {
			continue
		}
		if seen[f.Name] {
			accept(document.SeverityError, fmt.Sprintf("Duplicate feature '%s'.", f.Name),
				validation.Info{Node: f, Property: "name", Code: "duplicate-feature"})
		}
		seen[f.Name] = true
	}
	return nil
}

func checkInheritanceCycle(ctx context.Context, n *ast.Node, accept validation.Acceptor) error {
	visited := map[*ast.Node]bool{n: true}
	cur := n
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs := cur.References()
		var next *ast.Node
		for _, r := range refs {
			if r.Property == "superType" {
				next = r.Target()
			}
		}
		if next == nil {
			return nil
		}
		if next == n {
			accept(document.SeverityError, fmt.Sprintf("Entity '%s' inherits from itself.", n.Name),
				validation.Info{Node: n, Property: "superType", Code: "inheritance-cycle"})
			return nil
		}
		if visited[next] {
			return nil
		}
		visited[next] = true
		cur = next
	}
}
