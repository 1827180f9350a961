// Package golang lifts Go source files into the workspace AST using
// tree-sitter. Package-level types, functions and methods become symbols;
// local type names in signatures and struct fields become references.
package golang

import (
	"context"
	"fmt"

	"github.com/jward/trellis/internal/ast"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/lang"
	"github.com/jward/trellis/internal/validation"
)

// LanguageID identifies the language in the registry.
const LanguageID = "go"

// Reflection is the language's type table.
var Reflection = ast.NewReflection(
	map[string][]string{
		TypeTypeSpec:   {TypeDecl},
		TypeFuncDecl:   {TypeDecl},
		TypeMethodDecl: {TypeDecl},
	},
	map[string]string{
		TypeField + ".type":          TypeTypeSpec,
		TypeTypeSpec + ".type":       TypeTypeSpec,
		TypeFuncDecl + ".type":       TypeTypeSpec,
		TypeMethodDecl + ".type":     TypeTypeSpec,
		TypeMethodDecl + ".receiver": TypeTypeSpec,
	},
)

// Language returns the registry entry for Go files.
func Language() *lang.Language {
	return &lang.Language{
		ID:             LanguageID,
		Extensions:     []string{".go"},
		Parser:         document.ParserFunc(Parse),
		Reflection:     Reflection,
		RegisterChecks: RegisterChecks,
	}
}

// RegisterChecks installs the language's validation checks.
func RegisterChecks(reg *validation.Registry) {
	reg.RegisterNamed(TypeTypeSpec, validation.Fast, "unique-fields", checkUniqueFields)
}

func checkUniqueFields(_ context.Context, n *ast.Node, accept validation.Acceptor) error {
	seen := map[string]bool{}
	for _, f := range n.Children("fields") {
		if f.Name == "_" {
			continue
		}
		if seen[f.Name] {
			accept(document.SeverityError, fmt.Sprintf("%s redeclared in %s.", f.Name, n.Name),
				validation.Info{Node: f, Property: "name", Code: "duplicate-field"})
		}
		seen[f.Name] = true
	}
	return nil
}
