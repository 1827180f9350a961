package ast

import "fmt"

// Description is an address-based descriptor of a named node. Descriptions
// stored in the global index carry no Node pointer; the target is re-located
// through DocumentURI and Path.
type Description struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DocumentURI string `json:"document_uri"`
	Path        string `json:"path"`
	NameRange   Range  `json:"name_range"`

	Node *Node `json:"-"`
}

// Describe builds a description of n under the given (possibly qualified) name.
func Describe(n *Node, name string) *Description {
	return &Description{
		Name:        name,
		Type:        n.Type,
		DocumentURI: n.DocumentURI(),
		Path:        Path(n),
		NameRange:   n.NameRange,
		Node:        n,
	}
}

// Detached returns a copy of d without the node pointer.
func (d *Description) Detached() *Description {
	c := *d
	c.Node = nil
	return &c
}

// LinkingError records why a reference could not be resolved.
type LinkingError struct {
	ReferenceType string
	Text          string
	Message       string
}

func (e *LinkingError) Error() string {
	return e.Message
}

// NewLinkingError builds the standard unresolved-name error.
func NewLinkingError(refType, text string) *LinkingError {
	if refType == "" {
		refType = "element"
	}
	return &LinkingError{
		ReferenceType: refType,
		Text:          text,
		Message:       fmt.Sprintf("Could not resolve reference to %s named '%s'.", refType, text),
	}
}

// Reference is a cross-reference occurrence: a node naming another node by
// identifier.
type Reference struct {
	Container *Node
	Property  string
	Index     int
	Text      string
	Range     Range

	target      *Node
	description *Description
	err         *LinkingError
}

// Target returns the resolved node, or nil.
func (r *Reference) Target() *Node { return r.target }

// Description returns the description the reference resolved to, or nil.
func (r *Reference) Description() *Description { return r.description }

// Error returns the linking error, or nil.
func (r *Reference) Error() *LinkingError { return r.err }

// IsResolved reports whether linking found a target.
func (r *Reference) IsResolved() bool { return r.description != nil }

// IsLinked reports whether linking has run on r, successfully or not.
func (r *Reference) IsLinked() bool { return r.description != nil || r.err != nil }

// Resolve marks r as pointing at target, described by desc.
func (r *Reference) Resolve(desc *Description, target *Node) {
	r.description = desc
	r.target = target
	r.err = nil
}

// Fail marks r as unresolved.
func (r *Reference) Fail(err *LinkingError) {
	r.description = nil
	r.target = nil
	r.err = err
}

// Unlink discards any resolution state.
func (r *Reference) Unlink() {
	r.description = nil
	r.target = nil
	r.err = nil
}
