package ast

// Position is a zero-based line/column location in a document's text.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a half-open span of document text.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Feature is a named structural slot on a node holding one or many children.
type Feature struct {
	Name  string
	Many  bool
	Nodes []*Node
}

// Node is a generic abstract syntax tree node. The parent owns its children
// through features; Container is a non-owning back-reference used only for
// upward traversal.
type Node struct {
	Type string
	Name string

	Container        *Node
	ContainerFeature string
	// ContainerIndex is the position within a list-valued feature, or -1.
	ContainerIndex int

	Range     Range
	NameRange Range

	// URI is set on document roots only. Use DocumentURI from any node.
	URI string

	features   []*Feature
	references []*Reference
	attrs      map[string]string
}

// NewNode returns a detached node of the given type.
func NewNode(typ, name string) *Node {
	return &Node{Type: typ, Name: name, ContainerIndex: -1}
}

// Set stores child as the single value of feature, replacing any previous value.
func (n *Node) Set(feature string, child *Node) {
	f := n.feature(feature, false)
	f.Nodes = f.Nodes[:0]
	if child == nil {
		return
	}
	child.Container = n
	child.ContainerFeature = feature
	child.ContainerIndex = -1
	f.Nodes = append(f.Nodes, child)
}

// Append adds child to the list-valued feature.
func (n *Node) Append(feature string, child *Node) {
	f := n.feature(feature, true)
	child.Container = n
	child.ContainerFeature = feature
	child.ContainerIndex = len(f.Nodes)
	f.Nodes = append(f.Nodes, child)
}

func (n *Node) feature(name string, many bool) *Feature {
	for _, f := range n.features {
		if f.Name == name {
			return f
		}
	}
	f := &Feature{Name: name, Many: many}
	n.features = append(n.features, f)
	return f
}

// Feature returns the named feature, or nil.
func (n *Node) Feature(name string) *Feature {
	for _, f := range n.features {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Features returns the node's features in assignment order.
func (n *Node) Features() []*Feature {
	return n.features
}

// Child returns the single value of feature, or nil.
func (n *Node) Child(feature string) *Node {
	f := n.Feature(feature)
	if f == nil || len(f.Nodes) == 0 {
		return nil
	}
	return f.Nodes[0]
}

// Children returns the values of a list-valued feature.
func (n *Node) Children(feature string) []*Node {
	f := n.Feature(feature)
	if f == nil {
		return nil
	}
	return f.Nodes
}

// Contents returns the direct children across all features, in order.
func (n *Node) Contents() []*Node {
	var out []*Node
	for _, f := range n.features {
		out = append(out, f.Nodes...)
	}
	return out
}

// AddReference records a cross-reference held by n under property. Multiple
// references under the same property are numbered in insertion order.
func (n *Node) AddReference(property, text string, rng Range) *Reference {
	idx := 0
	for _, r := range n.references {
		if r.Property == property {
			idx++
		}
	}
	ref := &Reference{Container: n, Property: property, Index: idx, Text: text, Range: rng}
	n.references = append(n.references, ref)
	return ref
}

// References returns the cross-references held directly by n.
func (n *Node) References() []*Reference {
	return n.references
}

// SetAttr stores a non-structural attribute such as a modifier flag.
func (n *Node) SetAttr(key, value string) {
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	n.attrs[key] = value
}

// Attr returns an attribute value, or "".
func (n *Node) Attr(key string) string {
	return n.attrs[key]
}

// Attrs returns a copy of every attribute.
func (n *Node) Attrs() map[string]string {
	out := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out
}

// Root walks container links up to the document root.
func (n *Node) Root() *Node {
	for n.Container != nil {
		n = n.Container
	}
	return n
}

// DocumentURI returns the URI of the document owning n.
func (n *Node) DocumentURI() string {
	return n.Root().URI
}
