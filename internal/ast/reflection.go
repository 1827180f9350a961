package ast

import "sort"

// Reflection answers type questions about a grammar's node types: subtype
// relations and the expected target type of each cross-reference property.
// Ancestor sets are computed once at construction.
type Reflection struct {
	supertypes map[string][]string
	ancestors  map[string]map[string]bool
	references map[string]string // "ContainerType.property" -> target type
}

// NewReflection builds a Reflection from direct supertype declarations and
// reference target types keyed by "ContainerType.property".
func NewReflection(supertypes map[string][]string, references map[string]string) *Reflection {
	r := &Reflection{
		supertypes: make(map[string][]string, len(supertypes)),
		ancestors:  make(map[string]map[string]bool, len(supertypes)),
		references: make(map[string]string, len(references)),
	}
	for t, supers := range supertypes {
		r.supertypes[t] = append([]string(nil), supers...)
	}
	for k, v := range references {
		r.references[k] = v
	}
	for t := range r.supertypes {
		r.ancestors[t] = r.closure(t)
	}
	return r
}

func (r *Reflection) closure(typ string) map[string]bool {
	seen := map[string]bool{}
	stack := append([]string(nil), r.supertypes[typ]...)
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[t] || t == typ {
			continue
		}
		seen[t] = true
		stack = append(stack, r.supertypes[t]...)
	}
	return seen
}

// IsSubtype reports whether sub equals super or inherits from it. An empty
// super matches every type.
func (r *Reflection) IsSubtype(sub, super string) bool {
	if super == "" || sub == super {
		return true
	}
	if r == nil {
		return false
	}
	return r.ancestors[sub][super]
}

// ReferenceType returns the expected target type of ref, consulting the
// container's supertypes when the container type itself declares nothing.
func (r *Reflection) ReferenceType(ref *Reference) string {
	if r == nil || ref == nil || ref.Container == nil {
		return ""
	}
	typ := ref.Container.Type
	if t, ok := r.references[typ+"."+ref.Property]; ok {
		return t
	}
	supers := make([]string, 0, len(r.ancestors[typ]))
	for s := range r.ancestors[typ] {
		supers = append(supers, s)
	}
	sort.Strings(supers)
	for _, s := range supers {
		if t, ok := r.references[s+"."+ref.Property]; ok {
			return t
		}
	}
	return ""
}

// Types returns every type the reflection knows about, sorted.
func (r *Reflection) Types() []string {
	seen := map[string]bool{}
	for t, supers := range r.supertypes {
		seen[t] = true
		for _, s := range supers {
			seen[s] = true
		}
	}
	for _, t := range r.references {
		seen[t] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MergeReflections combines several grammars' type tables. Later entries win
// on conflicting reference keys.
func MergeReflections(rs ...*Reflection) *Reflection {
	supers := map[string][]string{}
	refs := map[string]string{}
	for _, r := range rs {
		if r == nil {
			continue
		}
		for t, s := range r.supertypes {
			supers[t] = append(supers[t], s...)
		}
		for k, v := range r.references {
			refs[k] = v
		}
	}
	return NewReflection(supers, refs)
}
