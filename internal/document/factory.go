package document

import (
	"fmt"
	"sync"
)

// Parser turns text into a first-pass syntax tree. Implementations must be
// free of side effects on shared state.
type Parser interface {
	Parse(text string) ParseResult
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) ParseResult

// Parse calls f(text).
func (f ParserFunc) Parse(text string) ParseResult { return f(text) }

// ParserResolver returns the parser for a language ID.
type ParserResolver func(languageID string) (Parser, bool)

// TextSource returns the current text for a URI. ok is false when the source
// has nothing newer than what the document already holds.
type TextSource func(uri string) (text string, ok bool)

// Factory creates documents and re-parses them from their text source.
type Factory struct {
	parsers ParserResolver
	texts   TextSource
}

// NewFactory returns a Factory. texts may be nil, in which case documents
// keep the text they were created with.
func NewFactory(parsers ParserResolver, texts TextSource) *Factory {
	return &Factory{parsers: parsers, texts: texts}
}

// Create builds an unparsed document.
func (f *Factory) Create(uri, languageID, text string) *Document {
	return NewFromText(uri, languageID, text)
}

// Update refreshes the document's text from the text source, runs the
// language parser, and leaves the document in state Parsed with every
// artifact of later phases cleared.
func (f *Factory) Update(doc *Document) error {
	if f.texts != nil {
		if text, ok := f.texts(doc.URI); ok && text != doc.text {
			doc.setText(text)
		}
	}
	parser, ok := f.parsers(doc.LanguageID)
	if !ok {
		return fmt.Errorf("no parser for language %q (%s)", doc.LanguageID, doc.URI)
	}
	doc.ResetTo(Changed)
	result := parser.Parse(doc.text)
	if result.Root != nil {
		result.Root.URI = doc.URI
	}
	doc.ParseResult = result
	doc.State = Parsed
	return nil
}

// Documents is the workspace's collection of documents, keyed by URI and
// iterated in insertion order.
type Documents struct {
	mu    sync.RWMutex
	docs  map[string]*Document
	order []string
}

// NewDocuments returns an empty collection.
func NewDocuments() *Documents {
	return &Documents{docs: make(map[string]*Document)}
}

// Get returns the document for uri, or nil.
func (c *Documents) Get(uri string) *Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs[uri]
}

// Has reports whether uri is tracked.
func (c *Documents) Has(uri string) bool {
	return c.Get(uri) != nil
}

// Add tracks doc. It fails if the URI is already present.
func (c *Documents) Add(doc *Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[doc.URI]; ok {
		return fmt.Errorf("document %s already exists", doc.URI)
	}
	c.docs[doc.URI] = doc
	c.order = append(c.order, doc.URI)
	return nil
}

// GetOrCreate returns the tracked document for uri, creating it on first
// access.
func (c *Documents) GetOrCreate(uri string, create func() *Document) *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.docs[uri]; ok {
		return d
	}
	d := create()
	c.docs[uri] = d
	c.order = append(c.order, uri)
	return d
}

// Delete stops tracking uri and returns the removed document, if any.
func (c *Documents) Delete(uri string) *Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[uri]
	if !ok {
		return nil
	}
	delete(c.docs, uri)
	for i, u := range c.order {
		if u == uri {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return d
}

// All returns every tracked document in insertion order.
func (c *Documents) All() []*Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Document, 0, len(c.order))
	for _, uri := range c.order {
		out = append(out, c.docs[uri])
	}
	return out
}

// Len returns the number of tracked documents.
func (c *Documents) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}
