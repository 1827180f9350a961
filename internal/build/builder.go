// Package build drives documents through the analysis phases: parse, index
// content, compute local scopes, link, index references, and validate.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jward/trellis/internal/cancel"
	"github.com/jward/trellis/internal/document"
	"github.com/jward/trellis/internal/index"
	"github.com/jward/trellis/internal/scope"
	"github.com/jward/trellis/internal/validation"
)

// ErrDocumentNotFound is returned when waiting on a URI that is not tracked.
var ErrDocumentNotFound = errors.New("document not found")

// Services are the language-specific collaborators of the scope, linking,
// and validation phases.
type Services struct {
	Scopes    *scope.Computation
	Linker    *scope.Linker
	Validator *validation.Validator
}

// ServicesResolver returns the services for a language ID.
type ServicesResolver func(languageID string) (*Services, bool)

// Creator makes a new, unparsed document for a URI reported changed but not
// yet tracked.
type Creator func(uri string) (*document.Document, error)

// Options controls how far a build goes.
type Options struct {
	// Validation selects the checks to run. Nil ends the build at
	// IndexedReferences.
	Validation *validation.Options
}

// UpdateListener observes the URIs passed to Update.
type UpdateListener func(changed, deleted []string)

// BuildPhaseListener is called once per batch with every document that
// reached the phase.
type BuildPhaseListener func(docs []*document.Document)

// DocumentPhaseListener is called as soon as one document reaches the phase.
type DocumentPhaseListener func(doc *document.Document)

// buildState tracks one document across builds.
type buildState struct {
	completed bool
	options   Options
	// validated lists the categories whose diagnostics the document holds.
	validated []validation.Category
}

type listener[F any] struct {
	id int
	fn F
}

// Builder runs the phase state machine. Build and Update must not run
// concurrently with each other; callers serialize them with a write lock.
// WaitUntil and listener registration are safe from any goroutine.
type Builder struct {
	docs      *document.Documents
	factory   *document.Factory
	index     *index.Manager
	services  ServicesResolver
	create    Creator
	interrupt *cancel.Interrupter
	logger    *slog.Logger
	isOpen    func(uri string) bool
	updateOpt Options

	mu             sync.Mutex
	states         map[string]*buildState
	reached        map[string]document.State
	changed        chan struct{}
	nextID         int
	updateLs       []listener[UpdateListener]
	buildPhaseLs   map[document.State][]listener[BuildPhaseListener]
	documentPhaseL map[document.State][]listener[DocumentPhaseListener]
}

// Option configures a Builder.
type Option func(*Builder)

// WithInterrupter sets the suspension-point policy.
func WithInterrupter(i *cancel.Interrupter) Option {
	return func(b *Builder) { b.interrupt = i }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithOpenDocuments marks documents open in an editor. Open documents are
// built first within a batch.
func WithOpenDocuments(isOpen func(uri string) bool) Option {
	return func(b *Builder) { b.isOpen = isOpen }
}

// WithCreator sets how Update creates documents for unknown URIs.
func WithCreator(c Creator) Option {
	return func(b *Builder) { b.create = c }
}

// WithUpdateOptions sets the options Update builds with. The default runs
// every validation category.
func WithUpdateOptions(o Options) Option {
	return func(b *Builder) { b.updateOpt = o }
}

// NewBuilder returns a Builder over the given collaborators.
func NewBuilder(docs *document.Documents, factory *document.Factory, idx *index.Manager, services ServicesResolver, opts ...Option) *Builder {
	b := &Builder{
		docs:           docs,
		factory:        factory,
		index:          idx,
		services:       services,
		interrupt:      cancel.NewInterrupter(cancel.DefaultPeriod),
		logger:         slog.Default(),
		updateOpt:      Options{Validation: &validation.Options{}},
		states:         make(map[string]*buildState),
		reached:        make(map[string]document.State),
		changed:        make(chan struct{}),
		buildPhaseLs:   make(map[document.State][]listener[BuildPhaseListener]),
		documentPhaseL: make(map[document.State][]listener[DocumentPhaseListener]),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build drives docs to the end state implied by opts. Documents already there
// are left alone, except that validation categories they have not run yet are
// run and their diagnostics appended. Only cancellation is returned as an
// error.
func (b *Builder) Build(ctx context.Context, docs []*document.Document, opts Options) error {
	for _, doc := range docs {
		b.mu.Lock()
		prev := b.states[doc.URI]
		b.mu.Unlock()

		// A document lowered for partial validation whose run was cancelled
		// still holds the diagnostics of the categories it had validated.
		resuming := prev != nil && !prev.completed && len(prev.validated) > 0 &&
			doc.State == document.IndexedReferences
		if doc.State < document.Validated && !resuming {
			b.mu.Lock()
			delete(b.states, doc.URI)
			b.mu.Unlock()
			continue
		}
		if opts.Validation == nil || prev == nil {
			continue
		}
		svc, ok := b.services(doc.LanguageID)
		if !ok {
			continue
		}
		missing := missingCategories(prev.validated, svc.Validator.Categories(*opts.Validation))
		if len(missing) == 0 {
			if resuming {
				b.mu.Lock()
				b.states[doc.URI] = &buildState{completed: true, options: opts, validated: prev.validated}
				b.mu.Unlock()
				b.setState(doc, document.Validated)
			}
			continue
		}
		narrowed := *opts.Validation
		narrowed.Categories = missing
		b.mu.Lock()
		b.states[doc.URI] = &buildState{
			options:   Options{Validation: &narrowed},
			validated: prev.validated,
		}
		b.mu.Unlock()
		// Lowered directly: the diagnostics already held stay and the missing
		// categories are appended to them.
		b.setState(doc, document.IndexedReferences)
	}
	return b.buildDocuments(ctx, docs, opts)
}

// Update applies a batch of file changes: deleted documents are dropped,
// changed documents are reset to Changed, other documents affected by the
// change are reset to ComputedScopes, and everything not completely built is
// rebuilt with the update options.
func (b *Builder) Update(ctx context.Context, changed, deleted []string) error {
	for _, uri := range deleted {
		b.docs.Delete(uri)
		b.index.Remove(uri)
		b.mu.Lock()
		delete(b.states, uri)
		delete(b.reached, uri)
		b.broadcastLocked()
		b.mu.Unlock()
	}
	for _, uri := range changed {
		doc := b.docs.Get(uri)
		if doc == nil {
			var err error
			if doc, err = b.newDocument(uri); err != nil {
				b.logger.Error("cannot track changed document", "uri", uri, "error", err)
				continue
			}
		}
		b.ResetToState(doc, document.Changed)
		b.mu.Lock()
		delete(b.states, uri)
		b.mu.Unlock()
	}

	touched := make(map[string]bool, len(changed)+len(deleted))
	for _, uri := range changed {
		touched[uri] = true
	}
	for _, uri := range deleted {
		touched[uri] = true
	}
	for _, doc := range b.docs.All() {
		if !touched[doc.URI] && b.index.IsAffected(doc, touched) {
			b.ResetToState(doc, document.ComputedScopes)
		}
	}

	b.emitUpdate(changed, deleted)
	if err := b.interrupt.Check(ctx); err != nil {
		recordCancellation(ctx, "update")
		return err
	}

	var rebuild []*document.Document
	for _, doc := range b.docs.All() {
		if doc.State < document.Linked || !b.completed(doc.URI) {
			rebuild = append(rebuild, doc)
		}
	}
	return b.buildDocuments(ctx, b.prioritize(rebuild), b.updateOpt)
}

func (b *Builder) newDocument(uri string) (*document.Document, error) {
	if b.create == nil {
		return nil, errors.New("no document creator configured")
	}
	doc, err := b.create(uri)
	if err != nil {
		return nil, err
	}
	return b.docs.GetOrCreate(uri, func() *document.Document { return doc }), nil
}

// ResetToState lowers doc to s, removing its index entries for the phases it
// loses along with the document's own artifacts.
func (b *Builder) ResetToState(doc *document.Document, s document.State) {
	if s < document.IndexedContent {
		b.index.RemoveContent(doc.URI)
	}
	if s < document.IndexedReferences {
		b.index.RemoveReferences(doc.URI)
	}
	doc.ResetTo(s)
	b.mu.Lock()
	b.reached[doc.URI] = doc.State
	b.broadcastLocked()
	b.mu.Unlock()
}

// prioritize moves open documents to the front, keeping relative order.
func (b *Builder) prioritize(docs []*document.Document) []*document.Document {
	if b.isOpen == nil {
		return docs
	}
	out := make([]*document.Document, 0, len(docs))
	var rest []*document.Document
	for _, d := range docs {
		if b.isOpen(d.URI) {
			out = append(out, d)
		} else {
			rest = append(rest, d)
		}
	}
	return append(out, rest...)
}

type phaseFunc func(ctx context.Context, doc *document.Document) error

func (b *Builder) buildDocuments(ctx context.Context, docs []*document.Document, opts Options) error {
	b.mu.Lock()
	for _, doc := range docs {
		// A build interrupted earlier resumes with the options it started with.
		if st, ok := b.states[doc.URI]; !ok || st.completed {
			next := &buildState{options: opts}
			if ok && doc.State == document.Validated {
				next.validated = st.validated
			}
			b.states[doc.URI] = next
		}
	}
	b.mu.Unlock()

	b.logger.Debug("building documents", "documents", len(docs))

	phases := []struct {
		state document.State
		run   phaseFunc
	}{
		{document.Parsed, b.parse},
		{document.IndexedContent, b.indexContent},
		{document.ComputedScopes, b.computeScopes},
		{document.Linked, b.link},
		{document.IndexedReferences, b.indexReferences},
	}
	alive := docs
	var err error
	for _, p := range phases {
		if alive, err = b.runPhase(ctx, alive, p.state, p.run); err != nil {
			return b.cancelled(ctx, err)
		}
	}

	var toValidate []*document.Document
	for _, doc := range alive {
		if b.shouldValidate(doc) {
			toValidate = append(toValidate, doc)
		}
	}
	validated, err := b.runPhase(ctx, toValidate, document.Validated, b.validate)
	if err != nil {
		return b.cancelled(ctx, err)
	}

	b.mu.Lock()
	for _, doc := range alive {
		if doc.State < document.Validated && b.shouldValidateLocked(doc) {
			continue
		}
		if st := b.states[doc.URI]; st != nil {
			st.completed = true
		}
	}
	b.mu.Unlock()
	b.logger.Debug("build finished", "documents", len(alive), "validated", len(validated))
	return nil
}

func (b *Builder) cancelled(ctx context.Context, err error) error {
	b.logger.Debug("build cancelled", "error", err)
	recordCancellation(ctx, "build")
	return err
}

// runPhase moves every document below target up to target, one at a time,
// with a suspension point before each. Documents whose phase fails for a
// reason other than cancellation are logged and dropped from the rest of the
// batch. The returned slice holds the documents now at or above target.
func (b *Builder) runPhase(ctx context.Context, docs []*document.Document, target document.State, run phaseFunc) (alive []*document.Document, err error) {
	var pending []*document.Document
	for _, doc := range docs {
		if doc.State < target {
			pending = append(pending, doc)
		} else {
			alive = append(alive, doc)
		}
	}
	if len(pending) == 0 {
		return alive, nil
	}

	start := time.Now()
	ctx, span := startPhaseSpan(ctx, target, len(pending))
	var reached []*document.Document
	defer func() {
		// Documents that made it keep their listeners even when the rest of
		// the phase is abandoned.
		b.notifyBuildPhase(reached, target)
		finishPhase(ctx, span, target, start, len(reached), err)
	}()

	for _, doc := range pending {
		if err = b.interrupt.Check(ctx); err != nil {
			return nil, err
		}
		if perr := run(ctx, doc); perr != nil {
			if cancel.IsCancelled(perr) {
				err = perr
				return nil, err
			}
			b.logger.Error("build phase failed",
				"uri", doc.URI,
				"phase", target.String(),
				"error", perr,
			)
			continue
		}
		b.setState(doc, target)
		b.notifyDocumentPhase(doc, target)
		reached = append(reached, doc)
		alive = append(alive, doc)
	}
	return alive, nil
}

func (b *Builder) parse(_ context.Context, doc *document.Document) error {
	return b.factory.Update(doc)
}

func (b *Builder) indexContent(ctx context.Context, doc *document.Document) error {
	_, err := b.index.UpdateContent(ctx, doc)
	return err
}

func (b *Builder) computeScopes(ctx context.Context, doc *document.Document) error {
	svc, err := b.servicesFor(doc)
	if err != nil {
		return err
	}
	scopes, err := svc.Scopes.LocalScopes(ctx, doc)
	if err != nil {
		return err
	}
	doc.LocalScopes = scopes
	return nil
}

func (b *Builder) link(ctx context.Context, doc *document.Document) error {
	svc, err := b.servicesFor(doc)
	if err != nil {
		return err
	}
	return svc.Linker.Link(ctx, doc)
}

func (b *Builder) indexReferences(ctx context.Context, doc *document.Document) error {
	_, err := b.index.UpdateReferences(ctx, doc)
	return err
}

func (b *Builder) validate(ctx context.Context, doc *document.Document) error {
	svc, err := b.servicesFor(doc)
	if err != nil {
		return err
	}
	b.mu.Lock()
	st := b.states[doc.URI]
	fresh := st != nil && len(st.validated) == 0
	b.mu.Unlock()
	if st == nil || st.options.Validation == nil {
		return nil
	}
	opts := *st.options.Validation
	opts.Categories = svc.Validator.Categories(opts)

	diags, err := svc.Validator.Validate(ctx, doc, opts)
	if err != nil {
		return err
	}
	if fresh {
		doc.Diagnostics = diags
	} else {
		doc.Diagnostics = append(doc.Diagnostics, diags...)
	}

	b.mu.Lock()
	for _, c := range opts.Categories {
		if !slices.Contains(st.validated, c) {
			st.validated = append(st.validated, c)
		}
	}
	b.mu.Unlock()
	return nil
}

func (b *Builder) servicesFor(doc *document.Document) (*Services, error) {
	svc, ok := b.services(doc.LanguageID)
	if !ok {
		return nil, fmt.Errorf("no services for language %q", doc.LanguageID)
	}
	return svc, nil
}

func (b *Builder) shouldValidate(doc *document.Document) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldValidateLocked(doc)
}

func (b *Builder) shouldValidateLocked(doc *document.Document) bool {
	st := b.states[doc.URI]
	return st != nil && st.options.Validation != nil
}

func (b *Builder) completed(uri string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[uri]
	return st != nil && st.completed
}

// ValidatedCategories returns the validation categories whose diagnostics
// the document currently holds.
func (b *Builder) ValidatedCategories(uri string) []validation.Category {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.states[uri]; st != nil {
		return slices.Clone(st.validated)
	}
	return nil
}

func (b *Builder) setState(doc *document.Document, s document.State) {
	doc.State = s
	b.mu.Lock()
	b.reached[doc.URI] = s
	b.broadcastLocked()
	b.mu.Unlock()
}

func (b *Builder) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// WaitUntil blocks until the document at uri reaches state. It fails with
// ErrDocumentNotFound when uri is not tracked, including when the document is
// deleted while waiting, and with a cancellation error when ctx ends first.
func (b *Builder) WaitUntil(ctx context.Context, state document.State, uri string) error {
	for {
		b.mu.Lock()
		if !b.docs.Has(uri) {
			b.mu.Unlock()
			return fmt.Errorf("wait for %s: %w", uri, ErrDocumentNotFound)
		}
		if b.reached[uri] >= state {
			b.mu.Unlock()
			return nil
		}
		ch := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w: %w", uri, cancel.ErrCancelled, ctx.Err())
		case <-ch:
		}
	}
}

// OnUpdate registers fn for every Update call. The returned func removes it.
func (b *Builder) OnUpdate(fn UpdateListener) (dispose func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextIDLocked()
	b.updateLs = append(b.updateLs, listener[UpdateListener]{id, fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.updateLs = removeListener(b.updateLs, id)
	}
}

// OnBuildPhase registers fn for the end of phase s in every batch.
func (b *Builder) OnBuildPhase(s document.State, fn BuildPhaseListener) (dispose func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextIDLocked()
	b.buildPhaseLs[s] = append(b.buildPhaseLs[s], listener[BuildPhaseListener]{id, fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.buildPhaseLs[s] = removeListener(b.buildPhaseLs[s], id)
	}
}

// OnDocumentPhase registers fn for each document reaching phase s.
func (b *Builder) OnDocumentPhase(s document.State, fn DocumentPhaseListener) (dispose func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextIDLocked()
	b.documentPhaseL[s] = append(b.documentPhaseL[s], listener[DocumentPhaseListener]{id, fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.documentPhaseL[s] = removeListener(b.documentPhaseL[s], id)
	}
}

func (b *Builder) nextIDLocked() int {
	b.nextID++
	return b.nextID
}

func (b *Builder) emitUpdate(changed, deleted []string) {
	b.mu.Lock()
	ls := slices.Clone(b.updateLs)
	b.mu.Unlock()
	for _, l := range ls {
		l.fn(changed, deleted)
	}
}

func (b *Builder) notifyBuildPhase(docs []*document.Document, s document.State) {
	if len(docs) == 0 {
		return
	}
	b.mu.Lock()
	ls := slices.Clone(b.buildPhaseLs[s])
	b.mu.Unlock()
	for _, l := range ls {
		l.fn(docs)
	}
}

func (b *Builder) notifyDocumentPhase(doc *document.Document, s document.State) {
	b.mu.Lock()
	ls := slices.Clone(b.documentPhaseL[s])
	b.mu.Unlock()
	for _, l := range ls {
		l.fn(doc)
	}
}

func removeListener[F any](ls []listener[F], id int) []listener[F] {
	return slices.DeleteFunc(ls, func(l listener[F]) bool { return l.id == id })
}

// missingCategories returns the entries of requested not in done.
func missingCategories(done, requested []validation.Category) []validation.Category {
	var out []validation.Category
	for _, c := range requested {
		if !slices.Contains(done, c) {
			out = append(out, c)
		}
	}
	return out
}
