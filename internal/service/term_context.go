package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

const initialLoadTimeout = 10 * time.Second

type termLoader interface {
	LoadTerms(ctx context.Context) ([]models.Term, error)
}

// TermContext holds the term list, the active term and the selected term for
// one console session. It starts in the loading state and becomes ready after
// the first load, successful or not.
type TermContext struct {
	loader  termLoader
	logger  *zap.Logger
	metrics *MetricsService

	mu         sync.RWMutex
	state      models.TermContextState
	terms      []models.Term
	selectedID string
	version    uint64
	loadSeq    uint64
	closed     bool
	subs       map[uint64]func(models.TermContextSnapshot)
	nextSub    uint64

	// notifyMu is taken while mu is held so observers see changes in order.
	notifyMu sync.Mutex
	initOnce sync.Once
}

// NewTermContext creates a context in the loading state.
func NewTermContext(loader termLoader, logger *zap.Logger, metrics *MetricsService) *TermContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermContext{
		loader:  loader,
		logger:  logger,
		metrics: metrics,
		state:   models.TermContextLoading,
		subs:    make(map[uint64]func(models.TermContextSnapshot)),
	}
}

// Load performs the initial load once. Later calls wait for it and return.
// The load outlives the caller's cancellation, bounded by initialLoadTimeout.
func (c *TermContext) Load(ctx context.Context) {
	c.initOnce.Do(func() {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initialLoadTimeout)
		defer cancel()
		_ = c.Refresh(loadCtx)
	})
}

// Refresh reloads the terms. A failed reload keeps the previous list; the
// selection survives when its term still exists.
func (c *TermContext) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	terms, err := c.loader.LoadTerms(ctx)
	c.metrics.RecordTermRefresh(err == nil)
	c.apply(seq, terms, err)
	return err
}

// Apply installs an externally loaded result, superseding any load in flight.
func (c *TermContext) Apply(terms []models.Term, err error) {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()
	c.apply(seq, terms, err)
}

func (c *TermContext) apply(seq uint64, terms []models.Term, err error) {
	c.mu.Lock()
	if c.closed || seq != c.loadSeq {
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.logger.Warn("term load failed", zap.String("code", appErrors.FromError(err).Code), zap.Error(err))
		if c.state == models.TermContextLoading {
			c.terms = nil
		}
	} else {
		c.terms = append([]models.Term(nil), terms...)
		if n := countActive(c.terms); n > 1 {
			c.logger.Warn("more than one active term, using the first in load order", zap.Int("active_count", n))
		}
	}

	c.state = models.TermContextReady
	c.selectedID = c.reconcileSelectionLocked()
	c.commitLocked()
}

// reconcileSelectionLocked keeps a still-existing selection and otherwise
// falls back to the active term, then the first term, then nothing.
func (c *TermContext) reconcileSelectionLocked() string {
	if c.selectedID != "" && c.findLocked(c.selectedID) != nil {
		return c.selectedID
	}
	if active := c.activeLocked(); active != nil {
		return active.ID
	}
	if len(c.terms) > 0 {
		return c.terms[0].ID
	}
	return ""
}

// SetSelectedTermID selects a loaded term.
func (c *TermContext) SetSelectedTermID(id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "term context is closed")
	}
	if id == "" {
		c.mu.Unlock()
		return appErrors.Clone(appErrors.ErrValidation, "term_id is required")
	}
	if c.findLocked(id) == nil {
		c.mu.Unlock()
		return appErrors.Clone(appErrors.ErrNotFound, "term not found")
	}
	if c.selectedID == id {
		c.mu.Unlock()
		return nil
	}
	c.selectedID = id
	c.commitLocked()
	return nil
}

// SelectedTermID returns the current selection, empty when none.
func (c *TermContext) SelectedTermID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedID
}

// ActiveTerm returns a copy of the active term or nil.
func (c *TermContext) ActiveTerm() *models.Term {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyTerm(c.activeLocked())
}

// Snapshot returns a consistent copy of the context state.
func (c *TermContext) Snapshot() models.TermContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every state change and returns the function
// that removes it. fn must not call back into the context.
func (c *TermContext) Subscribe(fn func(models.TermContextSnapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close detaches the context. Loads finishing afterwards are discarded.
func (c *TermContext) Close() {
	c.mu.Lock()
	c.closed = true
	c.subs = make(map[uint64]func(models.TermContextSnapshot))
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *TermContext) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// commitLocked bumps the version and notifies observers. It releases c.mu.
func (c *TermContext) commitLocked() {
	c.version++
	snap := c.snapshotLocked()
	subs := make([]func(models.TermContextSnapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range subs {
		c.deliver(fn, snap)
	}
}

func (c *TermContext) deliver(fn func(models.TermContextSnapshot), snap models.TermContextSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("term context subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(snap)
}

func (c *TermContext) snapshotLocked() models.TermContextSnapshot {
	terms := append([]models.Term{}, c.terms...)
	return models.TermContextSnapshot{
		State:          c.state,
		Loading:        c.state == models.TermContextLoading,
		Terms:          terms,
		ActiveTerm:     copyTerm(c.activeLocked()),
		SelectedTermID: c.selectedID,
		SelectedTerm:   copyTerm(c.findLocked(c.selectedID)),
		Version:        c.version,
	}
}

func (c *TermContext) activeLocked() *models.Term {
	for i := range c.terms {
		if c.terms[i].IsActive {
			return &c.terms[i]
		}
	}
	return nil
}

func (c *TermContext) findLocked(id string) *models.Term {
	if id == "" {
		return nil
	}
	for i := range c.terms {
		if c.terms[i].ID == id {
			return &c.terms[i]
		}
	}
	return nil
}

func countActive(terms []models.Term) int {
	n := 0
	for _, t := range terms {
		if t.IsActive {
			n++
		}
	}
	return n
}

func copyTerm(t *models.Term) *models.Term {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
