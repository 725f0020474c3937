package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-console-api/internal/models"
)

const defaultSignedOutRetention = time.Hour

type registryEntry struct {
	context    *TermContext
	identityID string
	lastAccess time.Time
}

// TermContextRegistry keeps one TermContext per console session.
type TermContextRegistry struct {
	loader  termLoader
	logger  *zap.Logger
	metrics *MetricsService

	mu          sync.Mutex
	entries     map[string]*registryEntry
	signedOut   map[string]time.Time
	idleTTL     time.Duration
	now         func() time.Time
	unsubscribe func()
	stopSweep   chan struct{}
}

// NewTermContextRegistry constructs an empty registry.
func NewTermContextRegistry(loader termLoader, logger *zap.Logger, metrics *MetricsService) *TermContextRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermContextRegistry{
		loader:    loader,
		logger:    logger,
		metrics:   metrics,
		entries:   make(map[string]*registryEntry),
		signedOut: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetIdleTTL evicts contexts not accessed for ttl on each sweep. Zero disables eviction.
func (r *TermContextRegistry) SetIdleTTL(ttl time.Duration) {
	r.mu.Lock()
	r.idleTTL = ttl
	r.mu.Unlock()
}

// Get returns the session's context, creating and loading it on first use.
// Signed-out sessions get nil.
func (r *TermContextRegistry) Get(ctx context.Context, sessionID, identityID string) *TermContext {
	r.mu.Lock()
	if _, gone := r.signedOut[sessionID]; gone {
		r.mu.Unlock()
		return nil
	}
	entry, ok := r.entries[sessionID]
	if !ok {
		entry = &registryEntry{context: NewTermContext(r.loader, r.logger.With(zap.String("session_id", sessionID)), r.metrics), identityID: identityID}
		r.entries[sessionID] = entry
		r.metrics.SetTermContexts(len(r.entries))
	}
	entry.lastAccess = r.now()
	r.mu.Unlock()

	entry.context.Load(ctx)
	return entry.context
}

// RefreshAll loads the terms once and applies the result to every context.
func (r *TermContextRegistry) RefreshAll(ctx context.Context) {
	contexts := r.contexts()
	if len(contexts) == 0 {
		return
	}

	terms, err := r.loader.LoadTerms(ctx)
	r.metrics.RecordTermRefresh(err == nil)
	if err != nil {
		r.logger.Warn("term refresh for all sessions failed", zap.Error(err))
	}
	for _, c := range contexts {
		c.Apply(terms, err)
	}
}

// Close discards the session's context.
func (r *TermContextRegistry) Close(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.metrics.SetTermContexts(len(r.entries))
	r.mu.Unlock()
	if ok {
		entry.context.Close()
	}
}

// Len returns the number of live contexts.
func (r *TermContextRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// HandleAuthEvent drops contexts of signed-out sessions.
func (r *TermContextRegistry) HandleAuthEvent(event models.AuthEvent) {
	if event.Type != models.AuthEventSignedOut {
		return
	}

	r.mu.Lock()
	now := r.now()
	if event.SessionID != "" {
		r.signedOut[event.SessionID] = now
	}
	var closing []*TermContext
	for sid, entry := range r.entries {
		var match bool
		switch {
		case event.SessionID != "":
			match = sid == event.SessionID
		case event.IdentityID != "":
			match = entry.identityID == event.IdentityID
		default:
			match = true
		}
		if match {
			closing = append(closing, entry.context)
			delete(r.entries, sid)
			r.signedOut[sid] = now
		}
	}
	r.metrics.SetTermContexts(len(r.entries))
	r.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
	if len(closing) > 0 {
		r.logger.Debug("term contexts closed on sign-out", zap.Int("count", len(closing)))
	}
}

// Sweep closes contexts idle for longer than the idle TTL and forgets
// signed-out sessions past their retention. It returns the number evicted.
func (r *TermContextRegistry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	retention := r.idleTTL
	if retention < defaultSignedOutRetention {
		retention = defaultSignedOutRetention
	}
	for sid, at := range r.signedOut {
		if now.Sub(at) > retention {
			delete(r.signedOut, sid)
		}
	}

	var closing []*TermContext
	if r.idleTTL > 0 {
		for sid, entry := range r.entries {
			if now.Sub(entry.lastAccess) > r.idleTTL {
				closing = append(closing, entry.context)
				delete(r.entries, sid)
			}
		}
	}
	r.metrics.SetTermContexts(len(r.entries))
	r.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
	if len(closing) > 0 {
		r.logger.Debug("idle term contexts evicted", zap.Int("count", len(closing)))
	}
	return len(closing)
}

// StartSweeper runs Sweep every interval until Stop.
func (r *TermContextRegistry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		return
	}
	r.mu.Lock()
	if r.stopSweep != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.stopSweep = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Listen subscribes the registry to auth state changes.
func (r *TermContextRegistry) Listen(source interface {
	OnAuthStateChange(handler func(models.AuthEvent)) func()
}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe == nil {
		r.unsubscribe = source.OnAuthStateChange(r.HandleAuthEvent)
	}
}

// Stop unsubscribes from auth events and closes every context.
func (r *TermContextRegistry) Stop() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	if r.stopSweep != nil {
		close(r.stopSweep)
		r.stopSweep = nil
	}
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, entry := range entries {
		entry.context.Close()
	}
}

func (r *TermContextRegistry) contexts() []*TermContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TermContext, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.context)
	}
	return out
}
