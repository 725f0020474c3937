package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

type fakeProfileRepo struct {
	mu        sync.Mutex
	profiles  map[string]models.Profile
	findErrs  []error
	insertErr error
	// hideInserts keeps inserted rows invisible to FindByID.
	hideInserts bool
	finds       int
	inserts     []models.Profile
	block       chan struct{}
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: make(map[string]models.Profile)}
}

func (f *fakeProfileRepo) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if len(f.findErrs) > 0 {
		err := f.findErrs[0]
		f.findErrs = f.findErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (f *fakeProfileRepo) Insert(ctx context.Context, profile *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, *profile)
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.profiles[profile.ID]; ok {
		return appErrors.ErrDuplicateKey
	}
	if !f.hideInserts {
		f.profiles[profile.ID] = *profile
	}
	return nil
}

func (f *fakeProfileRepo) put(p models.Profile) {
	f.mu.Lock()
	f.profiles[p.ID] = p
	f.mu.Unlock()
}

func (f *fakeProfileRepo) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

type fakeGateway struct {
	mu         sync.Mutex
	identities map[string]*models.Identity
	session    *models.AuthSession
	signInErr  error
	currentErr error
	signOuts   []string
	handlers   []func(models.AuthEvent)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{identities: make(map[string]*models.Identity)}
}

func (g *fakeGateway) SignInWithPassword(ctx context.Context, req models.LoginRequest) (*models.AuthSession, error) {
	if g.signInErr != nil {
		return nil, g.signInErr
	}
	return g.session, nil
}

func (g *fakeGateway) CurrentIdentity(ctx context.Context, token string) (*models.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentErr != nil {
		return nil, g.currentErr
	}
	identity, ok := g.identities[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	cp := *identity
	return &cp, nil
}

func (g *fakeGateway) SignOut(ctx context.Context, identityID, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signOuts = append(g.signOuts, identityID)
	return nil
}

func (g *fakeGateway) OnAuthStateChange(handler func(models.AuthEvent)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, handler)
	return func() {}
}

type fakeTermLoader struct {
	mu    sync.Mutex
	terms []models.Term
	err   error
	calls int
	// entered receives a value when LoadTerms starts; gate blocks it until closed.
	entered chan struct{}
	gate    chan struct{}
}

func (l *fakeTermLoader) LoadTerms(ctx context.Context) ([]models.Term, error) {
	l.mu.Lock()
	gate, entered := l.gate, l.entered
	l.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]models.Term(nil), l.terms...), nil
}

func (l *fakeTermLoader) set(terms []models.Term, err error) {
	l.mu.Lock()
	l.terms = terms
	l.err = err
	l.mu.Unlock()
}

func (l *fakeTermLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func term(id string, order int, active bool) models.Term {
	return models.Term{ID: id, Name: "Term " + id, Slug: "term-" + id, DisplayOrder: order, IsActive: active}
}
