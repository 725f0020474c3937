package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testResolverConfig() ResolverConfig {
	return ResolverConfig{
		Retries:       3,
		RetryInterval: 500 * time.Millisecond,
		ErrorBackoff:  time.Second,
		DefaultRoles:  map[EntryPoint]models.Role{EntryPointLogin: models.RoleAdmin, EntryPointResolver: models.RoleStudent},
		SafetyTimeout: time.Second,
	}
}

func newTestResolver(repo *fakeProfileRepo, gateway *fakeGateway) (*SessionResolver, *recordingSleeper) {
	resolver := NewSessionResolver(gateway, repo, NewMemoryProfileCache(), NewMetricsService(), nil, testResolverConfig())
	sleeper := &recordingSleeper{}
	resolver.sleep = sleeper.sleep
	return resolver, sleeper
}

func identity(id, email string) *models.Identity {
	return &models.Identity{ID: id, Email: email, SessionID: "sess-" + id}
}

func TestFetchProfileReturnsExistingProfile(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Email: "ana@school.test", Role: models.RoleTutor})
	resolver, _ := newTestResolver(repo, newFakeGateway())

	profile, err := resolver.FetchProfile(context.Background(), identity("u1", "ana@school.test"), EntryPointResolver)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTutor, profile.Role)
	assert.Empty(t, repo.inserts)

	_, err = resolver.FetchProfile(context.Background(), identity("u1", "ana@school.test"), EntryPointResolver)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCount(), "second call served from cache")
}

func TestFetchProfileAutoCreatesWithEntryPointDefault(t *testing.T) {
	cases := []struct {
		entry EntryPoint
		role  models.Role
	}{
		{EntryPointResolver, models.RoleStudent},
		{EntryPointLogin, models.RoleAdmin},
	}
	for _, tc := range cases {
		t.Run(string(tc.entry), func(t *testing.T) {
			repo := newFakeProfileRepo()
			resolver, sleeper := newTestResolver(repo, newFakeGateway())

			profile, err := resolver.FetchProfile(context.Background(), identity("u1", "sam@school.test"), tc.entry)
			require.NoError(t, err)
			assert.Equal(t, tc.role, profile.Role)
			require.NotNil(t, profile.DisplayName)
			assert.Equal(t, "sam", *profile.DisplayName)
			require.Len(t, repo.inserts, 1)
			assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeper.waits)
		})
	}
}

func TestFetchProfileSwallowsDuplicateInsert(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Email: "sam@school.test", Role: models.RoleInstructor})
	// The first lookup misses as if another writer inserted concurrently.
	repo.findErrs = []error{sql.ErrNoRows}
	resolver, _ := newTestResolver(repo, newFakeGateway())

	profile, err := resolver.FetchProfile(context.Background(), identity("u1", "sam@school.test"), EntryPointResolver)
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, profile.Role)
	assert.Len(t, repo.inserts, 1)
	assert.Equal(t, 2, repo.findCount())
}

func TestFetchProfileUnresolvedAfterRetries(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.hideInserts = true
	resolver, sleeper := newTestResolver(repo, newFakeGateway())

	_, err := resolver.FetchProfile(context.Background(), identity("u1", "sam@school.test"), EntryPointResolver)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrProfileUnresolved))
	assert.Contains(t, appErrors.FromError(err).Message, "contact an administrator")
	assert.Len(t, repo.inserts, 3)
	assert.Len(t, sleeper.waits, 3)
	assert.Equal(t, 6, repo.findCount())
}

func TestFetchProfileBacksOffOnTransientErrors(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Email: "sam@school.test", Role: models.RoleAdmin})
	boom := errors.New("connection reset")
	repo.findErrs = []error{boom, boom}
	resolver, sleeper := newTestResolver(repo, newFakeGateway())

	profile, err := resolver.FetchProfile(context.Background(), identity("u1", "sam@school.test"), EntryPointResolver)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, profile.Role)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
	assert.Empty(t, repo.inserts)
}

func TestFetchProfileCollapsesConcurrentCalls(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Email: "sam@school.test", Role: models.RoleAdmin})
	repo.block = make(chan struct{})
	resolver, _ := newTestResolver(repo, newFakeGateway())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.FetchProfile(context.Background(), identity("u1", "sam@school.test"), EntryPointResolver)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(repo.block)
	wg.Wait()

	assert.Equal(t, 1, repo.findCount())
}

func TestSignOutNeverLeaksProfileToNextIdentity(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Email: "ana@school.test", Role: models.RoleAdmin})
	repo.put(models.Profile{ID: "u2", Email: "ben@school.test", Role: models.RoleTutor})
	gateway := newFakeGateway()
	gateway.identities["tok1"] = identity("u1", "ana@school.test")
	gateway.identities["tok2"] = identity("u2", "ben@school.test")
	resolver, _ := newTestResolver(repo, gateway)

	session, err := resolver.ResolveSession(context.Background(), "tok1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, session.Profile.Role)

	resolver.HandleAuthEvent(models.AuthEvent{Type: models.AuthEventSignedOut, IdentityID: "u1"})
	_, cached := resolver.cache.Get("u1")
	assert.False(t, cached)

	session, err = resolver.ResolveSession(context.Background(), "tok2")
	require.NoError(t, err)
	assert.Equal(t, "u2", session.Profile.ID)
	assert.Equal(t, models.RoleTutor, session.Profile.Role)
}

func TestGlobalSignOutClearsEveryIdentity(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Role: models.RoleAdmin})
	repo.put(models.Profile{ID: "u2", Role: models.RoleTutor})
	resolver, _ := newTestResolver(repo, newFakeGateway())
	_, _ = resolver.FetchProfile(context.Background(), identity("u1", ""), EntryPointResolver)
	_, _ = resolver.FetchProfile(context.Background(), identity("u2", ""), EntryPointResolver)

	resolver.HandleAuthEvent(models.AuthEvent{Type: models.AuthEventSignedOut})

	_, ok1 := resolver.cache.Get("u1")
	_, ok2 := resolver.cache.Get("u2")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.False(t, resolver.isInitialized("u1"))
}

func TestSignedInBeforeInitialResolutionIsIgnored(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Role: models.RoleAdmin})
	resolver, _ := newTestResolver(repo, newFakeGateway())

	resolver.HandleAuthEvent(models.AuthEvent{Type: models.AuthEventSignedIn, IdentityID: "u1"})
	assert.Equal(t, 0, repo.findCount())

	_, err := resolver.FetchProfile(context.Background(), identity("u1", ""), EntryPointResolver)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCount())

	repo.put(models.Profile{ID: "u1", Role: models.RoleInstructor})
	resolver.HandleAuthEvent(models.AuthEvent{Type: models.AuthEventSignedIn, IdentityID: "u1"})
	assert.Equal(t, 2, repo.findCount())
	cached, ok := resolver.cache.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.RoleInstructor, cached.Role)
}

func TestTokenRefreshedReusesCache(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Role: models.RoleAdmin})
	resolver, _ := newTestResolver(repo, newFakeGateway())
	_, err := resolver.FetchProfile(context.Background(), identity("u1", ""), EntryPointResolver)
	require.NoError(t, err)

	resolver.HandleAuthEvent(models.AuthEvent{Type: models.AuthEventTokenRefreshed, IdentityID: "u1"})
	_, err = resolver.FetchProfile(context.Background(), identity("u1", ""), EntryPointResolver)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.findCount())
}

func TestResolveSessionAnonymous(t *testing.T) {
	resolver, _ := newTestResolver(newFakeProfileRepo(), newFakeGateway())

	session, err := resolver.ResolveSession(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, session.Anonymous)

	session, err = resolver.ResolveSession(context.Background(), "garbage")
	require.NoError(t, err)
	assert.True(t, session.Anonymous)
	assert.Nil(t, session.Profile)
}

func TestResolveSessionPropagatesGatewayFailure(t *testing.T) {
	gateway := newFakeGateway()
	gateway.currentErr = appErrors.Wrap(errors.New("connection refused"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check session")
	resolver, _ := newTestResolver(newFakeProfileRepo(), gateway)

	session, err := resolver.ResolveSession(context.Background(), "tok1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.False(t, session.Anonymous)
	assert.Nil(t, session.Identity)
}

func TestResolveSessionSafetyTimeout(t *testing.T) {
	repo := newFakeProfileRepo()
	repo.put(models.Profile{ID: "u1", Role: models.RoleAdmin})
	repo.block = make(chan struct{})
	defer close(repo.block)
	gateway := newFakeGateway()
	gateway.identities["tok1"] = identity("u1", "ana@school.test")

	cfg := testResolverConfig()
	cfg.SafetyTimeout = 50 * time.Millisecond
	resolver := NewSessionResolver(gateway, repo, nil, nil, nil, cfg)

	start := time.Now()
	session, err := resolver.ResolveSession(context.Background(), "tok1")
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, appErrors.ErrSessionTimeout))
	assert.True(t, session.TimedOut)
	assert.False(t, session.Loading)
	require.NotNil(t, session.Identity)
	assert.Equal(t, "u1", session.Identity.ID)
	assert.Nil(t, session.Profile)
}

func TestGateByArea(t *testing.T) {
	admin := &models.Profile{Role: models.RoleAdmin}
	tutor := &models.Profile{Role: models.RoleTutor}
	student := &models.Profile{Role: models.RoleStudent}

	assert.NoError(t, Gate(admin, AreaAdmin))
	assert.NoError(t, Gate(admin, AreaConsole))
	assert.NoError(t, Gate(tutor, AreaTutor))
	assert.NoError(t, Gate(tutor, AreaConsole))

	err := Gate(tutor, AreaAdmin)
	assert.True(t, errors.Is(err, appErrors.ErrAccessDenied))
	assert.Contains(t, err.Error(), "tutor")

	assert.True(t, errors.Is(Gate(student, AreaConsole), appErrors.ErrAccessDenied))
	assert.True(t, errors.Is(Gate(nil, AreaConsole), appErrors.ErrProfileUnresolved))
}
