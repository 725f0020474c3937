package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

// EntryPoint names the flow asking for a profile. Each has its own default role.
type EntryPoint string

const (
	EntryPointLogin    EntryPoint = "login"
	EntryPointResolver EntryPoint = "resolver"
)

// Area is a protected section of the console.
type Area string

const (
	AreaAdmin      Area = "admin"
	AreaInstructor Area = "instructor"
	AreaTutor      Area = "tutor"
	AreaConsole    Area = "console"
)

var areaRoles = map[Area][]models.Role{
	AreaAdmin:      {models.RoleAdmin},
	AreaInstructor: {models.RoleInstructor},
	AreaTutor:      {models.RoleTutor},
	AreaConsole:    {models.RoleAdmin, models.RoleInstructor, models.RoleTutor},
}

type profileRepository interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	Insert(ctx context.Context, profile *models.Profile) error
}

type identitySource interface {
	CurrentIdentity(ctx context.Context, accessToken string) (*models.Identity, error)
	OnAuthStateChange(handler func(models.AuthEvent)) func()
}

// ResolverConfig tunes profile fetching and session resolution.
type ResolverConfig struct {
	Retries       int
	RetryInterval time.Duration
	ErrorBackoff  time.Duration
	DefaultRoles  map[EntryPoint]models.Role
	SafetyTimeout time.Duration
}

// SessionResolver turns an access token into an identity plus profile.
type SessionResolver struct {
	gateway identitySource
	repo    profileRepository
	cache   ProfileCache
	metrics *MetricsService
	logger  *zap.Logger
	config  ResolverConfig

	group singleflight.Group
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	initialized map[string]bool
	epochs      map[string]uint64
	generation  uint64
	unsubscribe func()
}

// NewSessionResolver constructs a resolver. A nil cache gets an in-memory one.
func NewSessionResolver(gateway identitySource, repo profileRepository, cache ProfileCache, metrics *MetricsService, logger *zap.Logger, config ResolverConfig) *SessionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewMemoryProfileCache()
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.SafetyTimeout <= 0 {
		config.SafetyTimeout = 6 * time.Second
	}
	if config.DefaultRoles == nil {
		config.DefaultRoles = map[EntryPoint]models.Role{}
	}
	return &SessionResolver{
		gateway:     gateway,
		repo:        repo,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		config:      config,
		sleep:       sleepContext,
		initialized: make(map[string]bool),
		epochs:      make(map[string]uint64),
	}
}

// Listen subscribes the resolver to the gateway's auth state changes.
func (r *SessionResolver) Listen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = r.gateway.OnAuthStateChange(r.HandleAuthEvent)
}

// Close stops listening for auth events.
func (r *SessionResolver) Close() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// ResolveSession resolves the session behind accessToken. An empty or invalid
// token yields an anonymous session. Resolution is bounded by the safety
// timeout; on expiry the partial state is returned with TimedOut set.
func (r *SessionResolver) ResolveSession(ctx context.Context, accessToken string) (models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.SafetyTimeout)
	defer cancel()

	var (
		partialMu sync.Mutex
		partial   models.Session
	)
	setIdentity := func(identity *models.Identity) {
		partialMu.Lock()
		partial.Identity = identity
		partialMu.Unlock()
	}

	type outcome struct {
		session models.Session
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		session, err := r.resolve(ctx, accessToken, setIdentity)
		done <- outcome{session: session, err: err}
	}()

	select {
	case out := <-done:
		return out.session, out.err
	case <-ctx.Done():
		partialMu.Lock()
		session := partial
		partialMu.Unlock()
		session.Loading = false
		session.TimedOut = true
		r.logger.Warn("session resolution timed out", zap.Duration("timeout", r.config.SafetyTimeout), zap.Bool("has_identity", session.Identity != nil))
		return session, appErrors.Clone(appErrors.ErrSessionTimeout, "")
	}
}

func (r *SessionResolver) resolve(ctx context.Context, accessToken string, setIdentity func(*models.Identity)) (models.Session, error) {
	if strings.TrimSpace(accessToken) == "" {
		return models.Session{Anonymous: true}, nil
	}

	identity, err := r.gateway.CurrentIdentity(ctx, accessToken)
	if err != nil && !errors.Is(err, appErrors.ErrUnauthorized) {
		r.logger.Error("identity lookup failed", zap.Error(err))
		return models.Session{}, err
	}
	if err != nil || identity == nil {
		r.logger.Debug("no identity for token", zap.Error(err))
		return models.Session{Anonymous: true}, nil
	}
	setIdentity(identity)

	profile, err := r.FetchProfile(ctx, identity, EntryPointResolver)
	if err != nil {
		return models.Session{Identity: identity}, err
	}
	return models.Session{Identity: identity, Profile: profile}, nil
}

// FetchProfile returns the identity's profile, creating a default-role one when
// missing. Concurrent calls for the same identity share one backend round trip.
func (r *SessionResolver) FetchProfile(ctx context.Context, identity *models.Identity, entry EntryPoint) (*models.Profile, error) {
	if identity == nil || identity.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no authenticated identity")
	}
	if profile, ok := r.cache.Get(identity.ID); ok {
		return profile, nil
	}

	ch := r.group.DoChan(identity.ID, func() (interface{}, error) {
		return r.fetch(context.WithoutCancel(ctx), identity, entry)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		profile := *res.Val.(*models.Profile)
		return &profile, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *SessionResolver) fetch(ctx context.Context, identity *models.Identity, entry EntryPoint) (*models.Profile, error) {
	start := time.Now()
	epoch := r.epoch(identity.ID)
	logger := r.logger.With(zap.String("identity_id", identity.ID), zap.String("entry_point", string(entry)))

	for attempt := 0; attempt < r.config.Retries; attempt++ {
		profile, err := r.repo.FindByID(ctx, identity.ID)
		if err == nil {
			return r.finish(identity.ID, epoch, profile, entry, start), nil
		}

		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn("profile lookup failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if err := r.sleep(ctx, r.config.ErrorBackoff*time.Duration(attempt+1)); err != nil {
				break
			}
			continue
		}

		r.insertDefault(ctx, identity, entry, logger)
		if err := r.sleep(ctx, r.config.RetryInterval); err != nil {
			break
		}

		profile, err = r.repo.FindByID(ctx, identity.ID)
		if err == nil {
			return r.finish(identity.ID, epoch, profile, entry, start), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Warn("profile re-query failed", zap.Int("attempt", attempt+1), zap.Error(err))
		}
	}

	r.metrics.ObserveProfileResolution(string(entry), "unresolved", time.Since(start))
	logger.Error("profile unresolved", zap.Int("attempts", r.config.Retries))
	return nil, appErrors.Clone(appErrors.ErrProfileUnresolved, "")
}

func (r *SessionResolver) insertDefault(ctx context.Context, identity *models.Identity, entry EntryPoint, logger *zap.Logger) {
	role := r.config.DefaultRoles[entry]
	if !role.Valid() {
		role = models.RoleStudent
	}
	displayName := displayNameFromEmail(identity.Email)
	profile := &models.Profile{ID: identity.ID, Email: identity.Email, DisplayName: &displayName, Role: role}

	err := r.repo.Insert(ctx, profile)
	switch {
	case err == nil:
		r.metrics.RecordProfileAutoCreate(string(entry), "created")
		logger.Info("default profile created", zap.String("role", string(role)))
	case errors.Is(err, appErrors.ErrDuplicateKey):
		r.metrics.RecordProfileAutoCreate(string(entry), "duplicate")
		logger.Debug("profile created concurrently")
	default:
		r.metrics.RecordProfileAutoCreate(string(entry), "error")
		logger.Warn("default profile insert failed", zap.Error(err))
	}
}

func (r *SessionResolver) finish(identityID string, epoch cacheEpoch, profile *models.Profile, entry EntryPoint, start time.Time) *models.Profile {
	r.mu.Lock()
	if r.currentEpoch(identityID) == epoch {
		r.cache.Set(identityID, profile)
		r.initialized[identityID] = true
	}
	r.mu.Unlock()
	r.metrics.ObserveProfileResolution(string(entry), "resolved", time.Since(start))
	return profile
}

// Gate checks that profile may enter area.
func (r *SessionResolver) Gate(profile *models.Profile, area Area) error {
	return Gate(profile, area)
}

// Gate checks that profile may enter area.
func Gate(profile *models.Profile, area Area) error {
	if profile == nil {
		return appErrors.Clone(appErrors.ErrProfileUnresolved, "")
	}
	allowed, ok := areaRoles[area]
	if !ok {
		return appErrors.Clone(appErrors.ErrAccessDenied, fmt.Sprintf("unknown area %q", area))
	}
	for _, role := range allowed {
		if profile.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrAccessDenied, fmt.Sprintf("role %s cannot access the %s area", profile.Role, area))
}

// Invalidate drops the cached profile for one identity.
func (r *SessionResolver) Invalidate(identityID string) {
	r.mu.Lock()
	r.epochs[identityID]++
	r.cache.Invalidate(identityID)
	r.mu.Unlock()
}

// HandleAuthEvent reacts to gateway auth state changes.
func (r *SessionResolver) HandleAuthEvent(event models.AuthEvent) {
	logger := r.logger.With(zap.String("event", string(event.Type)), zap.String("identity_id", event.IdentityID))

	switch event.Type {
	case models.AuthEventSignedIn:
		if !r.isInitialized(event.IdentityID) {
			logger.Debug("sign-in before initial resolution, ignored")
			return
		}
		r.Invalidate(event.IdentityID)
		ctx, cancel := context.WithTimeout(context.Background(), r.config.SafetyTimeout)
		defer cancel()
		identity := &models.Identity{ID: event.IdentityID, Email: event.Email, SessionID: event.SessionID}
		if _, err := r.FetchProfile(ctx, identity, EntryPointResolver); err != nil {
			logger.Warn("profile refetch after sign-in failed", zap.Error(err))
		}
	case models.AuthEventTokenRefreshed:
		logger.Debug("token refreshed, cached profile kept")
	case models.AuthEventSignedOut:
		r.mu.Lock()
		if event.IdentityID == "" {
			r.generation++
			r.cache.InvalidateAll()
			r.initialized = make(map[string]bool)
		} else {
			r.epochs[event.IdentityID]++
			r.cache.Invalidate(event.IdentityID)
			delete(r.initialized, event.IdentityID)
		}
		r.mu.Unlock()
		logger.Debug("profile cache cleared")
	}
}

func (r *SessionResolver) isInitialized(identityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized[identityID]
}

// cacheEpoch changes whenever an identity's cached profile is invalidated, so
// a fetch that started before the invalidation does not repopulate the cache.
type cacheEpoch struct {
	global uint64
	local  uint64
}

func (r *SessionResolver) epoch(identityID string) cacheEpoch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentEpoch(identityID)
}

// currentEpoch requires r.mu.
func (r *SessionResolver) currentEpoch(identityID string) cacheEpoch {
	return cacheEpoch{global: r.generation, local: r.epochs[identityID]}
}

func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
