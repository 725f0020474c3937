package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

const termsCacheKey = "terms:ordered"

type termRepository interface {
	ListOrdered(ctx context.Context) ([]models.Term, error)
	FindByID(ctx context.Context, id string) (*models.Term, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	Create(ctx context.Context, term *models.Term) error
	Update(ctx context.Context, term *models.Term) error
	SetActive(ctx context.Context, id string) error
	ClearActive(ctx context.Context) error
	Activate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	CountReferences(ctx context.Context, id string) (int, error)
}

// TermRefresher reloads every live term context after a mutation.
type TermRefresher interface {
	RefreshAll(ctx context.Context)
}

// TermPayload is the editable part of a term.
type TermPayload struct {
	Name            string     `json:"name" validate:"required,max=120"`
	Slug            string     `json:"slug" validate:"omitempty,max=120"`
	StartDate       time.Time  `json:"start_date" validate:"required"`
	EndDate         time.Time  `json:"end_date" validate:"required"`
	EnrollmentStart *time.Time `json:"enrollment_start"`
	EnrollmentEnd   *time.Time `json:"enrollment_end"`
	DisplayOrder    int        `json:"display_order"`
}

// TermServiceConfig tunes activation and caching.
type TermServiceConfig struct {
	AtomicActivation bool
	CacheTTL         time.Duration
}

// TermService orchestrates term workflows.
type TermService struct {
	repo      termRepository
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	config    TermServiceConfig
	refresher TermRefresher

	// cacheMu orders cache write-backs against invalidations; generation
	// counts mutations so rows read before one are never written back.
	cacheMu    sync.Mutex
	generation uint64
}

// NewTermService creates a new term service instance.
func NewTermService(repo termRepository, cache *CacheService, validate *validator.Validate, logger *zap.Logger, config TermServiceConfig) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TermService{repo: repo, cache: cache, validator: validate, logger: logger, config: config}
}

// SetRefresher attaches the component notified after each mutation.
func (s *TermService) SetRefresher(refresher TermRefresher) {
	s.refresher = refresher
}

// LoadTerms returns every term ordered by display order, highest first.
func (s *TermService) LoadTerms(ctx context.Context) ([]models.Term, error) {
	var cached []models.Term
	if hit, _ := s.cache.Get(ctx, termsCacheKey, &cached); hit {
		return cached, nil
	}

	s.cacheMu.Lock()
	generation := s.generation
	s.cacheMu.Unlock()

	terms, err := s.repo.ListOrdered(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTermsUnavailable.Code, appErrors.ErrTermsUnavailable.Status, appErrors.ErrTermsUnavailable.Message)
	}

	s.cacheMu.Lock()
	if generation == s.generation {
		_ = s.cache.Set(ctx, termsCacheKey, terms, s.config.CacheTTL)
	} else {
		s.logger.Debug("skipping term cache write after concurrent mutation")
	}
	s.cacheMu.Unlock()
	return terms, nil
}

// List is LoadTerms for the admin screen.
func (s *TermService) List(ctx context.Context) ([]models.Term, error) {
	return s.LoadTerms(ctx)
}

// Get returns a term by ID.
func (s *TermService) Get(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// Create adds a term. New terms are never active.
func (s *TermService) Create(ctx context.Context, req TermPayload) (*models.Term, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	term := &models.Term{IsActive: false}
	applyTermPayload(term, req)

	if err := s.repo.Create(ctx, term); err != nil {
		return nil, s.writeError(err, "failed to create term")
	}

	s.afterMutation(ctx)
	return term, nil
}

// Update modifies a term's editable fields.
func (s *TermService) Update(ctx context.Context, id string, req TermPayload) (*models.Term, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}

	term, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	applyTermPayload(term, req)

	if err := s.repo.Update(ctx, term); err != nil {
		return nil, s.writeError(err, "failed to update term")
	}

	s.afterMutation(ctx)
	return term, nil
}

// SetActive makes id the single active term and verifies the result.
func (s *TermService) SetActive(ctx context.Context, id string) (*models.Term, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	if err := s.activate(ctx, id); err != nil {
		s.afterMutation(ctx)
		return nil, err
	}

	activeIDs, err := s.repo.ListActiveIDs(ctx)
	if err != nil {
		s.afterMutation(ctx)
		return nil, appErrors.Wrap(err, appErrors.ErrMutationFailed.Code, appErrors.ErrMutationFailed.Status, "could not verify the active term")
	}
	if len(activeIDs) != 1 || activeIDs[0] != id {
		s.logger.Error("active term verification failed", zap.String("term_id", id), zap.Strings("active_ids", activeIDs))
		s.afterMutation(ctx)
		return nil, appErrors.Clone(appErrors.ErrMutationFailed, "term was not activated")
	}

	s.afterMutation(ctx)
	return s.Get(ctx, id)
}

func (s *TermService) activate(ctx context.Context, id string) error {
	if s.config.AtomicActivation {
		if err := s.repo.SetActive(ctx, id); err != nil {
			return appErrors.Wrap(err, appErrors.ErrMutationFailed.Code, appErrors.ErrMutationFailed.Status, "failed to activate term")
		}
		return nil
	}

	// Two-step mode: between the calls no term is active.
	if err := s.repo.ClearActive(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrMutationFailed.Code, appErrors.ErrMutationFailed.Status, "failed to deactivate terms")
	}
	if err := s.repo.Activate(ctx, id); err != nil {
		s.logger.Error("term activation left no active term", zap.String("term_id", id), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrMutationFailed.Code, appErrors.ErrMutationFailed.Status, "failed to activate term")
	}
	return nil
}

// Delete removes a term that is neither active nor referenced.
func (s *TermService) Delete(ctx context.Context, id string) error {
	term, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if term.IsActive {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot delete the active term")
	}

	refs, err := s.repo.CountReferences(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term references")
	}
	if refs > 0 {
		return appErrors.Clone(appErrors.ErrTermReferenced, "")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, appErrors.ErrForeignKey) {
			return appErrors.Wrap(err, appErrors.ErrTermReferenced.Code, appErrors.ErrTermReferenced.Status, appErrors.ErrTermReferenced.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete term")
	}

	s.afterMutation(ctx)
	return nil
}

func (s *TermService) validatePayload(req TermPayload) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	if !req.StartDate.Before(req.EndDate) {
		return appErrors.Clone(appErrors.ErrValidation, "start_date must be before end_date")
	}
	if req.EnrollmentStart != nil && req.EnrollmentEnd != nil && req.EnrollmentEnd.Before(*req.EnrollmentStart) {
		return appErrors.Clone(appErrors.ErrValidation, "enrollment_end must not be before enrollment_start")
	}
	return nil
}

func (s *TermService) writeError(err error, message string) error {
	if errors.Is(err, appErrors.ErrDuplicateKey) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "a term with this slug already exists")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *TermService) afterMutation(ctx context.Context) {
	s.cacheMu.Lock()
	s.generation++
	_ = s.cache.Invalidate(ctx, termsCacheKey)
	s.cacheMu.Unlock()
	if s.refresher != nil {
		s.refresher.RefreshAll(ctx)
	}
}

func applyTermPayload(term *models.Term, req TermPayload) {
	term.Name = strings.TrimSpace(req.Name)
	term.Slug = req.Slug
	if term.Slug == "" {
		term.Slug = slugify(term.Name)
	}
	term.StartDate = req.StartDate
	term.EndDate = req.EndDate
	term.EnrollmentStart = req.EnrollmentStart
	term.EnrollmentEnd = req.EnrollmentEnd
	term.DisplayOrder = req.DisplayOrder
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
