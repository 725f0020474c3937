package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-console-api/internal/models"
	appErrors "github.com/noah-isme/sma-console-api/pkg/errors"
)

var roleRedirects = map[models.Role]string{
	models.RoleAdmin:      "/admin",
	models.RoleInstructor: "/instructor",
	models.RoleTutor:      "/tutor",
}

type passwordSignIn interface {
	SignInWithPassword(ctx context.Context, req models.LoginRequest) (*models.AuthSession, error)
	SignOut(ctx context.Context, identityID, sessionID string) error
}

type profileFetcher interface {
	FetchProfile(ctx context.Context, identity *models.Identity, entry EntryPoint) (*models.Profile, error)
	Invalidate(identityID string)
}

// LoginService runs the console login flow: sign in, resolve the profile,
// gate on the console roles and pick the landing page.
type LoginService struct {
	gateway  passwordSignIn
	profiles profileFetcher
	logger   *zap.Logger
}

// NewLoginService constructs the login flow.
func NewLoginService(gateway passwordSignIn, profiles profileFetcher, logger *zap.Logger) *LoginService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginService{gateway: gateway, profiles: profiles, logger: logger}
}

// Login signs in and returns tokens plus profile. Users without console
// access are signed out again before the error is returned.
func (s *LoginService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	session, err := s.gateway.SignInWithPassword(ctx, req)
	if err != nil {
		return nil, err
	}
	identity := session.Identity
	logger := s.logger.With(zap.String("identity_id", identity.ID))

	s.profiles.Invalidate(identity.ID)
	profile, err := s.profiles.FetchProfile(ctx, &identity, EntryPointLogin)
	if err != nil {
		logger.Warn("login profile resolution failed", zap.Error(err))
		s.signOut(ctx, identity.ID, session.SessionID)
		if appErrors.FromError(err).Code == appErrors.ErrInternal.Code {
			return nil, appErrors.Wrap(err, appErrors.ErrProfileUnresolved.Code, appErrors.ErrProfileUnresolved.Status, appErrors.ErrProfileUnresolved.Message)
		}
		return nil, err
	}

	if err := Gate(profile, AreaConsole); err != nil {
		logger.Info("login denied for role", zap.String("role", string(profile.Role)))
		s.signOut(ctx, identity.ID, session.SessionID)
		return nil, err
	}

	return &models.LoginResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    session.ExpiresIn,
		IssuedAt:     session.IssuedAt,
		Profile:      *profile,
		RedirectPath: roleRedirects[profile.Role],
	}, nil
}

func (s *LoginService) signOut(ctx context.Context, identityID, sessionID string) {
	if err := s.gateway.SignOut(context.WithoutCancel(ctx), identityID, sessionID); err != nil {
		s.logger.Warn("sign-out after failed login did not complete", zap.String("identity_id", identityID), zap.Error(err))
	}
}
