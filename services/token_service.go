package services

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/qodari/iam/cache"
	"github.com/qodari/iam/domain"
	serrors "github.com/qodari/iam/errors"
	"github.com/qodari/iam/internal/auth"
	"github.com/qodari/iam/internal/metrics"
	"github.com/qodari/iam/internal/random"
)

// GrantType enumerates the supported token grants.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// GrantRequest is the parsed body of a token endpoint call. Which fields
// matter depends on grant_type.
type GrantRequest struct {
	GrantType    GrantType `json:"grant_type" form:"grant_type"`
	ClientID     string    `json:"client_id" form:"client_id"`
	ClientSecret string    `json:"client_secret" form:"client_secret"`

	// authorization_code
	Code         string `json:"code" form:"code"`
	RedirectURI  string `json:"redirect_uri" form:"redirect_uri"`
	CodeVerifier string `json:"code_verifier" form:"code_verifier"`

	// refresh_token
	RefreshToken string `json:"refresh_token" form:"refresh_token"`

	// client_credentials: client_id of the application the token targets.
	Application string `json:"application" form:"application"`

	Scope string `json:"scope" form:"scope"`
}

// TokenService implements the token endpoint grants. Access tokens are
// HS256 JWTs signed with the target application's own signing secret;
// refresh tokens are opaque values rotated on every use.
type TokenService struct {
	directory     *cache.Directory
	users         domain.UserRepository
	apiClients    domain.ApiClientRepository
	refreshTokens domain.RefreshTokenRepository
	authCodes     *AuthCodeService
	resolver      *RoleResolver
	hasher        auth.PasswordHasher
	issuer        string
}

func NewTokenService(
	directory *cache.Directory,
	users domain.UserRepository,
	apiClients domain.ApiClientRepository,
	refreshTokens domain.RefreshTokenRepository,
	authCodes *AuthCodeService,
	resolver *RoleResolver,
	hasher auth.PasswordHasher,
	issuer string,
) *TokenService {
	return &TokenService{
		directory:     directory,
		users:         users,
		apiClients:    apiClients,
		refreshTokens: refreshTokens,
		authCodes:     authCodes,
		resolver:      resolver,
		hasher:        hasher,
		issuer:        issuer,
	}
}

// Exchange dispatches on grant_type.
func (s *TokenService) Exchange(ctx context.Context, req *GrantRequest) (*domain.TokenResponse, error) {
	switch req.GrantType {
	case GrantAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, req)
	case GrantRefreshToken:
		return s.exchangeRefreshToken(ctx, req)
	case GrantClientCredentials:
		return s.exchangeClientCredentials(ctx, req)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

// clientApplication loads the application and authenticates it.
// Confidential clients must present the correct secret; public clients
// present none and prove possession via PKCE during code redemption.
func (s *TokenService) clientApplication(ctx context.Context, clientID, clientSecret string) (*domain.Application, error) {
	app, err := s.directory.ApplicationByClientID(ctx, clientID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidClient("unknown client")
		}
		return nil, err
	}
	if !app.Active {
		return nil, serrors.NewInvalidClient("client is disabled")
	}
	if !app.IsPublic() {
		if clientSecret == "" || !auth.SecretEqual(app.ClientSecretHash, clientSecret) {
			return nil, serrors.NewInvalidClient("client authentication failed")
		}
	}
	return app, nil
}

func (s *TokenService) exchangeAuthorizationCode(ctx context.Context, req *GrantRequest) (*domain.TokenResponse, error) {
	app, err := s.clientApplication(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	code, err := s.authCodes.Redeem(ctx, app, req.Code, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, code.UserID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidGrant("user no longer exists")
		}
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, serrors.NewInvalidGrant("user is disabled")
	}

	access, err := s.resolver.Resolve(ctx, user.ID, domain.PrincipalTypeUser, code.AccountID, app.ID)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.signAccessToken(app, user.ID, domain.PrincipalTypeUser, code.AccountID, access, code.Scope, app.AccessTokenExp)
	if err != nil {
		return nil, err
	}

	raw, row, err := s.newRefreshToken(user.ID, code.AccountID, app, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.SaveRefreshToken(ctx, row); err != nil {
		return nil, err
	}

	metrics.IncTokensIssued(string(GrantAuthorizationCode))
	return &domain.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    app.AccessTokenExp,
		Scope:        code.Scope,
	}, nil
}

func (s *TokenService) exchangeRefreshToken(ctx context.Context, req *GrantRequest) (*domain.TokenResponse, error) {
	app, err := s.clientApplication(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if req.RefreshToken == "" {
		return nil, serrors.NewInvalidRequest("refresh_token is required")
	}

	row, err := s.refreshTokens.GetRefreshTokenByHash(ctx, app.ID, auth.HashSecret(req.RefreshToken))
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidGrant("refresh token is invalid")
		}
		return nil, err
	}

	if row.Revoked {
		return nil, s.revokeFamilyForReuse(ctx, row)
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, serrors.NewInvalidGrant("refresh token is invalid")
	}

	raw, successor, err := s.newRefreshToken(row.UserID, row.AccountID, app, row.FamilyID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.RotateRefreshToken(ctx, row.ID, successor, time.Now()); err != nil {
		// Losing the rotation race means someone else just spent this
		// token. Same treatment as presenting a revoked one.
		if err == domain.ErrRotationConflict {
			return nil, s.revokeFamilyForReuse(ctx, row)
		}
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidGrant("user no longer exists")
		}
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, serrors.NewInvalidGrant("user is disabled")
	}

	access, err := s.resolver.Resolve(ctx, user.ID, domain.PrincipalTypeUser, row.AccountID, app.ID)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.signAccessToken(app, user.ID, domain.PrincipalTypeUser, row.AccountID, access, req.Scope, app.AccessTokenExp)
	if err != nil {
		return nil, err
	}

	metrics.IncTokensIssued(string(GrantRefreshToken))
	return &domain.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    app.AccessTokenExp,
		Scope:        req.Scope,
	}, nil
}

// revokeFamilyForReuse kills the whole rotation chain and returns the same
// invalid_grant the caller would see for any bad token. The presenter
// learns nothing about why.
func (s *TokenService) revokeFamilyForReuse(ctx context.Context, row *domain.RefreshToken) error {
	n, err := s.refreshTokens.RevokeFamily(ctx, row.FamilyID, domain.RevokeReasonReuseDetected, time.Now())
	if err != nil {
		return err
	}
	metrics.IncRefreshReuseRevoked()
	log.Warn().
		Str("familyId", row.FamilyID).
		Str("userId", row.UserID).
		Str("applicationId", row.ApplicationID).
		Int64("revoked", n).
		Msg("refresh token reuse detected, family revoked")
	return serrors.NewInvalidGrant("refresh token is invalid")
}

func (s *TokenService) exchangeClientCredentials(ctx context.Context, req *GrantRequest) (*domain.TokenResponse, error) {
	client, err := s.apiClients.GetApiClientByClientID(ctx, req.ClientID)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidClient("unknown client")
		}
		return nil, err
	}
	if client.Status != domain.ApiClientStatusActive {
		return nil, serrors.NewInvalidClient("client is disabled")
	}
	ok, err := s.hasher.Verify(client.SecretHash, req.ClientSecret)
	if err != nil || !ok {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}

	if req.Application == "" {
		return nil, serrors.NewInvalidRequest("application is required")
	}
	app, err := s.directory.ApplicationByClientID(ctx, req.Application)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidRequest("unknown application")
		}
		return nil, err
	}
	if !app.Active || app.AccountID != client.AccountID {
		return nil, serrors.NewInvalidRequest("application is not available to this client")
	}

	access, err := s.resolver.Resolve(ctx, client.ID, domain.PrincipalTypeApiClient, client.AccountID, app.ID)
	if err != nil {
		return nil, err
	}

	expiresIn := client.AccessTokenExp
	if expiresIn <= 0 {
		expiresIn = app.AccessTokenExp
	}
	accessToken, err := s.signAccessToken(app, client.ID, domain.PrincipalTypeApiClient, client.AccountID, access, req.Scope, expiresIn)
	if err != nil {
		return nil, err
	}

	metrics.IncTokensIssued(string(GrantClientCredentials))
	// Machine clients re-authenticate instead of refreshing.
	return &domain.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       req.Scope,
	}, nil
}

func (s *TokenService) signAccessToken(app *domain.Application, subject string, principalType domain.PrincipalType, accountID string, access *domain.Access, scope string, expiresIn int) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":         s.issuer,
		"sub":         subject,
		"aud":         app.ClientID,
		"exp":         now.Add(time.Duration(expiresIn) * time.Second).Unix(),
		"iat":         now.Unix(),
		"jti":         uuid.NewString(),
		"acc":         accountID,
		"app":         app.ID,
		"typ":         string(principalType),
		"roles":       access.Roles,
		"permissions": access.Permissions,
	}
	if scope != "" {
		claims["scope"] = scope
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(app.SigningSecret))
}

func (s *TokenService) newRefreshToken(userID, accountID string, app *domain.Application, familyID string) (string, *domain.RefreshToken, error) {
	raw, err := random.Token(32)
	if err != nil {
		return "", nil, err
	}
	now := time.Now()
	row := &domain.RefreshToken{
		ID:            uuid.NewString(),
		FamilyID:      familyID,
		TokenHash:     auth.HashSecret(raw),
		UserID:        userID,
		AccountID:     accountID,
		ApplicationID: app.ID,
		ExpiresAt:     now.Add(time.Duration(app.RefreshTokenExp) * time.Second),
		CreatedAt:     now,
	}
	return raw, row, nil
}
