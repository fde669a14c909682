package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/qodari/iam/domain"
	serrors "github.com/qodari/iam/errors"
	"github.com/qodari/iam/internal/random"
)

// PKCEMethodS256 is the only accepted code_challenge_method. The "plain"
// method offers no protection over sending the verifier twice and is
// rejected outright.
const PKCEMethodS256 = "S256"

// AuthorizeParams are the caller-supplied parts of an authorization
// request after response_type and client_id have been handled.
type AuthorizeParams struct {
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthCodeService issues and redeems single-use authorization codes.
type AuthCodeService struct {
	codes domain.AuthCodeRepository
}

func NewAuthCodeService(codes domain.AuthCodeRepository) *AuthCodeService {
	return &AuthCodeService{codes: codes}
}

// Issue validates the authorization request against the application and
// stores a short-lived code bound to the session's user. When no
// redirect_uri is given the application's first registered callback is
// used; a given one must match a registered callback exactly.
func (s *AuthCodeService) Issue(ctx context.Context, session *domain.Session, app *domain.Application, params AuthorizeParams) (*domain.AuthCode, error) {
	redirect := params.RedirectURI
	if redirect == "" {
		if len(app.CallbackURLs) == 0 {
			return nil, serrors.NewInvalidRequest("application has no registered callback URL")
		}
		redirect = app.CallbackURLs[0]
	} else if !app.AllowsCallback(redirect) {
		return nil, serrors.NewInvalidRequest("redirect_uri is not registered for this application")
	}

	method := params.CodeChallengeMethod
	if params.CodeChallenge != "" {
		if method == "" {
			method = PKCEMethodS256
		}
		if method != PKCEMethodS256 {
			return nil, serrors.NewInvalidRequest("code_challenge_method must be S256")
		}
	} else if app.IsPublic() {
		return nil, serrors.NewPKCERequired()
	}

	value, err := random.Token(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	code := &domain.AuthCode{
		Code:          value,
		UserID:        session.UserID,
		AccountID:     session.AccountID,
		ApplicationID: app.ID,
		RedirectURI:   redirect,
		Scope:         params.Scope,
		State:         params.State,
		ExpiresAt:     now.Add(time.Duration(app.AuthCodeExp) * time.Second),
		CreatedAt:     now,
	}
	if params.CodeChallenge != "" {
		code.CodeChallenge = params.CodeChallenge
		code.CodeChallengeMethod = method
	}

	if err := s.codes.SaveAuthCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Redeem consumes the code and validates its bindings. Consumption happens
// first and is atomic, so two concurrent redemptions can never both
// succeed; all later checks operate on an already-burned code.
func (s *AuthCodeService) Redeem(ctx context.Context, app *domain.Application, codeValue, redirectURI, codeVerifier string) (*domain.AuthCode, error) {
	code, err := s.codes.ConsumeAuthCode(ctx, codeValue)
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, serrors.NewInvalidGrant("authorization code is invalid, expired, or already used")
		}
		return nil, err
	}

	if code.ApplicationID != app.ID {
		return nil, serrors.NewInvalidGrant("authorization code was not issued to this client")
	}
	if time.Now().After(code.ExpiresAt) {
		return nil, serrors.NewInvalidGrant("authorization code has expired")
	}
	if redirectURI != code.RedirectURI {
		return nil, serrors.NewInvalidRequest("redirect_uri does not match the authorization request")
	}

	if app.IsPublic() && !code.HasChallenge() {
		return nil, serrors.NewPKCERequired()
	}
	if code.HasChallenge() {
		if codeVerifier == "" {
			return nil, serrors.NewInvalidRequest("code_verifier is required")
		}
		if !VerifyPKCEChallenge(code.CodeChallenge, codeVerifier) {
			return nil, serrors.NewInvalidPKCE("code_verifier does not match the challenge")
		}
	}

	return code, nil
}

// VerifyPKCEChallenge checks an S256 challenge against its verifier.
func VerifyPKCEChallenge(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
