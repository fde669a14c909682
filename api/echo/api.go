package echo

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/qodari/iam/cache"
	"github.com/qodari/iam/domain"
	serrors "github.com/qodari/iam/errors"
	"github.com/qodari/iam/middleware"
	"github.com/qodari/iam/services"
)

// LoginPagePath is the path suffix of a tenant's login page. An
// unauthenticated authorize request is sent to the page under the
// application's account slug, carrying the original URL in a redirect
// query parameter.
const LoginPagePath = "/login"

// AuthAPI exposes the authorization, login and token endpoints.
type AuthAPI struct {
	login       *services.LoginService
	tokens      *services.TokenService
	authCodes   *services.AuthCodeService
	sessions    *services.SessionService
	directory   *cache.Directory
	resolver    *services.RoleResolver
	limiter     *services.RateLimiter
	sessionAuth *middleware.SessionAuth
}

func NewAuthAPI(
	login *services.LoginService,
	tokens *services.TokenService,
	authCodes *services.AuthCodeService,
	sessions *services.SessionService,
	directory *cache.Directory,
	resolver *services.RoleResolver,
	limiter *services.RateLimiter,
	sessionAuth *middleware.SessionAuth,
) *AuthAPI {
	return &AuthAPI{
		login:       login,
		tokens:      tokens,
		authCodes:   authCodes,
		sessions:    sessions,
		directory:   directory,
		resolver:    resolver,
		limiter:     limiter,
		sessionAuth: sessionAuth,
	}
}

// RegisterRoutes registers all routes on the echo instance.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth/authorize", a.AuthorizeHandler, a.sessionAuth.Optional)
	e.POST("/auth/token", a.TokenHandler)
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/mfa/verify", a.MfaVerifyHandler)
	e.POST("/auth/mfa/resend", a.MfaResendHandler)
	e.GET("/auth/me", a.MeHandler, a.sessionAuth.Require)
	e.POST("/auth/logout", a.LogoutHandler, a.sessionAuth.Optional)
}

// AuthorizeHandler handles the authorization-code front channel. Protocol
// errors are delivered back to the application's redirect URI when one is
// known; errors that prevent knowing a trustworthy redirect target are
// answered directly.
func (a *AuthAPI) AuthorizeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	app, err := a.directory.ApplicationByClientID(ctx, c.QueryParam("client_id"))
	if err != nil {
		if err == domain.ErrNotFound {
			return a.writeError(c, serrors.NewInvalidClient("unknown client"))
		}
		return a.writeError(c, err)
	}
	if !app.Active {
		return a.writeError(c, serrors.NewInvalidClient("client is disabled"))
	}

	session, ok := middleware.SessionFrom(c)
	if !ok {
		return c.Redirect(http.StatusFound, a.loginPage(ctx, app)+"?redirect="+url.QueryEscape(c.Request().URL.RequestURI()))
	}

	params := services.AuthorizeParams{
		RedirectURI:         c.QueryParam("redirect_uri"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	}

	// The redirect target must be validated before any error can be sent
	// to it; an unregistered redirect_uri never receives anything.
	redirect := params.RedirectURI
	if redirect == "" && len(app.CallbackURLs) > 0 {
		redirect = app.CallbackURLs[0]
	}
	if redirect == "" || !app.AllowsCallback(redirect) {
		return a.writeError(c, serrors.NewInvalidRequest("redirect_uri is not registered for this application"))
	}

	if c.QueryParam("response_type") != "code" {
		return redirectError(c, redirect, serrors.NewUnsupportedResponseType().WithState(params.State))
	}

	code, err := a.authCodes.Issue(ctx, session, app, params)
	if err != nil {
		if oauthErr, ok := err.(*serrors.OAuth2Error); ok {
			return redirectError(c, redirect, oauthErr.WithState(params.State))
		}
		log.Error().Err(err).Str("clientId", app.ClientID).Msg("failed to issue authorization code")
		return a.writeError(c, err)
	}

	target, err := url.Parse(code.RedirectURI)
	if err != nil {
		return a.writeError(c, serrors.NewInvalidRequest("redirect_uri is malformed"))
	}
	q := target.Query()
	q.Set("code", code.Code)
	if code.State != "" {
		q.Set("state", code.State)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

// loginPage returns the login page path for the application's tenant,
// falling back to the bare path when the account cannot be resolved.
func (a *AuthAPI) loginPage(ctx context.Context, app *domain.Application) string {
	account, err := a.directory.AccountByID(ctx, app.AccountID)
	if err != nil {
		log.Error().Err(err).Str("accountId", app.AccountID).Msg("failed to resolve account for login redirect")
		return LoginPagePath
	}
	return "/" + account.Slug + LoginPagePath
}

// TokenHandler implements the token endpoint for all three grant types.
func (a *AuthAPI) TokenHandler(c echo.Context) error {
	var req services.GrantRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, serrors.NewInvalidRequest("malformed request body"))
	}

	ctx := c.Request().Context()
	limit, err := a.limiter.CheckAll(ctx,
		services.RateLimitCheck{Policy: services.LimitToken, Key: services.TokenClientKey(req.ClientID)},
		services.RateLimitCheck{Policy: services.LimitToken, Key: services.TokenIPKey(c.RealIP())},
	)
	if err != nil {
		return a.writeError(c, err)
	}
	if !limit.Allowed {
		setRateLimitHeaders(c, limit)
		return a.writeError(c, serrors.NewRateLimitExceeded())
	}

	resp, err := a.tokens.Exchange(ctx, &req)
	if err != nil {
		return a.writeError(c, err)
	}

	log.Info().
		Str("clientId", req.ClientID).
		Str("grantType", string(req.GrantType)).
		Int("expiresIn", resp.ExpiresIn).
		Msg("token issued")
	return c.JSON(http.StatusOK, resp)
}

// LoginHandler authenticates a user against one account and application.
func (a *AuthAPI) LoginHandler(c echo.Context) error {
	var in services.LoginInput
	if err := c.Bind(&in); err != nil {
		return a.writeError(c, serrors.NewInvalidRequest("malformed request body"))
	}
	in.Meta = requestMeta(c)

	outcome, limit, err := a.login.Login(c.Request().Context(), in)
	if err != nil {
		if limit != nil && !limit.Allowed {
			setRateLimitHeaders(c, limit)
		}
		return a.writeError(c, err)
	}

	if outcome.MfaRequired {
		return c.JSON(http.StatusOK, echo.Map{
			"mfaRequired": true,
			"mfaToken":    outcome.MfaToken,
			"maskedEmail": outcome.MaskedEmail,
		})
	}

	c.SetCookie(a.sessions.Cookie(outcome.Session))
	return c.JSON(http.StatusOK, echo.Map{"user": outcome.User})
}

type mfaVerifyRequest struct {
	MfaToken string `json:"mfaToken" form:"mfaToken"`
	Code     string `json:"code" form:"code"`
}

// MfaVerifyHandler exchanges a pending challenge and code for a session.
func (a *AuthAPI) MfaVerifyHandler(c echo.Context) error {
	var req mfaVerifyRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, serrors.NewInvalidRequest("malformed request body"))
	}

	outcome, limit, err := a.login.VerifyMfa(c.Request().Context(), req.MfaToken, req.Code, requestMeta(c))
	if err != nil {
		if limit != nil && !limit.Allowed {
			setRateLimitHeaders(c, limit)
		}
		return a.writeError(c, err)
	}

	c.SetCookie(a.sessions.Cookie(outcome.Session))
	return c.JSON(http.StatusOK, echo.Map{"user": outcome.User})
}

// MfaResendHandler emails a fresh code for a pending challenge.
func (a *AuthAPI) MfaResendHandler(c echo.Context) error {
	var req mfaVerifyRequest
	if err := c.Bind(&req); err != nil {
		return a.writeError(c, serrors.NewInvalidRequest("malformed request body"))
	}

	limit, err := a.login.ResendMfa(c.Request().Context(), req.MfaToken)
	if err != nil {
		if limit != nil && !limit.Allowed {
			setRateLimitHeaders(c, limit)
		}
		return a.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MeHandler returns the current principal, optionally with the roles and
// permissions it holds in one application (addressed by client_id via the
// application query parameter).
func (a *AuthAPI) MeHandler(c echo.Context) error {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return a.writeError(c, serrors.NewUnauthenticated("authentication required"))
	}

	body := echo.Map{
		"principal": principal,
		"accountId": principal.AccountID,
	}

	if clientID := c.QueryParam("application"); clientID != "" {
		ctx := c.Request().Context()
		app, err := a.directory.ApplicationByClientID(ctx, clientID)
		if err != nil {
			if err == domain.ErrNotFound {
				return a.writeError(c, serrors.NewNotFound(serrors.CodeAppNotFound, "application not found"))
			}
			return a.writeError(c, err)
		}
		access, err := a.resolver.Resolve(ctx, principal.ID, principal.Type, principal.AccountID, app.ID)
		if err != nil {
			return a.writeError(c, err)
		}
		body["roles"] = access.Roles
		body["permissions"] = access.Permissions
	}

	return c.JSON(http.StatusOK, body)
}

// LogoutHandler destroys the session and clears the cookie. Logout is
// idempotent: a missing or invalid session still yields 204.
func (a *AuthAPI) LogoutHandler(c echo.Context) error {
	if session, ok := middleware.SessionFrom(c); ok {
		if err := a.sessions.Destroy(c.Request().Context(), session.ID); err != nil {
			log.Error().Err(err).Msg("failed to destroy session")
		}
	}
	c.SetCookie(a.sessions.ClearCookie())
	return c.NoContent(http.StatusNoContent)
}

func (a *AuthAPI) writeError(c echo.Context, err error) error {
	status := serrors.Status(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, serrors.Body(err))
}

func redirectError(c echo.Context, redirect string, oauthErr *serrors.OAuth2Error) error {
	target, err := url.Parse(redirect)
	if err != nil {
		return c.JSON(http.StatusBadRequest, serrors.Body(serrors.NewInvalidRequest("redirect_uri is malformed")))
	}
	q := target.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if oauthErr.State != "" {
		q.Set("state", oauthErr.State)
	}
	target.RawQuery = q.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

func setRateLimitHeaders(c echo.Context, res *services.RateLimitResult) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func requestMeta(c echo.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}
