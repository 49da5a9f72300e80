package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"wallet-service/internal/adapter/http/dto"
	"wallet-service/internal/adapter/http/middleware"
	"wallet-service/internal/core/ports"
	"wallet-service/pkg/apperror"
	"wallet-service/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // seconds
)

// AuthHandler handles credential and session endpoints.
type AuthHandler struct {
	authSvc          ports.AuthService
	oauth            ports.OAuthProvider // nil = Google sign-in disabled
	exposeResetToken bool
	log              zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc ports.AuthService, oauth ports.OAuthProvider, exposeResetToken bool, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authSvc:          authSvc,
		oauth:            oauth,
		exposeResetToken: exposeResetToken,
		log:              log,
	}
}

// Signup handles POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req dto.SignupRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.authSvc.Signup(c.Request.Context(), ports.SignupRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditUserID, user.ID)
	response.Created(c, dto.NewUserResponse(user))
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !bind(c, &req) {
		return
	}

	token, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditUserID, token.UserID)
	response.OK(c, dto.NewTokenResponse(token))
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authSvc.Logout(c.Request.Context(), middleware.GetPrincipal(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Logged out"})
}

// ForgotPassword handles POST /api/v1/auth/forgot-password.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if !bind(c, &req) {
		return
	}

	token, err := h.authSvc.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.ForgotPasswordResponse{Message: "Password reset token issued"}
	if h.exposeResetToken {
		resp.ResetToken = token
	}
	response.OK(c, resp)
}

// ResetPassword handles POST /api/v1/auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if !bind(c, &req) {
		return
	}

	if err := h.authSvc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Password has been reset"})
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req dto.ChangePasswordRequest
	if !bind(c, &req) {
		return
	}

	principal := middleware.GetPrincipal(c)
	if err := h.authSvc.ChangePassword(c.Request.Context(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Password changed"})
}

// Deactivate handles POST /api/v1/auth/deactivate.
func (h *AuthHandler) Deactivate(c *gin.Context) {
	if err := h.authSvc.Deactivate(c.Request.Context(), middleware.GetPrincipal(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Account deactivated"})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	user, err := h.authSvc.GetUser(c.Request.Context(), principal.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"user":      dto.NewUserResponse(user),
		"principal": dto.NewPrincipalResponse(principal),
	})
}

// GoogleLogin handles GET /api/v1/auth/google by redirecting to the consent screen.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if h.oauth == nil {
		response.Error(c, apperror.ErrNotFound("Google sign-in"))
		return
	}

	state, err := randomState()
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthStateMaxAge, "/api/v1/auth/google", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, h.oauth.AuthCodeURL(state))
}

// GoogleCallback handles GET /api/v1/auth/google/callback.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if h.oauth == nil {
		response.Error(c, apperror.ErrNotFound("Google sign-in"))
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		response.Error(c, apperror.New(apperror.CodeUnauthenticated, "Google sign-in was cancelled", http.StatusUnauthorized))
		return
	}

	expected, err := c.Cookie(oauthStateCookie)
	if err != nil || expected == "" || c.Query("state") != expected {
		response.Error(c, apperror.Validation("invalid OAuth state"))
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/api/v1/auth/google", "", c.Request.TLS != nil, true)

	code := c.Query("code")
	if code == "" {
		response.Error(c, apperror.Validation("missing authorization code"))
		return
	}

	identity, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		h.log.Warn().Err(err).Msg("google code exchange failed")
		response.Error(c, apperror.Wrap(apperror.CodeUnauthenticated, "Google sign-in failed", http.StatusUnauthorized, err))
		return
	}

	token, err := h.authSvc.OAuthLogin(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditUserID, token.UserID)
	response.OK(c, dto.NewTokenResponse(token))
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// bind decodes and sanitizes the JSON body, rendering a validation error on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}
