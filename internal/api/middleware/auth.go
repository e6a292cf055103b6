package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/orrn/makerspool/internal/config"
	"github.com/orrn/makerspool/internal/core"
	"github.com/orrn/makerspool/internal/db"
)

const (
	cookieName           = "makerspool_auth"
	issuer               = "makerspool"
	settingsKeyJWTSecret = "jwt_secret"
	callerKey            = "caller"
)

type Claims struct {
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret        []byte
	tokenDuration time.Duration
	secureCookie  bool
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

type SetupRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	SetupRequired bool   `json:"setup_required"`
}

// NewAuthMiddleware uses cfg.JWTSecret when set, otherwise the secret stored
// in the settings table, generating one on first start.
func NewAuthMiddleware(cfg config.AuthConfig, secureCookie bool) (*AuthMiddleware, error) {
	a := &AuthMiddleware{
		tokenDuration: cfg.TokenDuration,
		secureCookie:  secureCookie,
	}
	if a.tokenDuration <= 0 {
		a.tokenDuration = 24 * time.Hour
	}

	if cfg.JWTSecret != "" {
		a.secret = []byte(cfg.JWTSecret)
		return a, nil
	}

	secret, err := getOrCreateSecret(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load jwt secret: %w", err)
	}
	a.secret = secret
	return a, nil
}

func getOrCreateSecret(ctx context.Context) ([]byte, error) {
	setting, err := db.Settings.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return hex.DecodeString(setting.Value)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := db.Settings.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

func (a *AuthMiddleware) isSetupRequired(ctx context.Context) bool {
	count, err := db.Admins.CountAdmins(ctx)
	return err == nil && count == 0
}

func (a *AuthMiddleware) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenDuration)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

func (a *AuthMiddleware) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(cookieName, token, int(a.tokenDuration.Seconds()), "/", "", a.secureCookie, true)
}

func (a *AuthMiddleware) clearAuthCookie(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", a.secureCookie, true)
}

func (a *AuthMiddleware) issue(c *gin.Context, username string) bool {
	token, err := a.GenerateToken(username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return false
	}
	a.setAuthCookie(c, token)
	return true
}

func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Success: false, Message: "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	if a.isSetupRequired(ctx) {
		c.JSON(http.StatusForbidden, LoginResponse{Success: false, Message: "Setup required"})
		return
	}

	admin, err := db.Admins.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrInvalidLogin) {
			c.JSON(http.StatusUnauthorized, LoginResponse{Success: false, Message: "Invalid username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, LoginResponse{Success: false, Message: "Server error"})
		return
	}

	if !a.issue(c, admin.Username) {
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Success: true, Username: admin.Username})
}

func (a *AuthMiddleware) LogoutHandler(c *gin.Context) {
	a.clearAuthCookie(c)
	c.JSON(http.StatusOK, LoginResponse{Success: true, Message: "Logged out"})
}

func (a *AuthMiddleware) StatusHandler(c *gin.Context) {
	ctx := c.Request.Context()
	token := a.getTokenFromRequest(c)
	if token == "" {
		c.JSON(http.StatusOK, StatusResponse{SetupRequired: a.isSetupRequired(ctx)})
		return
	}

	claims, err := a.validateToken(token)
	if err != nil {
		c.JSON(http.StatusOK, StatusResponse{SetupRequired: a.isSetupRequired(ctx)})
		return
	}

	c.JSON(http.StatusOK, StatusResponse{Authenticated: true, Username: claims.Subject})
}

// ChangePasswordHandler must run behind RequireAuth.
func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, new password must be at least 8 characters"})
		return
	}

	caller := CallerFrom(c)
	err := db.Admins.ChangePassword(c.Request.Context(), caller.Identity, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, db.ErrInvalidLogin):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		return
	case errors.Is(err, db.ErrPasswordTooShort):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}

	if !a.issue(c, caller.Identity) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password changed"})
}

// SetupHandler creates the first admin. It is refused once any admin exists.
func (a *AuthMiddleware) SetupHandler(c *gin.Context) {
	ctx := c.Request.Context()
	if !a.isSetupRequired(ctx) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Setup already completed"})
		return
	}

	var req SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request, password must be at least 8 characters"})
		return
	}
	if err := db.Admins.CreateAdmin(ctx, req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, db.ErrAdminExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case errors.Is(err, core.ErrInvalidField), errors.Is(err, db.ErrPasswordTooShort):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save admin"})
		return
	}

	if !a.issue(c, req.Username) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Setup completed"})
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(callerKey, core.Caller{Identity: claims.Subject, Authorized: true})
		c.Next()
	}
}

// OptionalAuth attaches an unauthorized anonymous caller when no valid token
// is present. Reads work either way; mutations are refused by the scheduler.
func (a *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := core.Caller{Identity: "anonymous"}
		if token := a.getTokenFromRequest(c); token != "" {
			if claims, err := a.validateToken(token); err == nil {
				caller = core.Caller{Identity: claims.Subject, Authorized: true}
			}
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// CallerFrom returns the caller attached by RequireAuth or OptionalAuth.
func CallerFrom(c *gin.Context) core.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(core.Caller); ok {
			return caller
		}
	}
	return core.Caller{Identity: "anonymous"}
}
