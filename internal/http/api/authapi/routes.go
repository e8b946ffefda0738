// Package authapi exposes the login, WebAuthn, QR and recovery endpoints.
package authapi

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/SchoolAuth/internal/auth"
	"github.com/router-for-me/SchoolAuth/internal/http/middleware"
)

// Services groups the flow engines behind the auth endpoints.
type Services struct {
	Gate     *auth.Gate
	Password *auth.PasswordService
	WebAuthn *auth.WebAuthnService
	QRLogin  *auth.QRLoginService
	Recovery *auth.RecoveryService
	Users    UserResolver
}

// RegisterRoutes mounts the auth endpoints under group.
// Unauthenticated login endpoints pass through limiter when it is non-nil.
func RegisterRoutes(group *gin.RouterGroup, svc Services, limiter *middleware.RateLimiter) {
	h := NewHandler(svc)
	authGroup := group.Group("/auth")

	public := authGroup.Group("")
	if limiter != nil {
		public.Use(limiter.Middleware())
	}
	public.POST("/login/access-token", h.PasswordLogin)
	public.POST("/login/webauthn/begin", h.BeginWebAuthnLogin)
	public.POST("/login/webauthn/finish", h.FinishWebAuthnLogin)
	public.POST("/qr-login/start", h.StartQRLogin)
	public.GET("/qr-login/poll/:token", h.PollQRLogin)
	public.POST("/qr-login/cleanup", h.CleanupQRLogin)
	public.POST("/recovery/login", h.RecoveryLogin)

	authed := authGroup.Group("")
	authed.Use(middleware.Authenticate(svc.Gate))
	authed.POST("/register/webauthn/begin", h.BeginWebAuthnRegistration)
	authed.POST("/register/webauthn/finish", h.FinishWebAuthnRegistration)
	authed.POST("/qr-login/approve", h.ApproveQRLogin)
	authed.POST("/recovery/generate", h.GenerateRecoveryCodes)
	authed.GET("/webauthn/credentials", h.ListCredentials)
	authed.DELETE("/webauthn/credentials/:id", h.RevokeCredential)
}
