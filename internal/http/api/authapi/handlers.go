package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/SchoolAuth/internal/auth"
	"github.com/router-for-me/SchoolAuth/internal/http/middleware"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/store"
)

const tokenTypeBearer = "bearer"

// UserResolver looks principals up by email, roll number or id.
type UserResolver interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

// Handler serves the auth endpoints.
type Handler struct {
	svc Services
}

// NewHandler constructs a Handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func respondToken(c *gin.Context, token string) {
	c.JSON(http.StatusOK, tokenResponse{AccessToken: token, TokenType: tokenTypeBearer})
}

// PasswordLogin exchanges form credentials for a bearer token.
func (h *Handler) PasswordLogin(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	password := c.PostForm("password")
	if username == "" || password == "" {
		middleware.RespondBadRequest(c, "missing username or password")
		return
	}
	token, _, errLogin := h.svc.Password.Login(c.Request.Context(), username, password)
	if errLogin != nil {
		middleware.RespondError(c, errLogin)
		return
	}
	respondToken(c, token)
}

type beginRegistrationRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type ceremonyResponse struct {
	Challenge string    `json:"challenge"`
	Options   any       `json:"options"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BeginWebAuthnRegistration starts a registration ceremony for the caller or, for superusers, a named user.
func (h *Handler) BeginWebAuthnRegistration(c *gin.Context) {
	var body beginRegistrationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil && !errors.Is(errBind, io.EOF) {
		middleware.RespondBadRequest(c, "invalid json")
		return
	}
	actor := middleware.CurrentPrincipal(c)
	target := actor
	if identifier := strings.TrimSpace(body.Username); identifier != "" {
		found, errFind := h.svc.Users.FindByIdentifier(c.Request.Context(), identifier)
		if errFind != nil {
			if errors.Is(errFind, store.ErrNotFound) {
				middleware.RespondError(c, auth.ErrUserNotFound)
				return
			}
			middleware.RespondError(c, errFind)
			return
		}
		target = found
	}
	ceremony, errBegin := h.svc.WebAuthn.BeginRegistration(c.Request.Context(), actor, target, strings.TrimSpace(body.DisplayName))
	if errBegin != nil {
		middleware.RespondError(c, errBegin)
		return
	}
	c.JSON(http.StatusOK, ceremonyResponse{Challenge: ceremony.Handle, Options: ceremony.Options, ExpiresAt: ceremony.ExpiresAt})
}

type finishCeremonyRequest struct {
	Credential json.RawMessage `json:"credential"`
	Challenge  string          `json:"challenge"`
}

func bindFinish(c *gin.Context) (*finishCeremonyRequest, bool) {
	var body finishCeremonyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.RespondBadRequest(c, "invalid json")
		return nil, false
	}
	body.Challenge = strings.TrimSpace(body.Challenge)
	if body.Challenge == "" {
		middleware.RespondBadRequest(c, "missing challenge")
		return nil, false
	}
	if len(bytes.TrimSpace(body.Credential)) == 0 || bytes.Equal(bytes.TrimSpace(body.Credential), []byte("null")) {
		middleware.RespondBadRequest(c, "missing credential")
		return nil, false
	}
	return &body, true
}

// FinishWebAuthnRegistration verifies the attestation and stores the credential.
func (h *Handler) FinishWebAuthnRegistration(c *gin.Context) {
	body, ok := bindFinish(c)
	if !ok {
		return
	}
	credential, errFinish := h.svc.WebAuthn.FinishRegistration(c.Request.Context(), middleware.CurrentPrincipal(c), body.Challenge, body.Credential)
	if errFinish != nil {
		middleware.RespondError(c, errFinish)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "credential_id": credential.ID})
}

type beginLoginRequest struct {
	UserID json.RawMessage `json:"user_id"`
}

// identifier accepts user_id as a JSON string or number.
func (r beginLoginRequest) identifier() (string, error) {
	raw := bytes.TrimSpace(r.UserID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var text string
	if errString := json.Unmarshal(raw, &text); errString == nil {
		return strings.TrimSpace(text), nil
	}
	var number json.Number
	if errNumber := json.Unmarshal(raw, &number); errNumber == nil {
		return number.String(), nil
	}
	return "", fmt.Errorf("user_id must be a string or number")
}

// BeginWebAuthnLogin starts an authentication ceremony; an empty user_id starts a usernameless one.
func (h *Handler) BeginWebAuthnLogin(c *gin.Context) {
	var body beginLoginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil && !errors.Is(errBind, io.EOF) {
		middleware.RespondBadRequest(c, "invalid json")
		return
	}
	identifier, errID := body.identifier()
	if errID != nil {
		middleware.RespondBadRequest(c, errID.Error())
		return
	}
	ceremony, errBegin := h.svc.WebAuthn.BeginLogin(c.Request.Context(), identifier)
	if errBegin != nil {
		middleware.RespondError(c, errBegin)
		return
	}
	c.JSON(http.StatusOK, ceremonyResponse{Challenge: ceremony.Handle, Options: ceremony.Options, ExpiresAt: ceremony.ExpiresAt})
}

// FinishWebAuthnLogin verifies the assertion and issues a bearer token.
func (h *Handler) FinishWebAuthnLogin(c *gin.Context) {
	body, ok := bindFinish(c)
	if !ok {
		return
	}
	token, _, errFinish := h.svc.WebAuthn.FinishLogin(c.Request.Context(), body.Challenge, body.Credential)
	if errFinish != nil {
		middleware.RespondError(c, errFinish)
		return
	}
	respondToken(c, token)
}

// StartQRLogin returns a PNG QR code; the session token is repeated in a header.
func (h *Handler) StartQRLogin(c *gin.Context) {
	started, errStart := h.svc.QRLogin.Start(c.Request.Context())
	if errStart != nil {
		middleware.RespondError(c, errStart)
		return
	}
	c.Header("X-QR-Login-Token", started.Token)
	c.Header("X-QR-Login-Expires-At", started.ExpiresAt.Format(time.RFC3339))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", started.PNG)
}

type approveQRRequest struct {
	Token string `json:"token"`
}

// ApproveQRLogin approves a pending QR session for the caller.
func (h *Handler) ApproveQRLogin(c *gin.Context) {
	var body approveQRRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.RespondBadRequest(c, "invalid json")
		return
	}
	if strings.TrimSpace(body.Token) == "" {
		middleware.RespondBadRequest(c, "missing token")
		return
	}
	if errApprove := h.svc.QRLogin.Approve(c.Request.Context(), middleware.CurrentPrincipal(c), body.Token); errApprove != nil {
		middleware.RespondError(c, errApprove)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "detail": "QR login approved"})
}

// PollQRLogin reports the state of a QR session and hands out its token once.
func (h *Handler) PollQRLogin(c *gin.Context) {
	result, errPoll := h.svc.QRLogin.Poll(c.Request.Context(), c.Param("token"))
	if errPoll != nil {
		middleware.RespondError(c, errPoll)
		return
	}
	c.Header("Cache-Control", "no-store")
	if result.AccessToken == "" {
		c.JSON(http.StatusOK, gin.H{"status": result.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Status, "access_token": result.AccessToken, "token_type": tokenTypeBearer})
}

// CleanupQRLogin deletes expired QR sessions.
func (h *Handler) CleanupQRLogin(c *gin.Context) {
	deleted, errCleanup := h.svc.QRLogin.Cleanup(c.Request.Context())
	if errCleanup != nil {
		middleware.RespondError(c, errCleanup)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "detail": fmt.Sprintf("deleted %d expired sessions", deleted)})
}

// GenerateRecoveryCodes replaces the caller's recovery codes and returns them once.
func (h *Handler) GenerateRecoveryCodes(c *gin.Context) {
	codes, errGenerate := h.svc.Recovery.Generate(c.Request.Context(), middleware.CurrentPrincipal(c))
	if errGenerate != nil {
		middleware.RespondError(c, errGenerate)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{"codes": codes})
}

type recoveryLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// RecoveryLogin redeems a recovery code for a bearer token.
func (h *Handler) RecoveryLogin(c *gin.Context) {
	var body recoveryLoginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		middleware.RespondBadRequest(c, "invalid json")
		return
	}
	identifier := strings.TrimSpace(body.Email)
	if identifier == "" || strings.TrimSpace(body.Code) == "" {
		middleware.RespondBadRequest(c, "missing email or code")
		return
	}
	token, _, errRedeem := h.svc.Recovery.Redeem(c.Request.Context(), identifier, body.Code)
	if errRedeem != nil {
		middleware.RespondError(c, errRedeem)
		return
	}
	respondToken(c, token)
}

type credentialResponse struct {
	ID         uint64     `json:"id"`
	Transports []string   `json:"transports"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// ListCredentials lists the caller's WebAuthn credentials.
func (h *Handler) ListCredentials(c *gin.Context) {
	principal := middleware.CurrentPrincipal(c)
	rows, errList := h.svc.WebAuthn.ListCredentials(c.Request.Context(), principal.ID)
	if errList != nil {
		middleware.RespondError(c, errList)
		return
	}
	out := make([]credentialResponse, 0, len(rows))
	for _, row := range rows {
		var transports []string
		if row.Transports != "" {
			transports = strings.Split(row.Transports, ",")
		}
		out = append(out, credentialResponse{
			ID:         row.ID,
			Transports: transports,
			CreatedAt:  row.CreatedAt,
			LastUsedAt: row.LastUsedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// RevokeCredential deletes one of the caller's WebAuthn credentials.
func (h *Handler) RevokeCredential(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		middleware.RespondBadRequest(c, "invalid credential id")
		return
	}
	if errRevoke := h.svc.WebAuthn.RevokeCredential(c.Request.Context(), middleware.CurrentPrincipal(c), id); errRevoke != nil {
		middleware.RespondError(c, errRevoke)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
