package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/router-for-me/SchoolAuth/internal/events"
	"github.com/router-for-me/SchoolAuth/internal/metrics"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// challengeHandleBytes is the entropy of a challenge handle.
const challengeHandleBytes = 32

// Ceremony is a started WebAuthn ceremony: the handle to finish it and the client options.
type Ceremony struct {
	Handle    string
	Options   any
	ExpiresAt time.Time
}

// WebAuthnService runs registration and authentication ceremonies backed by durable challenges.
type WebAuthnService struct {
	webAuthn   *webauthn.WebAuthn
	users      *store.Users
	creds      *store.Credentials
	challenges *store.Challenges
	tokens     *security.TokenService
	events     events.Emitter
	ttl        time.Duration
	now        func() time.Time
}

// WebAuthnDeps groups the collaborators of WebAuthnService.
type WebAuthnDeps struct {
	WebAuthn     *webauthn.WebAuthn
	Users        *store.Users
	Credentials  *store.Credentials
	Challenges   *store.Challenges
	Tokens       *security.TokenService
	Events       events.Emitter
	ChallengeTTL time.Duration
}

// NewWebAuthnService constructs a WebAuthnService.
func NewWebAuthnService(deps WebAuthnDeps) *WebAuthnService {
	emitter := deps.Events
	if emitter == nil {
		emitter = events.NoOp{}
	}
	return &WebAuthnService{
		webAuthn:   deps.WebAuthn,
		users:      deps.Users,
		creds:      deps.Credentials,
		challenges: deps.Challenges,
		tokens:     deps.Tokens,
		events:     emitter,
		ttl:        deps.ChallengeTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BeginRegistration starts a registration ceremony for target on behalf of actor.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, actor, target *models.User, displayName string) (*Ceremony, error) {
	if errCheck := Check(actor, RequireSelfOrSuperuser(target.ID)); errCheck != nil {
		return nil, errCheck
	}
	if !target.Active {
		return nil, ErrPrincipalInactive
	}
	rows, errList := s.creds.ListByUser(ctx, target.ID)
	if errList != nil {
		return nil, fmt.Errorf("list credentials: %w", errList)
	}
	user := newWebAuthnUser(target, rows)
	if displayName != "" {
		user.displayName = displayName
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, errBegin := s.webAuthn.BeginRegistration(user, options...)
	if errBegin != nil {
		return nil, fmt.Errorf("begin registration: %w", errBegin)
	}
	targetID := target.ID
	return s.saveChallenge(ctx, models.CeremonyRegistration, &targetID, session, creation)
}

// FinishRegistration verifies an attestation and stores the new credential.
// The challenge is consumed before any verification so a failed attempt cannot be retried.
func (s *WebAuthnService) FinishRegistration(ctx context.Context, actor *models.User, handle string, response []byte) (*models.WebAuthnCredential, error) {
	challenge, session, errConsume := s.consume(ctx, handle, models.CeremonyRegistration)
	if errConsume != nil {
		return nil, errConsume
	}
	if challenge.UserID == nil {
		return nil, ErrChallengeNotFound
	}
	target, errFind := s.users.FindByID(ctx, *challenge.UserID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errFind
	}
	if errCheck := Check(actor, RequireSelfOrSuperuser(target.ID)); errCheck != nil {
		return nil, errCheck
	}

	parsed, errParse := protocol.ParseCredentialCreationResponseBytes(response)
	if errParse != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAttestation, protocolDetail(errParse))
	}
	rows, errList := s.creds.ListByUser(ctx, target.ID)
	if errList != nil {
		return nil, fmt.Errorf("list credentials: %w", errList)
	}
	credential, errCreate := s.webAuthn.CreateCredential(newWebAuthnUser(target, rows), *session, parsed)
	if errCreate != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAttestation, protocolDetail(errCreate))
	}

	row := rowFromCredential(target.ID, credential)
	if errSave := s.creds.Create(ctx, row); errSave != nil {
		if errors.Is(errSave, store.ErrConflict) {
			return nil, ErrCredentialAlreadyRegistered
		}
		return nil, fmt.Errorf("save credential: %w", errSave)
	}

	s.events.Emit(ctx, events.Event{
		Type:     events.TypeCredentialRegistered,
		UserID:   target.ID,
		Metadata: map[string]string{"credential": strconv.FormatUint(row.ID, 10), "actor": strconv.FormatUint(actor.ID, 10)},
	})
	return row, nil
}

// BeginLogin starts an authentication ceremony. An empty identifier starts a
// usernameless ceremony that accepts any discoverable credential.
func (s *WebAuthnService) BeginLogin(ctx context.Context, identifier string) (*Ceremony, error) {
	loginOpts := []webauthn.LoginOption{webauthn.WithUserVerification(protocol.VerificationPreferred)}
	if identifier == "" {
		assertion, session, errBegin := s.webAuthn.BeginDiscoverableLogin(loginOpts...)
		if errBegin != nil {
			return nil, fmt.Errorf("begin discoverable login: %w", errBegin)
		}
		return s.saveChallenge(ctx, models.CeremonyAuthentication, nil, session, assertion)
	}

	target, errFind := s.users.FindByIdentifier(ctx, identifier)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, errFind
	}
	if !target.Active {
		return nil, ErrPrincipalInactive
	}
	rows, errList := s.creds.ListByUser(ctx, target.ID)
	if errList != nil {
		return nil, fmt.Errorf("list credentials: %w", errList)
	}
	if len(rows) == 0 {
		return nil, ErrNoCredentials
	}

	assertion, session, errBegin := s.webAuthn.BeginLogin(newWebAuthnUser(target, rows), loginOpts...)
	if errBegin != nil {
		return nil, fmt.Errorf("begin login: %w", errBegin)
	}
	targetID := target.ID
	return s.saveChallenge(ctx, models.CeremonyAuthentication, &targetID, session, assertion)
}

// FinishLogin verifies an assertion, advances the signature counter and issues a token.
func (s *WebAuthnService) FinishLogin(ctx context.Context, handle string, response []byte) (token string, user *models.User, err error) {
	defer func() { metrics.RecordLogin(metrics.MethodWebAuthn, err) }()

	challenge, session, errConsume := s.consume(ctx, handle, models.CeremonyAuthentication)
	if errConsume != nil {
		return "", nil, errConsume
	}
	parsed, errParse := protocol.ParseCredentialRequestResponseBytes(response)
	if errParse != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, protocolDetail(errParse))
	}

	var (
		adapter    *webAuthnUser
		credential *webauthn.Credential
	)
	if challenge.UserID != nil {
		adapter, err = s.loadAdapter(ctx, *challenge.UserID)
		if err != nil {
			return "", nil, err
		}
		if !adapter.user.Active {
			return "", nil, ErrPrincipalInactive
		}
		credential, err = s.webAuthn.ValidateLogin(adapter, *session, parsed)
	} else {
		handler := func(rawID, handle []byte) (webauthn.User, error) {
			found, errLoad := s.loadAdapterForAssertion(ctx, rawID, handle)
			if errLoad != nil {
				return nil, errLoad
			}
			adapter = found
			return found, nil
		}
		_, credential, err = s.webAuthn.ValidatePasskeyLogin(handler, *session, parsed)
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, protocolDetail(err))
	}
	if !adapter.user.Active {
		return "", nil, ErrPrincipalInactive
	}

	row, errRow := s.creds.FindByCredentialID(ctx, credential.ID)
	if errRow != nil {
		return "", nil, fmt.Errorf("%w: credential revoked", ErrInvalidCredentials)
	}
	// CloneWarning is set when the asserted counter is not above the stored one;
	// authenticators reporting zero on both sides do not implement counters.
	if credential.Authenticator.CloneWarning {
		s.reportReplay(ctx, adapter.user, row, parsed.Response.AuthenticatorData.Counter)
		return "", nil, ErrReplayDetected
	}
	errAdvance := s.creds.AdvanceCounter(ctx, row.ID, row.SignCount, credential.Authenticator.SignCount, credential.Flags.BackupState, s.now())
	if errAdvance != nil {
		if errors.Is(errAdvance, store.ErrLostRace) {
			s.reportReplay(ctx, adapter.user, row, parsed.Response.AuthenticatorData.Counter)
			return "", nil, ErrReplayDetected
		}
		return "", nil, fmt.Errorf("advance counter: %w", errAdvance)
	}

	token, err = issueToken(s.tokens, adapter.user)
	if err != nil {
		return "", nil, err
	}
	return token, adapter.user, nil
}

// ListCredentials returns the credentials registered by userID.
func (s *WebAuthnService) ListCredentials(ctx context.Context, userID uint64) ([]models.WebAuthnCredential, error) {
	return s.creds.ListByUser(ctx, userID)
}

// RevokeCredential deletes one of actor's credentials.
func (s *WebAuthnService) RevokeCredential(ctx context.Context, actor *models.User, credentialID uint64) error {
	if errDelete := s.creds.Delete(ctx, actor.ID, credentialID); errDelete != nil {
		if errors.Is(errDelete, store.ErrNotFound) {
			return fmt.Errorf("%w: credential not found", ErrInvalidRequest)
		}
		return errDelete
	}
	s.events.Emit(ctx, events.Event{
		Type:     events.TypeCredentialRevoked,
		UserID:   actor.ID,
		Metadata: map[string]string{"credential": strconv.FormatUint(credentialID, 10)},
	})
	return nil
}

// saveChallenge persists the ceremony session under a fresh random handle.
func (s *WebAuthnService) saveChallenge(ctx context.Context, ceremony string, userID *uint64, session *webauthn.SessionData, options any) (*Ceremony, error) {
	handle, errHandle := security.RandomHandle(challengeHandleBytes)
	if errHandle != nil {
		return nil, errHandle
	}
	payload, errMarshal := json.Marshal(session)
	if errMarshal != nil {
		return nil, fmt.Errorf("marshal session: %w", errMarshal)
	}
	expiresAt := s.now().Add(s.ttl)
	row := &models.WebAuthnChallenge{
		Handle:      handle,
		Ceremony:    ceremony,
		UserID:      userID,
		SessionData: datatypes.JSON(payload),
		ExpiresAt:   expiresAt,
	}
	if errCreate := s.challenges.Create(ctx, row); errCreate != nil {
		return nil, fmt.Errorf("save challenge: %w", errCreate)
	}
	return &Ceremony{Handle: handle, Options: options, ExpiresAt: expiresAt}, nil
}

// consume deletes the challenge for handle and returns it with its decoded session.
func (s *WebAuthnService) consume(ctx context.Context, handle, ceremony string) (*models.WebAuthnChallenge, *webauthn.SessionData, error) {
	if handle == "" {
		return nil, nil, ErrChallengeNotFound
	}
	challenge, errConsume := s.challenges.Consume(ctx, handle)
	if errConsume != nil {
		if errors.Is(errConsume, store.ErrNotFound) {
			return nil, nil, ErrChallengeNotFound
		}
		return nil, nil, fmt.Errorf("consume challenge: %w", errConsume)
	}
	if challenge.Ceremony != ceremony {
		return nil, nil, ErrChallengeNotFound
	}
	if !s.now().Before(challenge.ExpiresAt) {
		return nil, nil, ErrChallengeExpired
	}
	var session webauthn.SessionData
	if errUnmarshal := json.Unmarshal(challenge.SessionData, &session); errUnmarshal != nil {
		return nil, nil, fmt.Errorf("decode challenge session: %w", errUnmarshal)
	}
	return challenge, &session, nil
}

func (s *WebAuthnService) loadAdapter(ctx context.Context, userID uint64) (*webAuthnUser, error) {
	user, errFind := s.users.FindByID(ctx, userID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, errFind
	}
	rows, errList := s.creds.ListByUser(ctx, user.ID)
	if errList != nil {
		return nil, fmt.Errorf("list credentials: %w", errList)
	}
	return newWebAuthnUser(user, rows), nil
}

// loadAdapterForAssertion resolves the owner of a discoverable credential and checks the asserted user handle.
func (s *WebAuthnService) loadAdapterForAssertion(ctx context.Context, rawID, handle []byte) (*webAuthnUser, error) {
	row, errFind := s.creds.FindByCredentialID(ctx, rawID)
	if errFind != nil {
		return nil, fmt.Errorf("unknown credential")
	}
	id, ok := userIDFromHandle(handle)
	if !ok || id != row.UserID {
		return nil, fmt.Errorf("user handle does not match credential")
	}
	return s.loadAdapter(ctx, row.UserID)
}

func (s *WebAuthnService) reportReplay(ctx context.Context, user *models.User, row *models.WebAuthnCredential, asserted uint32) {
	metrics.SecurityEventsTotal.WithLabelValues(ErrReplayDetected.Kind).Inc()
	log.WithFields(log.Fields{
		"security":       true,
		"user_id":        user.ID,
		"credential":     row.ID,
		"stored_count":   row.SignCount,
		"asserted_count": asserted,
	}).Warn("webauthn replay detected")
	s.events.Emit(ctx, events.Event{
		Type:   events.TypeReplayDetected,
		UserID: user.ID,
		Metadata: map[string]string{
			"credential":     strconv.FormatUint(row.ID, 10),
			"stored_count":   strconv.FormatUint(uint64(row.SignCount), 10),
			"asserted_count": strconv.FormatUint(uint64(asserted), 10),
		},
	})
}

// protocolDetail returns the client-facing message of a go-webauthn error.
// DevInfo stays in the server log.
func protocolDetail(err error) string {
	var protoErr *protocol.Error
	if errors.As(err, &protoErr) {
		if protoErr.DevInfo != "" {
			log.WithFields(log.Fields{
				"type":     protoErr.Type,
				"dev_info": protoErr.DevInfo,
			}).Debug("webauthn verification failed")
		}
		if protoErr.Details != "" {
			return protoErr.Details
		}
		return protoErr.Type
	}
	return err.Error()
}
