package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/router-for-me/SchoolAuth/internal/config"
	"github.com/router-for-me/SchoolAuth/internal/db"
	"github.com/router-for-me/SchoolAuth/internal/events"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"github.com/router-for-me/SchoolAuth/internal/security"
	"github.com/router-for-me/SchoolAuth/internal/store"
	"gorm.io/gorm"
)

const testOrigin = "https://portal.school.test"

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) Emit(_ context.Context, event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) ofType(eventType string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, event := range r.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type testEnv struct {
	conn       *gorm.DB
	users      *store.Users
	creds      *store.Credentials
	challenges *store.Challenges
	sessions   *store.QRSessions
	codes      *store.RecoveryCodes
	tokens     *security.TokenService
	events     *recordedEvents

	gate     *Gate
	password *PasswordService
	webauthn *WebAuthnService
	qr       *QRLoginService
	recovery *RecoveryService
}

func setupAuthTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:auth_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}

	wa, errWA := security.NewWebAuthn(config.WebAuthnConfig{
		RPName:       "Springfield High",
		Origins:      []string{testOrigin},
		ChallengeTTL: 5 * time.Minute,
	})
	if errWA != nil {
		t.Fatalf("webauthn: %v", errWA)
	}

	env := &testEnv{
		conn:       conn,
		users:      store.NewUsers(conn),
		creds:      store.NewCredentials(conn),
		challenges: store.NewChallenges(conn),
		sessions:   store.NewQRSessions(conn),
		codes:      store.NewRecoveryCodes(conn),
		tokens:     security.NewTokenService("test-secret", "schoolauth-test", time.Hour),
		events:     &recordedEvents{},
	}
	env.gate = NewGate(env.tokens, env.users)
	env.password = NewPasswordService(env.users, env.tokens)
	env.webauthn = NewWebAuthnService(WebAuthnDeps{
		WebAuthn:     wa,
		Users:        env.users,
		Credentials:  env.creds,
		Challenges:   env.challenges,
		Tokens:       env.tokens,
		Events:       env.events,
		ChallengeTTL: 5 * time.Minute,
	})
	env.qr = NewQRLoginService(QRLoginDeps{
		Sessions:  env.sessions,
		Users:     env.users,
		Tokens:    env.tokens,
		Events:    env.events,
		TTL:       5 * time.Minute,
		ImageSize: 128,
	})
	env.recovery = NewRecoveryService(RecoveryDeps{
		Codes:  env.codes,
		Users:  env.users,
		Tokens: env.tokens,
		Events: env.events,
	})
	return env
}

func (env *testEnv) createUser(t *testing.T, roll, email, password string, superuser bool) *models.User {
	t.Helper()
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	user := &models.User{
		RollNumber:  roll,
		FullName:    "User " + roll,
		Password:    hash,
		Role:        models.RoleStudent,
		IsSuperuser: superuser,
		Active:      true,
	}
	if email != "" {
		user.Email = &email
	}
	if errCreate := env.users.Create(context.Background(), user); errCreate != nil {
		t.Fatalf("create user %s: %v", roll, errCreate)
	}
	return user
}

func (env *testEnv) deactivate(t *testing.T, user *models.User) {
	t.Helper()
	if errSet := env.users.SetActive(context.Background(), user.ID, false); errSet != nil {
		t.Fatalf("deactivate user: %v", errSet)
	}
}

// virtualDevice is a software authenticator holding one credential.
type virtualDevice struct {
	rp            virtualwebauthn.RelyingParty
	authenticator virtualwebauthn.Authenticator
	credential    virtualwebauthn.Credential
}

func newVirtualDevice(userID uint64) *virtualDevice {
	authenticator := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: userHandle(userID),
	})
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	authenticator.AddCredential(credential)
	return &virtualDevice{
		rp:            virtualwebauthn.RelyingParty{Name: "Springfield High", ID: "portal.school.test", Origin: testOrigin},
		authenticator: authenticator,
		credential:    credential,
	}
}

func (d *virtualDevice) attest(t *testing.T, ceremony *Ceremony) []byte {
	t.Helper()
	creation, ok := ceremony.Options.(*protocol.CredentialCreation)
	if !ok {
		t.Fatalf("unexpected registration options %T", ceremony.Options)
	}
	optionsJSON, errMarshal := json.Marshal(creation.Response)
	if errMarshal != nil {
		t.Fatalf("marshal options: %v", errMarshal)
	}
	parsed, errParse := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if errParse != nil {
		t.Fatalf("parse attestation options: %v", errParse)
	}
	return []byte(virtualwebauthn.CreateAttestationResponse(d.rp, d.authenticator, d.credential, *parsed))
}

func (d *virtualDevice) assert(t *testing.T, ceremony *Ceremony) []byte {
	t.Helper()
	assertion, ok := ceremony.Options.(*protocol.CredentialAssertion)
	if !ok {
		t.Fatalf("unexpected login options %T", ceremony.Options)
	}
	optionsJSON, errMarshal := json.Marshal(assertion.Response)
	if errMarshal != nil {
		t.Fatalf("marshal options: %v", errMarshal)
	}
	parsed, errParse := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if errParse != nil {
		t.Fatalf("parse assertion options: %v", errParse)
	}
	return []byte(virtualwebauthn.CreateAssertionResponse(d.rp, d.authenticator, d.credential, *parsed))
}

// register runs a full registration ceremony for user and returns the device and stored credential.
func (env *testEnv) register(t *testing.T, user *models.User) (*virtualDevice, *models.WebAuthnCredential) {
	t.Helper()
	ctx := context.Background()
	ceremony, errBegin := env.webauthn.BeginRegistration(ctx, user, user, "")
	if errBegin != nil {
		t.Fatalf("begin registration: %v", errBegin)
	}
	device := newVirtualDevice(user.ID)
	row, errFinish := env.webauthn.FinishRegistration(ctx, user, ceremony.Handle, device.attest(t, ceremony))
	if errFinish != nil {
		t.Fatalf("finish registration: %v", errFinish)
	}
	return device, row
}

func expectKind(t *testing.T, err error, want *Error) {
	t.Helper()
	got, ok := AsError(err)
	if !ok {
		t.Fatalf("expected %s, got %v", want.Kind, err)
	}
	if got.Kind != want.Kind {
		t.Fatalf("expected %s, got %s (%v)", want.Kind, got.Kind, err)
	}
}
