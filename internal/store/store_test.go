package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/SchoolAuth/internal/db"
	"github.com/router-for-me/SchoolAuth/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return conn
}

func createUser(t *testing.T, users *Users, roll, email string) *models.User {
	t.Helper()
	user := &models.User{RollNumber: roll, FullName: roll, Password: "x", Role: models.RoleStudent, Active: true}
	if email != "" {
		user.Email = &email
	}
	if errCreate := users.Create(context.Background(), user); errCreate != nil {
		t.Fatalf("create user %s: %v", roll, errCreate)
	}
	return user
}

func TestUsersFindByIdentifier(t *testing.T) {
	conn := setupStoreTestDB(t)
	users := NewUsers(conn)
	ctx := context.Background()
	user := createUser(t, users, "S-1001", "Alice@School.EDU")

	if user.EmailValue() != "alice@school.edu" {
		t.Fatalf("email not normalized: %q", user.EmailValue())
	}
	for _, identifier := range []string{"S-1001", "ALICE@school.edu", fmt.Sprintf("%d", user.ID)} {
		found, errFind := users.FindByIdentifier(ctx, identifier)
		if errFind != nil {
			t.Fatalf("FindByIdentifier(%q): %v", identifier, errFind)
		}
		if found.ID != user.ID {
			t.Fatalf("FindByIdentifier(%q) = %d, want %d", identifier, found.ID, user.ID)
		}
	}
	if _, errFind := users.FindByIdentifier(ctx, "nobody@school.edu"); !errors.Is(errFind, ErrNotFound) {
		t.Fatalf("missing user err = %v, want ErrNotFound", errFind)
	}
}

func TestUsersCreateConflictAndInactive(t *testing.T) {
	conn := setupStoreTestDB(t)
	users := NewUsers(conn)
	ctx := context.Background()
	createUser(t, users, "S-1", "a@school.edu")

	dup := &models.User{RollNumber: "S-2", Password: "x", Role: models.RoleStudent}
	email := "A@school.edu"
	dup.Email = &email
	if errCreate := users.Create(ctx, dup); !errors.Is(errCreate, ErrConflict) {
		t.Fatalf("duplicate email err = %v, want ErrConflict", errCreate)
	}

	inactive := &models.User{RollNumber: "S-3", Password: "x", Role: models.RoleStudent, Active: false}
	if errCreate := users.Create(ctx, inactive); errCreate != nil {
		t.Fatalf("create inactive: %v", errCreate)
	}
	reloaded, _ := users.FindByID(ctx, inactive.ID)
	if reloaded.Active {
		t.Fatalf("inactive user persisted as active")
	}
}

func TestUsersListFilters(t *testing.T) {
	conn := setupStoreTestDB(t)
	users := NewUsers(conn)
	ctx := context.Background()
	createUser(t, users, "S-100", "")
	createUser(t, users, "S-200", "")
	teacher := &models.User{RollNumber: "T-1", FullName: "Edna Krabappel", Password: "x", Role: models.RoleTeacher, Active: true}
	if errCreate := users.Create(ctx, teacher); errCreate != nil {
		t.Fatalf("create teacher: %v", errCreate)
	}

	list, total, errList := users.List(ctx, UserFilter{Query: "krab"})
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if total != 1 || len(list) != 1 || list[0].RollNumber != "T-1" {
		t.Fatalf("query filter = %d %+v", total, list)
	}

	list, total, errList = users.List(ctx, UserFilter{Role: models.RoleStudent, Limit: 1})
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if total != 2 || len(list) != 1 {
		t.Fatalf("role filter total=%d len=%d", total, len(list))
	}
}

func TestChallengesConsumeOnce(t *testing.T) {
	conn := setupStoreTestDB(t)
	challenges := NewChallenges(conn)
	ctx := context.Background()

	row := &models.WebAuthnChallenge{
		Handle:      "h1",
		Ceremony:    models.CeremonyAuthentication,
		SessionData: datatypes.JSON(`{}`),
		ExpiresAt:   time.Now().UTC().Add(time.Minute),
	}
	if errCreate := challenges.Create(ctx, row); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, errConsume := challenges.Consume(ctx, "h1"); errConsume == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(errConsume, ErrNotFound) {
				t.Errorf("consume: %v", errConsume)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("challenge consumed %d times, want 1", wins)
	}
}

func TestChallengesDeleteExpired(t *testing.T) {
	conn := setupStoreTestDB(t)
	challenges := NewChallenges(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, offset := range []time.Duration{-2 * time.Minute, -time.Minute, time.Minute} {
		row := &models.WebAuthnChallenge{
			Handle:      fmt.Sprintf("h%d", i),
			Ceremony:    models.CeremonyRegistration,
			SessionData: datatypes.JSON(`{}`),
			ExpiresAt:   now.Add(offset),
		}
		if errCreate := challenges.Create(ctx, row); errCreate != nil {
			t.Fatalf("create: %v", errCreate)
		}
	}
	deleted, errDelete := challenges.DeleteExpired(ctx, now, 100)
	if errDelete != nil {
		t.Fatalf("delete expired: %v", errDelete)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	if _, errConsume := challenges.Consume(ctx, "h2"); errConsume != nil {
		t.Fatalf("live challenge removed: %v", errConsume)
	}
}

func TestQRSessionsTransitions(t *testing.T) {
	conn := setupStoreTestDB(t)
	users := NewUsers(conn)
	sessions := NewQRSessions(conn)
	ctx := context.Background()
	user := createUser(t, users, "S-1", "")
	now := time.Now().UTC()

	session := &models.QRLoginSession{Token: "tok", Status: models.QRStatusPending, ExpiresAt: now.Add(time.Minute)}
	if errCreate := sessions.Create(ctx, session); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if errConsume := sessions.Consume(ctx, "tok", now); !errors.Is(errConsume, ErrLostRace) {
		t.Fatalf("consume pending err = %v, want ErrLostRace", errConsume)
	}
	if errApprove := sessions.Approve(ctx, "tok", user.ID, now); errApprove != nil {
		t.Fatalf("approve: %v", errApprove)
	}
	if errApprove := sessions.Approve(ctx, "tok", user.ID, now); !errors.Is(errApprove, ErrLostRace) {
		t.Fatalf("second approve err = %v, want ErrLostRace", errApprove)
	}
	if errConsume := sessions.Consume(ctx, "tok", now); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}

	loaded, errFind := sessions.FindByToken(ctx, "tok")
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if loaded.Status != models.QRStatusConsumed || loaded.UserID == nil || *loaded.UserID != user.ID {
		t.Fatalf("session = %+v", loaded)
	}
}

func TestQRSessionsExpiryBlocksTransitions(t *testing.T) {
	conn := setupStoreTestDB(t)
	sessions := NewQRSessions(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	session := &models.QRLoginSession{Token: "old", Status: models.QRStatusPending, ExpiresAt: now.Add(-time.Second)}
	if errCreate := sessions.Create(ctx, session); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if errApprove := sessions.Approve(ctx, "old", 1, now); !errors.Is(errApprove, ErrLostRace) {
		t.Fatalf("approve expired err = %v, want ErrLostRace", errApprove)
	}
	if errMark := sessions.MarkExpired(ctx, "old", now); errMark != nil {
		t.Fatalf("mark expired: %v", errMark)
	}
	loaded, _ := sessions.FindByToken(ctx, "old")
	if loaded.Status != models.QRStatusExpired {
		t.Fatalf("status = %s, want expired", loaded.Status)
	}

	deleted, errDelete := sessions.DeleteExpired(ctx, now, 10)
	if errDelete != nil {
		t.Fatalf("delete expired: %v", errDelete)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if deleted, _ = sessions.DeleteExpired(ctx, now, 10); deleted != 0 {
		t.Fatalf("second sweep deleted %d", deleted)
	}
}

func TestRecoveryCodesReplaceAndMarkUsed(t *testing.T) {
	conn := setupStoreTestDB(t)
	users := NewUsers(conn)
	codes := NewRecoveryCodes(conn)
	ctx := context.Background()
	user := createUser(t, users, "S-1", "")

	if errReplace := codes.Replace(ctx, user.ID, []string{"h1", "h2", "h3"}); errReplace != nil {
		t.Fatalf("replace: %v", errReplace)
	}
	if errReplace := codes.Replace(ctx, user.ID, []string{"h4", "h5"}); errReplace != nil {
		t.Fatalf("replace: %v", errReplace)
	}
	if n, _ := codes.CountUnused(ctx, user.ID); n != 2 {
		t.Fatalf("unused = %d, want 2", n)
	}
	if _, errFind := codes.Find(ctx, user.ID, "h1"); !errors.Is(errFind, ErrNotFound) {
		t.Fatalf("old code still present: %v", errFind)
	}

	code, errFind := codes.Find(ctx, user.ID, "h4")
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	now := time.Now().UTC()
	if errMark := codes.MarkUsed(ctx, code.ID, now); errMark != nil {
		t.Fatalf("mark used: %v", errMark)
	}
	if errMark := codes.MarkUsed(ctx, code.ID, now); !errors.Is(errMark, ErrLostRace) {
		t.Fatalf("second mark err = %v, want ErrLostRace", errMark)
	}
}

func TestCredentialsCreateConflictAndCounter(t *testing.T) {
	conn := setupStoreTestDB(t)
	users := NewUsers(conn)
	creds := NewCredentials(conn)
	ctx := context.Background()
	user := createUser(t, users, "S-1", "")

	cred := &models.WebAuthnCredential{UserID: user.ID, CredentialID: []byte("cred-1"), PublicKey: []byte("pk"), SignCount: 5}
	if errCreate := creds.Create(ctx, cred); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	dup := &models.WebAuthnCredential{UserID: user.ID, CredentialID: []byte("cred-1"), PublicKey: []byte("pk2")}
	if errCreate := creds.Create(ctx, dup); !errors.Is(errCreate, ErrConflict) {
		t.Fatalf("duplicate err = %v, want ErrConflict", errCreate)
	}

	now := time.Now().UTC()
	if errAdvance := creds.AdvanceCounter(ctx, cred.ID, 5, 6, false, now); errAdvance != nil {
		t.Fatalf("advance: %v", errAdvance)
	}
	if errAdvance := creds.AdvanceCounter(ctx, cred.ID, 5, 7, false, now); !errors.Is(errAdvance, ErrLostRace) {
		t.Fatalf("stale advance err = %v, want ErrLostRace", errAdvance)
	}
	loaded, _ := creds.FindByCredentialID(ctx, []byte("cred-1"))
	if loaded.SignCount != 6 || loaded.LastUsedAt == nil {
		t.Fatalf("credential = %+v", loaded)
	}

	if errDelete := creds.Delete(ctx, user.ID+1, cred.ID); !errors.Is(errDelete, ErrNotFound) {
		t.Fatalf("foreign delete err = %v, want ErrNotFound", errDelete)
	}
	if errDelete := creds.Delete(ctx, user.ID, cred.ID); errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}
}
