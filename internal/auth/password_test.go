package auth

import (
	"context"
	"testing"

	"github.com/router-for-me/SchoolAuth/internal/models"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordLogin(t *testing.T) {
	env := setupAuthTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "S-500", "milhouse@springfield.edu", "correct horse", false)

	for _, username := range []string{"S-500", "Milhouse@Springfield.edu"} {
		token, loggedIn, errLogin := env.password.Login(ctx, username, "correct horse")
		if errLogin != nil {
			t.Fatalf("login as %s: %v", username, errLogin)
		}
		if token == "" || loggedIn.ID != user.ID {
			t.Fatalf("unexpected login result for %s", username)
		}
	}

	_, _, errWrong := env.password.Login(ctx, "S-500", "battery staple")
	expectKind(t, errWrong, ErrInvalidCredentials)

	_, _, errUnknown := env.password.Login(ctx, "S-999", "correct horse")
	expectKind(t, errUnknown, ErrInvalidCredentials)

	env.deactivate(t, user)
	_, _, errInactive := env.password.Login(ctx, "S-500", "correct horse")
	expectKind(t, errInactive, ErrPrincipalInactive)
}

func TestPasswordLoginUpgradesWeakHash(t *testing.T) {
	env := setupAuthTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "S-510", "", "correct horse", false)

	weak, errHash := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if errUpdate := env.conn.Model(&models.User{}).Where("id = ?", user.ID).Update("password", string(weak)).Error; errUpdate != nil {
		t.Fatalf("store weak hash: %v", errUpdate)
	}

	if _, _, errLogin := env.password.Login(ctx, "S-510", "correct horse"); errLogin != nil {
		t.Fatalf("login: %v", errLogin)
	}
	reloaded, errFind := env.users.FindByID(ctx, user.ID)
	if errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	cost, errCost := bcrypt.Cost([]byte(reloaded.Password))
	if errCost != nil || cost != 12 {
		t.Fatalf("stored cost = %d, %v; want 12", cost, errCost)
	}
	if _, _, errLogin := env.password.Login(ctx, "S-510", "correct horse"); errLogin != nil {
		t.Fatalf("login after rehash: %v", errLogin)
	}
}
