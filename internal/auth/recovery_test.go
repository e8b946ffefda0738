package auth

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/router-for-me/SchoolAuth/internal/events"
)

func TestRecoveryScenario(t *testing.T) {
	env := setupAuthTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "S-300", "lisa@springfield.edu", "pw", false)

	codes, errGenerate := env.recovery.Generate(ctx, user)
	if errGenerate != nil {
		t.Fatalf("generate: %v", errGenerate)
	}
	if len(codes) != 10 {
		t.Fatalf("generated %d codes, want 10", len(codes))
	}

	token, redeemed, errRedeem := env.recovery.Redeem(ctx, "lisa@springfield.edu", codes[0])
	if errRedeem != nil {
		t.Fatalf("redeem c1: %v", errRedeem)
	}
	if token == "" || redeemed.ID != user.ID {
		t.Fatalf("unexpected redeem result: %q %+v", token, redeemed)
	}

	_, _, errAgain := env.recovery.Redeem(ctx, "lisa@springfield.edu", codes[0])
	expectKind(t, errAgain, ErrCodeAlreadyUsed)

	// Codes are case-insensitive and separators are optional.
	relaxed := strings.ToLower(strings.ReplaceAll(codes[1], "-", " "))
	if _, _, errRedeem := env.recovery.Redeem(ctx, "lisa@springfield.edu", relaxed); errRedeem != nil {
		t.Fatalf("redeem c2: %v", errRedeem)
	}

	if got := len(env.events.ofType(events.TypeRecoveryCodeRedeemed)); got != 2 {
		t.Fatalf("redeemed events = %d, want 2", got)
	}
	if got := len(env.events.ofType(events.TypeRecoveryCodeReused)); got != 1 {
		t.Fatalf("reused events = %d, want 1", got)
	}
	remaining, errCount := env.codes.CountUnused(ctx, user.ID)
	if errCount != nil || remaining != 8 {
		t.Fatalf("remaining = %d, %v; want 8", remaining, errCount)
	}
}

func TestRecoveryGenerateReplacesPreviousBatch(t *testing.T) {
	env := setupAuthTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "S-301", "", "pw", false)

	first, errFirst := env.recovery.Generate(ctx, user)
	if errFirst != nil {
		t.Fatalf("generate: %v", errFirst)
	}
	second, errSecond := env.recovery.Generate(ctx, user)
	if errSecond != nil {
		t.Fatalf("regenerate: %v", errSecond)
	}

	remaining, errCount := env.codes.CountUnused(ctx, user.ID)
	if errCount != nil || remaining != int64(len(second)) {
		t.Fatalf("unused = %d, %v; want %d", remaining, errCount, len(second))
	}
	for _, code := range first {
		_, _, errRedeem := env.recovery.Redeem(ctx, "S-301", code)
		expectKind(t, errRedeem, ErrInvalidCode)
	}
}

func TestRecoveryRedeemErrors(t *testing.T) {
	env := setupAuthTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "S-302", "", "pw", false)
	env.createUser(t, "S-303", "", "pw", false)

	codes, errGenerate := env.recovery.Generate(ctx, user)
	if errGenerate != nil {
		t.Fatalf("generate: %v", errGenerate)
	}

	_, _, errUnknown := env.recovery.Redeem(ctx, "nobody@springfield.edu", codes[0])
	expectKind(t, errUnknown, ErrUserNotFound)

	_, _, errMalformed := env.recovery.Redeem(ctx, "S-302", "not-a-code")
	expectKind(t, errMalformed, ErrInvalidCode)

	// A code only works for the principal it was issued to.
	_, _, errOther := env.recovery.Redeem(ctx, "S-303", codes[0])
	expectKind(t, errOther, ErrInvalidCode)

	env.deactivate(t, user)
	_, _, errInactive := env.recovery.Redeem(ctx, "S-302", codes[0])
	expectKind(t, errInactive, ErrPrincipalInactive)

	remaining, errCount := env.codes.CountUnused(ctx, user.ID)
	if errCount != nil || remaining != 10 {
		t.Fatalf("inactive redeem consumed a code: remaining=%d, %v", remaining, errCount)
	}
}

func TestRecoveryConcurrentRedeemHasOneWinner(t *testing.T) {
	env := setupAuthTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "S-304", "", "pw", false)

	codes, errGenerate := env.recovery.Generate(ctx, user)
	if errGenerate != nil {
		t.Fatalf("generate: %v", errGenerate)
	}

	const attempts = 5
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = env.recovery.Redeem(ctx, "S-304", codes[3])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		expectKind(t, err, ErrCodeAlreadyUsed)
	}
	if wins != 1 {
		t.Fatalf("redeem winners = %d, want 1", wins)
	}
}
