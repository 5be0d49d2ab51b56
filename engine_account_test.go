package authvault

import (
	"context"
	"errors"
	"testing"
)

func TestEmailChangeFlow(t *testing.T) {
	engine, users, mailer := newTestEngine(t, nil)
	ctx := context.Background()

	userID := seedUser(t, engine, users, "alice", "alice@example.com", "correct horse")

	if err := engine.RequestEmailChange(ctx, userID, "alice@new.example.com"); err != nil {
		t.Fatalf("RequestEmailChange: %v", err)
	}

	// The token goes to the address being claimed, and the primary email is
	// untouched until confirmation.
	last := mailer.sent[len(mailer.sent)-1]
	if last.To != "alice@new.example.com" {
		t.Fatalf("token mailed to %q, want the new address", last.To)
	}
	user, err := users.GetUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("primary email changed prematurely to %q", user.Email)
	}
	if user.PendingEmail != "alice@new.example.com" {
		t.Fatalf("pending email = %q", user.PendingEmail)
	}

	tok := mailer.lastToken(t, PurposeEmailChange)
	if err := engine.ConfirmEmailChange(ctx, tok); err != nil {
		t.Fatalf("ConfirmEmailChange: %v", err)
	}

	user, err = users.GetUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.Email != "alice@new.example.com" {
		t.Fatalf("email = %q after confirmation", user.Email)
	}
	if user.PendingEmail != "" {
		t.Fatalf("pending email should be cleared, got %q", user.PendingEmail)
	}

	if _, err := engine.Login(ctx, "alice@new.example.com", "correct horse", DeviceInfo{}); err != nil {
		t.Fatalf("Login with new email: %v", err)
	}
}

func TestEmailChangeRejectsTakenAddress(t *testing.T) {
	engine, users, _ := newTestEngine(t, nil)
	ctx := context.Background()

	aliceID := seedUser(t, engine, users, "alice", "alice@example.com", "correct horse")
	seedUser(t, engine, users, "bob", "bob@example.com", "correct horse")

	if err := engine.RequestEmailChange(ctx, aliceID, "bob@example.com"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if err := engine.RequestEmailChange(ctx, aliceID, "alice@example.com"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unchanged address, got %v", err)
	}
}

func TestEmailChangeDuplicateAtConfirm(t *testing.T) {
	engine, users, mailer := newTestEngine(t, nil)
	ctx := context.Background()

	aliceID := seedUser(t, engine, users, "alice", "alice@example.com", "correct horse")

	if err := engine.RequestEmailChange(ctx, aliceID, "shared@example.com"); err != nil {
		t.Fatalf("RequestEmailChange: %v", err)
	}
	tok := mailer.lastToken(t, PurposeEmailChange)

	// Someone else claims the address while the token is in flight.
	seedUser(t, engine, users, "bob", "shared@example.com", "correct horse")

	if err := engine.ConfirmEmailChange(ctx, tok); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists at confirm, got %v", err)
	}

	user, err := users.GetUserByID(ctx, aliceID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email = %q, must be unchanged", user.Email)
	}
}

func TestAccountDeletionFlow(t *testing.T) {
	engine, users, mailer := newTestEngine(t, nil)
	ctx := context.Background()

	userID := seedUser(t, engine, users, "alice", "alice@example.com", "correct horse")

	login, err := engine.Login(ctx, "alice", "correct horse", DeviceInfo{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := engine.RequestAccountDeletion(ctx, userID); err != nil {
		t.Fatalf("RequestAccountDeletion: %v", err)
	}

	// Nothing happens until the token is redeemed.
	if _, err := users.GetUserByID(ctx, userID); err != nil {
		t.Fatalf("account deleted before confirmation: %v", err)
	}

	tok := mailer.lastToken(t, PurposeAccountDeletion)
	if err := engine.ConfirmAccountDeletion(ctx, tok); err != nil {
		t.Fatalf("ConfirmAccountDeletion: %v", err)
	}

	if _, err := users.GetUserByID(ctx, userID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := engine.ValidateSession(ctx, login.SessionToken); err == nil {
		t.Fatal("sessions must not survive account deletion")
	}
	if _, err := engine.Login(ctx, "alice", "correct horse", DeviceInfo{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAccountDeletionUnknownUser(t *testing.T) {
	engine, _, _ := newTestEngine(t, nil)

	if err := engine.RequestAccountDeletion(context.Background(), "no-such-user"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestVerificationTokenPurposeIsEnforced(t *testing.T) {
	engine, users, mailer := newTestEngine(t, nil)
	ctx := context.Background()

	userID := seedUser(t, engine, users, "alice", "alice@example.com", "correct horse")

	if err := engine.RequestAccountDeletion(ctx, userID); err != nil {
		t.Fatalf("RequestAccountDeletion: %v", err)
	}
	deletionToken := mailer.lastToken(t, PurposeAccountDeletion)

	// A deletion token cannot confirm an email verification.
	if err := engine.ConfirmEmailVerification(ctx, deletionToken); !errors.Is(err, ErrVerificationTypeMismatch) {
		t.Fatalf("expected ErrVerificationTypeMismatch, got %v", err)
	}

	// The mismatch did not spend the token.
	if err := engine.ConfirmAccountDeletion(ctx, deletionToken); err != nil {
		t.Fatalf("ConfirmAccountDeletion after mismatch: %v", err)
	}
}
