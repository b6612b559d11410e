package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.Issue(42)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	userID, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if userID != 42 {
		t.Errorf("expected user id 42, got %d", userID)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := NewService("secret-a").Issue(7)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := NewService("secret-b").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	svc := NewService("test-secret")
	svc.AccessTokenDuration = -1 * time.Minute

	token, err := svc.Issue(7)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	svc := NewService("test-secret")
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(tok); err == nil {
			t.Errorf("token %q: expected error, got nil", tok)
		}
	}
}
