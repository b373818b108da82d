package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, clock func() time.Time) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "chartfall-test",
		SessionTTL:    10 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing manager: %v", err)
	}
	return manager
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestManager(t, func() time.Time { return now })

	token, expiresIn, err := manager.Issue(Session{Handle: 1001, Name: "alice"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64((10 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	session, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
	if session.Handle != 1001 {
		t.Fatalf("expected handle 1001, got %d", session.Handle)
	}
	if session.Name != "alice" {
		t.Fatalf("expected name alice, got %q", session.Name)
	}
	if session.Admin {
		t.Fatalf("session should not be admin by default")
	}
}

func TestIssueRejectsMissingHandle(t *testing.T) {
	manager := newTestManager(t, time.Now)
	if _, _, err := manager.Issue(Session{Name: "nameless"}); !errors.Is(err, ErrMissingHandle) {
		t.Fatalf("expected ErrMissingHandle, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	manager := newTestManager(t, func() time.Time { return issuedAt })

	token, _, err := manager.Issue(Session{Handle: 1001, Name: "alice"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	later := newTestManager(t, func() time.Time { return issuedAt.Add(time.Hour) })
	if _, err := later.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsForeignIssuer(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	manager := newTestManager(t, func() time.Time { return now })
	token, _, err := manager.Issue(Session{Handle: 77, Name: "bob"})
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	other, err := NewManager(ManagerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "someone-else",
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing manager: %v", err)
	}
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	manager := newTestManager(t, time.Now)
	if _, err := manager.Validate(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := manager.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
