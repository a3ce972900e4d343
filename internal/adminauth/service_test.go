package adminauth

import (
	"testing"
	"time"

	pkgconfig "github.com/iSundram/gruxi/pkg/config"
)

func testConfig() *pkgconfig.Config {
	return &pkgconfig.Config{
		Auth: pkgconfig.AuthConfig{
			JWTSecret:     "test-secret",
			SessionExpiry: time.Hour,
			BootstrapUser: "admin",
			BootstrapPass: "",
		},
	}
}

func TestNewServiceWithoutBootstrapPasswordStartsEmpty(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, _, err := s.Login("admin", "anything"); err == nil {
		t.Fatal("expected login to fail when no admin has been created")
	}
}

func TestNewServiceSeedsBootstrapAdmin(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.BootstrapPass = "hunter2"
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	token, user, err := s.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || user.Username != "admin" {
		t.Fatalf("unexpected login result: token=%q user=%+v", token, user)
	}
}

func TestCreateAdminRejectsDuplicateUsername(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := s.CreateAdmin("alice", "pw1"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if _, err := s.CreateAdmin("alice", "pw2"); err == nil {
		t.Fatal("expected duplicate username to be rejected")
	}
}

func TestCreateAdminRejectsInvalidUsername(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	for _, username := range []string{"ab", "1admin", ""} {
		if _, err := s.CreateAdmin(username, "pw"); err == nil {
			t.Errorf("expected username %q to be rejected", username)
		}
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := s.CreateAdmin("bob", "correct-password"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if _, _, err := s.Login("bob", "wrong-password"); err == nil {
		t.Fatal("expected login with wrong password to fail")
	}
}

func TestValidateSessionRoundTrip(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := s.CreateAdmin("carol", "pw"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	token, user, err := s.Login("carol", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	session, err := s.ValidateSession(token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if session.AdminUserID != user.ID {
		t.Errorf("session.AdminUserID = %q, want %q", session.AdminUserID, user.ID)
	}
}

func TestValidateSessionRejectsGarbageToken(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := s.ValidateSession("not-a-real-token"); err == nil {
		t.Fatal("expected an invalid token to be rejected")
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	s, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := s.CreateAdmin("dave", "pw"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	token, _, err := s.Login("dave", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := s.ValidateSession(token); err == nil {
		t.Fatal("expected session to be invalid after logout")
	}
	if err := s.Logout(token); err == nil {
		t.Fatal("expected logging out an already-revoked token to fail")
	}
}

func TestValidateSessionExpires(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.SessionExpiry = time.Millisecond
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := s.CreateAdmin("erin", "pw"); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	token, _, err := s.Login("erin", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := s.ValidateSession(token); err == nil {
		t.Fatal("expected expired session to be rejected")
	}
}
