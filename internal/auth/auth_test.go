package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

type memAdmins map[string]*database.Admin

func (m memAdmins) GetAdminByEmail(email string) (*database.Admin, error) {
	return m[email], nil
}

func newAdmins(t *testing.T) memAdmins {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	return memAdmins{
		"root@example.com": {ID: 1, Email: "root@example.com", PasswordHash: hash, IsSuperAdmin: true},
	}
}

func TestCheckBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		secret string
		ok     bool
	}{
		{"match", "Bearer s3cret", "s3cret", true},
		{"wrong secret", "Bearer nope", "s3cret", false},
		{"missing scheme", "s3cret", "s3cret", false},
		{"empty header", "", "s3cret", false},
		{"unset secret", "Bearer ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBearer(tt.header, tt.secret)
			if tt.ok && err != nil {
				t.Errorf("expected ok, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	for _, s := range []string{"a@b.co", "reporter@news.example.kr"} {
		if !ValidEmail(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []string{"", "plain", "a@b", "a b@c.d"} {
		if ValidEmail(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestHashPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected error for short password")
	}
}

func TestLoginAndVerify(t *testing.T) {
	iss := NewIssuer("jwt-secret", time.Hour)
	token, admin, err := iss.Login(newAdmins(t), "root@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if admin.ID != 1 {
		t.Errorf("expected admin 1, got %d", admin.ID)
	}

	claims, err := iss.Verify("Bearer " + token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Email != "root@example.com" || !claims.IsSuperAdmin {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if err := RequireSuper(claims); err != nil {
		t.Errorf("expected superadmin, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	iss := NewIssuer("jwt-secret", time.Hour)
	admins := newAdmins(t)

	if _, _, err := iss.Login(admins, "root@example.com", "wrong-password"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for wrong password, got %v", err)
	}
	if _, _, err := iss.Login(admins, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for unknown admin, got %v", err)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	iss := NewIssuer("jwt-secret", time.Minute)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return start }

	token, err := iss.Sign(&database.Admin{ID: 2, Email: "ed@example.com"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	iss.now = func() time.Time { return start.Add(2 * time.Minute) }
	if _, err := iss.Verify("Bearer " + token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}

	other := NewIssuer("other-secret", time.Hour)
	other.now = func() time.Time { return start }
	if _, err := other.Verify("Bearer " + token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected foreign token to be rejected, got %v", err)
	}
}

func TestRequireSuperForbidsRegularAdmin(t *testing.T) {
	if err := RequireSuper(&Claims{Email: "ed@example.com"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if err := RequireSuper(nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for nil claims, got %v", err)
	}
}

func TestUnconfiguredIssuer(t *testing.T) {
	iss := NewIssuer("", time.Hour)
	if iss.IsConfigured() {
		t.Error("expected unconfigured issuer")
	}
	if _, err := iss.Verify("Bearer anything"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestOTPSender(t *testing.T) {
	var got map[string]any
	var apikey, redirect string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/otp" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		apikey = r.Header.Get("apikey")
		redirect = r.URL.Query().Get("redirect_to")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	s := NewOTPSender(srv.URL+"/", "anon-key", "https://app.example.com/welcome")
	if err := s.SendLink(context.Background(), "a@b.co", true); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if apikey != "anon-key" {
		t.Errorf("expected apikey header, got %q", apikey)
	}
	if redirect != "https://app.example.com/welcome" {
		t.Errorf("unexpected redirect %q", redirect)
	}
	if got["email"] != "a@b.co" || got["create_user"] != true {
		t.Errorf("unexpected body: %v", got)
	}
}

func TestOTPSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewOTPSender(srv.URL, "k", "")
	if err := s.SendLink(context.Background(), "a@b.co", false); err == nil {
		t.Error("expected error from provider")
	}
}

func TestNewLinkSenderFallsBackToLog(t *testing.T) {
	if _, ok := NewLinkSender("otp", "", "", "").(LogSender); !ok {
		t.Error("expected LogSender without a provider URL")
	}
	if _, ok := NewLinkSender("otp", "https://id.example.com", "k", "").(*OTPSender); !ok {
		t.Error("expected OTPSender")
	}
}
