package model

import (
	"strings"
	"testing"
	"time"
)

func validAppPassword() SMTPSettings {
	return SMTPSettings{
		SMTPServer:     "smtp.gmail.com",
		SMTPPort:       587,
		SMTPEmail:      "me@gmail.com",
		RecipientEmail: "you@example.org",
		AuthType:       AuthAppPassword,
		SMTPPassword:   strings.Repeat("a", 16),
	}
}

func TestValidateCollectsAllMissingFields(t *testing.T) {
	r := SMTPSettings{AuthType: AuthAppPassword, SMTPPassword: "x"}.Validate()

	wants := []string{"smtpServer", "smtpPort", "smtpEmail", "recipientEmail"}
	for _, field := range wants {
		found := false
		for _, d := range r.Details {
			if strings.Contains(d, field) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a detail mentioning %s, got %v", field, r.Details)
		}
	}
	if r.Valid() {
		t.Error("expected invalid result")
	}
}

func TestValidateUnknownAuthType(t *testing.T) {
	s := validAppPassword()
	s.AuthType = "plain"
	r := s.Validate()
	if r.Valid() {
		t.Fatal("expected invalid result for unknown authType")
	}
	if !strings.Contains(r.Details[0], "authType") {
		t.Errorf("expected authType detail, got %v", r.Details)
	}
}

func TestValidateGmailPortRule(t *testing.T) {
	s := validAppPassword()
	s.SMTPPort = 25
	r := s.Validate()
	if r.Valid() {
		t.Fatal("expected port 25 on Gmail to be invalid")
	}
	found := false
	for _, d := range r.Details {
		if strings.Contains(d, "587") && strings.Contains(d, "465") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected port-specific detail, got %v", r.Details)
	}

	for _, port := range []int{587, 465} {
		s.SMTPPort = port
		if r := s.Validate(); !r.Valid() {
			t.Errorf("port %d on Gmail should pass, got %v", port, r.Details)
		}
	}

	// Non-Gmail hosts can use any valid port.
	s.SMTPServer = "mail.example.org"
	s.SMTPPort = 25
	if r := s.Validate(); !r.Valid() {
		t.Errorf("port 25 on non-Gmail host should pass, got %v", r.Details)
	}
}

func TestValidatePortRange(t *testing.T) {
	s := validAppPassword()
	s.SMTPServer = "mail.example.org"
	for _, port := range []int{-1, 65536, 100000} {
		s.SMTPPort = port
		if r := s.Validate(); r.Valid() {
			t.Errorf("port %d should be invalid", port)
		}
	}
}

func TestValidateEmailFormat(t *testing.T) {
	cases := []struct {
		addr string
		ok   bool
	}{
		{"user@example.org", true},
		{"user@sub.example.org", true},
		{"no-at-sign", false},
		{"user@nodot", false},
		{"@example.org", true}, // loose check by design
	}
	for _, tc := range cases {
		s := validAppPassword()
		s.SMTPEmail = tc.addr
		got := s.Validate().Valid()
		if got != tc.ok {
			t.Errorf("email %q: valid=%v, want %v", tc.addr, got, tc.ok)
		}
	}
}

func TestValidateShortAppPasswordWarnsWithoutFailing(t *testing.T) {
	s := validAppPassword()
	s.SMTPPassword = "short"
	r := s.Validate()
	if !r.Valid() {
		t.Fatalf("short password must warn, not fail: %v", r.Details)
	}
	if len(r.Warnings) == 0 {
		t.Error("expected a short-password warning")
	}

	s.SMTPPassword = strings.Repeat("a", 16)
	if r := s.Validate(); len(r.Warnings) != 0 {
		t.Errorf("16-char password should not warn, got %v", r.Warnings)
	}
}

func TestValidateOAuth2Requirements(t *testing.T) {
	s := SMTPSettings{
		SMTPServer:     "smtp.gmail.com",
		SMTPPort:       587,
		SMTPEmail:      "me@gmail.com",
		RecipientEmail: "you@example.org",
		AuthType:       AuthOAuth2,
	}
	r := s.Validate()
	if r.Valid() {
		t.Fatal("expected invalid: no oauth2 credentials")
	}
	if len(r.Details) != 3 {
		t.Errorf("expected 3 details (clientId, clientSecret, refresh token), got %v", r.Details)
	}

	s.GoogleClientID = "id"
	s.GoogleClientSecret = "secret"
	s.GoogleRefreshTokenEncrypted = "ciphertext"
	if r := s.Validate(); !r.Valid() {
		t.Errorf("encrypted refresh token should satisfy the token rule, got %v", r.Details)
	}
}

func TestIsGmail(t *testing.T) {
	cases := []struct {
		server string
		want   bool
	}{
		{"smtp.gmail.com", true},
		{"SMTP.GMAIL.COM", true},
		{"gmail.com", true},
		{"relay.gmail.com.example", true}, // substring rule, preserved on purpose
		{"smtp.example.org", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsGmail(tc.server); got != tc.want {
			t.Errorf("IsGmail(%q) = %v, want %v", tc.server, got, tc.want)
		}
	}
}

func TestAgeOn(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		birthday string
		want     int
	}{
		{"1990-08-25", 36}, // birthday today
		{"1990-08-26", 35}, // birthday tomorrow
		{"1990-08-24", 36},
		{"2026-01-01", 0},
		{"not-a-date", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := AgeOn(tc.birthday, now); got != tc.want {
			t.Errorf("AgeOn(%q) = %d, want %d", tc.birthday, got, tc.want)
		}
	}
}

func TestRedactedStripsSecrets(t *testing.T) {
	s := validAppPassword()
	s.GoogleClientID = "client-id"
	s.GoogleClientSecret = "client-secret"
	s.GoogleRefreshToken = "plaintext-token"
	s.GoogleRefreshTokenEncrypted = "ciphertext"

	got := s.Redacted()
	if got.SMTPPassword != "" || got.GoogleClientSecret != "" ||
		got.GoogleRefreshToken != "" || got.GoogleRefreshTokenEncrypted != "" {
		t.Errorf("Redacted left secrets behind: %+v", got)
	}
	if got.GoogleClientID != "client-id" {
		t.Error("client ID is public and should survive redaction")
	}
	if got.SMTPServer != s.SMTPServer || got.SMTPPort != s.SMTPPort {
		t.Error("non-secret fields must be preserved")
	}
}
