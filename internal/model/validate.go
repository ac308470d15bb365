package model

import (
	"fmt"
	"strings"
)

// ValidationResult collects every rule violation so the caller can show the
// complete list instead of fixing settings one field at a time. Warnings do
// not block saving.
type ValidationResult struct {
	Details  []string `json:"details,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Valid reports whether the settings may be saved.
func (r ValidationResult) Valid() bool {
	return len(r.Details) == 0
}

// Validate checks structural and business rules on submitted SMTP settings.
// It never short-circuits.
func (s SMTPSettings) Validate() ValidationResult {
	var r ValidationResult
	fail := func(format string, args ...any) {
		r.Details = append(r.Details, fmt.Sprintf(format, args...))
	}

	if s.AuthType != AuthAppPassword && s.AuthType != AuthOAuth2 {
		fail("authType must be %q or %q", AuthAppPassword, AuthOAuth2)
	}

	if strings.TrimSpace(s.SMTPServer) == "" {
		fail("Missing required field: smtpServer")
	}
	if s.SMTPPort == 0 {
		fail("Missing required field: smtpPort")
	} else if s.SMTPPort < 1 || s.SMTPPort > 65535 {
		fail("SMTP port must be between 1 and 65535")
	} else if IsGmail(s.SMTPServer) && s.SMTPPort != 587 && s.SMTPPort != 465 {
		fail("Gmail requires port 587 (STARTTLS) or 465 (SSL), got %d", s.SMTPPort)
	}
	if strings.TrimSpace(s.SMTPEmail) == "" {
		fail("Missing required field: smtpEmail")
	} else if !plausibleEmail(s.SMTPEmail) {
		fail("Invalid email format for smtpEmail")
	}
	if strings.TrimSpace(s.RecipientEmail) == "" {
		fail("Missing required field: recipientEmail")
	} else if !plausibleEmail(s.RecipientEmail) {
		fail("Invalid email format for recipientEmail")
	}

	switch s.AuthType {
	case AuthAppPassword:
		if s.SMTPPassword == "" {
			fail("Missing required field: smtpPassword")
		} else if len(strings.TrimSpace(s.SMTPPassword)) < 12 {
			// Gmail App Passwords are 16 characters; anything much shorter
			// is probably an account password, which Gmail rejects.
			r.Warnings = append(r.Warnings, "smtpPassword looks too short for an App Password (16 characters)")
		}
	case AuthOAuth2:
		if s.GoogleClientID == "" {
			fail("Missing required field: googleClientId")
		}
		if s.GoogleClientSecret == "" {
			fail("Missing required field: googleClientSecret")
		}
		if !s.HasRefreshToken() {
			fail("No Gmail refresh token stored. Connect Gmail first.")
		}
	}

	return r
}

// plausibleEmail applies the same loose check the original shipped with:
// an @ and a dot in the domain part.
func plausibleEmail(addr string) bool {
	at := strings.Index(addr, "@")
	if at < 0 {
		return false
	}
	return strings.Contains(addr[at+1:], ".")
}
