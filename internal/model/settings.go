package model

import "strings"

// Authentication modes for outgoing mail.
const (
	AuthAppPassword = "app_password"
	AuthOAuth2      = "oauth2"
)

// SMTPSettings is the persisted mail configuration. The plaintext refresh
// token only ever exists in memory: at rest exactly one of GoogleRefreshToken
// and GoogleRefreshTokenEncrypted is set, and it is the encrypted one.
type SMTPSettings struct {
	SMTPServer     string `json:"smtpServer"`
	SMTPPort       int    `json:"smtpPort"`
	SMTPEmail      string `json:"smtpEmail"`
	RecipientEmail string `json:"recipientEmail"`

	AuthType string `json:"authType,omitempty"`

	SMTPPassword string `json:"smtpPassword,omitempty"`

	GoogleClientID              string `json:"googleClientId,omitempty"`
	GoogleClientSecret          string `json:"googleClientSecret,omitempty"`
	GoogleRefreshToken          string `json:"googleRefreshToken,omitempty"`
	GoogleRefreshTokenEncrypted string `json:"googleRefreshTokenEncrypted,omitempty"`
}

// IsZero reports whether no settings have been stored at all.
func (s SMTPSettings) IsZero() bool {
	return s == SMTPSettings{}
}

// HasRefreshToken reports whether a refresh token is available in either
// plaintext or encrypted form.
func (s SMTPSettings) HasRefreshToken() bool {
	return s.GoogleRefreshToken != "" || s.GoogleRefreshTokenEncrypted != ""
}

// Redacted returns a copy safe to hand to API clients: no password, no
// client secret, no refresh token in either form. The client ID is public
// by definition and stays.
func (s SMTPSettings) Redacted() SMTPSettings {
	s.SMTPPassword = ""
	s.GoogleClientSecret = ""
	s.GoogleRefreshToken = ""
	s.GoogleRefreshTokenEncrypted = ""
	return s
}

// IsGmail classifies an SMTP server as Gmail. The substring rule is load
// bearing: both the port validation and OAuth2 eligibility key off it.
func IsGmail(server string) bool {
	server = strings.ToLower(strings.TrimSpace(server))
	return server == "smtp.gmail.com" || strings.Contains(server, "gmail.com")
}
