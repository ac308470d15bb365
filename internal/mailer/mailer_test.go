package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/birthdayd/internal/apperror"
	"github.com/birthdayd/internal/model"
)

func gmailOAuth2Settings() model.SMTPSettings {
	return model.SMTPSettings{
		SMTPServer:         "smtp.gmail.com",
		SMTPPort:           587,
		SMTPEmail:          "me@gmail.com",
		RecipientEmail:     "you@example.org",
		AuthType:           model.AuthOAuth2,
		GoogleClientID:     "id",
		GoogleClientSecret: "secret",
		GoogleRefreshToken: "1//refresh",
	}
}

func TestUseOAuth2(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.SMTPSettings)
		want   bool
	}{
		{"full gmail credentials", func(s *model.SMTPSettings) {}, true},
		{"non-gmail host", func(s *model.SMTPSettings) { s.SMTPServer = "mail.example.org" }, false},
		{"missing client id", func(s *model.SMTPSettings) { s.GoogleClientID = "" }, false},
		{"missing client secret", func(s *model.SMTPSettings) { s.GoogleClientSecret = "" }, false},
		{"missing refresh token", func(s *model.SMTPSettings) { s.GoogleRefreshToken = "" }, false},
		{"encrypted token counts", func(s *model.SMTPSettings) {
			s.GoogleRefreshToken = ""
			s.GoogleRefreshTokenEncrypted = "ciphertext"
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := gmailOAuth2Settings()
			tc.mutate(&s)
			if got := UseOAuth2(s); got != tc.want {
				t.Errorf("UseOAuth2 = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSendPasswordFailsFastWithoutPassword(t *testing.T) {
	m := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s := gmailOAuth2Settings()
	s.GoogleClientID = "" // force the password path
	s.SMTPPassword = ""

	err := m.Send(context.Background(), s, Message{})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != apperror.CodeAuthFailed {
		t.Errorf("code = %q", appErr.Code)
	}
}

func TestXOAUTH2AuthStart(t *testing.T) {
	mech, payload, err := xoauth2Auth{user: "me@gmail.com", token: "ya29.x"}.Start(nil)
	if err != nil {
		t.Fatal(err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mechanism = %q", mech)
	}
	// net/smtp base64-encodes the initial response, so Start must hand back
	// the raw payload.
	want := "user=me@gmail.com\x01auth=Bearer ya29.x\x01\x01"
	if string(payload) != want {
		t.Errorf("payload = %q, want %q", payload, want)
	}
}

func TestClassifyAuthErr(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		hint    string
		wantApp bool
	}{
		{
			"app password required",
			errors.New("534 5.7.9 Application-specific password required"),
			"App Password", true,
		},
		{
			"invalid second factor",
			errors.New("534-5.7.9 InvalidSecondFactor"),
			"App Password", true,
		},
		{
			"bad credentials",
			errors.New("535 5.7.8 Username and Password not accepted"),
			"credentials", false,
		},
		{
			"generic auth failure",
			errors.New("454 temporary authentication failure"),
			"authentication failed", false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyAuthErr(tc.err)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %T", err)
			}
			if appErr.Code != apperror.CodeAuthFailed {
				t.Errorf("code = %q", appErr.Code)
			}
			if !strings.Contains(appErr.Message, tc.hint) {
				t.Errorf("message %q should mention %q", appErr.Message, tc.hint)
			}
			if !errors.Is(err, tc.err) {
				t.Error("original error must stay wrapped for logging")
			}
		})
	}
}

func TestClassifyProtocolErrTruncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	err := classifyProtocolErr(errors.New(long))
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if len(appErr.Message) > 120 {
		t.Errorf("message not truncated: %d chars", len(appErr.Message))
	}
}

func TestMessageRenderPlain(t *testing.T) {
	msg := Message{
		From:    "me@gmail.com",
		To:      "you@example.org",
		Subject: "Birthday Reminder",
		Body:    "<html><body><h1>Happy Birthday!</h1></body></html>",
	}
	raw, err := msg.Render()
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)

	for _, want := range []string{
		"From: me@gmail.com\r\n",
		"To: you@example.org\r\n",
		"MIME-Version: 1.0\r\n",
		`Content-Type: text/html; charset="utf-8"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered message missing %q", want)
		}
	}

	header, body, ok := strings.Cut(text, "\r\n\r\n")
	if !ok {
		t.Fatal("no header/body separator")
	}
	_ = header
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body, "\r\n", ""))
	if err != nil {
		t.Fatalf("body is not base64: %v", err)
	}
	if !strings.Contains(string(decoded), "Happy Birthday!") {
		t.Errorf("decoded body missing content: %q", decoded)
	}
}

func TestMessageRenderUnicodeSubject(t *testing.T) {
	msg := Message{From: "a@b.co", To: "c@d.co", Subject: "یادەوەری ڕۆژی لەدایکبوون", Body: "<p>hi</p>"}
	raw, err := msg.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "Subject: =?utf-8?") {
		t.Error("non-ASCII subject should be RFC 2047 encoded")
	}
}

func TestMessageRenderInlinePhoto(t *testing.T) {
	photo := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	msg := Message{
		From:      "me@gmail.com",
		To:        "you@example.org",
		Subject:   "Birthday Reminder",
		Body:      `<img src="cid:birthday-photo">`,
		Photo:     photo,
		PhotoName: "portrait.png",
	}
	raw, err := msg.Render()
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)

	if !strings.Contains(text, "Content-Type: multipart/related") {
		t.Error("photo messages must be multipart/related")
	}
	if !strings.Contains(text, "Content-Id: <birthday-photo>") &&
		!strings.Contains(text, "Content-ID: <birthday-photo>") {
		t.Error("photo part must carry the referenced Content-ID")
	}
	if !strings.Contains(text, "Content-Type: image/png") {
		t.Error("photo content type should come from the file extension")
	}
	if !strings.Contains(text, base64.StdEncoding.EncodeToString(photo)) {
		t.Error("photo bytes missing from the rendered message")
	}
}
