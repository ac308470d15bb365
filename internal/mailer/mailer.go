// Package mailer delivers email over SMTP with either an app password or a
// Gmail XOAUTH2 access token. It drives net/smtp's Client directly so every
// protocol step can be classified into a stable error taxonomy.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"github.com/birthdayd/internal/apperror"
	"github.com/birthdayd/internal/model"
	"github.com/birthdayd/internal/oauth"
	"github.com/birthdayd/internal/redact"
)

const (
	dialTimeout    = 10 * time.Second
	sessionTimeout = 20 * time.Second
)

// TokenSource supplies fresh access tokens for the XOAUTH2 path.
type TokenSource interface {
	FetchAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error)
}

type Mailer struct {
	tokens TokenSource
	logger *slog.Logger
}

func New(tokens TokenSource, logger *slog.Logger) *Mailer {
	return &Mailer{tokens: tokens, logger: logger}
}

// UseOAuth2 reports whether settings select the XOAUTH2 path: a Gmail host
// plus a complete OAuth2 credential set. Anything else falls back to the
// password path.
func UseOAuth2(s model.SMTPSettings) bool {
	return model.IsGmail(s.SMTPServer) &&
		s.GoogleClientID != "" &&
		s.GoogleClientSecret != "" &&
		s.HasRefreshToken()
}

// Send delivers one message using the configured auth mode. Errors are
// already classified; callers can hand them to the HTTP layer as-is.
func (m *Mailer) Send(ctx context.Context, s model.SMTPSettings, msg Message) error {
	if msg.From == "" {
		msg.From = s.SMTPEmail
	}
	if msg.To == "" {
		msg.To = s.RecipientEmail
	}

	var err error
	if UseOAuth2(s) {
		err = m.sendOAuth2(ctx, s, msg)
	} else {
		err = m.sendPassword(ctx, s, msg)
	}
	if err != nil {
		m.logger.Error("mail: send failed",
			"server", s.SMTPServer, "port", s.SMTPPort, "to", msg.To,
			"err", redact.Secrets(err.Error()))
		return err
	}
	m.logger.Info("mail: sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// sendOAuth2 fetches a fresh access token and authenticates with XOAUTH2
// over STARTTLS. Gmail's OAuth2 SMTP endpoint is STARTTLS on 587.
func (m *Mailer) sendOAuth2(ctx context.Context, s model.SMTPSettings, msg Message) error {
	token, err := m.tokens.FetchAccessToken(ctx, s.GoogleClientID, s.GoogleClientSecret, s.GoogleRefreshToken)
	if err != nil {
		return err
	}

	client, err := m.dialStartTLS(s.SMTPServer, s.SMTPPort)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Auth(xoauth2Auth{user: s.SMTPEmail, token: token}); err != nil {
		return classifyAuthErr(err)
	}
	return sendMessage(client, msg)
}

// sendPassword authenticates with PLAIN over either implicit TLS (port 465)
// or STARTTLS (everything else).
func (m *Mailer) sendPassword(_ context.Context, s model.SMTPSettings, msg Message) error {
	if s.SMTPPassword == "" {
		return apperror.NewAuthFailed("SMTP password is not configured.", nil)
	}

	var client *smtp.Client
	var err error
	if s.SMTPPort == 465 {
		client, err = m.dialImplicitTLS(s.SMTPServer, s.SMTPPort)
	} else {
		client, err = m.dialStartTLS(s.SMTPServer, s.SMTPPort)
	}
	if err != nil {
		return err
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.SMTPEmail, s.SMTPPassword, s.SMTPServer)
	if err := client.Auth(auth); err != nil {
		return classifyAuthErr(err)
	}
	return sendMessage(client, msg)
}

func (m *Mailer) dialStartTLS(server string, port int) (*smtp.Client, error) {
	addr := net.JoinHostPort(server, fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, apperror.NewConnectionFailed(err)
	}
	conn.SetDeadline(time.Now().Add(sessionTimeout))

	client, err := smtp.NewClient(conn, server)
	if err != nil {
		conn.Close()
		return nil, apperror.NewConnectionFailed(err)
	}
	if err := client.StartTLS(&tls.Config{ServerName: server, MinVersion: tls.VersionTLS12}); err != nil {
		client.Close()
		return nil, apperror.NewConnectionFailed(err)
	}
	return client, nil
}

func (m *Mailer) dialImplicitTLS(server string, port int) (*smtp.Client, error) {
	addr := net.JoinHostPort(server, fmt.Sprint(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, apperror.NewConnectionFailed(err)
	}
	conn.SetDeadline(time.Now().Add(sessionTimeout))

	tlsConn := tls.Client(conn, &tls.Config{ServerName: server, MinVersion: tls.VersionTLS12})
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, apperror.NewConnectionFailed(err)
	}
	client, err := smtp.NewClient(tlsConn, server)
	if err != nil {
		tlsConn.Close()
		return nil, apperror.NewConnectionFailed(err)
	}
	return client, nil
}

// sendMessage runs the envelope exchange on an authenticated client. Each
// step maps to its own error class.
func sendMessage(client *smtp.Client, msg Message) error {
	if err := client.Mail(msg.From); err != nil {
		return apperror.NewSenderRefused(err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return apperror.NewRecipientRefused(err)
	}

	w, err := client.Data()
	if err != nil {
		return classifyProtocolErr(err)
	}
	raw, err := msg.Render()
	if err != nil {
		return apperror.NewInternal(err)
	}
	if _, err := w.Write(raw); err != nil {
		return classifyProtocolErr(err)
	}
	if err := w.Close(); err != nil {
		return classifyProtocolErr(err)
	}
	return client.Quit()
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism. Start returns the raw
// payload; net/smtp base64-encodes the initial response itself.
type xoauth2Auth struct {
	user  string
	token string
}

func (a xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "XOAUTH2", oauth.XOAUTH2Payload(a.user, a.token), nil
}

func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	// The server only continues the exchange to deliver an error blob. An
	// empty line tells it to finish so the failure surfaces as an auth error.
	if more {
		return []byte(""), nil
	}
	return nil, nil
}
