package mailer

import (
	"strings"

	"github.com/birthdayd/internal/apperror"
)

// classifyAuthErr turns an AUTH-step failure into the taxonomy. Gmail's
// distinctive rejection strings get a remediation hint attached.
func classifyAuthErr(err error) error {
	text := err.Error()

	if strings.Contains(text, "Application-specific password required") ||
		strings.Contains(text, "InvalidSecondFactor") {
		return apperror.NewAuthFailed(
			"Gmail requires an App Password when 2-step verification is on. "+
				"Create one at https://myaccount.google.com/apppasswords.", err)
	}
	if strings.HasPrefix(text, "534") || strings.HasPrefix(text, "535") ||
		strings.Contains(text, "Username and Password not accepted") ||
		strings.Contains(text, "Invalid credentials") {
		return apperror.NewAuthFailed(
			"SMTP authentication failed. Check your email and credentials.", err)
	}
	return apperror.NewAuthFailed("SMTP authentication failed.", err)
}

// classifyProtocolErr is the catch-all for DATA-phase and other protocol
// failures.
func classifyProtocolErr(err error) error {
	return apperror.NewSMTPError(err.Error(), err)
}
