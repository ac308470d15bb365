package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/birthdayd/internal/apperror"
	"github.com/birthdayd/internal/mailer"
	"github.com/birthdayd/internal/model"
	"github.com/birthdayd/internal/oauth"
	"github.com/birthdayd/internal/reminder"
)

// GetConfig handles GET /api/config. The response never carries the
// password, the client secret or the refresh token in either form.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	settings := h.Config.SMTPSettings()
	h.writeJSON(w, http.StatusOK, settings.Redacted(), nil)
}

// SaveConfig handles POST /api/config. Settings are validated as a whole;
// all violations come back in one response. A stored refresh token survives
// a config save that does not carry one, so re-saving settings does not
// disconnect Gmail.
func (h *Handler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var settings model.SMTPSettings
	if err := h.readJSON(w, r, &settings); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	if !settings.HasRefreshToken() {
		if existing := h.Config.SMTPSettings(); existing.GoogleRefreshToken != "" {
			settings.GoogleRefreshToken = existing.GoogleRefreshToken
		}
	}

	result := settings.Validate()
	if !result.Valid() {
		h.appErrorResponse(w, r, apperror.NewInvalidConfig(result.Details))
		return
	}

	if err := h.Config.SaveSMTPSettings(settings); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	env := envelope{"message": "Configuration saved successfully!"}
	if len(result.Warnings) > 0 {
		env["warnings"] = result.Warnings
	}
	h.writeJSON(w, http.StatusOK, env, nil)
}

// ResetConfig handles POST /api/config/reset.
func (h *Handler) ResetConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.Config.Reset(); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{"message": "Configuration reset successfully!"}, nil)
}

// DeviceInit handles POST /api/oauth/device/init. The device code goes to
// the client, which drives the poll loop.
func (h *Handler) DeviceInit(w http.ResponseWriter, r *http.Request) {
	settings := h.Config.SMTPSettings()
	if settings.GoogleClientID == "" || settings.GoogleClientSecret == "" {
		h.badRequestResponse(w, r, errors.New(
			"Google Client ID and Secret must be configured first. Please enter them in SMTP Settings."))
		return
	}

	auth, err := h.OAuth.InitDeviceFlow(r.Context(), settings.GoogleClientID)
	if err != nil {
		h.logError(r, err)
		h.errorResponse(w, r, http.StatusInternalServerError,
			fmt.Sprintf("Failed to initialize device flow: %v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, auth, nil)
}

type devicePollRequest struct {
	DeviceCode string `json:"device_code"`
}

// DevicePoll handles POST /api/oauth/device/poll. On success the refresh
// token is persisted encrypted and only a confirmation leaves the server.
func (h *Handler) DevicePoll(w http.ResponseWriter, r *http.Request) {
	var req devicePollRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.badRequestResponse(w, r, err)
		return
	}
	if req.DeviceCode == "" {
		h.badRequestResponse(w, r, errors.New("device_code is required"))
		return
	}

	settings := h.Config.SMTPSettings()
	if settings.GoogleClientID == "" || settings.GoogleClientSecret == "" {
		h.badRequestResponse(w, r, errors.New("Google Client ID and Secret must be configured"))
		return
	}

	result, err := h.OAuth.PollDeviceFlow(r.Context(), settings.GoogleClientID, settings.GoogleClientSecret, req.DeviceCode)
	if err != nil {
		h.logError(r, err)
		h.errorResponse(w, r, http.StatusInternalServerError, "Device flow poll failed")
		return
	}

	switch result.Status {
	case oauth.StatusPending, oauth.StatusSlowDown:
		h.writeJSON(w, http.StatusOK, envelope{"status": result.Status, "message": result.Message}, nil)
	case oauth.StatusExpired:
		h.writeJSON(w, http.StatusBadRequest, envelope{"status": result.Status, "error": result.Message}, nil)
	case oauth.StatusSuccess:
		settings.GoogleRefreshToken = result.RefreshToken
		if err := h.Config.SaveSMTPSettings(settings); err != nil {
			h.serverErrorResponse(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, envelope{
			"status":  oauth.StatusSuccess,
			"message": "Gmail OAuth2 connected successfully!",
		}, nil)
	default:
		h.writeJSON(w, http.StatusBadRequest, envelope{"status": oauth.StatusError, "error": result.Message}, nil)
	}
}

// TestEmail handles POST /api/test-email: one plain message through the
// configured auth path.
func (h *Handler) TestEmail(w http.ResponseWriter, r *http.Request) {
	settings, ok := h.requireSettings(w, r)
	if !ok {
		return
	}

	msg := mailer.Message{
		Subject: "Birthday Manager - SMTP test",
		Body:    "<p>SMTP is working.</p>",
	}
	if err := h.Mailer.Send(r.Context(), settings, msg); err != nil {
		h.appErrorResponse(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{"message": "Test email sent successfully!"}, nil)
}

// TestReminder handles POST /api/test-reminder: one reminder per birthday
// today. A failure for one person does not stop the rest; the response
// reports how many went out.
func (h *Handler) TestReminder(w http.ResponseWriter, r *http.Request) {
	settings, ok := h.requireSettings(w, r)
	if !ok {
		return
	}

	birthdays, err := h.Birthdays.Today(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	if len(birthdays) == 0 {
		h.writeJSON(w, http.StatusOK, envelope{"message": "No birthdays today"}, nil)
		return
	}

	sent := 0
	for _, b := range birthdays {
		msg := mailer.Message{
			Subject: reminder.Subject(b),
			Body:    reminder.Body(b, b.HasPhoto()),
		}
		if b.HasPhoto() {
			if photo, name, err := h.readPhoto(*b.Photo); err == nil {
				msg.Photo = photo
				msg.PhotoName = name
			} else {
				msg.Body = reminder.Body(b, false)
			}
		}
		if err := h.Mailer.Send(r.Context(), settings, msg); err != nil {
			h.Logger.Error("reminder send failed", "name", b.Name, "err", err)
			continue
		}
		sent++
	}
	h.writeJSON(w, http.StatusOK, envelope{
		"message": fmt.Sprintf("Test reminder emails sent for %d birthday(s)", sent),
	}, nil)
}

// Upcoming30 handles GET /api/birthdays/upcoming30: the next 30 days
// grouped by the weekday of each occurrence.
func (h *Handler) Upcoming30(w http.ResponseWriter, r *http.Request) {
	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	upcoming := reminder.Upcoming(birthdays, h.Now(), 30)
	h.writeJSON(w, http.StatusOK, reminder.GroupByWeekday(upcoming), nil)
}

// DigestPreview handles GET /api/digest/preview?days=N.
func (h *Handler) DigestPreview(w http.ResponseWriter, r *http.Request) {
	days := queryDays(r, 7)
	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	upcoming := reminder.Upcoming(birthdays, h.Now(), days)
	h.writeJSON(w, http.StatusOK, envelope{
		"upcoming":    upcoming,
		"count":       len(upcoming),
		"period_days": days,
	}, nil)
}

type digestSendRequest struct {
	Days int `json:"days"`
}

// DigestSend handles POST /api/digest/send.
func (h *Handler) DigestSend(w http.ResponseWriter, r *http.Request) {
	settings, ok := h.requireSettings(w, r)
	if !ok {
		return
	}

	req := digestSendRequest{Days: 7}
	if r.ContentLength > 0 {
		if err := h.readJSON(w, r, &req); err != nil {
			h.badRequestResponse(w, r, err)
			return
		}
		if req.Days <= 0 {
			req.Days = 7
		}
	}

	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	upcoming := reminder.Upcoming(birthdays, h.Now(), req.Days)
	if len(upcoming) == 0 {
		h.writeJSON(w, http.StatusOK, envelope{"message": "No upcoming birthdays in the selected period"}, nil)
		return
	}

	msg := mailer.Message{
		Subject: reminder.DigestSubject(req.Days),
		Body:    reminder.DigestBody(upcoming),
	}
	if err := h.Mailer.Send(r.Context(), settings, msg); err != nil {
		h.appErrorResponse(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{
		"message": fmt.Sprintf("Digest sent successfully with %d birthdays", len(upcoming)),
		"count":   len(upcoming),
	}, nil)
}

// requireSettings loads the stored SMTP settings and rejects the request
// when nothing is configured.
func (h *Handler) requireSettings(w http.ResponseWriter, r *http.Request) (model.SMTPSettings, bool) {
	settings := h.Config.SMTPSettings()
	if settings.IsZero() {
		h.badRequestResponse(w, r, errors.New("SMTP settings are not configured"))
		return model.SMTPSettings{}, false
	}
	return settings, true
}

// readPhoto loads a stored photo by its public /uploads path.
func (h *Handler) readPhoto(publicPath string) ([]byte, string, error) {
	name := strings.TrimPrefix(publicPath, "/uploads/")
	if name == "" || strings.Contains(name, "/") {
		return nil, "", errors.New("invalid photo path")
	}
	data, err := os.ReadFile(filepath.Join(h.UploadsDir, name))
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

func queryDays(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return fallback
	}
	var days int
	if _, err := fmt.Sscanf(raw, "%d", &days); err != nil || days <= 0 {
		return fallback
	}
	return days
}
