package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/birthdayd/internal/confstore"
	"github.com/birthdayd/internal/mailer"
	"github.com/birthdayd/internal/model"
	"github.com/birthdayd/internal/oauth"
	"github.com/birthdayd/internal/store"
)

const maxUploadSize = 16 << 20 // 16MB, photos included

var allowedPhotoExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
}

// Sender delivers one email with the given settings.
type Sender interface {
	Send(ctx context.Context, s model.SMTPSettings, msg mailer.Message) error
}

// DeviceFlow is the part of the OAuth2 broker the handlers drive.
type DeviceFlow interface {
	InitDeviceFlow(ctx context.Context, clientID string) (*oauth.DeviceAuthorization, error)
	PollDeviceFlow(ctx context.Context, clientID, clientSecret, deviceCode string) (oauth.PollResult, error)
}

// Handler carries the dependencies shared by all API endpoints.
type Handler struct {
	BaseHandler

	Birthdays  *store.BirthdayStore
	Config     *confstore.Store
	Mailer     Sender
	OAuth      DeviceFlow
	UploadsDir string

	// Now is replaceable in tests. Defaults to time.Now via New.
	Now func() time.Time
}

func New(birthdays *store.BirthdayStore, config *confstore.Store, sender Sender, flow DeviceFlow, uploadsDir string, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: logger},
		Birthdays:   birthdays,
		Config:      config,
		Mailer:      sender,
		OAuth:       flow,
		UploadsDir:  uploadsDir,
		Now:         time.Now,
	}
}

// ListBirthdays handles GET /api/birthdays.
func (h *Handler) ListBirthdays(w http.ResponseWriter, r *http.Request) {
	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, birthdays, nil)
}

// TodaysBirthdays handles GET /api/birthdays/today.
func (h *Handler) TodaysBirthdays(w http.ResponseWriter, r *http.Request) {
	birthdays, err := h.Birthdays.Today(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, birthdays, nil)
}

// CreateBirthday handles POST /api/birthdays. The body is a multipart form
// so a photo can ride along.
func (h *Handler) CreateBirthday(w http.ResponseWriter, r *http.Request) {
	b, ok := h.parseBirthdayForm(w, r)
	if !ok {
		return
	}

	created, err := h.Birthdays.Create(r.Context(), b, h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, envelope{
		"message": "Birthday added successfully!",
		"id":      created.ID,
	}, nil)
}

// UpdateBirthday handles PUT /api/birthdays/{id}. A newly uploaded photo
// replaces the old one on disk.
func (h *Handler) UpdateBirthday(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.badRequestResponse(w, r, errors.New("invalid birthday id"))
		return
	}

	b, ok := h.parseBirthdayForm(w, r)
	if !ok {
		return
	}
	b.ID = id

	old, err := h.Birthdays.Get(r.Context(), id, h.Now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.serverErrorResponse(w, r, err)
		return
	}

	if _, err := h.Birthdays.Update(r.Context(), b, h.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.notFoundResponse(w, r, "Birthday not found")
			return
		}
		h.serverErrorResponse(w, r, err)
		return
	}

	if old.HasPhoto() && (b.Photo == nil || *b.Photo != *old.Photo) {
		h.removePhotoFile(*old.Photo)
	}
	h.writeJSON(w, http.StatusOK, envelope{"message": "Birthday updated successfully!"}, nil)
}

// DeleteBirthday handles DELETE /api/birthdays/{id}.
func (h *Handler) DeleteBirthday(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.badRequestResponse(w, r, errors.New("invalid birthday id"))
		return
	}

	b, err := h.Birthdays.Get(r.Context(), id, h.Now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.notFoundResponse(w, r, "Birthday not found")
			return
		}
		h.serverErrorResponse(w, r, err)
		return
	}

	if err := h.Birthdays.Delete(r.Context(), id); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	if b.HasPhoto() {
		h.removePhotoFile(*b.Photo)
	}
	h.writeJSON(w, http.StatusOK, envelope{"message": "Birthday deleted successfully!"}, nil)
}

// parseBirthdayForm reads the shared multipart form of the create and update
// endpoints. It writes the error response itself when parsing fails.
func (h *Handler) parseBirthdayForm(w http.ResponseWriter, r *http.Request) (model.Birthday, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.badRequestResponse(w, r, errors.New("form too large or invalid"))
		return model.Birthday{}, false
	}
	defer r.MultipartForm.RemoveAll()

	name := strings.TrimSpace(r.FormValue("name"))
	birthday := strings.TrimSpace(r.FormValue("birthday"))
	if name == "" || birthday == "" {
		h.badRequestResponse(w, r, errors.New("Name and birthday are required"))
		return model.Birthday{}, false
	}
	if _, err := time.Parse(model.DateLayout, birthday); err != nil {
		h.badRequestResponse(w, r, errors.New("Invalid date format. Use YYYY-MM-DD"))
		return model.Birthday{}, false
	}

	b := model.Birthday{Name: name, Birthday: birthday}
	if gender := strings.TrimSpace(r.FormValue("gender")); gender != "" {
		b.Gender = &gender
	}

	if file, header, err := r.FormFile("photo"); err == nil {
		defer file.Close()
		path, err := h.savePhoto(file, header.Filename)
		if err != nil {
			h.badRequestResponse(w, r, err)
			return model.Birthday{}, false
		}
		if path != "" {
			b.Photo = &path
		}
	}
	return b, true
}

// savePhoto stores an uploaded photo under a random-prefixed name and
// returns its public /uploads path. Unsupported extensions are skipped
// silently, matching the permissive upload behavior of the UI.
func (h *Handler) savePhoto(file multipart.File, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedPhotoExts[ext] {
		return "", nil
	}

	prefix := make([]byte, 8)
	if _, err := rand.Read(prefix); err != nil {
		return "", err
	}
	unique := fmt.Sprintf("%s-%s", hex.EncodeToString(prefix), sanitizeFilename(filename))

	if err := os.MkdirAll(h.UploadsDir, 0o700); err != nil {
		return "", err
	}
	dst, err := os.OpenFile(filepath.Join(h.UploadsDir, unique), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", err
	}
	return "/uploads/" + unique, nil
}

// sanitizeFilename keeps only the base name and replaces anything outside a
// conservative character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// removePhotoFile deletes a stored photo given its public /uploads path.
// Failures are logged, not surfaced: the database row is already gone.
func (h *Handler) removePhotoFile(publicPath string) {
	name := strings.TrimPrefix(publicPath, "/uploads/")
	if name == "" || strings.Contains(name, "/") {
		return
	}
	if err := os.Remove(filepath.Join(h.UploadsDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		h.Logger.Warn("uploads: photo cleanup failed", "file", name, "err", err)
	}
}
