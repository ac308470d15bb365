package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/birthdayd/internal/handler"
)

func (app *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	h := app.apiHandler()

	// Uploaded photos
	uploads := http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.config.Paths.UploadsDir)))
	r.Get("/uploads/*", uploads.ServeHTTP)

	// Health check
	r.Get("/health", handler.Health(app.db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/birthdays", h.ListBirthdays)
		r.Post("/birthdays", h.CreateBirthday)
		r.Get("/birthdays/today", h.TodaysBirthdays)
		r.Get("/birthdays/upcoming30", h.Upcoming30)
		r.Put("/birthdays/{id}", h.UpdateBirthday)
		r.Delete("/birthdays/{id}", h.DeleteBirthday)

		r.Get("/config", h.GetConfig)
		r.Post("/config", h.SaveConfig)
		r.Post("/config/reset", h.ResetConfig)

		r.Post("/oauth/device/init", h.DeviceInit)
		r.Post("/oauth/device/poll", h.DevicePoll)

		r.Post("/test-email", h.TestEmail)
		r.Post("/test-reminder", h.TestReminder)

		r.Get("/digest/preview", h.DigestPreview)
		r.Post("/digest/send", h.DigestSend)

		r.Get("/export", h.ExportZip)
		r.Post("/import", h.ImportZip)
		r.Get("/export/csv", h.ExportCSV)
		r.Get("/export/ics", h.ExportICS)
		r.Post("/import/csv", h.ImportCSV)
		r.Post("/import/csv/preview", h.ImportCSVPreview)
	})

	return r
}
