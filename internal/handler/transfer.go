package handler

import (
	"archive/zip"
	"bytes"
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/birthdayd/internal/model"
)

// exportEntry is one birthday in the ZIP's birthdays.json. Age is derived,
// so it never travels.
type exportEntry struct {
	Name     string  `json:"name"`
	Birthday string  `json:"birthday"`
	Gender   *string `json:"gender"`
	Photo    *string `json:"photo"`
}

// ExportZip handles GET /api/export: birthdays.json plus every referenced
// photo under images/ in one ZIP.
func (h *Handler) ExportZip(w http.ResponseWriter, r *http.Request) {
	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	entries := make([]exportEntry, 0, len(birthdays))
	for _, b := range birthdays {
		entries = append(entries, exportEntry{Name: b.Name, Birthday: b.Birthday, Gender: b.Gender, Photo: b.Photo})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	f, err := zw.Create("birthdays.json")
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	for _, b := range birthdays {
		if !b.HasPhoto() {
			continue
		}
		data, name, err := h.readPhoto(*b.Photo)
		if err != nil {
			continue
		}
		img, err := zw.Create(path.Join("images", name))
		if err != nil {
			h.serverErrorResponse(w, r, err)
			return
		}
		if _, err := img.Write(data); err != nil {
			h.serverErrorResponse(w, r, err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	filename := fmt.Sprintf("birthdays_export_%s.zip", h.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Write(buf.Bytes())
}

// ImportZip handles POST /api/import. Form field "file" holds the ZIP;
// "replace" wipes existing rows first.
func (h *Handler) ImportZip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.badRequestResponse(w, r, errors.New("form too large or invalid"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.badRequestResponse(w, r, errors.New("No file provided"))
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		h.badRequestResponse(w, r, errors.New("File must be a ZIP file"))
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		h.badRequestResponse(w, r, errors.New("invalid ZIP file"))
		return
	}

	entries, images, err := readArchive(zr)
	if err != nil {
		h.badRequestResponse(w, r, err)
		return
	}

	replace := strings.EqualFold(r.FormValue("replace"), "true")

	imported, skipped := 0, 0
	importErrors := []string{}
	rows := []model.Birthday{}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		birthday := strings.TrimSpace(e.Birthday)
		if name == "" || birthday == "" {
			skipped++
			importErrors = append(importErrors, "Skipped entry: missing name or birthday")
			continue
		}
		if _, err := time.Parse(model.DateLayout, birthday); err != nil {
			skipped++
			importErrors = append(importErrors, fmt.Sprintf("Skipped %s: invalid date format", name))
			continue
		}

		b := model.Birthday{Name: name, Birthday: birthday, Gender: e.Gender}
		if e.Photo != nil && *e.Photo != "" {
			if stored, err := h.storeImportedPhoto(images, *e.Photo); err == nil && stored != "" {
				b.Photo = &stored
			}
		}
		rows = append(rows, b)
		imported++
	}

	if replace {
		err = h.Birthdays.ReplaceAll(r.Context(), rows)
	} else {
		err = h.Birthdays.InsertAll(r.Context(), rows)
	}
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	env := envelope{
		"message":  fmt.Sprintf("Import completed: %d imported, %d skipped", imported, skipped),
		"imported": imported,
		"skipped":  skipped,
	}
	if len(importErrors) > 0 {
		env["errors"] = firstN(importErrors, 10)
	}
	h.writeJSON(w, http.StatusOK, env, nil)
}

// readArchive extracts the birthday list and the image blobs from an export
// ZIP. Images are keyed by base filename.
func readArchive(zr *zip.Reader) ([]exportEntry, map[string][]byte, error) {
	var entries []exportEntry
	images := map[string][]byte{}
	found := false

	for _, f := range zr.File {
		name := path.Clean(f.Name)
		if strings.HasPrefix(name, "..") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxUploadSize))
		rc.Close()
		if err != nil {
			return nil, nil, err
		}

		switch {
		case name == "birthdays.json":
			if err := json.Unmarshal(data, &entries); err != nil {
				return nil, nil, errors.New("birthdays.json is not valid JSON")
			}
			found = true
		case strings.HasPrefix(name, "images/"):
			images[path.Base(name)] = data
		}
	}
	if !found {
		return nil, nil, errors.New("birthdays.json not found in import file")
	}
	return entries, images, nil
}

// storeImportedPhoto writes an archived image into the uploads directory
// under a fresh random-prefixed name and returns its public path.
func (h *Handler) storeImportedPhoto(images map[string][]byte, original string) (string, error) {
	data, ok := images[path.Base(original)]
	if !ok {
		return "", nil
	}
	prefix := make([]byte, 8)
	if _, err := rand.Read(prefix); err != nil {
		return "", err
	}
	unique := fmt.Sprintf("%s-%s", hex.EncodeToString(prefix), sanitizeFilename(path.Base(original)))
	if err := os.MkdirAll(h.UploadsDir, 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(h.UploadsDir, unique), data, 0o600); err != nil {
		return "", err
	}
	return "/uploads/" + unique, nil
}

var csvHeader = []string{"Name", "Birthday", "Age", "Gender", "Photo"}

// ExportCSV handles GET /api/export/csv.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write(csvHeader)
	for _, b := range birthdays {
		cw.Write([]string{
			b.Name,
			b.Birthday,
			strconv.Itoa(b.Age),
			strDeref(b.Gender),
			strDeref(b.Photo),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	filename := fmt.Sprintf("birthdays_export_%s.csv", h.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Write(buf.Bytes())
}

// ExportICS handles GET /api/export/ics: one yearly-recurring VEVENT per
// birthday.
func (h *Handler) ExportICS(w http.ResponseWriter, r *http.Request) {
	birthdays, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	var sb strings.Builder
	sb.WriteString("BEGIN:VCALENDAR\r\n")
	sb.WriteString("VERSION:2.0\r\n")
	sb.WriteString("PRODID:-//Birthday Manager//EN\r\n")
	sb.WriteString("CALSCALE:GREGORIAN\r\n")
	for _, b := range birthdays {
		born, err := time.Parse(model.DateLayout, b.Birthday)
		if err != nil {
			continue
		}
		sb.WriteString("BEGIN:VEVENT\r\n")
		fmt.Fprintf(&sb, "UID:birthday-%d@birthday-manager\r\n", b.ID)
		fmt.Fprintf(&sb, "DTSTART;VALUE=DATE:%s\r\n", born.Format("20060102"))
		sb.WriteString("RRULE:FREQ=YEARLY\r\n")
		fmt.Fprintf(&sb, "SUMMARY:%s's Birthday (%d years old)\r\n", icsEscape(b.Name), b.Age)
		fmt.Fprintf(&sb, "DESCRIPTION:Happy Birthday to %s!\r\n", icsEscape(b.Name))
		sb.WriteString("END:VEVENT\r\n")
	}
	sb.WriteString("END:VCALENDAR\r\n")

	filename := fmt.Sprintf("birthdays_export_%s.ics", h.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/calendar")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	io.WriteString(w, sb.String())
}

// csvRow is one parsed CSV import line.
type csvRow struct {
	Name     string  `json:"name"`
	Birthday string  `json:"birthday"`
	Gender   *string `json:"gender"`
	Photo    *string `json:"photo"`
}

// ImportCSVPreview handles POST /api/import/csv/preview: classifies rows as
// new, duplicate or invalid without touching the database.
func (h *Handler) ImportCSVPreview(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.parseCSVUpload(w, r)
	if !ok {
		return
	}

	existing, err := h.Birthdays.All(r.Context(), h.Now())
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}
	existingNames := map[string]bool{}
	for _, b := range existing {
		existingNames[strings.ToLower(strings.TrimSpace(b.Name))] = true
	}

	newEntries := []csvRow{}
	duplicates := []csvRow{}
	invalid := []csvRow{}
	for _, row := range rows {
		switch {
		case row.Name == "" || row.Birthday == "":
			invalid = append(invalid, row)
		case existingNames[strings.ToLower(row.Name)]:
			duplicates = append(duplicates, row)
		default:
			newEntries = append(newEntries, row)
		}
	}

	h.writeJSON(w, http.StatusOK, envelope{
		"preview": envelope{
			"total":      len(rows),
			"new":        len(newEntries),
			"duplicates": len(duplicates),
			"invalid":    len(invalid),
		},
		"new_entries": firstN(newEntries, 10),
		"duplicates":  firstN(duplicates, 10),
		"invalid":     firstN(invalid, 10),
	}, nil)
}

// ImportCSV handles POST /api/import/csv. Photos never travel via CSV.
func (h *Handler) ImportCSV(w http.ResponseWriter, r *http.Request) {
	rows, ok := h.parseCSVUpload(w, r)
	if !ok {
		return
	}

	imported, skipped := 0, 0
	importErrors := []string{}
	valid := []model.Birthday{}
	for _, row := range rows {
		if row.Name == "" || row.Birthday == "" {
			skipped++
			continue
		}
		if _, err := time.Parse(model.DateLayout, row.Birthday); err != nil {
			skipped++
			importErrors = append(importErrors, fmt.Sprintf("Invalid date for %s", row.Name))
			continue
		}
		valid = append(valid, model.Birthday{Name: row.Name, Birthday: row.Birthday, Gender: row.Gender})
		imported++
	}

	var err error
	if strings.EqualFold(r.FormValue("replace"), "true") {
		err = h.Birthdays.ReplaceAll(r.Context(), valid)
	} else {
		err = h.Birthdays.InsertAll(r.Context(), valid)
	}
	if err != nil {
		h.serverErrorResponse(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope{
		"message":  fmt.Sprintf("Import completed: %d imported, %d skipped", imported, skipped),
		"imported": imported,
		"skipped":  skipped,
		"errors":   firstN(importErrors, 10),
	}, nil)
}

// parseCSVUpload reads the uploaded CSV into rows keyed by the export
// header. It writes the error response itself on failure.
func (h *Handler) parseCSVUpload(w http.ResponseWriter, r *http.Request) ([]csvRow, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.badRequestResponse(w, r, errors.New("form too large or invalid"))
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.badRequestResponse(w, r, errors.New("No file provided"))
		return nil, false
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		h.badRequestResponse(w, r, errors.New("File must be a CSV file"))
		return nil, false
	}

	cr := csv.NewReader(file)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		h.badRequestResponse(w, r, errors.New("invalid CSV file"))
		return nil, false
	}
	if len(records) == 0 {
		return nil, true
	}

	// Column positions come from the header row, so reordered exports still
	// import.
	col := map[string]int{}
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rows := make([]csvRow, 0, len(records)-1)
	for _, record := range records[1:] {
		row := csvRow{
			Name:     field(record, "name"),
			Birthday: field(record, "birthday"),
		}
		if g := field(record, "gender"); g != "" {
			row.Gender = &g
		}
		if p := field(record, "photo"); p != "" {
			row.Photo = &p
		}
		rows = append(rows, row)
	}
	return rows, true
}

// icsEscape escapes the characters RFC 5545 treats specially in text values.
func icsEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func firstN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
