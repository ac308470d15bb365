package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"
)

// inlinePhotoCID is the Content-ID the HTML body references for an embedded
// photo.
const inlinePhotoCID = "birthday-photo"

// Message is one outbound email. Body is HTML. Photo, when set, is attached
// inline and referenced from the body via cid:birthday-photo.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	Photo   []byte
	// PhotoName drives the attachment content type. Ignored when Photo is nil.
	PhotoName string
}

// Render produces the full RFC 2822 message, headers included.
func (m Message) Render() ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	writeHeader("From", m.From)
	writeHeader("To", m.To)
	writeHeader("Subject", encodeSubject(m.Subject))
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")

	if len(m.Photo) == 0 {
		writeHeader("Content-Type", `text/html; charset="utf-8"`)
		writeHeader("Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		if err := writePartBase64(&buf, []byte(m.Body)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader("Content-Type", fmt.Sprintf(`multipart/related; boundary="%s"`, mw.Boundary()))
	buf.WriteString("\r\n")

	htmlHeader := textproto.MIMEHeader{}
	htmlHeader.Set("Content-Type", `text/html; charset="utf-8"`)
	htmlHeader.Set("Content-Transfer-Encoding", "base64")
	part, err := mw.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	if err := writePartBase64(part, []byte(m.Body)); err != nil {
		return nil, err
	}

	photoHeader := textproto.MIMEHeader{}
	photoHeader.Set("Content-Type", photoContentType(m.PhotoName))
	photoHeader.Set("Content-Transfer-Encoding", "base64")
	photoHeader.Set("Content-ID", fmt.Sprintf("<%s>", inlinePhotoCID))
	photoHeader.Set("Content-Disposition", "inline")
	part, err = mw.CreatePart(photoHeader)
	if err != nil {
		return nil, err
	}
	if err := writePartBase64(part, m.Photo); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func photoContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// writePartBase64 base64-encodes data with 76-column wrapping per RFC 2045.
func writePartBase64(w io.Writer, data []byte) error {
	const lineLen = 76
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := lineLen
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := io.WriteString(w, encoded[:n]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}

// encodeSubject applies RFC 2047 encoding when the subject leaves ASCII,
// which the multilingual reminder subjects always do.
func encodeSubject(s string) string {
	return mime.QEncoding.Encode("utf-8", s)
}
