package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
)

const maxUploadSize = 20 << 20

// imageTypes are the sniffed content types accepted as image attachments.
var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

type uploadResult struct {
	Attachment models.Attachment
	Transcript string
}

// HandleClear discards the caller's transcript. It is refused while a response is still streaming.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, conv, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to load session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	release, err := conv.Begin()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	defer release()

	conv.Clear()
	if err := m.store.ClearMessages(r.Context(), sessionID); err != nil {
		m.logger.Error("Failed to clear messages",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleExport downloads the caller's transcript as plain text, one "Role: content" line per message.
func (m Main) HandleExport(w http.ResponseWriter, r *http.Request) {
	_, conv, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to load session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := conversation.Export(&buf, conv.Messages()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="chat_history.txt"`)
	_, _ = buf.WriteTo(w)
}

// HandleTemplate appends the prompt template named by the "template" form field as a user message.
func (m Main) HandleTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, conv, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to load session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	name := r.FormValue("template")
	text, ok := m.options.PromptTemplates[name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown prompt template %q", name), http.StatusBadRequest)
		return
	}

	release, err := conv.Begin()
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	defer release()

	msg, err := conv.AppendUser(models.TextContent(text))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if err := m.store.AddMessage(r.Context(), sessionID, msg); err != nil {
		conv.Discard(msg.ID)
		m.logger.Error("Failed to add template message",
			slog.String("template", name),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleUpload accepts a multipart "file" field. Images are stored and their reference is returned for a later
// send; audio is transcribed into prompt text.
func (m Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	detected := http.DetectContentType(data)

	var res uploadResult
	switch {
	case imageTypes[detected]:
		// Stored images are served back from this origin, so only the sniffed raster type is trusted.
		res.Attachment, err = m.store.AddAttachment(r.Context(), models.Attachment{
			MIMEType: detected,
			Name:     header.Filename,
		}, data)
		if err != nil {
			m.logger.Error("Failed to add attachment", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	case strings.HasPrefix(mimeType, "audio/"), strings.HasPrefix(mimeType, "video/webm"),
		strings.HasPrefix(detected, "audio/"), detected == "video/webm":
		if m.transcriber == nil {
			http.Error(w, "Voice input is not available for this provider", http.StatusBadRequest)
			return
		}
		res.Transcript, err = m.transcriber.Transcribe(r.Context(), header.Filename, bytes.NewReader(data))
		if err != nil {
			m.logger.Error("Failed to transcribe audio", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	default:
		http.Error(w, fmt.Sprintf("Unsupported file type %s", detected), http.StatusUnsupportedMediaType)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "upload_result", res); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleAttachment serves a stored attachment by its reference.
func (m Main) HandleAttachment(w http.ResponseWriter, r *http.Request) {
	attachment, data, err := m.store.Attachment(r.Context(), r.PathValue("ref"))
	if err != nil {
		m.logger.Debug("Attachment not available", slog.String(errLoggerKey, err.Error()))
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", attachment.MIMEType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
