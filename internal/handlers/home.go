package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
)

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

type modelOption struct {
	models.ModelInfo

	Selected bool
}

type homePageData struct {
	Messages []message

	Models        []modelOption
	CurrentModel  models.ModelInfo
	MaxTokens     int
	MinMaxTokens  int
	StepMaxTokens int

	PromptTemplates []string
	Transcription   bool
}

const (
	minMaxTokens  = 512
	stepMaxTokens = 512
)

// HandleHome renders the transcript of the caller's session together with the sidebar showing the selected
// model's information, the output budget input and the prompt templates. The model can be chosen with the
// "model" query parameter.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	_, conv, err := m.session(w, r)
	if err != nil {
		m.logger.Error("Failed to load session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	current, ok := m.options.Catalog.Lookup(r.URL.Query().Get("model"))
	if !ok {
		current, _ = m.options.Catalog.Lookup(m.options.DefaultModel)
	}

	history := conv.Messages()
	msgs := make([]message, len(history))
	for i, msg := range history {
		content, err := m.renderContent(msg.Content)
		if err != nil {
			m.logger.Error("Failed to render contents",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs[i] = message{
			ID:             msg.ID,
			Role:           string(msg.Role),
			Content:        content,
			Timestamp:      msg.Timestamp,
			StreamingState: "ended",
		}
	}

	var options []modelOption
	for _, id := range m.options.Catalog.IDs() {
		info, _ := m.options.Catalog.Lookup(id)
		options = append(options, modelOption{
			ModelInfo: info,
			Selected:  id == current.ID,
		})
	}

	var templates []string
	for name := range m.options.PromptTemplates {
		templates = append(templates, name)
	}
	slices.Sort(templates)

	data := homePageData{
		Messages:        msgs,
		Models:          options,
		CurrentModel:    current,
		MaxTokens:       m.options.Catalog.DefaultBudget(current),
		MinMaxTokens:    min(minMaxTokens, current.Tokens),
		StepMaxTokens:   stepMaxTokens,
		PromptTemplates: templates,
		Transcription:   m.transcriber != nil,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
