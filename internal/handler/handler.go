package handler

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	appI18n "fragekonstruktoren/internal/i18n"
	"fragekonstruktoren/internal/extract"
	"fragekonstruktoren/internal/llm"
	"fragekonstruktoren/internal/model"
	"fragekonstruktoren/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// Generator produces learning objectives and questions from a fact base.
// *llm.Client implements it; tests substitute a fake.
type Generator interface {
	GenerateObjectives(ctx context.Context, apiKey, factBase string) ([]model.LearningObjective, error)
	GenerateQuestions(ctx context.Context, apiKey string, objective model.LearningObjective, factBase string) ([]model.MCQ, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions *session.Manager
	llm      Generator
	config   model.AppConfig
	tmpl     *template.Template
}

// New creates a new Handler.
func New(sessions *session.Manager, gen Generator, cfg model.AppConfig) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handler{sessions: sessions, llm: gen, config: cfg, tmpl: tmpl}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.sessionMiddleware)
	r.Get("/", h.handleIndex)
	r.Post("/key", h.handleSaveKey)
	r.Post("/upload", h.handleUpload)
	r.Post("/objectives", h.handleGenerateObjectives)
	r.Post("/questions", h.handleGenerateQuestions)
	r.Post("/reset", h.handleReset)
	r.Get("/export", h.handleExport)
}

// BasePathMiddleware stores the configured base path in the request context
// so links render correctly under sub-path deployments.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

// apiKey returns the credential for this session: the session's own key, or
// the server-wide default when one is configured.
func (h *Handler) apiKey(st *session.State) string {
	if st.APIKey != "" {
		return st.APIKey
	}
	return h.config.DefaultAPIKey
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	st := h.state(r)
	view := h.buildIndexView(r.Context(), st)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, "index.html", view); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleSaveKey(w http.ResponseWriter, r *http.Request) {
	st := h.state(r)
	key := r.FormValue("api_key")
	if key != "" {
		st.APIKey = key
		st.AddFlash(session.FlashSuccess, appI18n.T(r.Context(), "APIKeySaved"))
	}
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	st := h.state(r)
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	file, header, err := r.FormFile("document")
	if err != nil {
		st.AddFlash(session.FlashError, appI18n.Td(ctx, "ExtractError", map[string]any{"Error": err.Error()}))
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	}
	defer file.Close()

	text, err := extract.Text(header.Filename, file)
	if err != nil {
		slog.Warn("extraction failed", "file", header.Filename, "error", err)
		st.AddFlash(session.FlashError, appI18n.Td(ctx, "ExtractError", map[string]any{"Error": err.Error()}))
	}

	// A partially extracted document is still a usable fact base; an empty
	// one leaves the previous fact base untouched.
	if text != "" {
		st.FactBase = text
		st.FactBaseName = header.Filename
		st.AddFlash(session.FlashSuccess, appI18n.Td(ctx, "UploadSuccess", map[string]any{"Name": header.Filename}))
	} else if err == nil {
		st.AddFlash(session.FlashError, appI18n.T(ctx, "UploadEmpty"))
	}

	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleGenerateObjectives(w http.ResponseWriter, r *http.Request) {
	st := h.state(r)
	ctx := r.Context()

	key := h.apiKey(st)
	switch {
	case key == "":
		st.AddFlash(session.FlashWarning, appI18n.T(ctx, "APIKeyMissing"))
	case st.FactBase == "":
		st.AddFlash(session.FlashWarning, appI18n.T(ctx, "NoFactBase"))
	default:
		objectives, err := h.llm.GenerateObjectives(ctx, key, st.FactBase)
		if err != nil {
			h.flashGenerationError(ctx, st, "ObjectivesError", "", err)
			objectives = nil
		}
		// Regeneration replaces objectives wholesale. Previously generated
		// questions go stale but are only cleared by an explicit restart.
		st.Objectives = objectives
	}

	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	st := h.state(r)
	ctx := r.Context()

	key := h.apiKey(st)
	switch {
	case key == "":
		st.AddFlash(session.FlashWarning, appI18n.T(ctx, "APIKeyMissing"))
	case len(st.Objectives) == 0:
		st.AddFlash(session.FlashWarning, appI18n.T(ctx, "NoFactBase"))
	default:
		// One call per objective, sequentially. A failure for one objective
		// must not block generation for the others.
		questions := make(map[string][]model.MCQ, len(st.Objectives))
		for _, obj := range st.Objectives {
			mcqs, err := h.llm.GenerateQuestions(ctx, key, obj, st.FactBase)
			if err != nil {
				slog.Error("question generation failed", "objective", obj.Title, "error", err)
				h.flashGenerationError(ctx, st, "QuestionsError", obj.Title, err)
				mcqs = nil
			}
			questions[obj.Title] = mcqs
		}
		st.Questions = questions
	}

	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.state(r).Reset()
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	st := h.state(r)
	export := model.SessionExport{
		FactBaseName: st.FactBaseName,
		FactBaseLen:  utf8.RuneCountInString(st.FactBase),
		Objectives:   st.Objectives,
		Questions:    st.Questions,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="fragekonstruktoren.json"`)
	_, _ = w.Write(data)
}

// flashGenerationError turns an LLM failure into user-visible messages,
// attaching the raw model output when the reply could not be decoded.
func (h *Handler) flashGenerationError(ctx context.Context, st *session.State, msgID, objective string, err error) {
	data := map[string]any{"Error": err.Error()}
	if objective != "" {
		data["Objective"] = objective
	}

	var decodeErr *llm.DecodeError
	switch {
	case errors.Is(err, llm.ErrEmptyReply):
		st.AddFlash(session.FlashError, appI18n.T(ctx, "EmptyReply"))
	case errors.As(err, &decodeErr):
		st.AddFlashRaw(session.FlashError,
			appI18n.Td(ctx, "DecodeError", map[string]any{"Error": decodeErr.Err.Error()}),
			decodeErr.Raw)
	default:
		st.AddFlash(session.FlashError, appI18n.Td(ctx, msgID, data))
	}
}
