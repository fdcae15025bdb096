package handler

import (
	"context"
	"sort"
	"unicode/utf8"

	appI18n "fragekonstruktoren/internal/i18n"
	"fragekonstruktoren/internal/model"
	"fragekonstruktoren/internal/session"
)

// indexLabelKeys lists every translated label the index page uses.
var indexLabelKeys = []string{
	"AppTitle",
	"APIKeyLabel",
	"APIKeySave",
	"UploadHeading",
	"UploadLabel",
	"UploadButton",
	"GenerateObjectives",
	"ObjectivesHeading",
	"ObjectiveRefLabel",
	"ObjectiveLabel",
	"IndicatorsLabel",
	"GenerateQuestions",
	"QuestionsHeading",
	"QuestionRefLabel",
	"QuestionLabel",
	"CorrectAnswerLabel",
	"DistractorsLabel",
	"ExplanationLabel",
	"RawOutputLabel",
	"ExportButton",
	"Restart",
}

// questionGroup pairs an objective title with its generated questions,
// in objective generation order.
type questionGroup struct {
	Title string
	MCQs  []model.MCQ
}

// indexView is the data handed to the index template.
type indexView struct {
	L              map[string]string
	BasePath       string
	HasKey         bool
	FactBaseName   string
	FactBaseStatus string
	Objectives     []model.LearningObjective
	Questions      []questionGroup
	Flashes        []session.Flash
}

func (h *Handler) buildIndexView(ctx context.Context, st *session.State) indexView {
	labels := make(map[string]string, len(indexLabelKeys))
	for _, key := range indexLabelKeys {
		labels[key] = appI18n.T(ctx, key)
	}

	view := indexView{
		L:            labels,
		BasePath:     h.config.BasePath,
		HasKey:       h.apiKey(st) != "",
		FactBaseName: st.FactBaseName,
		Flashes:      st.ConsumeFlashes(),
	}

	if st.FactBase != "" {
		view.FactBaseStatus = appI18n.Td(ctx, "FactBaseStatus", map[string]any{
			"Name":  st.FactBaseName,
			"Chars": utf8.RuneCountInString(st.FactBase),
		})
	}

	view.Objectives = st.Objectives

	// Group questions in objective order. The map is keyed by title, so a
	// duplicate title shows the single surviving set once.
	seen := make(map[string]bool, len(st.Objectives))
	for _, obj := range st.Objectives {
		if seen[obj.Title] {
			continue
		}
		seen[obj.Title] = true
		if mcqs, ok := st.Questions[obj.Title]; ok {
			view.Questions = append(view.Questions, questionGroup{Title: obj.Title, MCQs: mcqs})
		}
	}
	// Titles that survive from a previous objective generation are still in
	// the map; show them after the current ones rather than dropping them.
	var stale []string
	for title := range st.Questions {
		if !seen[title] {
			stale = append(stale, title)
		}
	}
	sort.Strings(stale)
	for _, title := range stale {
		view.Questions = append(view.Questions, questionGroup{Title: title, MCQs: st.Questions[title]})
	}

	return view
}
