package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "fragekonstruktoren/internal/i18n"
	"fragekonstruktoren/internal/llm"
	"fragekonstruktoren/internal/model"
	"fragekonstruktoren/internal/session"
)

// fakeGenerator answers with canned objectives and questions, and lets a
// test fail generation for a chosen objective title.
type fakeGenerator struct {
	objectives    []model.LearningObjective
	objectivesErr error
	questions     map[string][]model.MCQ
	questionsErr  map[string]error
	calls         []string
}

func (f *fakeGenerator) GenerateObjectives(ctx context.Context, apiKey, factBase string) ([]model.LearningObjective, error) {
	f.calls = append(f.calls, "objectives")
	if f.objectivesErr != nil {
		return nil, f.objectivesErr
	}
	return f.objectives, nil
}

func (f *fakeGenerator) GenerateQuestions(ctx context.Context, apiKey string, objective model.LearningObjective, factBase string) ([]model.MCQ, error) {
	f.calls = append(f.calls, "questions:"+objective.Title)
	if err, ok := f.questionsErr[objective.Title]; ok {
		return nil, err
	}
	return f.questions[objective.Title], nil
}

type testApp struct {
	srv    *httptest.Server
	client *http.Client
	gen    *fakeGenerator
}

func newTestApp(t *testing.T, gen *fakeGenerator) *testApp {
	t.Helper()
	if err := appI18n.Init("sv"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}

	cfg := model.AppConfig{
		LLMModel:       "gpt-4o-mini",
		MaxUploadBytes: 1 << 20,
	}
	h, err := New(session.NewManager(time.Hour), gen, cfg)
	if err != nil {
		t.Fatalf("handler.New: %v", err)
	}

	r := chi.NewRouter()
	r.Use(h.BasePathMiddleware)
	r.Group(h.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &testApp{srv: srv, client: &http.Client{Jar: jar}, gen: gen}
}

// post sends a form post and returns the body of the page the redirect
// lands on.
func (a *testApp) post(t *testing.T, path string, form url.Values) string {
	t.Helper()
	resp, err := a.client.PostForm(a.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func (a *testApp) get(t *testing.T, path string) string {
	t.Helper()
	resp, err := a.client.Get(a.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func (a *testApp) upload(t *testing.T, filename, content string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("document", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	resp, err := a.client.Post(a.srv.URL+"/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func testObjectives() []model.LearningObjective {
	return []model.LearningObjective{
		{Title: "Lista fotosyntesens delar", Indicators: []string{"klorofyll", "ljusreaktion"}, Reference: "ref A"},
		{Title: "Återge fotosyntesens villkor", Indicators: []string{"ljus", "vatten"}, Reference: "ref B"},
	}
}

func TestFullFlow(t *testing.T) {
	gen := &fakeGenerator{
		objectives: testObjectives(),
		questions: map[string][]model.MCQ{
			"Lista fotosyntesens delar": {{
				Question:      "Vad gör klorofyll?",
				CorrectAnswer: "Fångar ljus",
				Distractors:   []string{"Lagrar socker", "Binder vatten", "Avger syre"},
				Explanation:   "Klorofyll fångar ljusenergin.",
				Reference:     "ref A",
			}},
			"Återge fotosyntesens villkor": {{
				Question:      "Vad krävs för fotosyntes?",
				CorrectAnswer: "Ljus, vatten och koldioxid",
				Distractors:   []string{"Endast ljus", "Endast vatten", "Mörker"},
				Explanation:   "Alla tre krävs.",
				Reference:     "ref B",
			}},
		},
	}
	app := newTestApp(t, gen)

	body := app.post(t, "/key", url.Values{"api_key": {"sk-test"}})
	if !strings.Contains(body, "API-nyckeln har sparats.") {
		t.Error("saving the key should flash a confirmation")
	}

	body = app.upload(t, "fakta.txt", strings.Repeat("a", 1000))
	if !strings.Contains(body, "Filen fakta.txt har laddats upp!") {
		t.Error("upload should flash success")
	}
	if !strings.Contains(body, "Faktabas: fakta.txt (1000 tecken)") {
		t.Error("page should show the fact base status with a character count")
	}

	body = app.post(t, "/objectives", nil)
	if !strings.Contains(body, "Lista fotosyntesens delar") {
		t.Error("page should list the generated objectives")
	}
	if !strings.Contains(body, "ref A") {
		t.Error("page should show the objective reference")
	}

	body = app.post(t, "/questions", nil)
	if !strings.Contains(body, "Vad gör klorofyll?") || !strings.Contains(body, "Vad krävs för fotosyntes?") {
		t.Error("page should show questions for every objective")
	}
	if !strings.Contains(body, "Fångar ljus") {
		t.Error("page should show the correct answer")
	}

	resp, err := app.client.Get(app.srv.URL + "/export")
	if err != nil {
		t.Fatalf("GET /export: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "fragekonstruktoren.json") {
		t.Errorf("export should download as an attachment, got %q", got)
	}
	var export model.SessionExport
	if err := json.NewDecoder(resp.Body).Decode(&export); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if export.FactBaseName != "fakta.txt" || export.FactBaseLen != 1000 {
		t.Errorf("export fact base = %q (%d), want fakta.txt (1000)", export.FactBaseName, export.FactBaseLen)
	}
	if len(export.Objectives) != 2 || len(export.Questions) != 2 {
		t.Errorf("export should carry 2 objectives and 2 question sets, got %d/%d",
			len(export.Objectives), len(export.Questions))
	}

	body = app.post(t, "/reset", nil)
	if strings.Contains(body, "Lista fotosyntesens delar") || strings.Contains(body, "Faktabas:") {
		t.Error("restart should clear objectives, questions and fact base")
	}
	// The key survives a restart; no fresh warning should be needed.
	body = app.post(t, "/objectives", nil)
	if !strings.Contains(body, "Ladda upp en faktabas först.") {
		t.Error("restart keeps the key, so the next complaint is the missing fact base")
	}
}

func TestObjectivesWithoutKey(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{})

	app.upload(t, "fakta.txt", "innehåll")
	body := app.post(t, "/objectives", nil)
	if !strings.Contains(body, "Vänligen ange din OpenAI API-nyckel.") {
		t.Error("missing key should flash a warning")
	}
	if len(app.gen.calls) != 0 {
		t.Errorf("generator must not be called without a key, got %v", app.gen.calls)
	}
}

func TestDefaultKeyFromConfig(t *testing.T) {
	gen := &fakeGenerator{objectives: testObjectives()}
	if err := appI18n.Init("sv"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	cfg := model.AppConfig{DefaultAPIKey: "sk-server", MaxUploadBytes: 1 << 20}
	h, err := New(session.NewManager(time.Hour), gen, cfg)
	if err != nil {
		t.Fatalf("handler.New: %v", err)
	}
	r := chi.NewRouter()
	r.Group(h.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, _ := cookiejar.New(nil)
	app := &testApp{srv: srv, client: &http.Client{Jar: jar}, gen: gen}

	app.upload(t, "fakta.txt", "innehåll")
	body := app.post(t, "/objectives", nil)
	if strings.Contains(body, "Vänligen ange din OpenAI API-nyckel.") {
		t.Error("a server-wide default key should satisfy the key check")
	}
	if len(gen.calls) != 1 {
		t.Errorf("expected one objectives call, got %v", gen.calls)
	}
}

func TestEmptyUploadKeepsFactBase(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{})

	app.upload(t, "fakta.txt", "befintlig faktabas")
	body := app.upload(t, "tom.txt", "")
	if !strings.Contains(body, "Kunde inte extrahera text från filen.") {
		t.Error("empty extraction should flash an error")
	}
	if !strings.Contains(body, "Faktabas: fakta.txt") {
		t.Error("an empty upload must leave the previous fact base untouched")
	}
}

func TestUnsupportedUploadFlashesEmpty(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{})

	body := app.upload(t, "fakta.exe", "binärt")
	if !strings.Contains(body, "Kunde inte extrahera text från filen.") {
		t.Error("unsupported extension should be reported as an empty extraction")
	}
}

func TestQuestionFailureIsolated(t *testing.T) {
	gen := &fakeGenerator{
		objectives: testObjectives(),
		questions: map[string][]model.MCQ{
			"Återge fotosyntesens villkor": {{Question: "Vad krävs?", CorrectAnswer: "Ljus"}},
		},
		questionsErr: map[string]error{
			"Lista fotosyntesens delar": fmt.Errorf("complete: %w", errors.New("overloaded")),
		},
	}
	app := newTestApp(t, gen)

	app.post(t, "/key", url.Values{"api_key": {"sk-test"}})
	app.upload(t, "fakta.txt", "innehåll")
	app.post(t, "/objectives", nil)
	body := app.post(t, "/questions", nil)

	if !strings.Contains(body, `Fel vid generering av flervalsfrågor för "Lista fotosyntesens delar"`) {
		t.Error("the failed objective should be named in an error flash")
	}
	if !strings.Contains(body, "Vad krävs?") {
		t.Error("questions for the other objective should still be generated")
	}
	want := []string{
		"objectives",
		"questions:Lista fotosyntesens delar",
		"questions:Återge fotosyntesens villkor",
	}
	if len(gen.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", gen.calls, want)
	}
	for i := range want {
		if gen.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", gen.calls, want)
		}
	}
}

func TestDecodeErrorShowsRawOutput(t *testing.T) {
	gen := &fakeGenerator{
		objectivesErr: &llm.DecodeError{
			Raw: "Tyvärr, här är ingen JSON.",
			Err: errors.New("invalid character 'T'"),
		},
	}
	app := newTestApp(t, gen)

	app.post(t, "/key", url.Values{"api_key": {"sk-test"}})
	app.upload(t, "fakta.txt", "innehåll")
	body := app.post(t, "/objectives", nil)

	if !strings.Contains(body, "Fel vid tolkning av JSON-svar från API") {
		t.Error("a decode failure should flash the decode error message")
	}
	if !strings.Contains(body, "Tyvärr, här är ingen JSON.") {
		t.Error("the raw model output should be shown for diagnosis")
	}
	if !strings.Contains(body, "Rå output från API:") {
		t.Error("the raw output should be labelled")
	}
}

func TestEmptyReplyFlash(t *testing.T) {
	gen := &fakeGenerator{
		objectivesErr: &llm.DecodeError{Raw: "", Err: llm.ErrEmptyReply},
	}
	app := newTestApp(t, gen)

	app.post(t, "/key", url.Values{"api_key": {"sk-test"}})
	app.upload(t, "fakta.txt", "innehåll")
	body := app.post(t, "/objectives", nil)

	if !strings.Contains(body, "API:s svar var tomt.") {
		t.Error("an empty reply should flash its dedicated message")
	}
}

func TestSessionsIsolated(t *testing.T) {
	app := newTestApp(t, &fakeGenerator{})

	app.post(t, "/key", url.Values{"api_key": {"sk-first"}})
	app.upload(t, "fakta.txt", "första sessionens faktabas")

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	other := &testApp{srv: app.srv, client: &http.Client{Jar: jar}}
	body := other.get(t, "/")
	if strings.Contains(body, "Faktabas: fakta.txt") {
		t.Error("a second browser must not see the first session's fact base")
	}
}
