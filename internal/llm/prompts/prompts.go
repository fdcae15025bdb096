package prompts

import (
	"bytes"
	"embed"
	"errors"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.txt
var templateFS embed.FS

// ObjectivesData holds template data for the objective generation prompt.
type ObjectivesData struct {
	NumGoals int
	FactBase string
}

// QuestionsData holds template data for the question generation prompt.
type QuestionsData struct {
	Objective  string
	Indicators []string
	FactBase   string
}

var (
	loadOnce         sync.Once
	loadErr          error
	objectivesSystem string
	questionsSystem  string
	objectivesUser   *template.Template
	questionsUser    *template.Template
)

// load parses the embedded prompt templates. The wording lives in data
// files so it can change without touching code and so tests can snapshot
// the exact prompt text.
func load() error {
	loadOnce.Do(func() {
		funcs := template.FuncMap{"join": strings.Join}

		read := func(name string) string {
			if loadErr != nil {
				return ""
			}
			data, err := templateFS.ReadFile("templates/" + name)
			if err != nil {
				loadErr = errors.New("read prompt file " + name + ": " + err.Error())
				return ""
			}
			return string(data)
		}
		parse := func(name string) *template.Template {
			content := read(name)
			if loadErr != nil {
				return nil
			}
			tmpl, err := template.New(name).Funcs(funcs).Parse(content)
			if err != nil {
				loadErr = errors.New("parse prompt template " + name + ": " + err.Error())
				return nil
			}
			return tmpl
		}

		objectivesSystem = strings.TrimSpace(read("objectives_system.txt"))
		questionsSystem = strings.TrimSpace(read("questions_system.txt"))
		objectivesUser = parse("objectives_user.txt")
		questionsUser = parse("questions_user.txt")
	})
	return loadErr
}

// ObjectivesSystem returns the system instruction for objective generation.
func ObjectivesSystem() (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	return objectivesSystem, nil
}

// QuestionsSystem returns the system instruction for question generation.
func QuestionsSystem() (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	return questionsSystem, nil
}

// BuildObjectivesPrompt renders the user instruction for objective generation.
func BuildObjectivesPrompt(data ObjectivesData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := objectivesUser.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildQuestionsPrompt renders the user instruction for question generation.
func BuildQuestionsPrompt(data QuestionsData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := questionsUser.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
