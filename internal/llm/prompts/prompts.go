package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"text/template"
)

//go:embed templates/*.txt
var embedded embed.FS

const adviceFile = "templates/advice_ko.txt"

var (
	loadOnce       sync.Once
	loadErr        error
	adviceTemplate *template.Template
)

// AdviceData holds template data for the advice prompt. Both fields are
// interpolated verbatim.
type AdviceData struct {
	Question string
	Answer   string
}

// Load parses the embedded prompt templates. It is safe to call more than
// once; only the first call does any work.
func Load() error {
	loadOnce.Do(func() {
		adviceTemplate, loadErr = parse(embedded, adviceFile)
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildAdvicePrompt renders the Korean OPIc tutoring instruction for one
// question and the student's answer.
func BuildAdvicePrompt(question, answer string) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	if adviceTemplate == nil {
		return "", errors.New("advice template not loaded")
	}

	var buf bytes.Buffer
	if err := adviceTemplate.Execute(&buf, AdviceData{Question: question, Answer: answer}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
