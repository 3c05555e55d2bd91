package views

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"

	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/practice"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	if err := appI18n.Init("ko"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer("ko"))
	ctx = model.ContextWithBasePath(ctx, "/opic")
	return model.ContextWithCSRFToken(ctx, "tok123")
}

func renderString(t *testing.T, ctx context.Context, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestPracticePageActive(t *testing.T) {
	ctx := testContext(t)
	v := practice.View{
		Status:   practice.StatusActive,
		Question: model.Question{ID: 7, Text: "Tell me about <your> home."},
		Position: 1,
		Total:    4,
		Draft:    practice.Draft{Text: "draft text", Difficulty: 4},
		Shuffle:  true,
	}
	out := renderString(t, ctx, PracticePage(PracticeData{Layout: Layout{Lang: "ko"}, View: v}))

	for _, want := range []string{
		"Tell me about &lt;your&gt; home.",
		"진행률: 2 / 4 (50%)",
		`action="/opic/practice/answer"`,
		`name="csrf_token" value="tok123"`,
		`value="4" checked`,
		"draft text",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestPracticePageStates(t *testing.T) {
	ctx := testContext(t)
	tests := []struct {
		status practice.Status
		want   string
	}{
		{practice.StatusNoQuestions, appI18n.T(ctx, "NoQuestions")},
		{practice.StatusAllAtMax, appI18n.T(ctx, "AllAtMax")},
		{practice.StatusComplete, appI18n.T(ctx, "AllDone")},
	}
	for _, tt := range tests {
		out := renderString(t, ctx, PracticePage(PracticeData{View: practice.View{Status: tt.status}}))
		if !strings.Contains(out, tt.want) {
			t.Errorf("status %d: output missing %q", tt.status, tt.want)
		}
	}
}

func TestMessagePageShowsNotice(t *testing.T) {
	ctx := testContext(t)
	out := renderString(t, ctx, MessagePage(Layout{Title: "Oops", Notice: &Notice{Kind: "error", Text: "broken"}}))
	if !strings.Contains(out, "<h1>Oops</h1>") || !strings.Contains(out, `class="notice error">broken`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestDifficultyText(t *testing.T) {
	ctx := testContext(t)
	if got := DifficultyText(ctx, 1); got != "매우 쉬움" {
		t.Errorf("DifficultyText(1) = %q", got)
	}
	if got := DifficultyText(ctx, 42); got != DifficultyText(ctx, model.DefaultDifficulty) {
		t.Errorf("out-of-range level should use the default label, got %q", got)
	}
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    []string
		notWant []string
	}{
		{"heading", "### 1. 문법\n\n내용", []string{"<h3>1. 문법</h3>", "<p>내용</p>"}, nil},
		{"emphasis", "Use **more** detail.", []string{"<strong>more</strong>"}, nil},
		{"list", "- one\n- two", []string{"<li>one</li>", "<li>two</li>"}, nil},
		{"raw html dropped", "ok <script>alert(1)</script>", []string{"ok"}, []string{"<script>", "alert(1)</script>"}},
		{"unsafe link dropped", "[x](javascript:alert(1))", nil, []string{"javascript:"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderMarkdown(tt.src)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("RenderMarkdown(%q) = %q, missing %q", tt.src, got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("RenderMarkdown(%q) = %q, should not contain %q", tt.src, got, w)
				}
			}
		})
	}
}

func TestPracticePageRendersAdvice(t *testing.T) {
	ctx := testContext(t)
	d := PracticeData{
		View: practice.View{
			Status:   practice.StatusActive,
			Question: model.Question{ID: 1, Text: "Describe your weekend."},
			Total:    1,
			Draft:    practice.Draft{Text: "I went hiking.", Difficulty: 3},
		},
		Advice: "### 1. 문법 및 어휘 교정\n\n---\n\n**went** is correct.",
	}
	out := renderString(t, ctx, PracticePage(d))
	for _, want := range []string{"<h3>1. 문법 및 어휘 교정</h3>", "<strong>went</strong> is correct."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, "###") {
		t.Error("markdown heading markers should not reach the page")
	}
}

func TestDetailPageRendersFeedback(t *testing.T) {
	ctx := testContext(t)
	detail := &model.QuestionDetail{
		Question: model.Question{ID: 2, Text: "Talk about a trip."},
		Answers: []model.AnswerView{{
			Answer:   model.Answer{ID: 9, QuestionID: 2, Text: "I went to Busan.", Difficulty: 2},
			Feedback: &model.Feedback{AnswerID: 9, Content: "## Tips\n*Nice* answer."},
		}},
	}
	out := renderString(t, ctx, DetailPage(DetailData{Detail: detail}))
	for _, want := range []string{
		"<h2>Tips</h2>",
		"<em>Nice</em> answer.",
		"I went to Busan.",
		`action="/opic/answers/9/feedback"`,
		appI18n.T(ctx, "RefreshFeedback"),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
