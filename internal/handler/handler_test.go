package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/llm"
	"github.com/opictutor/opictutor/internal/metrics"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/session"
	"github.com/opictutor/opictutor/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("ko"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeAdvisor struct {
	reply string
	err   error
	calls atomic.Int32
	last  [2]string
}

func (f *fakeAdvisor) Advise(_ context.Context, question, answer string) (string, error) {
	f.calls.Add(1)
	f.last = [2]string{question, answer}
	return f.reply, f.err
}

type testEnv struct {
	t        *testing.T
	store    *store.Store
	metrics  *metrics.Metrics
	sessions *session.Manager
	srv      *httptest.Server
	client   *http.Client
	prefix   string
}

func newTestEnv(t *testing.T, advisor llm.Advisor, cfg model.AppConfig, questions ...string) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	for _, q := range questions {
		if _, err := s.AddQuestion(context.Background(), q, ""); err != nil {
			t.Fatalf("AddQuestion: %v", err)
		}
	}

	if cfg.Lang == "" {
		cfg.Lang = "ko"
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Hour
	}
	m := metrics.New()
	sessions := session.NewManager(cfg.Shuffle)
	h := New(s, advisor, sessions, m, cfg)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware(cfg.Lang))
	if cfg.BasePath != "" {
		r.Route(cfg.BasePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, _ := cookiejar.New(nil)
	return &testEnv{
		t:        t,
		store:    s,
		metrics:  m,
		sessions: sessions,
		srv:      srv,
		prefix:   cfg.BasePath,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type result struct {
	status   int
	body     string
	location string
	header   http.Header
}

func (e *testEnv) do(req *http.Request) result {
	e.t.Helper()
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return result{
		status:   resp.StatusCode,
		body:     string(body),
		location: resp.Header.Get("Location"),
		header:   resp.Header,
	}
}

func (e *testEnv) get(path string) result {
	e.t.Helper()
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+e.prefix+path, nil)
	return e.do(req)
}

func (e *testEnv) csrfToken() string {
	e.t.Helper()
	u, _ := url.Parse(e.srv.URL + e.prefix + "/")
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	e.t.Fatal("no csrf cookie; GET a page first")
	return ""
}

func (e *testEnv) post(path string, form url.Values) result {
	e.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", e.csrfToken())
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+e.prefix+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func answerForm(qid, pos, answer, difficulty string) url.Values {
	return url.Values{
		"question_id": {qid},
		"position":    {pos},
		"answer":      {answer},
		"difficulty":  {difficulty},
	}
}

func TestPracticeSubmitFlow(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Describe your house.", "Talk about a trip.")

	res := env.get("/")
	if res.status != http.StatusOK || !strings.Contains(res.body, "Describe your house.") {
		t.Fatalf("expected first question, got %d", res.status)
	}

	res = env.post("/practice/answer", answerForm("1", "0", "   ", "3"))
	if res.status != http.StatusUnprocessableEntity || !strings.Contains(res.body, "답변을 입력해주세요.") {
		t.Fatalf("expected empty answer warning, got %d", res.status)
	}

	res = env.post("/practice/answer", answerForm("1", "0", "My house is small.", "2"))
	if res.status != http.StatusSeeOther || res.location != "/" {
		t.Fatalf("expected redirect after save, got %d %q", res.status, res.location)
	}

	res = env.get("/")
	if !strings.Contains(res.body, "Talk about a trip.") {
		t.Error("expected the second question after saving")
	}
	if !strings.Contains(res.body, "답변이 저장되었습니다!") {
		t.Error("expected the saved notice once after redirect")
	}
	if res = env.get("/"); strings.Contains(res.body, "답변이 저장되었습니다!") {
		t.Error("saved notice shown twice")
	}

	if n, _ := env.store.CountAnswers(context.Background(), 1); n != 1 {
		t.Errorf("expected 1 stored answer, got %d", n)
	}
	if got := testutil.ToFloat64(env.metrics.AnswersSaved); got != 1 {
		t.Errorf("answers_saved_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(env.metrics.AnswersRejected.WithLabelValues("empty")); got != 1 {
		t.Errorf("answers_rejected_total{empty} = %v, want 1", got)
	}
}

func TestPracticeCompletionAndRestart(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Most answered.", "Second.", "Third.")
	ctx := context.Background()
	for range 2 {
		if _, err := env.store.SaveAnswer(ctx, 1, "Earlier answer.", 3); err != nil {
			t.Fatalf("SaveAnswer: %v", err)
		}
	}

	res := env.get("/")
	if !strings.Contains(res.body, "Second.") {
		t.Fatalf("expected the most answered question filtered out")
	}
	env.post("/practice/answer", answerForm("2", "0", "Answer two.", "4"))
	env.post("/practice/answer", answerForm("3", "1", "Answer three.", "4"))

	res = env.get("/")
	if !strings.Contains(res.body, "모든 문제를 완료했습니다!") {
		t.Fatalf("expected completion page")
	}

	res = env.post("/practice/restart", nil)
	if res.status != http.StatusSeeOther {
		t.Fatalf("restart: got %d", res.status)
	}
	if res = env.get("/"); !strings.Contains(res.body, "Second.") {
		t.Error("expected the first working question again after restart")
	}
}

func TestPracticeAllTiedAtMax(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Only question.")
	env.get("/")
	env.post("/practice/answer", answerForm("1", "0", "Answer.", "4"))

	if res := env.get("/"); !strings.Contains(res.body, "모든 질문이 최대 답변 개수를 가지고 있어") {
		t.Error("expected the all-at-max warning once every question is tied")
	}
}

func TestPracticeStaleSlot(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "First.", "Second.")
	env.get("/")

	res := env.post("/practice/answer", answerForm("2", "1", "Wrong slot.", "3"))
	if res.status != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", res.status)
	}
	if n, _ := env.store.CountAnswers(context.Background(), 2); n != 0 {
		t.Errorf("stale submission must not be stored, got %d answers", n)
	}
	if res = env.get("/"); !strings.Contains(res.body, "질문 목록이 바뀌었습니다.") {
		t.Error("expected stale notice")
	}
}

func TestPracticeInvalidDifficultyKeepsDraft(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "First.")
	env.get("/")

	res := env.post("/practice/answer", answerForm("1", "0", "Keep me.", "9"))
	if res.status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.status)
	}
	if !strings.Contains(res.body, "Keep me.") {
		t.Error("typed answer should survive a rejected save")
	}
	if got := testutil.ToFloat64(env.metrics.AnswersRejected.WithLabelValues("invalid")); got != 1 {
		t.Errorf("answers_rejected_total{invalid} = %v, want 1", got)
	}
}

func TestDraftSurvivesNavigation(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "First.")
	env.get("/")

	if res := env.post("/practice/draft", answerForm("1", "0", "Half written", "5")); res.status != http.StatusSeeOther {
		t.Fatalf("draft: got %d", res.status)
	}
	env.get("/questions")
	res := env.get("/")
	if !strings.Contains(res.body, "Half written") {
		t.Error("expected draft text restored")
	}
	if !strings.Contains(res.body, `value="5" checked`) {
		t.Error("expected draft difficulty restored")
	}
}

func TestAdvice(t *testing.T) {
	tests := []struct {
		name       string
		advisor    *fakeAdvisor
		perMinute  int
		requests   int
		wantStatus int
		wantBody   string
	}{
		{"ok", &fakeAdvisor{reply: "### 1. Grammar\nUse **more** detail."}, 0, 1, http.StatusOK, "<strong>more</strong> detail."},
		{"provider error", &fakeAdvisor{err: errors.New("quota exceeded")}, 0, 1, http.StatusBadGateway, "quota exceeded"},
		{"no advisor", nil, 0, 1, http.StatusServiceUnavailable, "AI 조언 서비스가 설정되지 않았습니다."},
		{"rate limited", &fakeAdvisor{reply: "ok"}, 1, 2, http.StatusTooManyRequests, "요청이 너무 많습니다."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var advisor llm.Advisor
			if tt.advisor != nil {
				advisor = tt.advisor
			}
			env := newTestEnv(t, advisor, model.AppConfig{AdvicePerMinute: tt.perMinute}, "Describe your weekend.")
			env.get("/")

			var res result
			for range tt.requests {
				res = env.post("/practice/advice", answerForm("1", "0", "I went hiking.", "3"))
			}
			if res.status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.status, tt.wantStatus)
			}
			if !strings.Contains(res.body, tt.wantBody) {
				t.Errorf("body missing %q", tt.wantBody)
			}
			if !strings.Contains(res.body, "I went hiking.") {
				t.Error("answer should stay in the form")
			}
			if tt.advisor != nil && tt.advisor.last != [2]string{"Describe your weekend.", "I went hiking."} {
				t.Errorf("advisor got %q", tt.advisor.last)
			}
		})
	}
}

func TestAdviceRequiresAnswer(t *testing.T) {
	advisor := &fakeAdvisor{reply: "unused"}
	env := newTestEnv(t, advisor, model.AppConfig{}, "Q.")
	env.get("/")

	res := env.post("/practice/advice", answerForm("1", "0", "", "3"))
	if res.status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.status)
	}
	if advisor.calls.Load() != 0 {
		t.Error("advisor must not be called without an answer")
	}
}

func TestQuestionManagement(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Existing question.")
	env.get("/questions")

	res := env.post("/questions", url.Values{"question": {"  "}, "type": {"misc"}})
	if res.status != http.StatusUnprocessableEntity || !strings.Contains(res.body, "질문 내용을 입력해주세요.") {
		t.Fatalf("expected empty question warning, got %d", res.status)
	}

	res = env.post("/questions", url.Values{"question": {"New question."}, "type": {"travel"}})
	if res.status != http.StatusSeeOther || res.location != "/questions" {
		t.Fatalf("add: got %d %q", res.status, res.location)
	}
	res = env.get("/questions")
	if !strings.Contains(res.body, "New question.") || !strings.Contains(res.body, "질문이 추가되었습니다!") {
		t.Error("expected new question and notice in list")
	}

	env.post("/questions/sort", url.Values{"column": {"type"}})
	if res = env.get("/questions"); !strings.Contains(res.body, "↑") {
		t.Error("expected ascending indicator after first sort click")
	}
	if res = env.post("/questions/sort", url.Values{"column": {"bogus"}}); res.status != http.StatusBadRequest {
		t.Errorf("unknown column: got %d", res.status)
	}

	env.post("/questions/2/select", nil)
	if res = env.get("/questions"); !strings.Contains(res.body, "질문 목록으로 돌아가기") {
		t.Fatal("expected detail view after select")
	}

	res = env.post("/questions/2/delete", nil)
	if res.status != http.StatusSeeOther {
		t.Fatalf("delete: got %d", res.status)
	}
	res = env.get("/questions")
	if strings.Contains(res.body, "New question.") {
		t.Error("deleted question still listed")
	}
	if strings.Contains(res.body, "질문 목록으로 돌아가기") {
		t.Error("deleting the selected question should return to the list")
	}

	env.post("/questions/99/delete", nil)
	if res = env.get("/questions"); !strings.Contains(res.body, "선택한 질문을 찾을 수 없습니다.") {
		t.Error("expected not found notice for unknown question")
	}
}

func TestFeedbackStoredOnAnswer(t *testing.T) {
	advisor := &fakeAdvisor{reply: "Nice structure."}
	env := newTestEnv(t, advisor, model.AppConfig{}, "Describe your town.")
	ctx := context.Background()
	answerID, err := env.store.SaveAnswer(ctx, 1, "My town is quiet.", 2)
	if err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	env.get("/questions")

	res := env.post("/answers/1/feedback", nil)
	if res.status != http.StatusSeeOther {
		t.Fatalf("feedback: got %d", res.status)
	}
	fb, err := env.store.GetFeedback(ctx, answerID)
	if err != nil || fb == nil || fb.Content != "Nice structure." {
		t.Fatalf("expected stored feedback, got %+v, %v", fb, err)
	}
	res = env.get("/questions")
	if !strings.Contains(res.body, "Nice structure.") || !strings.Contains(res.body, "피드백이 저장되었습니다.") {
		t.Error("expected detail view with feedback")
	}
	if got := testutil.ToFloat64(env.metrics.FeedbackSaved); got != 1 {
		t.Errorf("feedback_saved_total = %v, want 1", got)
	}

	if res = env.post("/answers/42/feedback", nil); res.status != http.StatusNotFound {
		t.Errorf("unknown answer: got %d", res.status)
	}
}

func TestCSRFRequired(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Q.")
	env.get("/")

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/practice/restart", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if res := env.do(req); res.status != http.StatusForbidden {
		t.Errorf("expected 403 without form token, got %d", res.status)
	}
}

func TestLoginGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, nil, model.AppConfig{PasswordHash: string(hash)}, "Q.")

	if res := env.get("/"); res.status != http.StatusSeeOther || res.location != "/login" {
		t.Fatalf("expected redirect to login, got %d %q", res.status, res.location)
	}

	env.get("/login")
	if res := env.post("/login", url.Values{"password": {"wrong"}}); res.status != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d", res.status)
	}
	if res := env.post("/login", url.Values{"password": {"secret"}}); res.status != http.StatusSeeOther {
		t.Fatalf("login: got %d", res.status)
	}
	res := env.get("/")
	if res.status != http.StatusOK || !strings.Contains(res.body, "Q.") {
		t.Fatalf("expected practice page after login, got %d", res.status)
	}

	if res := env.post("/logout", nil); res.location != "/login" {
		t.Fatalf("logout: got %d %q", res.status, res.location)
	}
	if res := env.get("/"); res.status != http.StatusSeeOther {
		t.Errorf("expected login required after logout, got %d", res.status)
	}
}

func TestMetricsRequiresLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, nil, model.AppConfig{PasswordHash: string(hash)}, "Q.")

	res := env.get("/metrics")
	if res.status != http.StatusUnauthorized {
		t.Fatalf("anonymous scrape: got %d", res.status)
	}
	if !strings.HasPrefix(res.header.Get("WWW-Authenticate"), "Basic") {
		t.Errorf("expected basic auth challenge, got %q", res.header.Get("WWW-Authenticate"))
	}

	tests := []struct {
		name string
		pass string
		want int
	}{
		{"wrong password", "nope", http.StatusUnauthorized},
		{"right password", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/metrics", nil)
			req.SetBasicAuth("", tt.pass)
			res := env.do(req)
			if res.status != tt.want {
				t.Fatalf("got %d, want %d", res.status, tt.want)
			}
			if tt.want == http.StatusOK && !strings.Contains(res.body, "answers_saved_total") {
				t.Error("metrics body missing counters")
			}
		})
	}

	env.get("/login")
	env.post("/login", url.Values{"password": {"secret"}})
	if res := env.get("/metrics"); res.status != http.StatusOK {
		t.Errorf("scrape with login cookie: got %d", res.status)
	}
}

func TestMetricsOpenWithoutPassword(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{BasePath: "/opic"}, "Q.")
	if res := env.get("/metrics"); res.status != http.StatusOK {
		t.Fatalf("got %d", res.status)
	}
}

func TestUnknownSessionCookieIsReplaced(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Q.")
	u, _ := url.Parse(env.srv.URL + "/")
	env.client.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookieName, Value: "forged", Path: "/"}})

	res := env.get("/")
	if res.status != http.StatusOK {
		t.Fatalf("got %d", res.status)
	}
	var issued string
	for _, c := range (&http.Response{Header: res.header}).Cookies() {
		if c.Name == sessionCookieName {
			issued = c.Value
		}
	}
	if issued == "" || issued == "forged" {
		t.Fatalf("expected a fresh session id, got %q", issued)
	}
	if env.sessions.Has("forged") {
		t.Error("client-chosen id must not become a session")
	}
	if !env.sessions.Has(issued) {
		t.Error("issued id should hold the session state")
	}

	// A known id is kept as is.
	res = env.get("/")
	for _, c := range (&http.Response{Header: res.header}).Cookies() {
		if c.Name == sessionCookieName {
			t.Errorf("known session got a new cookie %q", c.Value)
		}
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Describe your family.")
	env.get("/")

	res := env.get("/export?format=json")
	if res.status != http.StatusOK || res.header.Get("Content-Type") != "application/json" {
		t.Fatalf("json export: got %d %q", res.status, res.header.Get("Content-Type"))
	}
	if !strings.Contains(res.body, "Describe your family.") {
		t.Error("export missing question")
	}
	if !strings.Contains(res.header.Get("Content-Disposition"), ".json") {
		t.Errorf("unexpected disposition %q", res.header.Get("Content-Disposition"))
	}

	if res = env.get("/export?format=xlsx"); res.status != http.StatusOK || !strings.HasPrefix(res.body, "PK") {
		t.Errorf("xlsx export: got %d", res.status)
	}
	if res = env.get("/export?format=pdf"); res.status != http.StatusBadRequest {
		t.Errorf("unknown format: got %d", res.status)
	}
}

func TestImportUpload(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{}, "Describe your house.")
	env.get("/questions")

	upload := func(content string) result {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("csrf_token", env.csrfToken())
		fw, _ := mw.CreateFormFile("questions_file", "questions.csv")
		fw.Write([]byte(content))
		mw.Close()
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/questions/import", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return env.do(req)
	}

	csv := "question,type\nDescribe your house.,home\nTalk about a trip.,travel\n"
	if res := upload(csv); res.status != http.StatusSeeOther {
		t.Fatalf("upload: got %d", res.status)
	}
	if n, _ := env.store.QuestionCount(context.Background()); n != 2 {
		t.Errorf("expected 2 questions after import, got %d", n)
	}
	if res := env.get("/questions"); !strings.Contains(res.body, "2개 처리: 1개 추가, 1개는 이미 존재합니다.") {
		t.Error("expected import summary notice")
	}

	upload(csv)
	if res := env.get("/questions"); !strings.Contains(res.body, "이미 가져온 파일") {
		t.Error("expected unchanged file notice")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{})
	res := env.get("/healthz")
	if res.status != http.StatusOK || res.body != "ok" {
		t.Errorf("healthz: got %d %q", res.status, res.body)
	}
}

func TestBasePath(t *testing.T) {
	env := newTestEnv(t, nil, model.AppConfig{BasePath: "/opic"}, "Q.")

	res := env.get("/")
	if res.status != http.StatusOK {
		t.Fatalf("got %d", res.status)
	}
	if !strings.Contains(res.body, `action="/opic/practice/answer"`) {
		t.Error("form actions should carry the base path")
	}
	if res = env.post("/practice/restart", nil); res.location != "/opic/" {
		t.Errorf("redirect should carry the base path, got %q", res.location)
	}
}
