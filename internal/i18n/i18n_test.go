package i18n

import (
	"context"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateKorean(t *testing.T) {
	ctx := initLang(t, "ko")

	tests := []struct {
		id   string
		want string
	}{
		{"AppTitle", "오픽 튜터"},
		{"SaveNext", "저장 후 다음 ▶️"},
		{"Difficulty5", "매우 어려움"},
	}
	for _, tt := range tests {
		if got := T(ctx, tt.id); got != tt.want {
			t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "OPIc Tutor" {
		t.Errorf("T(AppTitle) = %q, want 'OPIc Tutor'", got)
	}
	if got := T(ctx, "Difficulty1"); got != "very easy" {
		t.Errorf("T(Difficulty1) = %q, want 'very easy'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "AnswerCount", 1); got != "1 answer" {
		t.Errorf("Tp(AnswerCount, 1) = %q, want '1 answer'", got)
	}
	if got := Tp(ctx, "AnswerCount", 5); got != "5 answers" {
		t.Errorf("Tp(AnswerCount, 5) = %q, want '5 answers'", got)
	}

	ko := initLang(t, "ko")
	if got := Tp(ko, "AnswerCount", 1); got != "1개" {
		t.Errorf("Tp(AnswerCount, 1) in ko = %q, want '1개'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "ko")

	got := Td(ctx, "Progress", map[string]any{"Number": 2, "Total": 4, "Percent": 50})
	if got != "진행률: 2 / 4 (50%)" {
		t.Errorf("Td(Progress) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestDefaultLocalizerFromBareContext(t *testing.T) {
	initLang(t, "ko")
	if got := T(context.Background(), "Add"); got != "추가" {
		t.Errorf("expected default-language fallback, got %q", got)
	}
}

func TestSupported(t *testing.T) {
	initLang(t, "ko")
	for lang, want := range map[string]bool{"ko": true, "en": true, "ru": false, "not a tag!": false} {
		if got := Supported(lang); got != want {
			t.Errorf("Supported(%q) = %v, want %v", lang, got, want)
		}
	}
}
