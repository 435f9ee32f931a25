package rulefn

import (
	"context"
	"testing"

	"github.com/modsieve/modsieve/internal/engine"
	"github.com/modsieve/modsieve/internal/model"
)

func thread(t *testing.T, title, text string) model.Content {
	t.Helper()
	obj, err := model.Deserialize("thread", map[string]any{
		"tid": float64(1), "fid": float64(7), "title": title, "text": text,
	})
	if err != nil {
		t.Fatal(err)
	}
	return obj
}

func TestRegisterAll(t *testing.T) {
	reg := engine.NewRegistry()
	if err := RegisterAll(reg); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"text_length", "keyword_count", "has_url"} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("%s not registered", name)
		}
	}
	// A second pass collides.
	if err := RegisterAll(reg); err == nil {
		t.Error("re-registration succeeded")
	}
}

func TestTextLength(t *testing.T) {
	got, err := textLength(context.Background(), thread(t, "title", "héllo"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Characters, not bytes.
	if got != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

func TestKeywordCount(t *testing.T) {
	obj := thread(t, "spam alert", "spam spam ham")

	got, err := keywordCount(context.Background(), obj, []any{[]any{"spam", "ham"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Title counts too: spam appears 3 times across title and body, ham once.
	if got != 4 {
		t.Errorf("got %v, want 4", got)
	}

	if _, err := keywordCount(context.Background(), obj, nil, nil); err == nil {
		t.Error("expected error without keyword list")
	}
	if _, err := keywordCount(context.Background(), obj, []any{"spam"}, nil); err == nil {
		t.Error("expected error for non-list arg")
	}

	// Non-string and empty entries are skipped.
	got, err = keywordCount(context.Background(), obj, []any{[]any{float64(3), "", "ham"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("got %v, want 1", got)
	}
}

func TestHasURL(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"visit https://example.com/x now", true},
		{"http://a.b", true},
		{"no links here", false},
	}
	for _, tt := range tests {
		got, err := hasURL(context.Background(), thread(t, "", tt.text), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("hasURL(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
