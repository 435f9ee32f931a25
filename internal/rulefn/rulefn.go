// Package rulefn provides the built-in rule functions and registers them at
// bootstrap.
package rulefn

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/modsieve/modsieve/internal/engine"
	"github.com/modsieve/modsieve/internal/model"
)

var urlPattern = regexp.MustCompile(`http[s]?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\\(\\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

// RegisterAll registers every built-in function on reg.
func RegisterAll(reg *engine.Registry) error {
	for name, fn := range map[string]engine.Func{
		"text_length":   textLength,
		"keyword_count": keywordCount,
		"has_url":       hasURL,
	} {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// textLength returns the number of characters in the object's body text.
func textLength(_ context.Context, obj model.Content, _ []any, _ map[string]any) (any, error) {
	return utf8.RuneCountInString(obj.Text()), nil
}

// keywordCount returns the total number of occurrences of the given keywords
// in the object's full text. The keyword list is the first positional arg.
func keywordCount(_ context.Context, obj model.Content, args []any, _ map[string]any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("keyword_count: missing keyword list")
	}
	keywords, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("keyword_count: first arg must be a list, got %T", args[0])
	}
	text := obj.FullText()
	count := 0
	for _, kw := range keywords {
		s, ok := kw.(string)
		if !ok || s == "" {
			continue
		}
		count += strings.Count(text, s)
	}
	return count, nil
}

// hasURL reports whether the object's full text contains a URL.
func hasURL(_ context.Context, obj model.Content, _ []any, _ map[string]any) (any, error) {
	return urlPattern.MatchString(obj.FullText()), nil
}
