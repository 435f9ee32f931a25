package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/modsieve/modsieve/internal/model"
)

type fakeAppender struct {
	mu      sync.Mutex
	stream  string
	entries []map[string]any
	err     error
}

func (f *fakeAppender) Append(_ context.Context, stream string, values map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stream = stream
	f.entries = append(f.entries, values)
	return nil
}

func (f *fakeAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func matchedRules(ids ...int64) []model.Rule {
	out := make([]model.Rule, len(ids))
	for i, id := range ids {
		out[i] = model.Rule{ID: id, Enabled: true}
	}
	return out
}

func TestDispatchPayload(t *testing.T) {
	app := &fakeAppender{}
	d := NewDispatcher(app, "actions")

	before := model.UnixSeconds(time.Now())
	d.Dispatch(context.Background(), 7, "post",
		map[string]any{"pid": float64(2), "text": "spam"},
		matchedRules(3, 1),
		map[string]any{"text_length": float64(4)},
	)

	if app.count() != 1 {
		t.Fatalf("appended %d entries, want 1", app.count())
	}
	if app.stream != "actions" {
		t.Errorf("stream = %s", app.stream)
	}

	raw, ok := app.entries[0]["data"].(string)
	if !ok {
		t.Fatalf("data field = %T", app.entries[0]["data"])
	}
	var res model.ReviewResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatal(err)
	}
	if res.FID != 7 || res.ObjectType != "post" {
		t.Errorf("result = %+v", res)
	}
	if len(res.MatchedRuleIDs) != 2 || res.MatchedRuleIDs[0] != 3 || res.MatchedRuleIDs[1] != 1 {
		t.Errorf("matched ids = %v", res.MatchedRuleIDs)
	}
	if res.FunctionCallResults["text_length"] != float64(4) {
		t.Errorf("fn results = %v", res.FunctionCallResults)
	}
	var obj map[string]any
	if err := json.Unmarshal(res.ObjectData, &obj); err != nil {
		t.Fatal(err)
	}
	if obj["text"] != "spam" {
		t.Errorf("object data = %v", obj)
	}
	if res.Timestamp < before || res.Timestamp > model.UnixSeconds(time.Now()) {
		t.Errorf("timestamp = %v out of range", res.Timestamp)
	}
}

func TestDispatchEmptyMatchIsNoop(t *testing.T) {
	app := &fakeAppender{}
	d := NewDispatcher(app, "actions")
	d.Dispatch(context.Background(), 7, "post", map[string]any{}, nil, nil)
	if app.count() != 0 {
		t.Errorf("appended %d entries for empty match set", app.count())
	}
}

func TestDispatchSwallowsBrokerErrors(t *testing.T) {
	app := &fakeAppender{err: errors.New("broker down")}
	d := NewDispatcher(app, "actions")
	// Must not panic or propagate.
	d.Dispatch(context.Background(), 7, "post", map[string]any{}, matchedRules(1), nil)
}

func TestDispatchNilFunctionResults(t *testing.T) {
	app := &fakeAppender{}
	d := NewDispatcher(app, "actions")
	d.Dispatch(context.Background(), 7, "post", map[string]any{}, matchedRules(1), nil)

	var res model.ReviewResult
	if err := json.Unmarshal([]byte(app.entries[0]["data"].(string)), &res); err != nil {
		t.Fatal(err)
	}
	if res.FunctionCallResults == nil {
		t.Error("function_call_results serialized as null")
	}
}
