package engine

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/modsieve/modsieve/internal/model"
)

// pathCacheSize bounds the field-path split memoization.
const pathCacheSize = 1024

// compiledPattern is a regex cache entry. A nil re records a pattern that
// failed to compile, so the failure is cached too.
type compiledPattern struct {
	re *regexp.Regexp
}

// Matcher evaluates rule trigger trees against content objects.
//
// A single Matcher is shared by every stream worker. The regex cache and the
// path cache are the only shared mutable state; both are safe for concurrent
// use, so evaluations of distinct events may run in parallel.
type Matcher struct {
	provider Provider
	regexps  *xsync.Map[string, *compiledPattern]
	paths    otter.Cache[string, []string]
}

// NewMatcher creates a Matcher using provider for function-call fields.
func NewMatcher(provider Provider) *Matcher {
	paths, err := otter.MustBuilder[string, []string](pathCacheSize).
		Cost(func(_ string, _ []string) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("engine: failed to create path cache: " + err.Error())
	}
	return &Matcher{
		provider: provider,
		regexps:  xsync.NewMap[string, *compiledPattern](),
		paths:    paths,
	}
}

// Match reports whether obj triggers rule. Disabled rules never match.
// Function-call results are discarded; use MatchAll to collect them.
func (m *Matcher) Match(ctx context.Context, obj model.Content, rule model.Rule) bool {
	if !rule.Enabled {
		return false
	}
	return m.evalNode(ctx, obj, rule.Trigger, map[string]any{})
}

// MatchAll evaluates rules in the given order and returns the matched subset
// plus the accumulated function-call results. A matched rule with Block set
// stops evaluation of the remaining rules.
func (m *Matcher) MatchAll(ctx context.Context, obj model.Content, rules []model.Rule) ([]model.Rule, map[string]any) {
	results := map[string]any{}
	var matched []model.Rule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !m.evalNode(ctx, obj, rule.Trigger, results) {
			continue
		}
		matched = append(matched, rule)
		if rule.Block {
			break
		}
	}
	return matched, results
}

func (m *Matcher) evalNode(ctx context.Context, obj model.Content, node model.RuleNode, results map[string]any) bool {
	if node.Group == nil {
		if node.Cond == nil {
			return false
		}
		return m.evalCondition(ctx, obj, *node.Cond, results)
	}

	g := node.Group
	if len(g.Conditions) == 0 {
		return false
	}

	switch g.Logic {
	case model.LogicAnd:
		for _, child := range g.Conditions {
			if !m.evalNode(ctx, obj, child, results) {
				return false
			}
		}
		return true
	case model.LogicOr:
		for _, child := range g.Conditions {
			if m.evalNode(ctx, obj, child, results) {
				return true
			}
		}
		return false
	case model.LogicNot:
		// NOT applies to the first child only; trailing children are ignored.
		return !m.evalNode(ctx, obj, g.Conditions[0], results)
	case model.LogicXor:
		return m.countTrue(ctx, obj, g.Conditions, results)%2 == 1
	case model.LogicXnor:
		return m.countTrue(ctx, obj, g.Conditions, results)%2 == 0
	case model.LogicNand:
		for _, child := range g.Conditions {
			if !m.evalNode(ctx, obj, child, results) {
				return true
			}
		}
		return false
	case model.LogicNor:
		for _, child := range g.Conditions {
			if m.evalNode(ctx, obj, child, results) {
				return false
			}
		}
		return true
	}
	return false
}

func (m *Matcher) countTrue(ctx context.Context, obj model.Content, children []model.RuleNode, results map[string]any) int {
	n := 0
	for _, child := range children {
		if m.evalNode(ctx, obj, child, results) {
			n++
		}
	}
	return n
}

func (m *Matcher) evalCondition(ctx context.Context, obj model.Content, cond model.Condition, results map[string]any) bool {
	var fieldValue any
	if call := cond.Field.Call; call != nil {
		fieldValue = m.provider.Execute(ctx, call.Name, obj, call.Args, call.Kwargs)
		// Last writer wins within a single event.
		results[call.Name] = fieldValue
	} else {
		fieldValue = m.resolveField(obj, cond.Field.Path)
	}

	// An absent value satisfies nothing, negative operators included.
	if fieldValue == nil {
		return false
	}

	switch cond.Operator {
	case model.OpContains:
		return strings.Contains(stringify(fieldValue), stringify(cond.Value))
	case model.OpNotContains:
		return !strings.Contains(stringify(fieldValue), stringify(cond.Value))
	case model.OpRegex:
		re := m.pattern(stringify(cond.Value))
		return re != nil && re.MatchString(stringify(fieldValue))
	case model.OpNotRegex:
		// Fail-open: an uncompilable pattern cannot assert a match.
		re := m.pattern(stringify(cond.Value))
		return re == nil || !re.MatchString(stringify(fieldValue))
	case model.OpEq:
		return looseEqual(fieldValue, cond.Value)
	case model.OpNeq:
		return !looseEqual(fieldValue, cond.Value)
	case model.OpGt:
		c, ok := compareNatural(fieldValue, cond.Value)
		return ok && c > 0
	case model.OpLt:
		c, ok := compareNatural(fieldValue, cond.Value)
		return ok && c < 0
	case model.OpGte:
		c, ok := compareNatural(fieldValue, cond.Value)
		return ok && c >= 0
	case model.OpLte:
		c, ok := compareNatural(fieldValue, cond.Value)
		return ok && c <= 0
	case model.OpIn:
		return member(fieldValue, cond.Value)
	case model.OpNotIn:
		// Type mismatch yields false here as well: a non-sequence value
		// cannot certify absence.
		elems, ok := sequence(cond.Value)
		if !ok {
			return false
		}
		for _, e := range elems {
			if looseEqual(fieldValue, e) {
				return false
			}
		}
		return true
	}
	return false
}

// resolveField walks a dotted field path. "self" resolves to the object
// itself; any nil intermediate makes the whole resolution nil.
func (m *Matcher) resolveField(obj model.Content, path string) any {
	if path == "self" {
		return obj
	}
	var cur any = obj
	for _, part := range m.splitPath(path) {
		switch v := cur.(type) {
		case model.FieldSource:
			next, ok := v.Field(part)
			if !ok {
				return nil
			}
			cur = next
		case map[string]any:
			cur = v[part]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (m *Matcher) splitPath(path string) []string {
	if parts, ok := m.paths.Get(path); ok {
		return parts
	}
	parts := strings.Split(path, ".")
	m.paths.Set(path, parts)
	return parts
}

// pattern returns the compiled regex for expr, or nil if it does not compile.
// Compilation results, including failures, are cached.
func (m *Matcher) pattern(expr string) *regexp.Regexp {
	if entry, ok := m.regexps.Load(expr); ok {
		return entry.re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		re = nil
	}
	entry, _ := m.regexps.LoadOrStore(expr, &compiledPattern{re: re})
	return entry.re
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// looseEqual compares structurally, except that any two numeric values
// compare by magnitude (JSON decoding yields float64 where rule authors
// wrote integers).
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareNatural orders two values of compatible kinds: numbers by magnitude,
// strings lexicographically. Mismatched kinds do not compare.
func compareNatural(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// sequence normalizes a condition value into a slice of elements.
func sequence(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, true
}

func member(needle, haystack any) bool {
	elems, ok := sequence(haystack)
	if !ok {
		return false
	}
	for _, e := range elems {
		if looseEqual(needle, e) {
			return true
		}
	}
	return false
}
