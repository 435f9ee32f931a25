// Package model defines the review domain: rules with their boolean trigger
// trees, the content objects rules are evaluated against, and the result
// payload dispatched to the action stream.
package model

import (
	"encoding/json"
	"fmt"
)

// TargetType is the content kind a rule applies to.
type TargetType string

const (
	TargetThread  TargetType = "thread"
	TargetPost    TargetType = "post"
	TargetComment TargetType = "comment"
	TargetAll     TargetType = "all"
)

// IsValid reports whether t is a known target type.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetThread, TargetPost, TargetComment, TargetAll:
		return true
	}
	return false
}

// ObjectTypeValid reports whether s names a concrete content kind
// (a message object_type; "all" is rule-only and not accepted here).
func ObjectTypeValid(s string) bool {
	switch TargetType(s) {
	case TargetThread, TargetPost, TargetComment:
		return true
	}
	return false
}

// Operator is a condition operator.
type Operator string

const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpRegex       Operator = "regex"
	OpNotRegex    Operator = "not_regex"
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpLt          Operator = "lt"
	OpGte         Operator = "gte"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// LogicType combines the results of a group's children.
type LogicType string

const (
	LogicAnd  LogicType = "AND"
	LogicOr   LogicType = "OR"
	LogicNot  LogicType = "NOT"
	LogicXor  LogicType = "XOR"
	LogicXnor LogicType = "XNOR"
	LogicNand LogicType = "NAND"
	LogicNor  LogicType = "NOR"
)

// FunctionCall names a registered (or remote) rule function with its arguments.
type FunctionCall struct {
	Name   string         `json:"name"`
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// FieldRef is the left-hand side of a condition: either a dotted field path
// (or the literal "self") or a function call. Exactly one of Path/Call is set.
//
// On the wire a FieldRef is a JSON string for paths and a JSON object
// {"name": ..., "args": ..., "kwargs": ...} for calls.
type FieldRef struct {
	Path string
	Call *FunctionCall
}

// PathRef builds a FieldRef for a dotted field path.
func PathRef(path string) FieldRef { return FieldRef{Path: path} }

// CallRef builds a FieldRef for a function call.
func CallRef(call FunctionCall) FieldRef { return FieldRef{Call: &call} }

// MarshalJSON implements json.Marshaler.
func (f FieldRef) MarshalJSON() ([]byte, error) {
	if f.Call != nil {
		return json.Marshal(f.Call)
	}
	return json.Marshal(f.Path)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FieldRef) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*f = FieldRef{Path: path}
		return nil
	}
	var call FunctionCall
	if err := json.Unmarshal(data, &call); err != nil {
		return fmt.Errorf("field must be a path string or a function call object: %w", err)
	}
	if call.Name == "" {
		return fmt.Errorf("function call field missing name")
	}
	*f = FieldRef{Call: &call}
	return nil
}

// Condition is a leaf predicate of a trigger tree.
type Condition struct {
	Field    FieldRef `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// RuleGroup is an internal node of a trigger tree. A group with no children
// evaluates to false regardless of logic.
type RuleGroup struct {
	Logic      LogicType  `json:"logic"`
	Conditions []RuleNode `json:"conditions"`
}

// RuleNode is either a Condition or a RuleGroup. Exactly one of Cond/Group
// is non-nil. The JSON form is discriminated by the presence of "logic".
type RuleNode struct {
	Cond  *Condition
	Group *RuleGroup
}

// CondNode wraps a condition as a node.
func CondNode(c Condition) RuleNode { return RuleNode{Cond: &c} }

// GroupNode wraps a group as a node.
func GroupNode(g RuleGroup) RuleNode { return RuleNode{Group: &g} }

// MarshalJSON implements json.Marshaler.
func (n RuleNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Group != nil:
		return json.Marshal(n.Group)
	case n.Cond != nil:
		return json.Marshal(n.Cond)
	}
	return nil, fmt.Errorf("empty rule node")
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *RuleNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Logic *LogicType `json:"logic"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("rule node must be an object: %w", err)
	}
	if probe.Logic != nil {
		var g RuleGroup
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		n.Group, n.Cond = &g, nil
		return nil
	}
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	if c.Operator == "" {
		return fmt.Errorf("condition missing operator")
	}
	n.Cond, n.Group = &c, nil
	return nil
}

// Action is an opaque downstream instruction carried on matched rules.
// The pipeline forwards actions without interpreting them.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule is a complete review rule.
type Rule struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled"`
	Priority   int        `json:"priority"`
	Block      bool       `json:"block"`
	FID        int64      `json:"fid"`
	TargetType TargetType `json:"target_type"`
	Trigger    RuleNode   `json:"trigger"`
	Actions    []Action   `json:"actions"`
}
