package model

import (
	"encoding/json"
	"time"
)

// ReviewResult is the payload appended to the action stream for a matched
// event. ObjectData carries the serialized content object as-is.
type ReviewResult struct {
	FID                 int64           `json:"fid"`
	MatchedRuleIDs      []int64         `json:"matched_rule_ids"`
	ObjectType          string          `json:"object_type"`
	ObjectData          json.RawMessage `json:"object_data"`
	FunctionCallResults map[string]any  `json:"function_call_results"`
	Timestamp           float64         `json:"timestamp"`
}

// UnixSeconds converts t to the wire timestamp format (float seconds since
// epoch).
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
