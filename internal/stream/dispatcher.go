// Package stream is the consumption side: per-scope workers reading content
// events off Redis streams, a manager reconciling the worker fleet against
// the active rule set, and a dispatcher publishing match results.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/modsieve/modsieve/internal/model"
)

// Appender appends entries to a stream.
type Appender interface {
	Append(ctx context.Context, stream string, values map[string]any) error
}

// Dispatcher publishes review results to the action stream for downstream
// executors.
type Dispatcher struct {
	app    Appender
	stream string
}

// NewDispatcher creates a Dispatcher writing to the given action stream.
func NewDispatcher(app Appender, stream string) *Dispatcher {
	return &Dispatcher{app: app, stream: stream}
}

// Dispatch appends one review result. Nothing is written for an empty match
// set. Broker errors are logged and swallowed so a failed dispatch never
// holds up acknowledgement.
func (d *Dispatcher) Dispatch(ctx context.Context, fid int64, objectType string, objectData map[string]any, matched []model.Rule, fnResults map[string]any) {
	if len(matched) == 0 {
		return
	}

	ids := make([]int64, 0, len(matched))
	for _, rule := range matched {
		ids = append(ids, rule.ID)
	}

	data, err := json.Marshal(objectData)
	if err != nil {
		log.Printf("dispatch: encode object data: %v", err)
		return
	}
	if fnResults == nil {
		fnResults = map[string]any{}
	}

	payload, err := json.Marshal(model.ReviewResult{
		FID:                 fid,
		MatchedRuleIDs:      ids,
		ObjectType:          objectType,
		ObjectData:          data,
		FunctionCallResults: fnResults,
		Timestamp:           model.UnixSeconds(time.Now()),
	})
	if err != nil {
		log.Printf("dispatch: encode result: %v", err)
		return
	}

	if err := d.app.Append(ctx, d.stream, map[string]any{"data": string(payload)}); err != nil {
		log.Printf("dispatch: append to %s failed: %v", d.stream, err)
		return
	}
	log.Printf("dispatch: result with %d matched rules appended to %s", len(ids), d.stream)
}
