package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modsieve/modsieve/internal/model"
	"github.com/modsieve/modsieve/internal/redisx"
)

const (
	// readBlock is the XREADGROUP block timeout; short enough that a stop
	// request is noticed promptly.
	readBlock = time.Second
	// loopErrorDelay is the pause after a read-loop failure.
	loopErrorDelay = time.Second
	// recoveryStartCursor is where a PEL scan begins.
	recoveryStartCursor = "0-0"
	// recoveryErrorDelay is the pause after a failed PEL scan before the
	// cursor is reset and scanning resumes.
	recoveryErrorDelay = 60 * time.Second
)

// Broker is the stream surface a worker consumes through.
type Broker interface {
	CreateGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redisx.Message, error)
	Ack(ctx context.Context, stream, group, id string) error
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]redisx.Message, string, error)
}

// RuleSource serves the rule set for a (scope, kind) pair.
type RuleSource interface {
	Query(fid int64, kind model.TargetType) []model.Rule
}

// RuleMatcher evaluates a rule list against one content object.
type RuleMatcher interface {
	MatchAll(ctx context.Context, obj model.Content, rules []model.Rule) ([]model.Rule, map[string]any)
}

// ResultSink receives match results.
type ResultSink interface {
	Dispatch(ctx context.Context, fid int64, objectType string, objectData map[string]any, matched []model.Rule, fnResults map[string]any)
}

// WorkerConfig holds the per-worker consumption settings.
type WorkerConfig struct {
	Group            string
	Consumer         string
	BatchSize        int64
	Concurrency      int
	RecoveryEnabled  bool
	RecoveryInterval time.Duration
	MinIdleTime      time.Duration
}

// eventEnvelope is the decoded "data" field of a content event.
type eventEnvelope struct {
	ObjectType string         `json:"object_type"`
	ObjectID   any            `json:"object_id"`
	Payload    map[string]any `json:"payload"`
}

type workerState int32

const (
	stateCreated workerState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Stats is a snapshot of a worker's counters.
type Stats struct {
	Processed int64
	Matched   int64
	Errors    int64
}

// Worker consumes one scope's content stream through a consumer group,
// evaluates each event against the scope's rules and hands matches to the
// sink. Up to Concurrency events are processed in parallel; reads are
// quota-bounded so in-flight work never exceeds that limit.
type Worker struct {
	fid    int64
	stream string
	cfg    WorkerConfig

	broker  Broker
	rules   RuleSource
	matcher RuleMatcher
	sink    ResultSink

	state    atomic.Int32
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inflight atomic.Int64
	slotFree chan struct{}

	processed atomic.Int64
	matched   atomic.Int64
	errors    atomic.Int64
}

// NewWorker creates a worker for one scope's stream. Call Run to start it.
func NewWorker(broker Broker, rules RuleSource, matcher RuleMatcher, sink ResultSink, fid int64, stream string, cfg WorkerConfig) *Worker {
	return &Worker{
		fid:      fid,
		stream:   stream,
		cfg:      cfg,
		broker:   broker,
		rules:    rules,
		matcher:  matcher,
		sink:     sink,
		stopCh:   make(chan struct{}),
		slotFree: make(chan struct{}, 1),
	}
}

// Run sets up the consumer group and consumes until Stop. It returns an
// error only when the group cannot be established or the worker was already
// started. On return all spawned processing has finished.
func (w *Worker) Run(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return fmt.Errorf("worker for fid %d already started", w.fid)
	}
	defer w.state.Store(int32(stateStopped))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := w.broker.CreateGroup(ctx, w.stream, w.cfg.Group); err != nil {
		return fmt.Errorf("create group %s on %s: %w", w.cfg.Group, w.stream, err)
	}

	if w.cfg.RecoveryEnabled {
		w.wg.Add(1)
		go w.recoveryLoop(ctx)
		log.Printf("worker fid %d: stream recovery enabled on %s", w.fid, w.stream)
	}

	log.Printf("worker fid %d: listening on %s", w.fid, w.stream)
	w.readLoop(ctx)
	w.wg.Wait()
	return nil
}

// Stop requests termination. It does not wait; Run returns once in-flight
// processing drains.
func (w *Worker) Stop() {
	if w.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) ||
		w.state.CompareAndSwap(int32(stateCreated), int32(stateStopping)) {
		close(w.stopCh)
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Matched:   w.matched.Load(),
		Errors:    w.errors.Load(),
	}
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		quota := int64(w.cfg.Concurrency) - w.inflight.Load()
		if quota <= 0 {
			select {
			case <-w.stopCh:
				return
			case <-w.slotFree:
			}
			continue
		}
		if quota > w.cfg.BatchSize {
			quota = w.cfg.BatchSize
		}

		msgs, err := w.broker.ReadGroup(ctx, w.stream, w.cfg.Group, w.cfg.Consumer, quota, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.errors.Add(1)
			log.Printf("worker fid %d: read failed: %v", w.fid, err)
			select {
			case <-w.stopCh:
				return
			case <-time.After(loopErrorDelay):
			}
			continue
		}

		for _, msg := range msgs {
			w.inflight.Add(1)
			w.wg.Add(1)
			go func(msg redisx.Message) {
				defer w.wg.Done()
				defer func() {
					w.inflight.Add(-1)
					select {
					case w.slotFree <- struct{}{}:
					default:
					}
				}()
				w.process(ctx, msg)
			}(msg)
		}
	}
}

// process handles one entry end to end. A panic in handling is contained
// here; without recovery enabled the entry is still acked so a poison
// message cannot wedge the group.
func (w *Worker) process(ctx context.Context, msg redisx.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.errors.Add(1)
			log.Printf("worker fid %d: panic processing %s: %v", w.fid, msg.ID, r)
			if !w.cfg.RecoveryEnabled {
				w.ack(ctx, msg.ID)
			}
		}
	}()
	w.handle(ctx, msg)
}

func (w *Worker) handle(ctx context.Context, msg redisx.Message) {
	raw := msg.Values["data"]
	if raw == "" {
		log.Printf("worker fid %d: message %s missing data field", w.fid, msg.ID)
		w.ack(ctx, msg.ID)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		log.Printf("worker fid %d: undecodable message %s: %v", w.fid, msg.ID, err)
		w.ack(ctx, msg.ID)
		return
	}
	if env.Payload == nil || !model.ObjectTypeValid(env.ObjectType) {
		log.Printf("worker fid %d: invalid message format: %v", w.fid, env.ObjectID)
		w.ack(ctx, msg.ID)
		return
	}

	obj, err := model.Deserialize(env.ObjectType, env.Payload)
	if err != nil {
		w.errors.Add(1)
		log.Printf("worker fid %d: deserialization failed for %v: %v", w.fid, env.ObjectID, err)
		w.ack(ctx, msg.ID)
		return
	}

	rules := w.rules.Query(w.fid, model.TargetType(env.ObjectType))
	matched, fnResults := w.matcher.MatchAll(ctx, obj, rules)

	w.processed.Add(1)
	if len(matched) > 0 {
		w.matched.Add(int64(len(matched)))
		for _, rule := range matched {
			log.Printf("worker fid %d: rule matched: %s (id %d)", w.fid, rule.Name, rule.ID)
		}
		w.sink.Dispatch(ctx, w.fid, env.ObjectType, env.Payload, matched, fnResults)
	}

	w.ack(ctx, msg.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.broker.Ack(ctx, w.stream, w.cfg.Group, id); err != nil {
		log.Printf("worker fid %d: ack %s failed: %v", w.fid, id, err)
	}
}

// recoveryLoop periodically claims entries stuck in other consumers' PELs
// and reprocesses them inline. The scan cursor resets after an error so a
// bad range cannot wedge the loop.
func (w *Worker) recoveryLoop(ctx context.Context) {
	defer w.wg.Done()
	cursor := recoveryStartCursor
	for {
		select {
		case <-w.stopCh:
			return
		case <-time.After(w.cfg.RecoveryInterval):
		}

		next, err := w.recoverOnce(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker fid %d: recovery scan failed: %v", w.fid, err)
			cursor = recoveryStartCursor
			select {
			case <-w.stopCh:
				return
			case <-time.After(recoveryErrorDelay):
			}
			continue
		}
		cursor = next
	}
}

// recoverOnce claims one batch of idle pending entries starting at cursor
// and returns the next cursor.
func (w *Worker) recoverOnce(ctx context.Context, cursor string) (string, error) {
	msgs, next, err := w.broker.AutoClaim(ctx, w.stream, w.cfg.Group, w.cfg.Consumer, w.cfg.MinIdleTime, cursor, w.cfg.BatchSize)
	if err != nil {
		return "", err
	}
	if len(msgs) > 0 {
		log.Printf("worker fid %d: recovered %d pending entries", w.fid, len(msgs))
		for _, msg := range msgs {
			w.process(ctx, msg)
		}
	}
	return next, nil
}
