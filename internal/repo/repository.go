// Package repo keeps the in-memory rule cache convergent with the rule table
// via pub/sub notifications plus periodic polling, and serves scope-indexed
// rule queries to the stream workers.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/modsieve/modsieve/internal/model"
	"github.com/modsieve/modsieve/internal/redisx"
	"github.com/modsieve/modsieve/internal/scanloop"
	"github.com/modsieve/modsieve/internal/store"
)

const (
	// resubscribeDelay is the wait before re-opening a failed subscription.
	resubscribeDelay = 5 * time.Second
	// pollErrorBackoff is the wait after a failed database poll.
	pollErrorBackoff = 60 * time.Second
)

// Store is the rule-table surface the repository reads from.
type Store interface {
	LoadEnabledRules(ctx context.Context) ([]store.RuleRow, error)
	GetRule(ctx context.Context, id int64) (*store.RuleRow, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, bool, error)
}

// Subscriber opens pub/sub subscriptions for rule-change notifications.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) redisx.Subscription
}

// Config holds the repository's sync settings.
type Config struct {
	// Channel is the pub/sub channel carrying rule-change events.
	Channel string
	// PollInterval is the cadence of the updated_at polling fallback.
	PollInterval time.Duration
}

// changeEvent is one rule-change notification.
type changeEvent struct {
	Type   string `json:"type"`
	RuleID int64  `json:"rule_id"`
}

type scopeKey struct {
	FID    int64
	Target model.TargetType
}

// Repository caches the enabled rule set in memory.
type Repository struct {
	store Store
	sub   Subscriber
	cfg   Config

	mu           sync.RWMutex
	rules        []model.Rule
	index        map[scopeKey][]model.Rule
	lastSyncedAt time.Time

	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped sync.Once

	// Poll backoff state, touched only by the polling goroutine.
	pollBackoffUntil time.Time
}

// New creates a Repository. Call Load before serving queries.
func New(st Store, sub Subscriber, cfg Config) *Repository {
	return &Repository{
		store: st,
		sub:   sub,
		cfg:   cfg,
		index: map[scopeKey][]model.Rule{},
	}
}

// Load bulk-loads the enabled rule set. A database failure here is fatal to
// the process; per-rule parse failures are logged and skipped.
func (r *Repository) Load(ctx context.Context) error {
	if err := r.refreshAll(ctx); err != nil {
		return err
	}
	log.Printf("repo: loaded %d rules", len(r.ActiveRules()))
	return nil
}

// StartSync spawns the notification listener and the polling fallback.
func (r *Repository) StartSync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stopCh = make(chan struct{})

	r.wg.Add(2)
	go r.listen(ctx)
	go func() {
		defer r.wg.Done()
		scanloop.Run(r.stopCh, r.cfg.PollInterval, scanloop.DefaultJitterRange, func() {
			r.pollOnce(ctx)
		})
	}()
	log.Printf("repo: rule sync started (channel %s, poll every %s)", r.cfg.Channel, r.cfg.PollInterval)
}

// StopSync cancels both sync tasks and waits for them to terminate.
// It is idempotent and safe to call without a prior StartSync.
func (r *Repository) StopSync() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	r.stopped.Do(func() {
		r.cancel()
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Query returns the enabled rules applying to (fid, kind): the scope-specific
// rules merged with the fid's "all" rules, sorted by priority ascending with
// id as the tiebreaker. The returned slice is the caller's to keep.
func (r *Repository) Query(fid int64, kind model.TargetType) []model.Rule {
	r.mu.RLock()
	specific := r.index[scopeKey{FID: fid, Target: kind}]
	global := r.index[scopeKey{FID: fid, Target: model.TargetAll}]
	merged := make([]model.Rule, 0, len(specific)+len(global))
	merged = append(merged, specific...)
	merged = append(merged, global...)
	r.mu.RUnlock()

	sortRules(merged)
	return merged
}

// ActiveRules returns a snapshot of every cached rule.
func (r *Repository) ActiveRules() []model.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ActiveFIDs returns the set of scopes with at least one cached rule.
func (r *Repository) ActiveFIDs() map[int64]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fids := make(map[int64]struct{})
	for _, rule := range r.rules {
		fids[rule.FID] = struct{}{}
	}
	return fids
}

// listen consumes rule-change notifications, re-subscribing with a delay
// whenever the subscription dies.
func (r *Repository) listen(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		sub := r.sub.Subscribe(ctx, r.cfg.Channel)
		alive := true
		for alive {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case payload, ok := <-sub.Messages():
				if !ok {
					alive = false
					break
				}
				r.handleNotification(ctx, payload)
			}
		}
		sub.Close()
		log.Printf("repo: rule subscription lost, retrying in %s", resubscribeDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (r *Repository) handleNotification(ctx context.Context, payload string) {
	var ev changeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("repo: bad rule notification %q: %v", payload, err)
		return
	}
	log.Printf("repo: rule event %s for rule %d", ev.Type, ev.RuleID)

	switch ev.Type {
	case "DELETE":
		r.removeRule(ev.RuleID)
	case "ADD", "UPDATE":
		r.refreshSingle(ctx, ev.RuleID)
	default:
		log.Printf("repo: unknown rule event type %q", ev.Type)
	}
}

// pollOnce checks max(updated_at) and reloads everything when the table has
// moved past the last sync point. Errors put the poller into a backoff that
// skips ticks for a while.
func (r *Repository) pollOnce(ctx context.Context) {
	if time.Now().Before(r.pollBackoffUntil) {
		return
	}

	maxUpdated, ok, err := r.store.MaxUpdatedAt(ctx)
	if err != nil {
		log.Printf("repo: poll failed: %v", err)
		r.pollBackoffUntil = time.Now().Add(pollErrorBackoff)
		return
	}
	if !ok {
		return
	}

	r.mu.RLock()
	last := r.lastSyncedAt
	r.mu.RUnlock()

	if !maxUpdated.After(last) {
		return
	}

	log.Printf("repo: detected rule updates (last %s, new %s), refreshing", last, maxUpdated)
	if err := r.refreshAll(ctx); err != nil {
		log.Printf("repo: refresh failed: %v", err)
		r.pollBackoffUntil = time.Now().Add(pollErrorBackoff)
	}
}

// refreshAll reloads every enabled rule and rebuilds the index.
func (r *Repository) refreshAll(ctx context.Context) error {
	syncedAt := time.Now()
	rows, err := r.store.LoadEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	rules := make([]model.Rule, 0, len(rows))
	for _, row := range rows {
		rule, err := parseRule(row)
		if err != nil {
			log.Printf("repo: skipping rule %d: %v", row.ID, err)
			continue
		}
		rules = append(rules, rule)
	}

	r.mu.Lock()
	r.rules = rules
	r.index = buildIndex(rules)
	r.lastSyncedAt = syncedAt
	r.mu.Unlock()
	return nil
}

// refreshSingle re-reads one rule and replaces it in the cache. A missing or
// disabled row removes the cached rule.
func (r *Repository) refreshSingle(ctx context.Context, id int64) {
	row, err := r.store.GetRule(ctx, id)
	if err != nil {
		log.Printf("repo: refresh rule %d: %v", id, err)
		return
	}

	var replacement *model.Rule
	if row != nil && row.Enabled {
		rule, err := parseRule(*row)
		if err != nil {
			log.Printf("repo: skipping rule %d: %v", row.ID, err)
		} else {
			replacement = &rule
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rules := removeByID(r.rules, id)
	if replacement != nil {
		rules = append(rules, *replacement)
	}
	r.rules = rules
	r.index = buildIndex(rules)
}

func (r *Repository) removeRule(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = removeByID(r.rules, id)
	r.index = buildIndex(r.rules)
}

func removeByID(rules []model.Rule, id int64) []model.Rule {
	out := rules[:0:len(rules)]
	for _, rule := range rules {
		if rule.ID != id {
			out = append(out, rule)
		}
	}
	return out
}

// buildIndex is a pure function of the rule list: rebuilding over the same
// rules yields an identical index. Buckets are sorted by (priority, id).
func buildIndex(rules []model.Rule) map[scopeKey][]model.Rule {
	index := make(map[scopeKey][]model.Rule)
	for _, rule := range rules {
		key := scopeKey{FID: rule.FID, Target: rule.TargetType}
		index[key] = append(index[key], rule)
	}
	for _, bucket := range index {
		sortRules(bucket)
	}
	return index
}

func sortRules(rules []model.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// parseRule builds a domain rule from a raw row. Blob errors invalidate only
// this rule.
func parseRule(row store.RuleRow) (model.Rule, error) {
	target := model.TargetType(row.TargetType)
	if !target.IsValid() {
		return model.Rule{}, fmt.Errorf("invalid target_type %q", row.TargetType)
	}

	var trigger model.RuleNode
	if err := json.Unmarshal(row.Trigger, &trigger); err != nil {
		return model.Rule{}, fmt.Errorf("parse trigger: %w", err)
	}

	var actions []model.Action
	if len(row.Actions) > 0 {
		if err := json.Unmarshal(row.Actions, &actions); err != nil {
			return model.Rule{}, fmt.Errorf("parse actions: %w", err)
		}
	}

	return model.Rule{
		ID:         row.ID,
		Name:       row.Name,
		Enabled:    row.Enabled,
		Priority:   row.Priority,
		Block:      row.Block,
		FID:        row.FID,
		TargetType: target,
		Trigger:    trigger,
		Actions:    actions,
	}, nil
}
