package stream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/modsieve/modsieve/internal/scanloop"
)

// reconcileInterval is the cadence of the worker fleet reconciliation.
const reconcileInterval = 5 * time.Second

// ActiveSource reports the scopes that currently carry at least one rule.
type ActiveSource interface {
	ActiveFIDs() map[int64]struct{}
}

// ManagedWorker is what the manager runs per scope.
type ManagedWorker interface {
	Run(ctx context.Context) error
	Stop()
}

// WorkerFactory builds a worker for one scope's stream.
type WorkerFactory func(fid int64, stream string) ManagedWorker

type workerHandle struct {
	worker ManagedWorker
	done   chan struct{}
}

// Manager keeps one running worker per active scope. Every tick it diffs the
// running set against ActiveFIDs: scopes without rules get their worker
// stopped (without awaiting, so one slow drain cannot stall the loop), new
// scopes get a worker started on "<prefix>:<fid>".
type Manager struct {
	source       ActiveSource
	newWorker    WorkerFactory
	streamPrefix string

	active *xsync.Map[int64, *workerHandle]

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
}

// NewManager creates a Manager. streamPrefix is the content stream key;
// per-scope streams are derived from it.
func NewManager(source ActiveSource, factory WorkerFactory, streamPrefix string) *Manager {
	return &Manager{
		source:       source,
		newWorker:    factory,
		streamPrefix: streamPrefix,
		active:       xsync.NewMap[int64, *workerHandle](),
	}
}

// Start launches the reconcile loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})

	m.loopWg.Add(1)
	go func() {
		defer m.loopWg.Done()
		// Converge immediately; the loop only fires after a full interval.
		m.reconcile()
		scanloop.Run(m.stopCh, reconcileInterval, scanloop.DefaultJitterRange, m.reconcile)
	}()
	log.Printf("manager: started")
}

// Stop halts the reconcile loop, then stops every worker and waits for each
// to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()
	m.loopWg.Wait()

	m.active.Range(func(fid int64, h *workerHandle) bool {
		log.Printf("manager: stopping worker for fid %d", fid)
		h.worker.Stop()
		<-h.done
		m.active.Delete(fid)
		return true
	})
	log.Printf("manager: stopped")
}

// reconcile diffs the running workers against the active scopes.
func (m *Manager) reconcile() {
	want := m.source.ActiveFIDs()

	m.active.Range(func(fid int64, h *workerHandle) bool {
		if _, ok := want[fid]; !ok {
			log.Printf("manager: no active rules for fid %d, stopping worker", fid)
			h.worker.Stop()
			m.active.Delete(fid)
		}
		return true
	})

	for fid := range want {
		if _, ok := m.active.Load(fid); ok {
			continue
		}
		stream := fmt.Sprintf("%s:%d", m.streamPrefix, fid)
		log.Printf("manager: new active rules for fid %d, starting worker on %s", fid, stream)

		h := &workerHandle{
			worker: m.newWorker(fid, stream),
			done:   make(chan struct{}),
		}
		go func(fid int64, h *workerHandle) {
			defer close(h.done)
			if err := h.worker.Run(context.Background()); err != nil {
				log.Printf("manager: worker for fid %d exited: %v", fid, err)
			}
		}(fid, h)
		m.active.Store(fid, h)
	}
}

// workerCount reports the number of running workers.
func (m *Manager) workerCount() int {
	return m.active.Size()
}
