package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyquill/keyquill/internal/pkg/env"
	metrics "github.com/keyquill/keyquill/internal/pkg/metrics/counter"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	reconcileTicker    *time.Ticker
	rolloverTicker     *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 3
		if v, err := strconv.Atoi(env.GetEnv("JOB_QUEUE_WORKERS", "3")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	reconcileInterval := 5 * time.Minute
	if v, err := strconv.Atoi(env.GetEnv("SETTLEMENT_RECONCILE_INTERVAL_MIN", "5")); err == nil && v > 0 {
		reconcileInterval = time.Duration(v) * time.Minute
	}
	rolloverInterval := 60 * time.Minute
	if v, err := strconv.Atoi(env.GetEnv("PLAN_ROLLOVER_INTERVAL_MIN", "60")); err == nil && v > 0 {
		rolloverInterval = time.Duration(v) * time.Minute
	}

	// Start settlement reconcile sweeper - configurable interval
	m.reconcileTicker = time.NewTicker(reconcileInterval)
	m.wg.Add(1)
	go m.reconcileWorker()

	// Start plan rollover sweeper - configurable interval
	m.rolloverTicker = time.NewTicker(rolloverInterval)
	m.wg.Add(1)
	go m.rolloverWorker()

	// Start counter flush worker (Redis -> DB) every 15 seconds
	m.counterFlushTicker = time.NewTicker(15 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.rolloverTicker != nil {
		m.rolloverTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reconcileWorker runs periodically to settle stale pending payment orders
func (m *Manager) reconcileWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started settlement reconcile worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Reconcile worker stopping")
			return
		case <-m.reconcileTicker.C:
			log.Debug("[JobQueue Manager] Running settlement reconcile sweep")
			if err := m.queue.ReconcileStalePending(); err != nil {
				log.Errorf("[JobQueue Manager] Error reconciling stale orders: %v", err)
			}
		}
	}
}

// rolloverWorker runs periodically to reset credit periods that came due
func (m *Manager) rolloverWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started plan rollover worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Rollover worker stopping")
			return
		case <-m.rolloverTicker.C:
			log.Debug("[JobQueue Manager] Running plan rollover sweep")
			if err := RolloverDueSubscriptions(); err != nil {
				log.Errorf("[JobQueue Manager] Error rolling over subscriptions: %v", err)
			}
		}
	}
}

// counterFlushWorker periodically flushes buffered usage counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunReconcileOnce exposes a manual trigger for a single reconcile sweep (admin use).
func (m *Manager) RunReconcileOnce() error {
	return m.queue.ReconcileStalePending()
}
