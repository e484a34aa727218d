package worker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/JanKoller/TicketHive/internal/pkg/database"
	"github.com/JanKoller/TicketHive/internal/pkg/env"
	"github.com/JanKoller/TicketHive/internal/pkg/lifecycle"
	"github.com/JanKoller/TicketHive/internal/pkg/subscriptions"
	"github.com/JanKoller/TicketHive/internal/pkg/usage"
	"github.com/gofiber/fiber/v2/log"
)

// TrialSweeper runs one trial-expiry pass.
type TrialSweeper interface {
	SweepExpiredTrials(ctx context.Context) (lifecycle.SweepResult, error)
}

// SummaryRefresher rolls usage summaries forward for one period.
type SummaryRefresher interface {
	RefreshAllSummaries(ctx context.Context, period string) error
}

// Manager manages the background tickers: the trial-expiry sweep and the
// usage-summary refresh.
type Manager struct {
	sweeper   TrialSweeper
	refresher SummaryRefresher

	sweepTicker   *time.Ticker
	refreshTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global background manager (singleton), wired from
// the shared database handle.
func GetManager() *Manager {
	managerOnce.Do(func() {
		subSvc := subscriptions.NewServiceFromDB(database.GetDB())
		globalManager = NewManager(subSvc.Machine(), subSvc.Usage())
	})
	return globalManager
}

// NewManager creates a background manager from injected collaborators.
func NewManager(sweeper TrialSweeper, refresher SummaryRefresher) *Manager {
	return &Manager{
		sweeper:   sweeper,
		refresher: refresher,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the background tasks.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Worker Manager] Starting background tasks")

	sweepInterval := intervalFromEnv("TRIAL_SWEEP_INTERVAL_MINUTES", 60)
	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.trialSweepWorker(sweepInterval)

	refreshInterval := intervalFromEnv("USAGE_SUMMARY_REFRESH_INTERVAL_MINUTES", 30)
	m.refreshTicker = time.NewTicker(refreshInterval)
	m.wg.Add(1)
	go m.summaryRefreshWorker(refreshInterval)

	log.Info("[Worker Manager] Started successfully")
}

// Stop stops the background tasks and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Worker Manager] Stopping background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.refreshTicker != nil {
		m.refreshTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Worker Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// trialSweepWorker periodically moves expired trials to the free tier or
// cancels them.
func (m *Manager) trialSweepWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[Worker Manager] Started trial sweep worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Worker Manager] Trial sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if err := m.RunTrialSweepOnce(); err != nil {
				log.Errorf("[Worker Manager] Trial sweep error: %v", err)
			}
		}
	}
}

// summaryRefreshWorker periodically rolls the current period's usage
// summaries forward.
func (m *Manager) summaryRefreshWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[Worker Manager] Started usage summary worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[Worker Manager] Usage summary worker stopping")
			return
		case <-m.refreshTicker.C:
			if err := m.RunSummaryRefreshOnce(); err != nil {
				log.Errorf("[Worker Manager] Usage summary refresh error: %v", err)
			}
		}
	}
}

// RunTrialSweepOnce exposes a manual trigger for a single trial-expiry
// sweep (admin use).
func (m *Manager) RunTrialSweepOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := m.sweeper.SweepExpiredTrials(ctx)
	if err != nil {
		return err
	}
	if result.Examined > 0 {
		log.Infof("[Worker Manager] Trial sweep: examined=%d activated=%d cancelled=%d skipped=%d",
			result.Examined, result.Activated, result.Cancelled, result.Skipped)
	}
	return nil
}

// RunSummaryRefreshOnce refreshes every subscription's summary for the
// current period.
func (m *Manager) RunSummaryRefreshOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return m.refresher.RefreshAllSummaries(ctx, usage.PeriodOf(time.Now()))
}

func intervalFromEnv(key string, defMinutes int) time.Duration {
	raw := env.GetEnv(key, strconv.Itoa(defMinutes))
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		minutes = defMinutes
	}
	return time.Duration(minutes) * time.Minute
}
