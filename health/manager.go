package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-pipeline/types"
)

// Manager runs registered dependency checks in parallel and folds them into
// a single readiness report.
type Manager struct {
	logger       types.Logger
	service      types.ServiceInfo
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	mu           sync.RWMutex
	checkTimeout time.Duration
}

func NewManager(service types.ServiceInfo, logger types.Logger, checkTimeout time.Duration) *Manager {
	if checkTimeout <= 0 {
		checkTimeout = 5 * time.Second
	}
	if service.Version == "" {
		service.Version = CurrentBuild().Version
	}

	return &Manager{
		logger:       logger,
		service:      service,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		startTime:    time.Now(),
		checkTimeout: checkTimeout,
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

func (hm *Manager) Checkers() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Last returns the results of the most recent Check.
func (hm *Manager) Last() map[string]types.HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	results := make(map[string]types.HealthCheck, len(hm.results))
	for name, result := range hm.results {
		results[name] = result
	}
	return results
}

func (hm *Manager) Check(ctx context.Context) *types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	report := hm.buildReport(results)
	if report.Status != types.StatusHealthy {
		hm.logger.Warn("Readiness check failed", zap.Int("unhealthy", report.Summary.Unhealthy))
	}

	return report
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := time.Now()

	resultChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- fmt.Errorf("health check panicked: %v", r)
			}
		}()

		resultChan <- checker(ctx)
	}()

	result := types.HealthCheck{Name: name, Status: types.StatusHealthy}

	select {
	case err := <-resultChan:
		if err != nil {
			result.Status = types.StatusUnhealthy
			result.Message = err.Error()
		}
	case <-ctx.Done():
		result.Status = types.StatusUnhealthy
		result.Message = "Health check timeout"
	}

	result.LastCheck = time.Now()
	result.DurationMs = time.Since(start).Milliseconds()

	if result.Status != types.StatusHealthy {
		hm.logger.Debug("Health check failed", zap.String("check", name), zap.String("message", result.Message))
	}

	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) *types.HealthReport {
	summary := types.HealthSummary{Total: len(results)}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		default:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		}
	}

	return &types.HealthReport{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.startTime).Round(time.Second).String(),
		Service:   hm.service,
		Checks:    results,
		Summary:   summary,
	}
}
