package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-pipeline/config"
	"github.com/saiset-co/sai-pipeline/container"
	"github.com/saiset-co/sai-pipeline/controllers"
	"github.com/saiset-co/sai-pipeline/cron"
	"github.com/saiset-co/sai-pipeline/di"
	"github.com/saiset-co/sai-pipeline/middleware"
	"github.com/saiset-co/sai-pipeline/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	settings        *types.Settings
	container       *container.Container
	logger          types.Logger
	app             types.WebApp
	cron            types.CronManager
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	handleSignals   bool
}

type Option func(*Service)

// WithoutSignals leaves SIGINT and SIGTERM to the caller.
func WithoutSignals() Option {
	return func(s *Service) { s.handleSignals = false }
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.shutdownTimeout = timeout }
}

// NewService loads settings from configPath plus the environment and
// builds the service from them.
func NewService(ctx context.Context, configPath string, opts []Option, modules ...di.Module) (*Service, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, types.WrapError(err, "file does not exist")
		}
	}

	manager, err := config.NewManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return New(ctx, manager.Settings(), opts, modules...)
}

// New builds the container, composes both pipelines and registers every
// route. Nothing listens until Start.
func New(ctx context.Context, settings *types.Settings, opts []Option, modules ...di.Module) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	c, err := di.BuildContainer(serviceCtx, settings, modules...)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		settings:        settings,
		container:       c,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		handleSignals:   true,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.state.Store(StateStopped)

	if err := s.registerComponents(); err != nil {
		cancel()
		_ = c.Close()
		return nil, types.WrapError(err, "failed to register components")
	}

	return s, nil
}

func (s *Service) registerComponents() error {
	log, err := container.Resolve(s.container, di.LoggerKey)
	if err != nil {
		return err
	}
	s.logger = log

	// Session stack and storage are resolved eagerly so a bad secret or an
	// unreachable database fails the boot instead of the first request.
	if _, err := container.Resolve(s.container, di.SessionManagerKey); err != nil {
		return types.WrapError(err, "failed to build session manager")
	}
	if _, err := container.Resolve(s.container, di.UserRepositoryKey); err != nil {
		return types.WrapError(err, "failed to build user repository")
	}

	registry, err := container.Resolve(s.container, di.MetricsKey)
	if err != nil {
		return err
	}

	s.app, err = container.Resolve(s.container, di.WebAppKey)
	if err != nil {
		return err
	}

	cfg := middleware.StackConfig{
		Source:         middleware.StaticSource(s.container),
		Logger:         log,
		TokenQueryName: s.settings.Session.TokenQueryName,
	}
	if s.settings.Debug {
		cfg.Logging = &middleware.LoggingConfig{LogHeaders: true, LogResult: true}
	}

	if err := controllers.Bootstrap(s.app, cfg, s.settings, registry, log); err != nil {
		return err
	}

	if !s.settings.Cron.Enabled {
		return nil
	}

	s.cron, err = container.Resolve(s.container, di.CronKey)
	if err != nil {
		return err
	}

	if s.settings.Session.Audit && s.settings.Session.CleanupSpec != "" {
		sessions, err := container.Resolve(s.container, di.SessionRepositoryKey)
		if err != nil {
			return err
		}

		job := cron.PurgeSessions(s.ctx, sessions, s.settings.Database.QueryTimeout, log)
		if err := s.cron.Add(cron.SessionCleanupJob, s.settings.Session.CleanupSpec, job); err != nil {
			return err
		}
	}

	return nil
}

// Start brings every component up and blocks until the service is stopped
// by Stop, a signal or the parent context.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service",
		zap.String("address", s.settings.Addr()),
		zap.String("framework", s.app.Name()))

	if err := s.startComponents(); err != nil {
		s.setState(StateStopped)
		s.cancel()
		_ = s.container.Close()
		close(s.done)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)

	if s.handleSignals {
		s.setupSignalHandling()
	}

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.ctx.Done()
	s.wg.Wait()

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.setState(StateStopped)
	close(s.done)

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) startComponents() error {
	if err := s.app.Start(); err != nil {
		return types.WrapError(err, "failed to start web app")
	}

	if s.cron != nil {
		if err := s.cron.Start(); err != nil {
			_ = s.app.Stop()
			return types.WrapError(err, "failed to start cron manager")
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Stopping service components...")

	g, gCtx := errgroup.WithContext(ctx)

	if s.cron != nil && s.cron.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.cron.Stop(); err != nil {
					s.logger.Error("Failed to stop cron manager", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if s.app.IsRunning() {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.app.Stop(); err != nil {
					s.logger.Error("Failed to stop web app", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	var errs []error

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errs = append(errs, err)
		}
	}

	if err := s.container.Close(); err != nil {
		s.logger.Error("Failed to close container", zap.Error(err))
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServerNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) Container() *container.Container {
	return s.container
}

func (s *Service) WebApp() types.WebApp {
	return s.app
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}
