package setup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/httpclient"
	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/module"
)

// Service tracks the backend's install step and keeps the module manager in
// step with it.
type Service struct {
	client  *httpclient.Client
	manager *module.Manager
	log     logrus.FieldLogger

	// A site that fails to initialize against a ready backend is retried
	// at most once per retryInterval.
	retryInterval time.Duration
	now           func() time.Time
	mu            sync.Mutex
	lastRetry     time.Time
}

const defaultRetryInterval = 15 * time.Second

func NewService(client *httpclient.Client, manager *module.Manager, log logrus.FieldLogger) *Service {
	return &Service{
		client:        client,
		manager:       manager,
		log:           logging.OrDefault(log),
		retryInterval: defaultRetryInterval,
		now:           time.Now,
	}
}

// Step asks the backend for its install step.
func (s *Service) Step(ctx context.Context) (int, error) {
	var raw any
	if err := s.client.Get(ctx, "/step", &raw); err != nil {
		return 0, fmt.Errorf("checking install step: %w", err)
	}
	return module.ParseStep(raw), nil
}

// IsSetupRequired returns true while the backend has not finished its
// install. When the backend reports completion before the manager has
// noticed, the manager is re-initialized.
func (s *Service) IsSetupRequired(ctx context.Context) (bool, error) {
	step, err := s.Step(ctx)
	if err != nil {
		return false, err
	}
	if step < module.ReadyStep {
		return true, nil
	}

	if (s.manager.Step() < module.ReadyStep || s.manager.Theme() == nil) && s.shouldRetry() {
		if err := s.manager.SetStep(ctx, step); err != nil {
			s.log.WithError(err).Warn("setup: backend is ready but the site failed to initialize")
		}
	}
	return false, nil
}

func (s *Service) shouldRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastRetry.IsZero() && now.Sub(s.lastRetry) < s.retryInterval {
		return false
	}
	s.lastRetry = now
	return true
}

// Status is the payload of GET /api/setup/status.
type Status struct {
	SetupRequired bool   `json:"setup_required"`
	Step          int    `json:"step"`
	Initialized   bool   `json:"initialized"`
	Theme         string `json:"theme,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	required, err := s.IsSetupRequired(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		SetupRequired: required,
		Step:          s.manager.Step(),
		Initialized:   s.manager.Initialized(),
	}
	if d := s.manager.Theme(); d != nil {
		st.Theme = d.Name
	}
	var ie *module.InitError
	if errors.As(s.manager.LastError(), &ie) {
		st.ErrorKind = string(ie.Kind)
		st.Error = ie.Err.Error()
	}
	return st, nil
}

// Advance records a step reported by the installer.
func (s *Service) Advance(ctx context.Context, step int) error {
	if step < 0 {
		return fmt.Errorf("step must not be negative, got %d", step)
	}
	return s.manager.SetStep(ctx, step)
}
