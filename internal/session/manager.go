package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"booksync/logger"
	"booksync/models"
)

// Manager runs a set of sessions and fans their fatal errors into one
// channel.
type Manager struct {
	sessions []*Session
	errs     chan error
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewManager(sessions ...*Session) *Manager {
	buffer := 0
	for _, s := range sessions {
		buffer += cap(s.errs)
	}
	return &Manager{
		sessions: sessions,
		errs:     make(chan error, buffer),
		log:      logger.GetLogger(),
	}
}

func (m *Manager) Sessions() []*Session {
	return m.sessions
}

// Errors is closed by Stop after every session stopped.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("manager already running")
	}

	for i, s := range m.sessions {
		if err := s.Start(ctx); err != nil {
			for _, started := range m.sessions[:i] {
				started.Stop()
			}
			return fmt.Errorf("start %s %s: %w", s.venue, s.symbol, err)
		}
	}
	m.running = true

	for _, s := range m.sessions {
		m.wg.Add(1)
		go m.forward(s)
	}

	m.log.WithComponent("session_manager").WithFields(logger.Fields{
		"sessions": len(m.sessions),
	}).Info("session manager started")
	return nil
}

func (m *Manager) forward(s *Session) {
	defer m.wg.Done()
	for err := range s.Errors() {
		select {
		case m.errs <- err:
		default:
			m.log.WithComponent("session_manager").WithError(err).Warn("error channel full, dropping fatal error")
		}
	}
}

// ConnectAll connects every session concurrently and joins the failures.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range m.sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Connect(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// StatusCounts reports how many sessions are in each state, keyed for the
// runtime report.
func (m *Manager) StatusCounts() map[string]float64 {
	counts := map[string]float64{
		"SessionsConnected":    0,
		"SessionsConnecting":   0,
		"SessionsDisconnected": 0,
	}
	for _, s := range m.sessions {
		switch s.Status() {
		case models.StatusConnected:
			counts["SessionsConnected"]++
		case models.StatusConnecting:
			counts["SessionsConnecting"]++
		default:
			counts["SessionsDisconnected"]++
		}
	}
	return counts
}

func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	for _, s := range m.sessions {
		s.Stop()
	}
	m.wg.Wait()
	close(m.errs)
	m.log.WithComponent("session_manager").Info("session manager stopped")
}
