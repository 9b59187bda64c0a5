package session

import (
	"fmt"
	"time"

	"booksync/internal/adapter"
	"booksync/internal/metrics"
	"booksync/logger"
	"booksync/models"
)

// backoffWait returns the delay before reconnect attempt n, or false once
// 2^n units exceed the ceiling.
func backoffWait(attempt, ceiling int, unit time.Duration) (time.Duration, bool) {
	if attempt >= 31 {
		return 0, false
	}
	units := 1 << attempt
	if units > ceiling {
		return 0, false
	}
	return time.Duration(units) * unit, true
}

// onClose handles a transport close on an active session: every handle is
// torn down and a reconnect is scheduled after the backoff wait.
func (s *Session) onClose(handle int) {
	s.teardown()
	s.scheduleReconnect(s.log.WithField("handle", s.handles[handle].Name), "connection closed, reconnecting after backoff")
}

// scheduleReconnect counts one more attempt and arms the backoff timer, or
// gives up once the wait would exceed the ceiling. The session must already
// be torn down.
func (s *Session) scheduleReconnect(entry *logger.Entry, msg string) {
	s.attempt++

	wait, ok := backoffWait(s.attempt, s.config.BackoffCeiling, s.config.BackoffUnit)
	if !ok {
		s.stopBackoff()
		s.setStatus(models.StatusDisconnected)
		s.raise(KindBackoffExhausted, fmt.Errorf("%w after %d attempts", ErrBackoffExhausted, s.attempt))
		return
	}

	s.setStatus(models.StatusConnecting)
	metrics.SetBackoff(s.venue, s.symbol, wait.Seconds())
	entry.WithFields(logger.Fields{
		"attempt": s.attempt,
		"wait":    wait.String(),
	}).Warn(msg)

	s.stopBackoff()
	s.backoff = time.NewTimer(wait)
	s.backoffC = s.backoff.C
}

// onError swallows transient transport errors. Anything else stops the
// session and is published as fatal.
func (s *Session) onError(handle int, err error) {
	if adapter.IsTransient(err) {
		s.log.WithError(err).WithField("handle", s.handles[handle].Name).Warn("transient transport error ignored")
		return
	}
	s.stopBackoff()
	s.teardown()
	s.setStatus(models.StatusDisconnected)
	s.raise(KindTransport, err)
}

// resync discards the book and reconnects through the backoff policy, so a
// venue that keeps rejecting the session ends in backoff_exhausted.
func (s *Session) resync(reason string, err error) {
	metrics.IncResync(s.venue, s.symbol, reason)
	entry := s.log.WithField("reason", reason)
	if err != nil {
		entry = entry.WithError(err)
	}

	s.teardown()
	s.scheduleReconnect(entry, "book out of sync, reconnecting after backoff")
}

// onSyncTimeout fires when a generation opened by the supervisor has not
// synchronized within PollInterval x MaxPolls.
func (s *Session) onSyncTimeout() {
	s.syncTimer, s.syncC = nil, nil
	s.teardown()
	s.scheduleReconnect(s.log.WithField("timeout", s.syncTimeout().String()), "book did not synchronize, reconnecting after backoff")
}

func (s *Session) syncTimeout() time.Duration {
	return s.config.PollInterval * time.Duration(s.config.MaxPolls)
}

// checkStale resynchronizes a connected book when any watched handle has
// not applied an update within its threshold. The next generation waits in
// connecting, so one stale window yields one reconnect.
func (s *Session) checkStale(now time.Time) {
	if s.Status() != models.StatusConnected {
		return
	}
	for i, h := range s.handles {
		if h.StaleAfter <= 0 {
			continue
		}
		if idle := now.Sub(s.lastTouch[i]); idle > h.StaleAfter {
			s.resync("stale", fmt.Errorf("handle %s idle for %s", h.Name, idle.Round(time.Millisecond)))
			return
		}
	}
}

func (s *Session) stopBackoff() {
	if s.backoff != nil {
		s.backoff.Stop()
	}
	s.backoff, s.backoffC = nil, nil
}

func (s *Session) stopSyncTimer() {
	if s.syncTimer != nil {
		s.syncTimer.Stop()
	}
	s.syncTimer, s.syncC = nil, nil
}

// raise records err as the session's fatal error and publishes it without
// blocking the loop.
func (s *Session) raise(kind FatalKind, err error) {
	fatal := &FatalError{Kind: kind, Venue: s.venue, Symbol: s.symbol, Err: err}
	s.setFatal(fatal)
	metrics.IncFatal(s.venue, s.symbol, string(kind))
	s.log.WithError(err).WithField("kind", string(kind)).Error("session failed")

	select {
	case s.errs <- fatal:
	default:
		s.log.Warn("error channel full, dropping fatal error")
	}
}
