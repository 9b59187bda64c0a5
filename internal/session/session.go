// Package session runs one order book: it owns the venue connections, feeds
// decoded events into the book's synchronization protocol on a single
// goroutine and supervises reconnects.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"booksync/config"
	"booksync/internal/adapter"
	"booksync/internal/book"
	"booksync/internal/metrics"
	"booksync/internal/protocol"
	"booksync/logger"
	"booksync/models"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handle is one venue connection feeding the book.
type Handle struct {
	Name    string
	Adapter adapter.Adapter
	Codec   adapter.Codec
	// StaleAfter is the longest gap between applied updates before the
	// session resynchronizes. Zero or negative disables the check.
	StaleAfter time.Duration
}

// Options wires a session together.
type Options struct {
	Venue    string
	Symbol   string
	Handles  []Handle
	Protocol protocol.Protocol
	// Fetcher serves RequestSnapshot; nil for venues that stream snapshots.
	Fetcher adapter.SnapshotFetcher
	Config  config.SessionConfig
}

type eventKind int

const (
	evOpen eventKind = iota
	evClose
	evError
	evMessage
	evSnapshot
	evConnect
	evDisconnect
)

type event struct {
	kind   eventKind
	gen    uint64
	handle int
	raw    []byte
	err    error
	snap   *models.Snapshot
	done   chan struct{}
}

// Session is a BookSession together with its connection supervisor.
type Session struct {
	id      string
	venue   string
	symbol  string
	config  config.SessionConfig
	handles []Handle
	proto   protocol.Protocol
	fetcher adapter.SnapshotFetcher
	limiter *rate.Limiter
	book    *book.Book
	log     *logger.Entry

	status atomic.Int32
	events chan event
	errs   chan error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	stopped bool
	fatal   error

	// owned by the event loop
	gen       uint64
	proxies   []*handlerProxy
	lastTouch []time.Time
	attempt   int
	backoff   *time.Timer
	backoffC  <-chan time.Time
	syncTimer *time.Timer
	syncC     <-chan time.Time
}

// New validates opts and builds a disconnected session.
func New(opts Options) (*Session, error) {
	if opts.Venue == "" || opts.Symbol == "" {
		return nil, fmt.Errorf("venue and symbol are required")
	}
	if len(opts.Handles) == 0 {
		return nil, fmt.Errorf("%s %s: at least one handle is required", opts.Venue, opts.Symbol)
	}
	for i, h := range opts.Handles {
		if h.Adapter == nil || h.Codec == nil {
			return nil, fmt.Errorf("%s %s: handle %d needs an adapter and a codec", opts.Venue, opts.Symbol, i)
		}
	}
	if opts.Protocol == nil {
		return nil, fmt.Errorf("%s %s: protocol is required", opts.Venue, opts.Symbol)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		id:        id,
		venue:     opts.Venue,
		symbol:    opts.Symbol,
		config:    opts.Config,
		handles:   opts.Handles,
		proto:     opts.Protocol,
		fetcher:   opts.Fetcher,
		limiter:   rate.NewLimiter(rate.Limit(opts.Config.SnapshotRate.RequestsPerSecond), opts.Config.SnapshotRate.BurstSize),
		book:      book.New(),
		events:    make(chan event, opts.Config.EventBuffer),
		errs:      make(chan error, opts.Config.ErrorBuffer),
		lastTouch: make([]time.Time, len(opts.Handles)),
		log: logger.GetLogger().WithComponent("book_session").WithFields(logger.Fields{
			"venue":      opts.Venue,
			"symbol":     opts.Symbol,
			"session_id": id,
		}),
	}
	s.status.Store(int32(models.StatusDisconnected))
	return s, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Venue() string  { return s.venue }
func (s *Session) Symbol() string { return s.symbol }

// Status is safe to call from any goroutine.
func (s *Session) Status() models.Status {
	return models.Status(s.status.Load())
}

// Errors carries fatal errors raised after Connect returned. It is closed by
// Stop.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Start launches the event loop. The session stays disconnected until
// Connect.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("session already running")
	}
	if s.stopped {
		return fmt.Errorf("session already stopped")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.run()

	s.log.Info("book session started")
	return nil
}

// Stop tears everything down and closes Errors.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	close(s.errs)
	s.log.Info("book session stopped")
}

// Connect opens the venue connections and waits until the book is
// synchronized. It polls every PollInterval and gives up after MaxPolls with
// a FatalError of kind initial_connect, leaving the session disconnected. A
// cancelled ctx also leaves an unsynchronized session disconnected.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.request(ctx, evConnect); err != nil {
		return err
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for polls := 0; polls < s.config.MaxPolls; polls++ {
		select {
		case <-ctx.Done():
			if s.Status() != models.StatusConnected {
				_ = s.Disconnect()
			}
			return ctx.Err()
		case <-ticker.C:
		}
		if s.Status() == models.StatusConnected {
			return nil
		}
		if err := s.fatalError(); err != nil {
			return err
		}
	}

	fatal := &FatalError{Kind: KindInitialConnect, Venue: s.venue, Symbol: s.symbol, Err: ErrInitialConnect}
	metrics.IncFatal(s.venue, s.symbol, string(KindInitialConnect))
	s.log.WithFields(logger.Fields{"polls": s.config.MaxPolls}).Error("initial connect timed out")
	_ = s.Disconnect()
	return fatal
}

// Disconnect closes every handle and discards the book. Safe in any state.
func (s *Session) Disconnect() error {
	err := s.request(context.Background(), evDisconnect)
	if errors.Is(err, ErrNotRunning) {
		return nil
	}
	return err
}

// Reconnect is Disconnect followed by Connect.
func (s *Session) Reconnect(ctx context.Context) error {
	if err := s.Disconnect(); err != nil {
		return err
	}
	return s.Connect(ctx)
}

// Snapshot returns the best depth levels per side. Ladders are empty unless
// the session is connected; depth <= 0 returns every level.
func (s *Session) Snapshot(depth int) models.BookSnapshot {
	status := s.Status()
	snap := models.BookSnapshot{
		Venue:  s.venue,
		Symbol: s.symbol,
		Status: status.String(),
		Asks:   []models.PriceLevel{},
		Bids:   []models.PriceLevel{},
	}
	if status != models.StatusConnected {
		return snap
	}
	if asks, bids, ok := s.book.Snapshot(depth); ok {
		snap.Asks, snap.Bids = asks, bids
		snap.Timestamp = s.book.LastUpdate()
	}
	return snap
}

// Top returns the best bid and ask of a connected book.
func (s *Session) Top() (bid, ask models.PriceLevel, ok bool) {
	if s.Status() != models.StatusConnected {
		return bid, ask, false
	}
	return s.book.Top()
}

func (s *Session) fatalError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

func (s *Session) setFatal(err error) {
	s.mu.Lock()
	s.fatal = err
	s.mu.Unlock()
}

func (s *Session) loopContext() (context.Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx, s.running
}

// request posts a control event and waits for the loop to handle it.
func (s *Session) request(ctx context.Context, kind eventKind) error {
	loopCtx, running := s.loopContext()
	if !running {
		return ErrNotRunning
	}
	ev := event{kind: kind, done: make(chan struct{})}
	select {
	case s.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-loopCtx.Done():
		return ErrNotRunning
	}
	select {
	case <-ev.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-loopCtx.Done():
		return ErrNotRunning
	}
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer s.wg.Done()

	watchdog := time.NewTicker(s.config.WatchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.stopBackoff()
			s.teardown()
			s.setStatus(models.StatusDisconnected)
			return
		case ev := <-s.events:
			s.handle(ev)
		case <-s.backoffC:
			s.backoff, s.backoffC = nil, nil
			s.open(true)
		case <-s.syncC:
			s.onSyncTimeout()
		case now := <-watchdog.C:
			s.checkStale(now)
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evConnect:
		s.setFatal(nil)
		if s.Status() == models.StatusDisconnected {
			s.attempt = 0
			s.open(false)
		}
		close(ev.done)
		return
	case evDisconnect:
		s.stopBackoff()
		s.teardown()
		s.setStatus(models.StatusDisconnected)
		s.log.Info("book session disconnected")
		close(ev.done)
		return
	}

	if ev.gen != s.gen || s.Status() == models.StatusDisconnected {
		return
	}

	switch ev.kind {
	case evOpen:
		s.onOpen(ev.handle)
	case evClose:
		s.onClose(ev.handle)
	case evError:
		s.onError(ev.handle, ev.err)
	case evMessage:
		s.onMessage(ev.handle, ev.raw)
	case evSnapshot:
		s.onSnapshot(ev.snap, ev.err)
	}
}

func (s *Session) setStatus(status models.Status) {
	if models.Status(s.status.Swap(int32(status))) == status {
		return
	}
	metrics.SetStatus(s.venue, s.symbol, status)
	s.log.WithField("status", status.String()).Debug("status changed")
}

// open starts a fresh connection generation on every handle. Generations
// opened by the supervisor get a sync deadline of PollInterval x MaxPolls;
// the one opened by Connect is bounded by Connect's own poll.
func (s *Session) open(deadline bool) {
	s.gen++
	s.setStatus(models.StatusConnecting)
	s.proto.Reset()
	s.book.Clear()

	s.stopSyncTimer()
	if deadline {
		s.syncTimer = time.NewTimer(s.syncTimeout())
		s.syncC = s.syncTimer.C
	}

	now := time.Now()
	s.proxies = make([]*handlerProxy, 0, len(s.handles))
	for i, h := range s.handles {
		p := &handlerProxy{s: s, gen: s.gen, handle: i, stop: make(chan struct{})}
		s.proxies = append(s.proxies, p)
		s.lastTouch[i] = now
		if err := h.Adapter.Connect(p); err != nil {
			s.log.WithError(err).WithField("handle", h.Name).Warn("connect failed")
			s.onError(i, err)
			if s.Status() != models.StatusDisconnected {
				s.onClose(i)
			}
			return
		}
	}
	s.log.WithFields(logger.Fields{"generation": s.gen, "attempt": s.attempt}).Info("connecting")
}

// teardown closes every handle and drops protocol and book state. Callbacks
// still in flight from the closed generation are discarded.
func (s *Session) teardown() {
	s.stopSyncTimer()
	for i, p := range s.proxies {
		close(p.stop)
		if err := s.handles[i].Adapter.Disconnect(); err != nil {
			s.log.WithError(err).WithField("handle", s.handles[i].Name).Debug("disconnect failed")
		}
	}
	s.proxies = nil
	s.gen++
	s.proto.Reset()
	s.book.Clear()
}

// markSynced also restarts every handle's staleness clock, so a handle that
// only streams once the book is live is not judged by the sync wait.
func (s *Session) markSynced() {
	s.stopSyncTimer()
	now := time.Now()
	for i := range s.lastTouch {
		s.lastTouch[i] = now
	}
	s.book.MarkValid()
	s.setStatus(models.StatusConnected)
	if s.attempt > 0 {
		metrics.SetBackoff(s.venue, s.symbol, 0)
	}
	s.attempt = 0
	s.log.Info("book synchronized")
}

func (s *Session) touch(handle int) {
	if handle >= 0 && handle < len(s.lastTouch) {
		s.lastTouch[handle] = time.Now()
	}
}

func (s *Session) onOpen(handle int) {
	s.log.WithField("handle", s.handles[handle].Name).Debug("handle open")
	if h, ok := s.proto.(protocol.OpenHandler); ok {
		if err := h.OnOpen(env{s}, handle); err != nil {
			s.resync("protocol", err)
		}
	}
}

func (s *Session) onMessage(handle int, raw []byte) {
	metrics.IncMessages(s.venue, s.symbol)

	events, err := s.handles[handle].Codec.Decode(raw)
	if err != nil {
		s.resync("decode", err)
		return
	}

	e := env{s}
	for _, ev := range events {
		switch {
		case ev.Snapshot != nil:
			err = s.proto.OnSnapshot(e, handle, ev.Snapshot)
		case ev.Delta != nil:
			err = s.proto.OnDelta(e, handle, ev.Delta)
		case ev.Control != nil:
			err = s.onControl(handle, ev.Control)
		}
		if err != nil {
			reason := "protocol"
			if errors.Is(err, protocol.ErrDesync) {
				reason = "desync"
			}
			s.resync(reason, err)
			return
		}
	}
}

func (s *Session) onControl(handle int, ctrl *models.Control) error {
	if len(ctrl.Reply) > 0 {
		if err := s.handles[handle].Adapter.Send(ctrl.Reply); err != nil {
			s.log.WithError(err).Warn("failed to answer venue control message")
		}
	}
	if h, ok := s.proto.(protocol.ControlHandler); ok {
		return h.OnControl(env{s}, handle, ctrl)
	}
	return nil
}

func (s *Session) requestSnapshot() {
	gen := s.gen
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		snap, err := s.fetchSnapshot()
		s.post(event{kind: evSnapshot, gen: gen, snap: snap, err: err})
	}()
}

func (s *Session) fetchSnapshot() (*models.Snapshot, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("no snapshot fetcher configured")
	}
	if err := s.limiter.Wait(s.ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.SnapshotTimeout)
	defer cancel()

	start := time.Now()
	snap, err := s.fetcher.FetchSnapshot(ctx, s.symbol)
	logger.LogPerformanceEntry(s.log, "book_session", "fetch_snapshot", time.Since(start), nil)
	if err != nil {
		metrics.IncSnapshotRequest(s.venue, s.symbol, "error")
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	metrics.IncSnapshotRequest(s.venue, s.symbol, "ok")
	return snap, nil
}

func (s *Session) onSnapshot(snap *models.Snapshot, err error) {
	e := env{s}
	if err != nil {
		if h, ok := s.proto.(protocol.SnapshotFailureHandler); ok {
			h.OnSnapshotFailed(e, err)
		} else {
			s.log.WithError(err).Warn("snapshot failed")
		}
		return
	}
	if err := s.proto.OnSnapshot(e, 0, snap); err != nil {
		reason := "protocol"
		if errors.Is(err, protocol.ErrDesync) {
			reason = "desync"
		}
		s.resync(reason, err)
	}
}

// env is the protocol's view of the session.
type env struct{ s *Session }

func (e env) Book() *book.Book   { return e.s.book }
func (e env) MarkSynced()        { e.s.markSynced() }
func (e env) Touch(handle int)   { e.s.touch(handle) }
func (e env) RequestSnapshot()   { e.s.requestSnapshot() }
func (e env) Log() *logger.Entry { return e.s.log }

func (e env) Send(handle int, payload []byte) error {
	if handle < 0 || handle >= len(e.s.handles) {
		return fmt.Errorf("no handle %d", handle)
	}
	return e.s.handles[handle].Adapter.Send(payload)
}

// handlerProxy tags transport callbacks with the generation they belong to.
type handlerProxy struct {
	s      *Session
	gen    uint64
	handle int
	stop   chan struct{}
}

func (p *handlerProxy) send(ev event) {
	ev.gen = p.gen
	ev.handle = p.handle
	select {
	case p.s.events <- ev:
	case <-p.stop:
	case <-p.s.ctx.Done():
	}
}

func (p *handlerProxy) OnOpen()              { p.send(event{kind: evOpen}) }
func (p *handlerProxy) OnClose()             { p.send(event{kind: evClose}) }
func (p *handlerProxy) OnError(err error)    { p.send(event{kind: evError, err: err}) }
func (p *handlerProxy) OnMessage(raw []byte) { p.send(event{kind: evMessage, raw: raw}) }
