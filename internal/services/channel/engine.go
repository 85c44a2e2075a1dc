package channel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"mleschat/internal/domain"
	"mleschat/internal/logging"
	"mleschat/internal/protocol/codec"
	"mleschat/internal/protocol/gka"
	"mleschat/internal/protocol/kdf"
	"mleschat/internal/util/memzero"
)

var (
	ErrAlreadyJoined = errors.New("channel: already joined")
	ErrNotJoined     = errors.New("channel: not joined")
	ErrEmptyID       = errors.New("channel: uid and channel must be non-empty")
	ErrNoAddress     = errors.New("channel: no relay address")
	ErrShutdown      = errors.New("channel: engine shut down")
	ErrImageTooLarge = errors.New("channel: image too large")
)

// JoinRequest names a channel to join and how to reach it.
type JoinRequest struct {
	UID        string
	Channel    string
	Passphrase string
	// Address is the relay "host:port". When empty the address stored by
	// an earlier join is used.
	Address string
}

// Info is a snapshot of one channel session.
type Info struct {
	State          string
	ForwardSecrecy bool
	Participants   int
	Queued         int
	KeyState       gka.State
}

// Engine runs the secure channel protocol for any number of channels.
//
// All per-channel state is owned by a single worker goroutine; public
// methods hand it operations and wait for the reply. Transport reads, dials
// and timers run on their own goroutines and post their results back, so
// nothing inside a session needs a lock.
type Engine struct {
	cfg    Config
	log    *logging.Logger
	dialer domain.Dialer
	state  domain.StateStore
	primes *gka.PrimeCache
	now    func() time.Time

	opCh     chan any
	events   chan domain.Event
	haltCh   chan struct{}
	doneCh   chan struct{}
	haltOnce sync.Once

	// Owned by the worker.
	sessions map[string]*session
	gen      uint64
}

// New starts an Engine. state may be nil, in which case nothing is
// persisted.
func New(cfg Config, dialer domain.Dialer, state domain.StateStore, log *logging.Logger) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		log:      log,
		dialer:   dialer,
		state:    state,
		primes:   gka.NewPrimeCache(),
		now:      time.Now,
		opCh:     make(chan any),
		events:   make(chan domain.Event, cfg.EventBuffer),
		haltCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		sessions: make(map[string]*session),
	}
	go e.worker()
	return e
}

// Events returns the notification stream. It is closed by Shutdown.
func (e *Engine) Events() <-chan domain.Event { return e.events }

// Shutdown tears down every session without notifications and stops the
// engine. It is safe to call more than once.
func (e *Engine) Shutdown() {
	e.haltOnce.Do(func() { close(e.haltCh) })
	<-e.doneCh
}

type opJoin struct {
	req       JoinRequest
	stretched []byte
	prime     *big.Int
	prev      []byte
	resp      chan error
}

type opSend struct {
	channel string
	payload []byte
	image   bool
	resp    chan error
}

type opClose struct {
	channel string
	// resp carries the closed session's pending saves, or nil when the
	// channel was not joined.
	resp chan *sync.WaitGroup
}

type opReconnect struct {
	channel string
	resp    chan error
}

type opResync struct {
	channel string
	resp    chan error
}

type opPresence struct {
	channel string
	resp    chan map[string]domain.PresenceStatus
}

type opInfo struct {
	channel string
	resp    chan *Info
}

type opConnected struct {
	s    *session
	gen  uint64
	conn domain.Conn
	err  error
}

type opInbound struct {
	s     *session
	gen   uint64
	frame []byte
}

type opConnLost struct {
	s   *session
	gen uint64
	err error
}

type opContinue struct {
	s   *session
	gen uint64
}

type timerKind int

const (
	timerReconnect timerKind = iota
	timerResync
	timerPresence
)

type opTimer struct {
	s     *session
	kind  timerKind
	token uint64
}

// Join derives the channel keys and starts connecting. It returns once the
// session exists; the Init event reports the connection outcome.
func (e *Engine) Join(ctx context.Context, req JoinRequest) error {
	if req.UID == "" || req.Channel == "" {
		return ErrEmptyID
	}
	if req.Address == "" && e.state != nil {
		addr, ok, err := e.state.LoadAddress(req.Channel)
		if err != nil {
			return fmt.Errorf("channel: load address: %w", err)
		}
		if ok {
			req.Address = addr
		}
	}
	if req.Address == "" {
		return ErrNoAddress
	}

	// The expensive derivations run on the caller's goroutine.
	stretched, err := kdf.Stretch([]byte(req.Passphrase))
	if err != nil {
		return err
	}
	prime := e.primes.Get(stretched)

	var prev []byte
	if e.state != nil {
		var ok bool
		prev, ok, err = e.state.LoadPrevSecret(req.Passphrase, req.Channel)
		if err != nil {
			e.log.Warningf("%s: ignoring stored previous secret: %v", req.Channel, err)
		}
		if !ok {
			prev = nil
		}
	}

	op := &opJoin{req: req, stretched: stretched, prime: prime, prev: prev, resp: make(chan error, 1)}
	if err := e.post(ctx, op); err != nil {
		memzero.Zero(stretched)
		return err
	}
	if err := wait(ctx, e, op.resp); err != nil {
		return err
	}

	if e.state != nil {
		if err := e.state.SaveAddress(req.Channel, req.Address); err != nil {
			e.log.Warningf("%s: save address: %v", req.Channel, err)
		}
		if err := e.state.AddJoined(req.Channel); err != nil {
			e.log.Warningf("%s: save joined list: %v", req.Channel, err)
		}
	}
	return nil
}

// Send queues payload as a full message. While the relay is unreachable the
// message waits in the outbound queue and goes out on the next resync.
func (e *Engine) Send(ctx context.Context, channel string, payload []byte) error {
	if len(payload) > codec.MaxPayload {
		return codec.ErrTooLarge
	}
	return e.send(ctx, &opSend{channel: channel, payload: append([]byte(nil), payload...)})
}

// SendImage sends data as a multipart series, one fragment in flight at a
// time. A Send event with MultipartContinue set follows every fragment but
// the last.
func (e *Engine) SendImage(ctx context.Context, channel string, data []byte) error {
	if len(data) > e.cfg.MaxImageSize {
		return ErrImageTooLarge
	}
	return e.send(ctx, &opSend{channel: channel, payload: append([]byte(nil), data...), image: true})
}

func (e *Engine) send(ctx context.Context, op *opSend) error {
	op.resp = make(chan error, 1)
	if err := e.post(ctx, op); err != nil {
		return err
	}
	return wait(ctx, e, op.resp)
}

// Close leaves channel, wiping its keys and tables. Closing a channel that
// is not joined is a no-op.
func (e *Engine) Close(ctx context.Context, channel string) error {
	op := &opClose{channel: channel, resp: make(chan *sync.WaitGroup, 1)}
	if err := e.post(ctx, op); err != nil {
		return err
	}
	saves, err := waitValue(ctx, e, op.resp)
	if err != nil || saves == nil {
		return err
	}
	if e.state != nil {
		// A save still running would write the secret back after removal.
		saves.Wait()
		if err := e.state.RemoveJoined(channel); err != nil {
			e.log.Warningf("%s: update joined list: %v", channel, err)
		}
		if err := e.state.RemovePrevSecret(channel); err != nil {
			e.log.Warningf("%s: remove previous secret: %v", channel, err)
		}
	}
	return nil
}

// Reconnect drops the current connection, if any, and reconnects at once
// with a fresh key pair.
func (e *Engine) Reconnect(ctx context.Context, channel string) error {
	op := &opReconnect{channel: channel, resp: make(chan error, 1)}
	if err := e.post(ctx, op); err != nil {
		return err
	}
	return wait(ctx, e, op.resp)
}

// Resync starts (or extends) the quiet-period timer after which queued
// messages are re-sent.
func (e *Engine) Resync(ctx context.Context, channel string) error {
	op := &opResync{channel: channel, resp: make(chan error, 1)}
	if err := e.post(ctx, op); err != nil {
		return err
	}
	return wait(ctx, e, op.resp)
}

// Presence classifies every participant heard from on channel.
func (e *Engine) Presence(ctx context.Context, channel string) (map[string]domain.PresenceStatus, error) {
	op := &opPresence{channel: channel, resp: make(chan map[string]domain.PresenceStatus, 1)}
	if err := e.post(ctx, op); err != nil {
		return nil, err
	}
	m, err := waitValue(ctx, e, op.resp)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotJoined
	}
	return m, nil
}

// Info reports the state of channel.
func (e *Engine) Info(ctx context.Context, channel string) (*Info, error) {
	op := &opInfo{channel: channel, resp: make(chan *Info, 1)}
	if err := e.post(ctx, op); err != nil {
		return nil, err
	}
	info, err := waitValue(ctx, e, op.resp)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrNotJoined
	}
	return info, nil
}

func (e *Engine) post(ctx context.Context, op any) error {
	select {
	case e.opCh <- op:
		return nil
	case <-e.haltCh:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postAsync hands op to the worker from a helper goroutine. It gives up
// when the engine halts.
func (e *Engine) postAsync(op any) bool {
	select {
	case e.opCh <- op:
		return true
	case <-e.haltCh:
		return false
	}
}

func wait(ctx context.Context, e *Engine, ch chan error) error {
	err, werr := waitValue(ctx, e, ch)
	if werr != nil {
		return werr
	}
	return err
}

func waitValue[T any](ctx context.Context, e *Engine, ch chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-e.haltCh:
		return zero, ErrShutdown
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) emit(ev domain.Event) {
	select {
	case e.events <- ev:
	case <-e.haltCh:
	}
}

func (e *Engine) live(s *session) bool { return s != nil && e.sessions[s.name] == s }

func (e *Engine) worker() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.haltCh:
			e.log.Debug("Terminating gracefully.")
			for name, s := range e.sessions {
				s.teardown(false)
				s.saves.Wait()
				delete(e.sessions, name)
			}
			close(e.events)
			return
		case op := <-e.opCh:
			e.handle(op)
		}
	}
}

func (e *Engine) handle(qo any) {
	switch op := qo.(type) {
	case *opJoin:
		e.doJoin(op)
	case *opSend:
		s := e.sessions[op.channel]
		if s == nil {
			op.resp <- ErrNotJoined
			return
		}
		if op.image {
			s.sendImage(op.payload)
		} else {
			s.sendText(op.payload)
		}
		op.resp <- nil
	case *opClose:
		s := e.sessions[op.channel]
		if s == nil {
			op.resp <- nil
			return
		}
		s.teardown(true)
		delete(e.sessions, op.channel)
		op.resp <- &s.saves
	case *opReconnect:
		s := e.sessions[op.channel]
		if s == nil {
			op.resp <- ErrNotJoined
			return
		}
		s.forceReconnect()
		op.resp <- nil
	case *opResync:
		s := e.sessions[op.channel]
		if s == nil {
			op.resp <- ErrNotJoined
			return
		}
		if s.state == stateOpen {
			s.startResync()
		}
		op.resp <- nil
	case *opPresence:
		if s := e.sessions[op.channel]; s != nil {
			op.resp <- s.presence.Snapshot(e.now())
			return
		}
		op.resp <- nil
	case *opInfo:
		if s := e.sessions[op.channel]; s != nil {
			op.resp <- s.info()
			return
		}
		op.resp <- nil
	case *opConnected:
		if !e.live(op.s) || op.gen != op.s.gen || op.s.state != stateConnecting {
			if op.conn != nil {
				op.conn.Close()
			}
			return
		}
		op.s.connected(op.conn, op.err)
	case *opInbound:
		if e.live(op.s) && op.gen == op.s.gen && op.s.state == stateOpen {
			op.s.inbound(op.frame)
		}
	case *opConnLost:
		if e.live(op.s) && op.gen == op.s.gen && op.s.state == stateOpen {
			op.s.lost(op.err)
		}
	case *opContinue:
		if e.live(op.s) && op.gen == op.s.gen {
			op.s.pumping = false
			op.s.pump()
		}
	case *opTimer:
		if e.live(op.s) {
			op.s.fire(op.kind, op.token)
		}
	default:
		panic(fmt.Sprintf("BUG: unknown operation type %T", qo))
	}
}

func (e *Engine) doJoin(op *opJoin) {
	defer memzero.Zero(op.stretched)
	defer memzero.Zero(op.prev)

	if _, ok := e.sessions[op.req.Channel]; ok {
		op.resp <- ErrAlreadyJoined
		return
	}
	s, err := newSession(e, op)
	if err != nil {
		op.resp <- err
		return
	}
	e.sessions[s.name] = s
	e.log.Noticef("%s: joining via %s", s.name, s.addr)
	s.dial()
	op.resp <- nil
}
