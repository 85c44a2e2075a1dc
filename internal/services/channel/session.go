package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"mleschat/internal/crypto"
	"mleschat/internal/domain"
	"mleschat/internal/metrics"
	"mleschat/internal/protocol/codec"
	"mleschat/internal/protocol/gka"
	"mleschat/internal/protocol/kdf"
	"mleschat/internal/protocol/ledger"
	"mleschat/internal/protocol/multipart"
	"mleschat/internal/util/memzero"
)

type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateOpen
	stateReconnecting
)

func (s connState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// outgoing is one message waiting for the connection.
type outgoing struct {
	flags   domain.Flags
	payload []byte
	time    time.Time

	// prev seals under the previous group keys, without key material.
	prev bool
	// tracked names a queue entry by hash to be marked once written.
	tracked bool
	hash    uint64
	// notify emits a Send event once written.
	notify bool
}

// session is the state of one joined channel. It is owned by the engine
// worker and never touched from any other goroutine.
type session struct {
	e *Engine

	name       string
	uid        string
	passphrase string
	addr       string

	base      *kdf.Keys
	baseSet   codec.Keyset
	ident     *crypto.IdentityCipher
	obUID     string
	obChannel string
	hashKey   ledger.Key

	groupKeys *kdf.Keys
	group     codec.Keyset
	prevKeys  *kdf.Keys
	prev      codec.Keyset
	// epoch changes every time the group keys are set or cleared.
	epoch  uint64
	secret []byte
	fsOn   bool

	gka      *gka.Agreement
	ledger   *ledger.Ledger
	queue    *OutboundQueue
	presence *Presence
	asm      *multipart.Assembler
	counter  multipart.Counter

	state      connState
	gen        uint64
	conn       domain.Conn
	connCtx    context.Context
	cancel     context.CancelFunc
	backoff    *Backoff
	everOpen   bool
	initFailed bool

	resyncing      bool
	resyncTimer    *time.Timer
	resyncToken    uint64
	presenceTimer  *time.Timer
	presenceToken  uint64
	reconnectTimer *time.Timer

	outbox  []outgoing
	pumping bool

	// saves tracks previous-secret writes still running in the background.
	saves sync.WaitGroup
}

func keysetFor(k *kdf.Keys) codec.Keyset {
	c := k.Clone()
	memzero.Zero(c.ChannelKey)
	memzero.Zero(c.ChannelSalt)
	return codec.Keyset{Cipher: crypto.NewMessageCipher(c.MessageKey, c.MessageSalt), AuthKey: c.AuthKey}
}

func wipeKeyset(ks *codec.Keyset) {
	memzero.Zero(ks.AuthKey)
	*ks = codec.Keyset{}
}

func newSession(e *Engine, op *opJoin) (*session, error) {
	agreement, err := gka.New(op.prime, op.req.UID)
	if err != nil {
		return nil, err
	}
	base := kdf.Derive(op.stretched)
	ic := base.Clone()
	ident := crypto.NewIdentityCipher(ic.ChannelKey, ic.ChannelSalt)
	ic.Wipe()

	s := &session{
		e:          e,
		name:       op.req.Channel,
		uid:        op.req.UID,
		passphrase: op.req.Passphrase,
		addr:       op.req.Address,
		base:       base,
		baseSet:    keysetFor(base),
		ident:      ident,
		gka:        agreement,
		ledger:     ledger.New(),
		queue:      NewOutboundQueue(e.cfg.QueueLen),
		presence:   NewPresence(),
		asm:        multipart.NewAssembler(e.cfg.MaxImageSize),
		backoff:    NewBackoff(e.cfg.ReconnectInitial, e.cfg.ReconnectMax),
	}
	s.obUID = ident.Obfuscate(s.uid)
	s.obChannel = ident.Obfuscate(s.name)
	s.hashKey = ledger.KeyFrom(s.obChannel)
	if len(op.prev) > 0 {
		// Messages sealed before a restart can still be read.
		s.setPrev(op.prev)
	}
	return s, nil
}

func (s *session) info() *Info {
	return &Info{
		State:          s.state.String(),
		ForwardSecrecy: s.fsOn,
		Participants:   s.gka.Participants(),
		Queued:         s.queue.Len(),
		KeyState:       s.gka.State(),
	}
}

func (s *session) dial() {
	e := s.e
	e.gen++
	s.gen = e.gen
	s.state = stateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	s.connCtx, s.cancel = ctx, cancel
	gen, addr := s.gen, s.addr
	go func() {
		dctx, dcancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
		conn, err := e.dialer.Dial(dctx, addr)
		dcancel()
		if !e.postAsync(&opConnected{s: s, gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *session) connected(conn domain.Conn, err error) {
	e := s.e
	if err != nil {
		e.log.Warningf("%s: connect to %s failed: %v", s.name, s.addr, err)
		if !s.everOpen && !s.initFailed {
			s.initFailed = true
			e.emit(domain.Event{Kind: domain.EventInit, Sender: s.uid, Channel: s.name, OK: false})
		}
		s.dropConn()
		s.scheduleReconnect()
		return
	}

	s.conn = conn
	s.state = stateOpen
	s.everOpen = true
	s.backoff.Reset()
	e.log.Noticef("%s: connected to %s", s.name, s.addr)

	go s.readLoop(s.connCtx, conn, s.gen)

	e.emit(domain.Event{Kind: domain.EventInit, Sender: s.uid, Channel: s.name, OK: true})
	s.writeControl(domain.FlagFull | domain.FlagPresence)
	if s.state != stateOpen {
		return
	}
	s.armPresence()
	s.startResync()
}

func (s *session) readLoop(ctx context.Context, conn domain.Conn, gen uint64) {
	for {
		b, err := conn.Recv(ctx)
		if err != nil {
			s.e.postAsync(&opConnLost{s: s, gen: gen, err: err})
			return
		}
		if !s.e.postAsync(&opInbound{s: s, gen: gen, frame: b}) {
			return
		}
	}
}

// dropConn closes the connection and stops everything tied to it.
func (s *session) dropConn() {
	if s.cancel != nil {
		s.cancel()
		s.cancel, s.connCtx = nil, nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	stopTimer(&s.presenceTimer)
	stopTimer(&s.resyncTimer)
	stopTimer(&s.reconnectTimer)
	s.resyncing = false
	for i := range s.outbox {
		memzero.Zero(s.outbox[i].payload)
	}
	s.outbox = nil
	s.pumping = false
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *session) lost(err error) {
	s.e.log.Warningf("%s: connection lost: %v", s.name, err)
	s.dropConn()
	s.scheduleReconnect()
}

func (s *session) scheduleReconnect() {
	s.state = stateReconnecting
	metrics.Reconnect()
	d := s.backoff.Next()
	s.e.log.Debugf("%s: reconnecting in %v", s.name, d)
	s.after(&s.reconnectTimer, d, timerReconnect, s.gen)
}

func (s *session) after(t **time.Timer, d time.Duration, kind timerKind, token uint64) {
	stopTimer(t)
	e := s.e
	*t = time.AfterFunc(d, func() {
		e.postAsync(&opTimer{s: s, kind: kind, token: token})
	})
}

func (s *session) forceReconnect() {
	switch s.state {
	case stateConnecting:
		return
	case stateOpen:
		s.dropConn()
	case stateReconnecting:
		stopTimer(&s.reconnectTimer)
	}
	s.backoff.Reset()
	s.rotate()
	s.dial()
}

// rotate prepares a fresh key agreement for the next connection. The last
// group secret stays available for reading what was sealed under it.
func (s *session) rotate() {
	if s.secret != nil {
		s.setPrev(s.secret)
	}
	s.fsOff()
	if err := s.gka.Rekey(); err != nil {
		s.e.log.Errorf("%s: rekey: %v", s.name, err)
	}
	s.clearGroup()
	s.asm.Clear()
}

func (s *session) fire(kind timerKind, token uint64) {
	switch kind {
	case timerReconnect:
		if s.state == stateReconnecting && token == s.gen {
			s.reconnectTimer = nil
			s.rotate()
			s.dial()
		}
	case timerResync:
		if s.state == stateOpen && token == s.resyncToken {
			s.resyncTimer = nil
			s.sweep()
		}
	case timerPresence:
		if s.state == stateOpen && token == s.presenceToken {
			s.writeControl(domain.FlagPresence)
			if s.state == stateOpen {
				s.armPresence()
			}
		}
	}
}

func (s *session) armPresence() {
	s.presenceToken++
	s.after(&s.presenceTimer, s.e.cfg.PresenceInterval, timerPresence, s.presenceToken)
}

func (s *session) startResync() {
	s.resyncing = true
	s.armResync()
}

func (s *session) armResync() {
	s.resyncToken++
	s.after(&s.resyncTimer, s.e.cfg.ResyncDelay, timerResync, s.resyncToken)
}

// sweep re-sends the outbound queue. Entries sealed under group keys that
// have since been replaced go out once more under the previous keys and are
// then forgotten; the rest are re-sent under the current keys.
func (s *session) sweep() {
	s.queue.Sweep(func(q *QueueEntry) bool {
		if q.Group && q.Epoch != s.epoch {
			if s.prevKeys != nil {
				s.enqueue(q, true)
			}
			return false
		}
		s.enqueue(q, false)
		return true
	})
	s.resyncing = false
	s.pump()
}

func (s *session) enqueue(q *QueueEntry, prev bool) {
	payload := append([]byte(nil), q.Payload...)
	if !q.Image {
		s.outbox = append(s.outbox, outgoing{
			flags:   domain.FlagFull,
			payload: payload,
			time:    q.Time,
			prev:    prev,
			tracked: !prev,
			hash:    q.Hash,
		})
		return
	}
	s.enqueueImage(payload, q.Time, q.Hash, prev, false)
}

func (s *session) enqueueImage(data []byte, t time.Time, hash uint64, prev, notify bool) {
	frags, err := multipart.Split(data, s.e.cfg.SliceSize, &s.counter)
	if err != nil {
		s.e.log.Errorf("%s: split image: %v", s.name, err)
		return
	}
	for _, f := range frags {
		s.outbox = append(s.outbox, outgoing{
			flags:   domain.FlagData | f.Flags,
			payload: f.Data,
			time:    t,
			prev:    prev,
			tracked: !prev,
			hash:    hash,
			notify:  notify,
		})
	}
}

func (s *session) stamp() time.Time { return s.e.now().Truncate(time.Second) }

func (s *session) sendText(payload []byte) {
	t := s.stamp()
	hash := ledger.Hash(s.hashKey, s.uid, t.UnixMilli(), payload, true)
	if s.queue.Push(QueueEntry{Time: t, Payload: payload, Hash: hash, Epoch: s.epoch}) {
		metrics.QueueEviction()
	}
	if s.state != stateOpen {
		return
	}
	s.outbox = append(s.outbox, outgoing{
		flags:   domain.FlagFull,
		payload: append([]byte(nil), payload...),
		time:    t,
		tracked: true,
		hash:    hash,
		notify:  true,
	})
	s.pump()
}

func (s *session) sendImage(data []byte) {
	t := s.stamp()
	hash := ledger.Hash(s.hashKey, s.uid, t.UnixMilli(), data, false)
	if s.queue.Push(QueueEntry{Time: t, Payload: data, Hash: hash, Image: true, Epoch: s.epoch}) {
		metrics.QueueEviction()
	}
	if s.state != stateOpen {
		return
	}
	s.enqueueImage(append([]byte(nil), data...), t, hash, false, true)
	s.pump()
}

// pump writes queued messages in order. After a fragment that is not the
// last of its series it yields to the worker loop, so one image does not
// hold up everything else.
func (s *session) pump() {
	for !s.pumping && s.state == stateOpen && len(s.outbox) > 0 {
		o := s.outbox[0]
		s.outbox[0] = outgoing{}
		s.outbox = s.outbox[1:]

		err := s.write(o)
		memzero.Zero(o.payload)
		if err != nil {
			// A lost connection ends the loop; a frame that could not be
			// sealed is skipped without a Send event.
			continue
		}
		more := o.flags.Has(domain.FlagMultipart) && !o.flags.Has(domain.FlagLast)
		if o.notify {
			s.e.emit(domain.Event{Kind: domain.EventSend, Sender: s.uid, Channel: s.name, MultipartContinue: more})
		}
		if more {
			s.pumping = true
			go s.e.postAsync(&opContinue{s: s, gen: s.gen})
			return
		}
	}
}

func (s *session) writeControl(flags domain.Flags) {
	if s.state != stateOpen {
		return
	}
	s.write(outgoing{flags: flags, time: s.stamp()})
}

// write seals o and sends it. A transport failure drops the connection.
// Either way a frame that was not sent returns an error.
func (s *session) write(o outgoing) error {
	var (
		ks        codec.Keyset
		m         gka.Material
		usedGroup bool
	)
	if o.prev {
		if s.prevKeys == nil {
			return nil
		}
		ks = s.prev
	} else {
		m = s.gka.Outbound(o.flags.Has(domain.FlagPresenceAck))
		ks = s.baseSet
		if m.UseGroup && s.groupKeys != nil {
			ks = s.group
			usedGroup = true
		}
		if m.Announce {
			s.announce()
		}
	}

	sealed, err := codec.Seal(ks, codec.Message{
		Flags:   o.flags | m.Flags,
		Time:    o.time,
		Payload: o.payload,
		Keys:    m.Keys,
		Pad:     m.Pad,
	})
	if err != nil {
		s.e.log.Errorf("%s: seal: %v", s.name, err)
		return err
	}
	frame, err := codec.MarshalFrame(&domain.Frame{UID: s.obUID, Channel: s.obChannel, Message: sealed})
	if err != nil {
		s.e.log.Errorf("%s: encode frame: %v", s.name, err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.e.cfg.WriteTimeout)
	err = s.conn.Send(ctx, frame)
	cancel()
	if err != nil {
		s.lost(err)
		return err
	}
	metrics.FrameOut()
	if o.tracked {
		s.queue.Mark(o.hash, usedGroup, s.epoch)
	}
	return nil
}

func (s *session) announce() {
	secret := s.gka.Secret()
	if secret == nil {
		return
	}
	memzero.Zero(s.secret)
	s.secret = secret
	s.fsOn = true
	s.e.log.Noticef("%s: forward secrecy on (%d participants)", s.name, s.gka.Participants())
	s.e.emit(domain.Event{
		Kind:    domain.EventForwardSecrecyOn,
		Sender:  s.uid,
		Channel: s.name,
		Secret:  append([]byte(nil), secret...),
	})
	if st := s.e.state; st != nil {
		saved := append([]byte(nil), secret...)
		pass, name, log := s.passphrase, s.name, s.e.log
		s.saves.Add(1)
		go func() {
			defer s.saves.Done()
			defer memzero.Zero(saved)
			if err := st.SavePrevSecret(pass, name, saved); err != nil {
				log.Warningf("%s: save previous secret: %v", name, err)
			}
		}()
	}
}

func (s *session) fsOff() {
	if !s.fsOn {
		return
	}
	s.fsOn = false
	s.e.log.Noticef("%s: forward secrecy off", s.name)
	s.e.emit(domain.Event{Kind: domain.EventForwardSecrecyOff, Sender: s.uid, Channel: s.name})
}

func (s *session) setGroup(secret []byte) {
	s.groupKeys.Wipe()
	wipeKeyset(&s.group)
	s.groupKeys = kdf.DeriveGroup(s.base.AuthKey, secret)
	s.group = keysetFor(s.groupKeys)
	s.epoch++
}

func (s *session) clearGroup() {
	if s.groupKeys == nil {
		return
	}
	s.groupKeys.Wipe()
	s.groupKeys = nil
	wipeKeyset(&s.group)
	s.epoch++
}

func (s *session) setPrev(secret []byte) {
	s.prevKeys.Wipe()
	wipeKeyset(&s.prev)
	s.prevKeys = kdf.DeriveGroup(s.base.AuthKey, secret)
	s.prev = keysetFor(s.prevKeys)
}

// inbound runs one relay frame through authentication, key agreement,
// deduplication and reassembly.
func (s *session) inbound(raw []byte) {
	metrics.FrameIn()
	f, err := codec.UnmarshalFrame(raw)
	if err != nil || f.Channel != s.obChannel {
		metrics.Dropped("frame")
		return
	}
	opened, err := codec.Open(f.Message, s.group, s.prev, s.baseSet)
	if err != nil {
		if errors.Is(err, codec.ErrAuth) {
			metrics.Dropped("auth")
		} else {
			metrics.Dropped("malformed")
		}
		return
	}
	sender, err := s.ident.Reveal(f.UID)
	if err != nil || sender == "" {
		metrics.Dropped("malformed")
		return
	}

	own := sender == s.uid
	flags := opened.Flags()
	ts := opened.Time()
	s.backoff.Reset()

	if s.resyncing && len(opened.Payload) > 0 {
		s.armResync()
	}
	if own && !s.resyncing {
		s.startResync()
	}

	if len(opened.Keys) > 0 {
		res := s.gka.Inbound(sender, flags, opened.Keys)
		flags = res.Flags
		if res.Dropped {
			metrics.GKAReset()
			if s.fsOn && s.secret != nil {
				s.setPrev(s.secret)
			}
			s.clearGroup()
		}
		if res.Revoked || res.Dropped {
			s.fsOff()
		}
		if res.Derived {
			if secret := s.gka.Secret(); secret != nil {
				s.setGroup(secret)
				memzero.Zero(secret)
			}
		}
	}
	if !own {
		s.presence.Seen(sender, s.e.now())
	}

	hash := ledger.Hash(s.hashKey, sender, ts.UnixMilli(), opened.Payload, flags.Has(domain.FlagFull))
	accepted, late := s.ledger.Admit(sender, ts.UnixMilli(), hash)
	if !accepted {
		metrics.Duplicate()
		return
	}

	if flags.Has(domain.FlagPresAckReq) && !own {
		s.writeControl(domain.FlagPresence | domain.FlagPresenceAck)
	}

	payload := opened.Payload
	if flags.Has(domain.FlagMultipart) {
		whole, st := s.asm.Add(sender, flags, payload)
		switch st {
		case multipart.Pending:
			return
		case multipart.Discarded:
			s.e.log.Debugf("%s: discarded incomplete image from %s", s.name, sender)
			metrics.Dropped("multipart")
			return
		}
		payload = whole
		hash = ledger.Hash(s.hashKey, sender, ts.UnixMilli(), payload, false)
	}
	if len(payload) == 0 {
		return
	}
	if own {
		// The relay echoed what we sent; everything queued up to it is
		// delivered.
		s.queue.FlushThrough(hash)
		return
	}

	s.e.emit(domain.Event{
		Kind:           domain.EventData,
		Sender:         sender,
		Channel:        s.name,
		Timestamp:      ts,
		Payload:        append([]byte(nil), payload...),
		Flags:          flags &^ domain.FlagPresAckReq,
		ForwardSecrecy: opened.Slot < 2,
		Late:           late,
	})
}

// teardown stops the session and wipes its secrets.
func (s *session) teardown(notify bool) {
	s.dropConn()
	s.state = stateClosed

	s.gka.Wipe()
	s.base.Wipe()
	s.groupKeys.Wipe()
	s.prevKeys.Wipe()
	s.groupKeys, s.prevKeys = nil, nil
	wipeKeyset(&s.baseSet)
	wipeKeyset(&s.group)
	wipeKeyset(&s.prev)
	memzero.Zero(s.secret)
	s.secret = nil
	s.fsOn = false

	s.ledger.Clear()
	s.queue.Clear()
	s.presence.Clear()
	s.asm.Clear()

	s.e.log.Noticef("%s: closed", s.name)
	if notify {
		s.e.emit(domain.Event{Kind: domain.EventClose, Sender: s.uid, Channel: s.name})
	}
}
