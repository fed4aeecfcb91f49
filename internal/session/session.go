// Package session drives the FIX order-entry connection: logon, sequence
// tracking, heartbeats, and dispatch of execution reports. Orders only
// change state through reports delivered here.
package session

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/obs"
	"github.com/arda-arslan/cryptobot/internal/schema"
	"github.com/arda-arslan/cryptobot/pkg/backoff"
)

// State is the session lifecycle state.
type State uint16

const (
	StateDisconnected State = iota
	StateLoggingOn
	StateActive
	StateAwaitingResend
	StateLoggingOut
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateLoggingOn:
		return "logging_on"
	case StateActive:
		return "active"
	case StateAwaitingResend:
		return "awaiting_resend"
	case StateLoggingOut:
		return "logging_out"
	default:
		return "unknown"
	}
}

var (
	ErrNotActive  = errors.New("session: not active")
	ErrAuthFailed = errors.New("session: authentication failed")
	ErrGivenUp    = errors.New("session: retries exhausted")
)

// Config carries the connection and credential settings.
type Config struct {
	Endpoint     string
	TargetCompID string
	APIKey       string
	Passphrase   string
	SecretKey    string
	UseTLS       bool

	HeartbeatInterval time.Duration
	// HeartbeatTolerance multiplies the interval before inbound silence
	// triggers a TestRequest, and again before the link is declared dead.
	HeartbeatTolerance float64
	MaxRetries         int
	Backoff            backoff.Backoff
	Scales             schema.ScaleSpec
}

// Handler consumes order lifecycle messages. The order manager
// implements it.
type Handler interface {
	OnExecutionReport(codec.ExecutionReport) error
	OnCancelReject(codec.CancelReject)
}

// Session is one logical FIX session that survives reconnects. Sequence
// numbers reset on every fresh logon; the venue does the same.
type Session struct {
	cfg     Config
	enc     codec.Encoder
	handler Handler
	metrics *obs.Metrics
	// onUp runs after each successful logon, for order reconciliation.
	onUp func()
	// dialFn is swapped out in tests.
	dialFn func() (net.Conn, error)

	mu          sync.Mutex
	conn        net.Conn
	state       State
	outboundSeq uint64
	expectedSeq uint64
	buffered    map[uint64]codec.Message
	lastSentAt  time.Time
	lastRecvAt  time.Time
	testReqID   string
	logonDone   chan error
}

// New builds a session. onUp may be nil.
func New(cfg Config, handler Handler, metrics *obs.Metrics, onUp func()) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTolerance <= 1 {
		cfg.HeartbeatTolerance = 1.5
	}
	return &Session{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		onUp:    onUp,
		dialFn:  func() (net.Conn, error) { return dial(cfg.Endpoint, cfg.UseTLS) },
		enc: codec.Encoder{
			SenderCompID: cfg.APIKey,
			TargetCompID: cfg.TargetCompID,
			Passphrase:   cfg.Passphrase,
			SecretKey:    cfg.SecretKey,
			HeartBtInt:   int(cfg.HeartbeatInterval / time.Second),
			Scales:       cfg.Scales,
		},
		buffered: make(map[uint64]codec.Message),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run keeps the session alive until the context ends or a fatal error
// occurs. Authentication failures never retry.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		loggedOn, err := s.runOnce(ctx)
		if loggedOn {
			// A healthy session pays down the retry debt; only
			// consecutive failed connects count toward MaxRetries.
			attempt = 0
		}
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthFailed) {
			logs.Errorf("session: %v, not retrying", err)
			return err
		}

		s.metrics.IncSessionDrop()
		attempt++
		if s.cfg.MaxRetries > 0 && attempt > s.cfg.MaxRetries {
			return errors.Wrap(ErrGivenUp, err.Error())
		}
		wait := s.cfg.Backoff.Next(attempt)
		logs.Infof("session: dropped (%v), reconnecting in %s (attempt %d)", err, wait, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce performs a single connect/logon/read cycle. loggedOn reports
// whether the counterparty acknowledged our Logon before the cycle died.
func (s *Session) runOnce(ctx context.Context) (loggedOn bool, err error) {
	conn, err := s.dialFn()
	if err != nil {
		return false, err
	}

	logonDone := make(chan error, 1)
	s.mu.Lock()
	s.conn = conn
	s.state = StateLoggingOn
	s.outboundSeq = 0
	s.expectedSeq = 0
	s.buffered = make(map[uint64]codec.Message)
	s.testReqID = ""
	s.lastRecvAt = time.Now()
	s.logonDone = logonDone
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateDisconnected
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if err := s.sendLogon(); err != nil {
		return false, err
	}

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(conn) }()

	select {
	case <-ctx.Done():
		s.sendLogout("shutdown")
		conn.Close()
		<-readErr
		return false, ctx.Err()
	case err := <-logonDone:
		if err != nil {
			conn.Close()
			<-readErr
			return false, err
		}
	case err := <-readErr:
		if err == nil {
			err = errors.New("session: closed before logon ack")
		}
		// The ack may have landed just before the connection died.
		select {
		case lerr := <-logonDone:
			if lerr != nil {
				return false, lerr
			}
			return true, err
		default:
			return false, err
		}
	}

	logs.Info("session: logon acknowledged")
	if s.onUp != nil {
		go s.onUp()
	}

	hbDone := make(chan struct{})
	go s.heartbeatLoop(ctx, conn, hbDone)
	defer close(hbDone)

	select {
	case <-ctx.Done():
		s.sendLogout("shutdown")
		conn.Close()
		<-readErr
		return true, ctx.Err()
	case err := <-readErr:
		return true, err
	}
}

func (s *Session) readLoop(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	scanner.Split(codec.ScanFrames)
	for scanner.Scan() {
		msg, err := codec.Parse(scanner.Bytes())
		if err != nil {
			logs.Errorf("session: dropping bad frame: %v", err)
			continue
		}
		if err := s.handleMessage(msg); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read order entry")
	}
	return errors.New("session: connection closed")
}

// handleMessage applies sequence rules and dispatches one inbound
// message. It returns an error only when the session must die.
func (s *Session) handleMessage(msg codec.Message) error {
	s.mu.Lock()
	s.lastRecvAt = time.Now()
	state := s.state

	if state == StateLoggingOn {
		s.mu.Unlock()
		return s.handleLogonPhase(msg)
	}

	seq := msg.SeqNum()
	switch {
	case seq < s.expectedSeq:
		s.mu.Unlock()
		logs.Infof("session: ignoring replayed seq %d (expected %d)", seq, s.expectedSeq)
		return nil
	case seq > s.expectedSeq:
		s.buffered[seq] = msg
		if s.state != StateAwaitingResend {
			s.state = StateAwaitingResend
			begin, end := s.expectedSeq, seq-1
			s.mu.Unlock()
			logs.Infof("session: inbound gap, requesting resend [%d, %d]", begin, end)
			return s.sendResendRequest(begin, end)
		}
		s.mu.Unlock()
		return nil
	}

	// In order: apply, then drain anything buffered behind it.
	s.expectedSeq++
	ready := []codec.Message{msg}
	for {
		next, ok := s.buffered[s.expectedSeq]
		if !ok {
			break
		}
		delete(s.buffered, s.expectedSeq)
		s.expectedSeq++
		ready = append(ready, next)
	}
	if s.state == StateAwaitingResend && len(s.buffered) == 0 {
		s.state = StateActive
	}
	s.mu.Unlock()

	for _, m := range ready {
		if err := s.dispatch(m); err != nil {
			return err
		}
	}
	return nil
}

// handleLogonPhase resolves the first counterparty message after our
// Logon. Anything other than a Logon ack is an authentication failure.
func (s *Session) handleLogonPhase(msg codec.Message) error {
	switch msg.MsgType() {
	case codec.MsgTypeLogon:
		s.mu.Lock()
		s.state = StateActive
		s.expectedSeq = msg.SeqNum() + 1
		done := s.logonDone
		s.mu.Unlock()
		if done != nil {
			done <- nil
		}
		return nil
	case codec.MsgTypeLogout, codec.MsgTypeReject:
		text, _ := msg.Get(codec.TagText)
		err := errors.Wrap(ErrAuthFailed, text)
		s.mu.Lock()
		done := s.logonDone
		s.mu.Unlock()
		if done != nil {
			done <- err
		}
		return err
	default:
		logs.Infof("session: ignoring %s before logon ack", msg.MsgType())
		return nil
	}
}

func (s *Session) dispatch(msg codec.Message) error {
	switch msg.MsgType() {
	case codec.MsgTypeHeartbeat:
		s.mu.Lock()
		if id, ok := msg.Get(codec.TagTestReqID); ok && id == s.testReqID {
			s.testReqID = ""
		}
		s.mu.Unlock()
		return nil

	case codec.MsgTypeTestRequest:
		id, _ := msg.Get(codec.TagTestReqID)
		return s.send(func(seq uint64, now time.Time) []byte {
			return s.enc.Heartbeat(seq, now, id)
		})

	case codec.MsgTypeExecutionReport:
		rep, err := codec.ParseExecutionReport(msg, s.cfg.Scales)
		if err != nil {
			logs.Errorf("session: bad execution report (%v): %s", err, msg.Render())
			return nil
		}
		// Handler errors are state complaints, not session failures.
		if err := s.handler.OnExecutionReport(rep); err != nil {
			logs.Errorf("session: report not applied: %v", err)
		}
		return nil

	case codec.MsgTypeOrderCancelReject:
		rej, err := codec.ParseCancelReject(msg)
		if err != nil {
			logs.Errorf("session: bad cancel reject (%v): %s", err, msg.Render())
			return nil
		}
		s.handler.OnCancelReject(rej)
		return nil

	case codec.MsgTypeLogout:
		text, _ := msg.Get(codec.TagText)
		logs.Infof("session: counterparty logout: %s", text)
		return errors.New("session: counterparty logout")

	case codec.MsgTypeReject:
		logs.Errorf("session: message rejected: %s", msg.Render())
		return nil

	case codec.MsgTypeResendRequest:
		// Orders are never replayed; the venue resets with us on relogon.
		logs.Infof("session: ignoring resend request: %s", msg.Render())
		return nil

	default:
		logs.Infof("session: unhandled message type %s", msg.MsgType())
		return nil
	}
}

// send assigns the next outbound sequence number and writes the encoded
// message, atomically under the session lock.
func (s *Session) send(encode func(seq uint64, now time.Time) []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(encode)
}

func (s *Session) sendLocked(encode func(seq uint64, now time.Time) []byte) error {
	if s.conn == nil {
		return ErrNotActive
	}
	s.outboundSeq++
	frame := encode(s.outboundSeq, time.Now())
	if _, err := s.conn.Write(frame); err != nil {
		return errors.Wrap(err, "write order entry")
	}
	s.lastSentAt = time.Now()
	return nil
}

func (s *Session) sendLogon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotActive
	}
	s.outboundSeq++
	frame, err := s.enc.Logon(s.outboundSeq, time.Now())
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return errors.Wrap(err, "write logon")
	}
	s.lastSentAt = time.Now()
	return nil
}

func (s *Session) sendLogout(text string) {
	s.mu.Lock()
	s.state = StateLoggingOut
	err := s.sendLocked(func(seq uint64, now time.Time) []byte {
		return s.enc.Logout(seq, now, text)
	})
	s.mu.Unlock()
	if err != nil && !errors.Is(err, ErrNotActive) {
		logs.Errorf("session: logout send failed: %v", err)
	}
}

func (s *Session) sendResendRequest(begin, end uint64) error {
	return s.send(func(seq uint64, now time.Time) []byte {
		return s.enc.ResendRequest(seq, now, begin, end)
	})
}

// heartbeatLoop keeps the session warm. A heartbeat goes out only after
// the link has been send-idle for a full interval; outbound traffic
// suppresses it. Inbound silence escalates to a TestRequest and then to
// tearing the connection down.
func (s *Session) heartbeatLoop(ctx context.Context, conn net.Conn, done <-chan struct{}) {
	interval := s.cfg.HeartbeatInterval
	silence := time.Duration(float64(interval) * s.cfg.HeartbeatTolerance)
	ticker := time.NewTicker(interval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
		}

		now := time.Now()
		s.mu.Lock()
		if s.conn != conn {
			s.mu.Unlock()
			return
		}
		sendIdle := now.Sub(s.lastSentAt) >= interval
		recvIdle := now.Sub(s.lastRecvAt)
		probing := s.testReqID != ""

		switch {
		case probing && recvIdle >= 2*silence:
			s.mu.Unlock()
			logs.Errorf("session: no response to test request, dropping link")
			conn.Close()
			return

		case !probing && recvIdle >= silence:
			s.testReqID = strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
			id := s.testReqID
			err := s.sendLocked(func(seq uint64, t time.Time) []byte {
				return s.enc.TestRequest(seq, t, id)
			})
			s.mu.Unlock()
			if err != nil {
				return
			}

		case sendIdle:
			err := s.sendLocked(func(seq uint64, t time.Time) []byte {
				return s.enc.Heartbeat(seq, t, "")
			})
			s.mu.Unlock()
			if err != nil {
				return
			}

		default:
			s.mu.Unlock()
		}
	}
}

// SendNewOrder implements the order manager's sender.
func (s *Session) SendNewOrder(ord codec.OrderSpec) error {
	if st := s.State(); st != StateActive && st != StateAwaitingResend {
		return errors.Wrap(ErrNotActive, st.String())
	}
	return s.send(func(seq uint64, now time.Time) []byte {
		return s.enc.NewOrderSingle(seq, now, ord)
	})
}

// SendCancel implements the order manager's sender.
func (s *Session) SendCancel(spec codec.CancelSpec) error {
	if st := s.State(); st != StateActive && st != StateAwaitingResend {
		return errors.Wrap(ErrNotActive, st.String())
	}
	return s.send(func(seq uint64, now time.Time) []byte {
		return s.enc.OrderCancelRequest(seq, now, spec)
	})
}
