package wp6003

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// State is the phase of a GATT session.
type State int32

const (
	StateSearching State = iota
	StateConnecting
	StateDiscovering
	StateSubscribed
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	notifyCharShort = ble.UUID16(0xfff4)
	notifyCharFull  = ble.MustParse("0000fff4-0000-1000-8000-00805f9b34fb")
)

var (
	errCharacteristicNotFound = errors.New("characteristic fff4 not found")
	errDisconnected           = errors.New("device disconnected")
)

// Client is the part of a GATT connection a session uses. ble.Client satisfies it.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Resolver looks a device up in the host registry of connectable devices.
type Resolver interface {
	Resolve(address string) (ble.Addr, bool)
}

// Dialer opens a connection to a resolved device.
type Dialer interface {
	Dial(ctx context.Context, addr ble.Addr) (Client, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, addr ble.Addr) (Client, error)

func (f DialFunc) Dial(ctx context.Context, addr ble.Addr) (Client, error) {
	return f(ctx, addr)
}

// SessionOptions tunes retry timing. Zero values are replaced by the tag defaults.
type SessionOptions struct {
	BackoffFloor      time.Duration `default:"5s"`
	SearchBackoffMax  time.Duration `default:"60s"`
	RetryBackoffMax   time.Duration `default:"120s"`
	NotFoundDelay     time.Duration `default:"30s"`
	LivenessInterval  time.Duration `default:"60s"`
	DisconnectTimeout time.Duration `default:"5s"`
}

// withDefaults fills zero and negative durations from the tag defaults and
// keeps the caps at or above the floor.
func (o SessionOptions) withDefaults() SessionOptions {
	for _, d := range []*time.Duration{
		&o.BackoffFloor, &o.SearchBackoffMax, &o.RetryBackoffMax,
		&o.NotFoundDelay, &o.LivenessInterval, &o.DisconnectTimeout,
	} {
		if *d < 0 {
			*d = 0
		}
	}
	defaults.SetDefaults(&o)
	if o.SearchBackoffMax < o.BackoffFloor {
		o.SearchBackoffMax = o.BackoffFloor
	}
	if o.RetryBackoffMax < o.BackoffFloor {
		o.RetryBackoffMax = o.BackoffFloor
	}
	return o
}

// Session keeps one device subscribed to its notify characteristic until stopped.
type Session struct {
	entryID  string
	address  string
	resolver Resolver
	dialer   Dialer
	bus      Publisher
	opts     SessionOptions
	logger   logrus.FieldLogger

	search *Backoff
	retry  *Backoff
	state  atomic.Int32

	notifyMu sync.RWMutex
	stopped  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(entryID, address string, resolver Resolver, dialer Dialer, bus Publisher, opts SessionOptions, logger logrus.FieldLogger) *Session {
	return &Session{
		entryID:  entryID,
		address:  address,
		resolver: resolver,
		dialer:   dialer,
		bus:      bus,
		opts:     opts,
		logger: logger.WithFields(logrus.Fields{
			"entry_id": entryID,
			"address":  address,
		}),
		search: NewBackoff(opts.BackoffFloor, opts.SearchBackoffMax),
		retry:  NewBackoff(opts.BackoffFloor, opts.RetryBackoffMax),
		done:   make(chan struct{}),
	}
}

// State returns the current phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) != st {
		s.logger.WithField("state", st).Debug("GATT session state changed")
	}
	sessionState.WithLabelValues(s.entryID).Set(float64(st))
}

func (s *Session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.setState(StateSearching)
	go s.run(ctx)
}

// stop silences the notify handler, cancels the loop and waits for it.
func (s *Session) stop() {
	s.notifyMu.Lock()
	s.stopped = true
	s.notifyMu.Unlock()

	s.cancel()
	<-s.done
	s.setState(StateStopped)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.setState(StateSearching)
		addr, ok := s.resolver.Resolve(s.address)
		if !ok {
			delay := s.search.Next()
			s.logger.WithField("retry_in", delay).Debug("device not in registry yet")
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		s.search.Reset()

		err := s.connectAndSubscribe(ctx, addr)
		if ctx.Err() != nil {
			s.logger.Info("GATT session cancelled")
			return
		}

		if errors.Is(err, errCharacteristicNotFound) {
			s.logger.WithField("retry_in", s.opts.NotFoundDelay).Warn("characteristic fff4 not found")
			if !sleep(ctx, s.opts.NotFoundDelay) {
				return
			}
			continue
		}

		s.setState(StateFailed)
		delay := s.retry.Next()
		s.logger.WithError(err).WithField("retry_in", delay).Warn("GATT session error, retrying")
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (s *Session) connectAndSubscribe(ctx context.Context, addr ble.Addr) error {
	s.setState(StateConnecting)
	s.logger.Info("connecting to device")
	cln, err := s.dialer.Dial(ctx, addr)
	if err != nil {
		return errors.Wrap(err, "couldn't connect to ble")
	}
	defer s.disconnect(cln)

	s.setState(StateDiscovering)
	char, err := s.discover(ctx, cln)
	if err != nil {
		return err
	}

	s.logger.WithField("characteristic", char.UUID.String()).Info("subscribing to notifications")
	err = call(ctx, func() error {
		return cln.Subscribe(char, false, s.handleNotification)
	})
	if err != nil {
		return errors.Wrap(err, "couldn't subscribe to characteristic")
	}

	s.search.Reset()
	s.retry.Reset()
	s.setState(StateSubscribed)

	ticker := time.NewTicker(s.opts.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cln.Disconnected():
			return errDisconnected
		case <-ticker.C:
			if !isConnected(cln) {
				return errDisconnected
			}
			s.logger.Debug("GATT session alive")
		}
	}
}

func (s *Session) discover(ctx context.Context, cln Client) (*ble.Characteristic, error) {
	var profile *ble.Profile
	err := call(ctx, func() error {
		p, err := cln.DiscoverProfile(true)
		profile = p
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't discover services")
	}

	if c := findNotifyCharacteristic(profile); c != nil {
		return c, nil
	}
	return nil, errCharacteristicNotFound
}

func findNotifyCharacteristic(p *ble.Profile) *ble.Characteristic {
	if p == nil {
		return nil
	}
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(notifyCharShort) || c.UUID.Equal(notifyCharFull) {
				return c
			}
		}
	}
	return nil
}

func (s *Session) handleNotification(data []byte) {
	s.notifyMu.RLock()
	defer s.notifyMu.RUnlock()
	if s.stopped {
		return
	}

	reading, err := Decode(data)
	if err != nil {
		decodeFailuresTotal.WithLabelValues(sourceGATT).Inc()
		s.logger.WithError(err).WithField("raw", rawHex(data)).Warn("undecodable notification")
		return
	}

	readingsTotal.WithLabelValues(sourceGATT).Inc()
	s.logger.WithFields(logrus.Fields(reading.Fields())).Debug("notification decoded")
	s.bus.Publish(EventUpdate, s.entryID, reading.Fields())
}

// disconnect is best effort; failures only get logged.
func (s *Session) disconnect(cln Client) {
	if !isConnected(cln) {
		return
	}

	s.logger.Debug("closing connection")
	if err := cln.CancelConnection(); err != nil {
		s.logger.WithError(err).Debug("disconnect failed")
		return
	}

	timer := time.NewTimer(s.opts.DisconnectTimeout)
	defer timer.Stop()
	select {
	case <-cln.Disconnected():
	case <-timer.C:
		s.logger.Warn("device did not confirm disconnect")
	}
}

func isConnected(cln Client) bool {
	select {
	case <-cln.Disconnected():
		return false
	default:
		return true
	}
}

// call runs a blocking client operation, giving up when ctx is done. The
// abandoned call returns once the connection is cancelled.
func call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- fn() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func rawHex(data []byte) string {
	const max = 30
	if len(data) > max {
		data = data[:max]
	}
	return hex.EncodeToString(data)
}
