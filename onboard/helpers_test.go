package onboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/osl/calcs"
	"github.com/CodedInternet/osl/logging"
	"github.com/CodedInternet/osl/onboard/hardware"
	"github.com/CodedInternet/osl/onboard/strainamp"
)

// fakeClock advances only when slept on, plus tick on every read.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tick    time.Duration
	sleeps  int
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.tick)
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps++
	n, hook := c.sleeps, c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

type memoryStore struct {
	maps  map[string]calcs.Polynomial
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{maps: make(map[string]calcs.Polynomial)}
}

func (s *memoryStore) LoadEncoderMap(joint string) (*calcs.Polynomial, error) {
	p, ok := s.maps[joint]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memoryStore) SaveEncoderMap(joint string, p calcs.Polynomial) error {
	s.maps[joint] = p
	s.saves++
	return nil
}

func noBus(int) (strainamp.Bus, error) {
	return nil, errors.New("no i2c bus")
}

type testRig struct {
	leg     *Leg
	adapter *hardware.SimAdapter
	log     *logging.Recorder
	clock   *fakeClock
}

// newRig builds a Leg on simulated hardware. The caller must Close the leg.
func newRig(cfg LegConfig, ports ...string) *testRig {
	r := &testRig{
		adapter: hardware.NewSimAdapter(ports...),
		log:     logging.NewRecorder(),
		clock:   newFakeClock(),
	}
	l, err := New(cfg,
		WithAdapter(r.adapter),
		WithLoadCellBus(noBus),
		WithLogger(r.log),
		WithClock(r.clock),
		WithRegisterer(prometheus.NewRegistry()),
	)
	So(err, ShouldBeNil)
	r.leg = l
	return r
}

func floatPtr(v float64) *float64 { return &v }
