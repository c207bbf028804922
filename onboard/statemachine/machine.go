// Package statemachine is a small synchronous automaton whose actions operate on
// an explicit target supplied at construction.
package statemachine

import (
	"errors"
	"fmt"
	"time"
)

type Event string

// Action is a state or transition side effect applied to the machine's target.
type Action[T any] func(target T)

type State[T any] struct {
	Name  string
	Entry Action[T]
	Exit  Action[T]
	// Apply runs once per control cycle while the state is current, when the
	// caller asks for state parameters to be applied.
	Apply Action[T]
	// MinDuration holds the machine in this state before any transition fires.
	MinDuration time.Duration
}

type Transition[T any] struct {
	Source      string
	Destination string
	Event       Event
	Criteria    func(target T) bool
	Action      Action[T]
}

type TransitionOption[T any] func(*Transition[T])

// WithCriteria guards a transition. A transition without an event fires on any
// update whose criteria hold.
func WithCriteria[T any](fn func(target T) bool) TransitionOption[T] {
	return func(t *Transition[T]) { t.Criteria = fn }
}

func WithAction[T any](fn Action[T]) TransitionOption[T] {
	return func(t *Transition[T]) { t.Action = fn }
}

var (
	ErrDuplicateState      = errors.New("state already registered")
	ErrDuplicateEvent      = errors.New("event already registered")
	ErrUnknownState        = errors.New("unknown state")
	ErrDuplicateTransition = errors.New("transition already registered with a different destination")
	ErrNoTrigger           = errors.New("transition needs an event or criteria")
	ErrNoStates            = errors.New("state machine has no states")
)

type key struct {
	source string
	event  Event
}

type Machine[T any] struct {
	target T
	now    func() time.Time

	states []*State[T]
	byName map[string]*State[T]
	events []Event
	known  map[Event]bool

	transitions []*Transition[T]
	table       map[key]*Transition[T]
	guarded     map[string][]*Transition[T]

	initial   string
	current   *State[T]
	running   bool
	exited    bool
	enteredAt time.Time
}

// New returns an empty machine acting on target.
func New[T any](target T) *Machine[T] {
	return &Machine[T]{
		target:  target,
		now:     time.Now,
		byName:  make(map[string]*State[T]),
		known:   make(map[Event]bool),
		table:   make(map[key]*Transition[T]),
		guarded: make(map[string][]*Transition[T]),
	}
}

func (m *Machine[T]) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Machine[T]) Target() T {
	return m.target
}

func (m *Machine[T]) AddState(s State[T]) error {
	if _, ok := m.byName[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateState, s.Name)
	}
	st := s
	m.states = append(m.states, &st)
	m.byName[s.Name] = &st
	return nil
}

// ReplaceState overwrites a registered state definition, keeping its position
// in the registration order. Unknown names are added.
func (m *Machine[T]) ReplaceState(s State[T]) error {
	old, ok := m.byName[s.Name]
	if !ok {
		return m.AddState(s)
	}
	*old = s
	return nil
}

func (m *Machine[T]) AddEvent(ev Event) error {
	if m.known[ev] {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, ev)
	}
	m.known[ev] = true
	m.events = append(m.events, ev)
	return nil
}

// SetInitial designates the state entered on Start. Without it the first
// registered state is used.
func (m *Machine[T]) SetInitial(name string) error {
	if _, ok := m.byName[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, name)
	}
	m.initial = name
	return nil
}

// AddTransition registers source -> destination on ev. Events are registered
// implicitly. Registering the same (source, event) pair twice returns the
// existing transition when the destination matches and an error otherwise.
func (m *Machine[T]) AddTransition(source, destination string, ev Event, opts ...TransitionOption[T]) (*Transition[T], error) {
	for _, name := range []string{source, destination} {
		if _, ok := m.byName[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownState, name)
		}
	}

	t := &Transition[T]{Source: source, Destination: destination, Event: ev}
	for _, opt := range opts {
		opt(t)
	}

	if ev == "" {
		if t.Criteria == nil {
			return nil, ErrNoTrigger
		}
		m.guarded[source] = append(m.guarded[source], t)
		m.transitions = append(m.transitions, t)
		return t, nil
	}

	k := key{source, ev}
	if existing, ok := m.table[k]; ok {
		if existing.Destination != destination {
			return nil, fmt.Errorf("%w: %s on %s -> %s (have %s)",
				ErrDuplicateTransition, source, ev, destination, existing.Destination)
		}
		return existing, nil
	}

	if !m.known[ev] {
		m.known[ev] = true
		m.events = append(m.events, ev)
	}
	m.table[k] = t
	m.transitions = append(m.transitions, t)
	return t, nil
}

// Start enters the initial state and runs its entry action.
func (m *Machine[T]) Start() error {
	if len(m.states) == 0 {
		return ErrNoStates
	}
	initial := m.states[0]
	if m.initial != "" {
		initial = m.byName[m.initial]
	}

	m.current = initial
	m.enteredAt = m.now()
	m.running = true
	m.exited = false
	if initial.Entry != nil {
		initial.Entry(m.target)
	}
	return nil
}

// Update advances the machine. An unstarted machine is started instead. With
// an event the (current, event) transition fires if registered and its
// criteria hold; without one the first guarded transition whose criteria hold
// fires. Anything else leaves the machine where it is.
func (m *Machine[T]) Update(ev Event) error {
	if m.current == nil {
		return m.Start()
	}
	if m.TimeInState() < m.current.MinDuration {
		return nil
	}

	var next *Transition[T]
	if ev != "" {
		t, ok := m.table[key{m.current.Name, ev}]
		if ok && (t.Criteria == nil || t.Criteria(m.target)) {
			next = t
		}
	} else {
		for _, t := range m.guarded[m.current.Name] {
			if t.Criteria(m.target) {
				next = t
				break
			}
		}
	}

	if next != nil {
		m.fire(next)
	}
	return nil
}

func (m *Machine[T]) fire(t *Transition[T]) {
	if m.current.Exit != nil {
		m.current.Exit(m.target)
	}
	if t.Action != nil {
		t.Action(m.target)
	}
	m.current = m.byName[t.Destination]
	m.enteredAt = m.now()
	if m.current.Entry != nil {
		m.current.Entry(m.target)
	}
}

// ApplyCurrent runs the current state's Apply action, if any.
func (m *Machine[T]) ApplyCurrent() {
	if m.current != nil && m.current.Apply != nil {
		m.current.Apply(m.target)
	}
}

// Exit leaves the current state and stops the machine.
func (m *Machine[T]) Exit() {
	if m.running && m.current != nil && m.current.Exit != nil {
		m.current.Exit(m.target)
	}
	m.current = nil
	m.running = false
	m.exited = true
}

// Current returns the name of the current state, or "" before activation.
func (m *Machine[T]) Current() string {
	if m.current == nil {
		return ""
	}
	return m.current.Name
}

func (m *Machine[T]) Running() bool { return m.running }
func (m *Machine[T]) Exited() bool  { return m.exited }

func (m *Machine[T]) TimeInState() time.Duration {
	if m.current == nil {
		return 0
	}
	return m.now().Sub(m.enteredAt)
}

func (m *Machine[T]) States() []string {
	names := make([]string, len(m.states))
	for i, s := range m.states {
		names[i] = s.Name
	}
	return names
}

func (m *Machine[T]) Events() []Event {
	return append([]Event(nil), m.events...)
}

func (m *Machine[T]) Transitions() []*Transition[T] {
	return append([]*Transition[T](nil), m.transitions...)
}
