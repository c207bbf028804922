// Package datalog records one row of named values per control cycle and fans
// the rows out to sinks such as CSV files or an MQTT broker.
package datalog

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("datalog: recorder closed")

// Attribute is a named value sampled when a row is appended.
type Attribute struct {
	Name  string
	Value func() interface{}
}

type Row struct {
	RunID   string        `json:"run_id"`
	Index   uint64        `json:"index"`
	Time    time.Time     `json:"time"`
	Columns []string      `json:"columns"`
	Values  []interface{} `json:"values"`
}

type Sink interface {
	Write(Row) error
	Close() error
}

type Recorder struct {
	mu      sync.Mutex
	runID   string
	sources []string
	attrs   map[string][]Attribute
	columns []string
	index   uint64
	sinks   []Sink
	closed  bool
	now     func() time.Time
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{
		runID: uuid.NewString(),
		attrs: make(map[string][]Attribute),
		sinks: sinks,
		now:   time.Now,
	}
}

func (r *Recorder) RunID() string { return r.runID }

// AddSink attaches another sink. It receives rows from the next append on.
func (r *Recorder) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// RegisterAttributes replaces the attributes recorded for source. Columns are
// named "source:attribute" and keep the order sources were first registered
// in. Registering no attributes drops the source.
func (r *Recorder) RegisterAttributes(source string, attrs ...Attribute) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attrs[source]; !ok && len(attrs) > 0 {
		r.sources = append(r.sources, source)
	}
	if len(attrs) == 0 {
		delete(r.attrs, source)
		for i, s := range r.sources {
			if s == source {
				r.sources = append(r.sources[:i], r.sources[i+1:]...)
				break
			}
		}
	} else {
		r.attrs[source] = append([]Attribute(nil), attrs...)
	}
	r.columns = nil
}

// Columns returns the current column names.
func (r *Recorder) Columns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.columnsLocked()...)
}

func (r *Recorder) columnsLocked() []string {
	if r.columns == nil {
		r.columns = []string{}
		for _, s := range r.sources {
			for _, a := range r.attrs[s] {
				r.columns = append(r.columns, s+":"+a.Name)
			}
		}
	}
	return r.columns
}

// Rows returns the number of rows appended so far.
func (r *Recorder) Rows() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// AppendRow samples every attribute and writes the row to all sinks. A failing
// sink does not stop the others.
func (r *Recorder) AppendRow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	row := Row{
		RunID:   r.runID,
		Index:   r.index,
		Time:    r.now(),
		Columns: r.columnsLocked(),
	}
	row.Values = make([]interface{}, 0, len(row.Columns))
	for _, s := range r.sources {
		for _, a := range r.attrs[s] {
			row.Values = append(row.Values, a.Value())
		}
	}
	r.index++

	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink. Further appends fail with ErrClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
