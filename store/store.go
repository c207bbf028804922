// Package store keeps calibration results and operator accounts in a bolt
// database through storm.
package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/asdine/storm"
	"golang.org/x/crypto/bcrypt"

	"github.com/CodedInternet/osl/calcs"
)

var ErrNotFound = storm.ErrNotFound

// EncoderMap is the persisted output position fit of one joint.
type EncoderMap struct {
	Joint        string `storm:"id"`
	Coefficients []float64
	CalibratedAt time.Time
}

// Operator is a local account allowed to drive the leg remotely.
type Operator struct {
	ID       int    `storm:"increment"` // pk
	Email    string `storm:"unique"`
	Name     string
	Password string
	Admin    bool
}

// Sets the Operator.Password to the hashed value for the provided plain text
func (o *Operator) SetPassword(pass []byte) error {
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.Password = string(hash)
	return nil
}

// Compares Operator.Password with the provided plain text.
// Returns values directly as provided by the bcrypt library for downstream processing.
func (o *Operator) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(o.Password), pass)
}

type Store struct {
	db  *storm.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := storm.Open(path)
	if err != nil {
		return nil, err
	}

	// call inits for each type
	for _, v := range []interface{}{&EncoderMap{}, &Operator{}} {
		if err := db.Init(v); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) DB() *storm.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// SaveEncoderMap replaces the stored map of joint.
func (s *Store) SaveEncoderMap(joint string, p calcs.Polynomial) error {
	return s.db.Save(&EncoderMap{
		Joint:        joint,
		Coefficients: append([]float64(nil), p.Coefficients...),
		CalibratedAt: s.now().UTC(),
	})
}

// LoadEncoderMap returns nil without error when joint has never been
// calibrated.
func (s *Store) LoadEncoderMap(joint string) (*calcs.Polynomial, error) {
	var m EncoderMap
	if err := s.db.One("Joint", joint, &m); err != nil {
		if err == storm.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &calcs.Polynomial{Coefficients: m.Coefficients}, nil
}

func (s *Store) EncoderMaps() ([]EncoderMap, error) {
	var maps []EncoderMap
	if err := s.db.All(&maps); err != nil {
		return nil, err
	}
	return maps, nil
}

// SaveOperator inserts or updates o. Emails are unique.
func (s *Store) SaveOperator(o *Operator) error {
	return s.db.Save(o)
}

func (s *Store) OperatorByEmail(email string) (*Operator, error) {
	var o Operator
	if err := s.db.One("Email", email, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
