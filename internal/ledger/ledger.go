// Package ledger persists voucher lifecycle events to an append-only CSV log
// and rebuilds current voucher state by replaying it. The log is the sole
// source of truth: state is a projection, recomputed before every read that
// matters, never cached across mutating calls.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// EventType is the lifecycle event kind recorded in the log.
type EventType string

const (
	EventCreated  EventType = "created"
	EventRedeemed EventType = "redeemed"
)

// ErrStorage wraps I/O failures reading or writing the log. Callers treat it
// as retryable and must refuse redemption rather than assume success.
var ErrStorage = errors.New("ledger storage")

var header = []string{"timestamp", "code", "employee_id", "employee_name", "status"}

// Event is one immutable row of the log.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Code         string    `json:"code"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	Type         EventType `json:"status"`
}

// VoucherState is the folded view of one voucher, derived from the event
// sequence. Expiry is a computed predicate, never a stored flag.
type VoucherState struct {
	Code         string    `json:"code"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Redeemed     bool      `json:"redeemed"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}

// Expired reports whether the voucher is past its validity window at t.
func (s *VoucherState) Expired(at time.Time) bool {
	return at.After(s.ExpiresAt)
}

// Store is the append-only event log backed by a single CSV file. Appends
// take an exclusive OS file lock so concurrent writers, in this process or
// another, cannot interleave rows; reads take a shared lock.
type Store struct {
	path     string
	lockPath string
	validity time.Duration
	log      *zap.Logger
}

func NewStore(path string, validity time.Duration, log *zap.Logger) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		validity: validity,
		log:      log,
	}
}

// lock acquires the ledger file lock through a fresh descriptor. A flock
// tracks held state per instance: shared across goroutines, a second caller
// piggybacks on the first one's lock and an Unlock releases it under the
// other's feet. One instance per call keeps the kernel as the arbiter.
func (s *Store) lock(exclusive bool) (*flock.Flock, error) {
	fl := flock.New(s.lockPath)
	var err error
	if exclusive {
		err = fl.Lock()
	} else {
		err = fl.RLock()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock: %v", ErrStorage, err)
	}
	return fl, nil
}

// Append durably writes one event to the end of the log. The file is created
// with a header row on first use. The row is staged in the csv writer's
// buffer and flushed as a unit, then fsynced, so a crash cannot leave a
// partial record that replay would misparse.
func (s *Store) Append(e Event) error {
	fl, err := s.lock(true)
	if err != nil {
		return err
	}
	defer fl.Unlock() //nolint:errcheck

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrStorage, s.path, err)
	}
	defer f.Close() //nolint:errcheck

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrStorage, s.path, err)
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("%w: write header: %v", ErrStorage, err)
		}
	}
	row := []string{
		e.Timestamp.Format(time.RFC3339Nano),
		e.Code,
		e.EmployeeID,
		e.EmployeeName,
		string(e.Type),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("%w: write row: %v", ErrStorage, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrStorage, err)
	}
	return nil
}

// History returns the raw event sequence in log order. A missing file is an
// empty ledger, not an error. Malformed rows are skipped with a warning so
// one corrupt line cannot take the whole system down.
func (s *Store) History() ([]Event, error) {
	fl, err := s.lock(false)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock() //nolint:errcheck

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorage, s.path, err)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // row length validated below, not fatal

	var events []Event
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Warn("ledger: skipping unreadable row", zap.Int("line", line), zap.Error(err))
			line++
			continue
		}
		line++
		if line == 1 && len(rec) > 0 && rec[0] == header[0] {
			continue // header
		}
		e, ok := s.parseRow(rec, line)
		if !ok {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Replay folds the full event sequence into the current-state table.
// A created event inserts a voucher; a redeemed event for a known,
// not-yet-redeemed code marks it redeemed. Anything else is a sign of
// corruption or an out-of-order write and is skipped with a warning,
// which also serves as the second line of defense against a double
// redemption slipping into the log.
func (s *Store) Replay() (map[string]*VoucherState, error) {
	events, err := s.History()
	if err != nil {
		return nil, err
	}

	states := make(map[string]*VoucherState, len(events))
	for _, e := range events {
		switch e.Type {
		case EventCreated:
			states[e.Code] = &VoucherState{
				Code:         e.Code,
				EmployeeID:   e.EmployeeID,
				EmployeeName: e.EmployeeName,
				CreatedAt:    e.Timestamp,
				ExpiresAt:    e.Timestamp.Add(s.validity),
			}
		case EventRedeemed:
			st, ok := states[e.Code]
			if !ok {
				s.log.Warn("ledger: redeemed event for unknown code", zap.String("code", e.Code))
				continue
			}
			if st.Redeemed {
				s.log.Warn("ledger: duplicate redeemed event", zap.String("code", e.Code))
				continue
			}
			st.Redeemed = true
			st.RedeemedAt = e.Timestamp
		}
	}
	return states, nil
}

func (s *Store) parseRow(rec []string, line int) (Event, bool) {
	if len(rec) != len(header) {
		s.log.Warn("ledger: skipping malformed row",
			zap.Int("line", line), zap.Int("fields", len(rec)))
		return Event{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, rec[0])
	if err != nil {
		s.log.Warn("ledger: skipping row with bad timestamp",
			zap.Int("line", line), zap.String("timestamp", rec[0]))
		return Event{}, false
	}
	typ := EventType(rec[4])
	if typ != EventCreated && typ != EventRedeemed {
		s.log.Warn("ledger: skipping row with unknown status",
			zap.Int("line", line), zap.String("status", rec[4]))
		return Event{}, false
	}
	return Event{
		Timestamp:    ts,
		Code:         rec[1],
		EmployeeID:   rec[2],
		EmployeeName: rec[3],
		Type:         typ,
	}, true
}
