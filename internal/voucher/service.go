// Package voucher orchestrates issuance and redemption on top of the token
// codec, the append-only ledger, the per-identifier rate limiter, and the
// per-code redemption lock. All state-dependent decisions are made against
// a fresh replay of the ledger, never a cached table.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atikaazri/BirthdayCongrat/internal/ledger"
	"github.com/atikaazri/BirthdayCongrat/internal/lock"
	"github.com/atikaazri/BirthdayCongrat/internal/ratelimit"
	"github.com/atikaazri/BirthdayCongrat/internal/token"
)

// Service is the voucher lifecycle state machine:
// ACTIVE → REDEEMED (terminal) or ACTIVE → EXPIRED (terminal, computed).
type Service struct {
	store    *ledger.Store
	codec    *token.Codec
	limiter  ratelimit.Limiter
	locks    lock.Locker
	validity time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewService(
	store *ledger.Store,
	codec *token.Codec,
	limiter ratelimit.Limiter,
	locks lock.Locker,
	validity time.Duration,
	log *zap.Logger,
) *Service {
	return &Service{
		store:    store,
		codec:    codec,
		limiter:  limiter,
		locks:    locks,
		validity: validity,
		log:      log,
		now:      time.Now,
	}
}

// Issue mints a signed voucher for an employee. Issuance is idempotent: if
// the employee already holds an ACTIVE voucher, its code is returned
// unchanged with a freshly encoded token, so repeated birthday sweeps cannot
// hand out duplicates.
func (s *Service) Issue(ctx context.Context, employeeID, employeeName string) (*Issued, error) {
	return s.issue(ctx, employeeID, employeeName, false)
}

// ForceIssue bypasses the idempotency check and always mints a new code.
// Administrative re-issuance; the previous voucher, if any, stays valid
// until it expires or is redeemed.
func (s *Service) ForceIssue(ctx context.Context, employeeID, employeeName string) (*Issued, error) {
	return s.issue(ctx, employeeID, employeeName, true)
}

func (s *Service) issue(ctx context.Context, employeeID, employeeName string, force bool) (*Issued, error) {
	release, err := s.locks.Acquire(ctx, "employee:"+employeeID)
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", employeeID, err)
	}
	defer release()

	states, err := s.store.Replay()
	if err != nil {
		return nil, err
	}
	now := s.now()

	if !force {
		for _, st := range states {
			if st.EmployeeID == employeeID && !st.Redeemed && !st.Expired(now) {
				tok, err := s.encodeState(st)
				if err != nil {
					return nil, err
				}
				s.log.Info("returning existing active voucher",
					zap.String("employee_id", employeeID),
					zap.String("code", st.Code),
				)
				return &Issued{
					Code:         st.Code,
					Token:        tok,
					EmployeeID:   st.EmployeeID,
					EmployeeName: st.EmployeeName,
					CreatedAt:    st.CreatedAt,
					ExpiresAt:    st.ExpiresAt,
					Reissued:     true,
				}, nil
			}
		}
	}

	code, err := s.mintCode(states)
	if err != nil {
		return nil, err
	}
	expires := now.Add(s.validity)

	tok, err := s.codec.Encode(token.Payload{
		Code:         code,
		EmployeeID:   employeeID,
		EmployeeName: employeeName,
		CreatedAt:    now,
		ExpiresAt:    expires,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.Append(ledger.Event{
		Timestamp:    now,
		Code:         code,
		EmployeeID:   employeeID,
		EmployeeName: employeeName,
		Type:         ledger.EventCreated,
	}); err != nil {
		return nil, err
	}

	s.log.Info("voucher issued",
		zap.String("employee_id", employeeID),
		zap.String("code", code),
		zap.Time("expires_at", expires),
		zap.Bool("forced", force),
	)
	return &Issued{
		Code:         code,
		Token:        tok,
		EmployeeID:   employeeID,
		EmployeeName: employeeName,
		CreatedAt:    now,
		ExpiresAt:    expires,
	}, nil
}

// Redeem validates a scanned token or bare code and consumes the voucher
// exactly once. The token's embedded expiry is only a claim: decoding runs
// with allowExpired so a physically-held code is always extractable, and the
// replayed ledger state is the authority on expired/redeemed.
func (s *Service) Redeem(ctx context.Context, scanned string) (*Receipt, error) {
	allowed, err := s.limiter.Allow(ctx, scanned)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		s.log.Warn("redemption attempt rate limited")
		return nil, ErrRateLimited
	}

	code, _, err := s.codec.Decode(scanned, true)
	if err != nil {
		// Format and tamper failures are abuse signals, not lifecycle states.
		s.log.Warn("rejected unreadable redemption attempt", zap.Error(err))
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("redeem %s: %w", code, err)
	}
	defer release()

	states, err := s.store.Replay()
	if err != nil {
		return nil, err
	}
	st, ok := states[code]
	if !ok {
		return nil, ErrNotFound
	}
	if st.Redeemed {
		return nil, ErrAlreadyRedeemed
	}
	now := s.now()
	if st.Expired(now) {
		return nil, ErrExpired
	}

	if err := s.store.Append(ledger.Event{
		Timestamp:    now,
		Code:         code,
		EmployeeID:   st.EmployeeID,
		EmployeeName: st.EmployeeName,
		Type:         ledger.EventRedeemed,
	}); err != nil {
		return nil, err
	}

	s.log.Info("voucher redeemed",
		zap.String("employee_id", st.EmployeeID),
		zap.String("code", code),
	)
	return &Receipt{
		Code:         code,
		EmployeeID:   st.EmployeeID,
		EmployeeName: st.EmployeeName,
		RedeemedAt:   now,
	}, nil
}

// Status returns the current state of a voucher without consuming it.
func (s *Service) Status(ctx context.Context, code string) (*ledger.VoucherState, error) {
	_ = ctx
	states, err := s.store.Replay()
	if err != nil {
		return nil, err
	}
	st, ok := states[code]
	if !ok {
		return nil, ErrNotFound
	}
	return st, nil
}

// List returns the replayed state table for every voucher in the ledger.
func (s *Service) List(ctx context.Context) (map[string]*ledger.VoucherState, error) {
	_ = ctx
	return s.store.Replay()
}

// History returns the raw ledger event sequence for audit.
func (s *Service) History(ctx context.Context) ([]ledger.Event, error) {
	_ = ctx
	return s.store.History()
}

// Stats summarizes the ledger: total issued, redeemed, still active, and
// expired-unredeemed vouchers.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	states, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	st := &Stats{Issued: len(states)}
	for _, v := range states {
		switch {
		case v.Redeemed:
			st.Redeemed++
		case v.Expired(now):
			st.Expired++
		default:
			st.Active++
		}
	}
	return st, nil
}

// encodeState rebuilds a signed token from replayed state, for idempotent
// re-issuance of an already-active voucher.
func (s *Service) encodeState(st *ledger.VoucherState) (string, error) {
	return s.codec.Encode(token.Payload{
		Code:         st.Code,
		EmployeeID:   st.EmployeeID,
		EmployeeName: st.EmployeeName,
		CreatedAt:    st.CreatedAt,
		ExpiresAt:    st.ExpiresAt,
	})
}

// mintCode draws random codes until one is unused. Collisions are
// vanishingly rare in a 32^12 space but the ledger is small enough that
// checking is free.
func (s *Service) mintCode(states map[string]*ledger.VoucherState) (string, error) {
	for i := 0; i < 10; i++ {
		code, err := token.NewCode()
		if err != nil {
			return "", err
		}
		if _, taken := states[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("could not mint an unused voucher code")
}
