package voucher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atikaazri/BirthdayCongrat/internal/ledger"
	"github.com/atikaazri/BirthdayCongrat/internal/lock"
	"github.com/atikaazri/BirthdayCongrat/internal/ratelimit"
	"github.com/atikaazri/BirthdayCongrat/internal/signature"
	"github.com/atikaazri/BirthdayCongrat/internal/token"
)

const testSecret = "service-test-secret-0123456789abcdef"

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// testClock lets a test move the service's view of "now".
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	eng, err := signature.New(testSecret)
	if err != nil {
		t.Fatalf("signature.New: %v", err)
	}
	log := zap.NewNop()
	store := ledger.NewStore(filepath.Join(t.TempDir(), "history.csv"), time.Hour, log)
	svc := NewService(
		store,
		token.NewCodec(eng, log),
		ratelimit.NewMemory(1000, time.Hour),
		lock.NewMemory(),
		time.Hour,
		log,
	)
	clock := &testClock{t: t0}
	svc.now = clock.Now
	return svc, clock
}

// ── The full lifecycle scenario ───────────────────────────────────────────────

func TestLifecycle_IssueRedeemExpire(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Code == "" || issued.Token == "" {
		t.Fatalf("incomplete issuance: %+v", issued)
	}
	if !issued.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ExpiresAt: got %v want %v", issued.ExpiresAt, t0.Add(time.Hour))
	}

	// Redeeming at T0+30m succeeds and returns the holder's identity.
	clock.Set(t0.Add(30 * time.Minute))
	receipt, err := svc.Redeem(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if receipt.EmployeeName != "Alice" || receipt.EmployeeID != "E1" {
		t.Errorf("receipt identity: %+v", receipt)
	}
	if !receipt.RedeemedAt.Equal(t0.Add(30 * time.Minute)) {
		t.Errorf("RedeemedAt: got %v", receipt.RedeemedAt)
	}

	// A second redemption is rejected.
	if _, err := svc.Redeem(ctx, issued.Token); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Errorf("second redeem: expected ErrAlreadyRedeemed, got %v", err)
	}

	// A never-issued code is unknown.
	if _, err := svc.Redeem(ctx, "ZZZZZZZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown code: expected ErrNotFound, got %v", err)
	}
}

func TestRedeem_ExpiredByLedgerState(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	clock.Set(t0.Add(2 * time.Hour))
	if _, err := svc.Redeem(ctx, issued.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

// ── Idempotent issuance ───────────────────────────────────────────────────────

func TestIssue_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Code != first.Code {
		t.Errorf("repeat issue minted a new code: %q vs %q", second.Code, first.Code)
	}
	if !second.Reissued {
		t.Error("repeat issue should be flagged as reissued")
	}

	// One created event per voucher, not per call.
	events, _ := svc.History(ctx)
	if len(events) != 1 {
		t.Errorf("events: got %d want 1", len(events))
	}
}

func TestIssue_NewCodeAfterRedemption(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Issue(ctx, "E1", "Alice")
	if _, err := svc.Redeem(ctx, first.Token); err != nil {
		t.Fatal(err)
	}

	second, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Code == first.Code {
		t.Error("issue after redemption must mint a new code")
	}
}

func TestIssue_NewCodeAfterExpiry(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Issue(ctx, "E1", "Alice")
	clock.Set(t0.Add(2 * time.Hour))

	second, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Code == first.Code {
		t.Error("issue after expiry must mint a new code")
	}
}

func TestForceIssue_AlwaysMints(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Issue(ctx, "E1", "Alice")
	forced, err := svc.ForceIssue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if forced.Code == first.Code {
		t.Error("ForceIssue returned the existing code")
	}
	if forced.Reissued {
		t.Error("forced issuance must not be flagged as reissued")
	}
}

// ── At-most-once under concurrency ────────────────────────────────────────────

func TestRedeem_ConcurrentAttemptsRedeemOnce(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "E1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	clock.Set(t0.Add(10 * time.Minute))

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(ctx, issued.Token)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyRedeemed):
				rejected++
			default:
				t.Errorf("unexpected redeem error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes: got %d want exactly 1", successes)
	}
	if rejected != attempts-1 {
		t.Errorf("rejected: got %d want %d", rejected, attempts-1)
	}

	// The ledger must contain exactly one redeemed event.
	events, _ := svc.History(ctx)
	var redeemedEvents int
	for _, e := range events {
		if e.Type == ledger.EventRedeemed {
			redeemedEvents++
		}
	}
	if redeemedEvents != 1 {
		t.Errorf("redeemed events in ledger: got %d want 1", redeemedEvents)
	}
}

// ── Legacy and hostile inputs ─────────────────────────────────────────────────

func TestRedeem_LegacyBareCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, _ := svc.Issue(ctx, "E1", "Alice")

	// Present the bare code (pre-signing era) instead of the signed token.
	receipt, err := svc.Redeem(ctx, issued.Code)
	if err != nil {
		t.Fatalf("Redeem bare code: %v", err)
	}
	if receipt.EmployeeName != "Alice" {
		t.Errorf("receipt: %+v", receipt)
	}
}

func TestRedeem_GarbageInputIsFormatError(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Redeem(context.Background(), "!!not a token!!"); !errors.Is(err, token.ErrBadFormat) {
		t.Fatalf("expected token.ErrBadFormat, got %v", err)
	}
}

func TestRedeem_RateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	svc.limiter = ratelimit.NewMemory(2, time.Hour)
	ctx := context.Background()

	svc.Redeem(ctx, "ZZZZZZZZZZZZ") //nolint:errcheck
	svc.Redeem(ctx, "ZZZZZZZZZZZZ") //nolint:errcheck
	if _, err := svc.Redeem(ctx, "ZZZZZZZZZZZZ"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// A different identifier is unaffected.
	if _, err := svc.Redeem(ctx, "YYYYYYYYYYYY"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for fresh identifier, got %v", err)
	}
}

// ── Status / Stats ────────────────────────────────────────────────────────────

func TestStatus(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	issued, _ := svc.Issue(ctx, "E1", "Alice")

	st, err := svc.Status(ctx, issued.Code)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Redeemed || st.Expired(clock.Now()) {
		t.Errorf("fresh voucher should be active: %+v", st)
	}

	if _, err := svc.Status(ctx, "ZZZZZZZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Issue(ctx, "E1", "Alice")
	svc.Issue(ctx, "E2", "Bob")   //nolint:errcheck
	svc.Issue(ctx, "E3", "Carol") //nolint:errcheck

	svc.Redeem(ctx, a.Token) //nolint:errcheck

	// E3's voucher ages out; issue E4 afterwards so one stays active.
	clock.Set(t0.Add(2 * time.Hour))
	svc.Issue(ctx, "E4", "Dave") //nolint:errcheck

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Issued: 4, Redeemed: 1, Active: 1, Expired: 2}
	if *stats != want {
		t.Errorf("stats: got %+v want %+v", *stats, want)
	}
}
