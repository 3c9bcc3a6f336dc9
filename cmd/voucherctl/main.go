// voucherctl operates on the voucher ledger directly, without going through
// the HTTP API. Stop voucherd first unless Redis locking is configured: the
// file lock serializes writers, but a process-local rate limiter and
// redemption lock only protect a single process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/atikaazri/BirthdayCongrat/internal/config"
	"github.com/atikaazri/BirthdayCongrat/internal/ledger"
	"github.com/atikaazri/BirthdayCongrat/internal/lock"
	"github.com/atikaazri/BirthdayCongrat/internal/ratelimit"
	"github.com/atikaazri/BirthdayCongrat/internal/signature"
	"github.com/atikaazri/BirthdayCongrat/internal/token"
	"github.com/atikaazri/BirthdayCongrat/internal/voucher"
)

const usage = `usage: voucherctl <command> [flags]

commands:
  issue    -id <employee-id> -name <employee-name> [-force]
  redeem   -token <token-or-code>
  status   -code <code>
  list
  history
  stats

configuration is read the same way voucherd reads it (config.yaml, env).`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	log := zap.NewNop()
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}

	engine, err := signature.New(cfg.Voucher.SecretKey)
	if err != nil {
		fatal(err)
	}
	store := ledger.NewStore(cfg.Voucher.LedgerFile, cfg.Validity(), log)
	svc := voucher.NewService(store, token.NewCodec(engine, log),
		ratelimit.NewMemory(ratelimit.DefaultMaxAttempts, ratelimit.DefaultWindow),
		lock.NewMemory(), cfg.Validity(), log)

	ctx := context.Background()
	switch cmd := os.Args[1]; cmd {
	case "issue":
		fs := flag.NewFlagSet("issue", flag.ExitOnError)
		id := fs.String("id", "", "employee ID")
		name := fs.String("name", "", "employee name")
		force := fs.Bool("force", false, "issue a new voucher even if an active one exists")
		fs.Parse(os.Args[2:]) //nolint:errcheck
		if *id == "" || *name == "" {
			fatal(errors.New("issue: -id and -name are required"))
		}
		var iss *voucher.Issued
		if *force {
			iss, err = svc.ForceIssue(ctx, *id, *name)
		} else {
			iss, err = svc.Issue(ctx, *id, *name)
		}
		if err != nil {
			fatal(err)
		}
		fmt.Printf("code:    %s\n", iss.Code)
		fmt.Printf("token:   %s\n", iss.Token)
		fmt.Printf("expires: %s\n", iss.ExpiresAt.Format(time.RFC3339))
		if iss.Reissued {
			fmt.Println("(existing active voucher re-issued)")
		}

	case "redeem":
		fs := flag.NewFlagSet("redeem", flag.ExitOnError)
		tok := fs.String("token", "", "signed token or bare code")
		fs.Parse(os.Args[2:]) //nolint:errcheck
		if *tok == "" {
			fatal(errors.New("redeem: -token is required"))
		}
		rec, err := svc.Redeem(ctx, *tok)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("redeemed %s for %s (%s) at %s\n",
			rec.Code, rec.EmployeeName, rec.EmployeeID, rec.RedeemedAt.Format(time.RFC3339))

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		code := fs.String("code", "", "voucher code")
		fs.Parse(os.Args[2:]) //nolint:errcheck
		if *code == "" {
			fatal(errors.New("status: -code is required"))
		}
		st, err := svc.Status(ctx, *code)
		if err != nil {
			fatal(err)
		}
		printStates([]*ledger.VoucherState{st})

	case "list":
		states, err := svc.List(ctx)
		if err != nil {
			fatal(err)
		}
		ordered := make([]*ledger.VoucherState, 0, len(states))
		for _, st := range states {
			ordered = append(ordered, st)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		})
		printStates(ordered)

	case "history":
		events, err := svc.History(ctx)
		if err != nil {
			fatal(err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tCODE\tEMPLOYEE\tSTATUS")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.Code, ev.EmployeeID, ev.Type)
		}
		w.Flush() //nolint:errcheck

	case "stats":
		st, err := svc.Stats(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("issued:    %d\n", st.Issued)
		fmt.Printf("redeemed:  %d\n", st.Redeemed)
		fmt.Printf("active:    %d\n", st.Active)
		fmt.Printf("expired:   %d\n", st.Expired)

	default:
		fmt.Fprintf(os.Stderr, "voucherctl: unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}
}

func printStates(states []*ledger.VoucherState) {
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tEMPLOYEE\tCREATED\tEXPIRES\tSTATE")
	for _, s := range states {
		state := "active"
		switch {
		case s.Redeemed:
			state = "redeemed"
		case s.Expired(now):
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.Code, s.EmployeeID, s.CreatedAt.Format(time.RFC3339),
			s.ExpiresAt.Format(time.RFC3339), state)
	}
	w.Flush() //nolint:errcheck
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "voucherctl:", err)
	os.Exit(1)
}
