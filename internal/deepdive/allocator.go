package deepdive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/notify"
)

// Pool supplies the ranked-input candidates for a session. Implementations
// read the screening results produced by the primary jobs; the allocator
// never fabricates candidates when the pool is empty or unavailable.
type Pool interface {
	Candidates(ctx context.Context, date time.Time, session jobs.Session) ([]Candidate, error)
}

// SessionResult summarises one allocation pass.
type SessionResult struct {
	Candidates int
	Admitted   int
	Duplicates int
	Deferred   int
	Executed   int
	Failed     int
}

// Allocator admits candidates into the deep-dive queue under the session and
// daily caps, then executes the admitted tasks in priority order. The budget
// table's compare-and-increment is the single admission authority; the
// allowance computed up front is only a fast path to stop iterating early.
type Allocator struct {
	pool        Pool
	budgets     *BudgetRepository
	tasks       *TaskRepository
	executor    *Executor
	events      notify.Emitter
	dailyCap    int
	sessionCaps map[jobs.Session]int
	log         zerolog.Logger
}

// NewAllocator creates an allocator. It fails fast when the session caps can
// oversubscribe the daily cap, so a bad configuration surfaces at startup
// instead of as a stuck budget at 15:30.
func NewAllocator(
	pool Pool,
	budgets *BudgetRepository,
	tasks *TaskRepository,
	executor *Executor,
	events notify.Emitter,
	dailyCap int,
	sessionCaps map[jobs.Session]int,
	log zerolog.Logger,
) (*Allocator, error) {
	if dailyCap < 1 {
		return nil, fmt.Errorf("daily cap must be at least 1, got %d", dailyCap)
	}
	total := 0
	for session, cap := range sessionCaps {
		if !session.Valid() {
			return nil, fmt.Errorf("unknown session %q in session caps", session)
		}
		if cap < 0 {
			return nil, fmt.Errorf("session cap for %s must not be negative, got %d", session, cap)
		}
		total += cap
	}
	if total > dailyCap {
		return nil, fmt.Errorf("session caps sum to %d which exceeds daily cap %d", total, dailyCap)
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &Allocator{
		pool:        pool,
		budgets:     budgets,
		tasks:       tasks,
		executor:    executor,
		events:      events,
		dailyCap:    dailyCap,
		sessionCaps: sessionCaps,
		log:         log.With().Str("component", "deepdive_allocator").Logger(),
	}, nil
}

// RunSession performs one full allocation pass for (date, session): admit
// candidates up to the remaining allowance, then execute everything pending
// for the session. Task-level failures are isolated; the pass keeps going.
func (a *Allocator) RunSession(ctx context.Context, date time.Time, session jobs.Session) (*SessionResult, error) {
	sessionCap, ok := a.sessionCaps[session]
	if !ok {
		return nil, fmt.Errorf("no cap configured for session %s", session)
	}

	if err := a.budgets.Ensure(date, session, sessionCap); err != nil {
		return nil, err
	}

	result := &SessionResult{}

	candidates, err := a.pool.Candidates(ctx, date, session)
	if err != nil {
		// Candidate data being unavailable is an upstream condition, not a
		// queue fault. Log it and execute whatever is already admitted.
		a.log.Warn().Err(err).
			Str("date", calendar.FormatDate(date)).
			Str("session", string(session)).
			Msg("Candidate pool unavailable, skipping admission")
	} else {
		result.Candidates = len(candidates)
		if err := a.admit(ctx, date, session, candidates, result); err != nil {
			return result, err
		}
	}

	if err := a.execute(ctx, date, session, sessionCap, result); err != nil {
		return result, err
	}

	a.log.Info().
		Str("date", calendar.FormatDate(date)).
		Str("session", string(session)).
		Int("candidates", result.Candidates).
		Int("admitted", result.Admitted).
		Int("duplicates", result.Duplicates).
		Int("deferred", result.Deferred).
		Int("executed", result.Executed).
		Int("failed", result.Failed).
		Msg("Deep-dive session finished")
	return result, nil
}

func (a *Allocator) admit(ctx context.Context, date time.Time, session jobs.Session, candidates []Candidate, result *SessionResult) error {
	done, err := a.tasks.DoneSymbols(date)
	if err != nil {
		return err
	}

	fresh := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if done[c.Symbol] {
			continue
		}
		fresh = append(fresh, c)
	}

	ranked := Rank(fresh)

	for i, cand := range ranked {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := a.budgets.TryAdmit(date, session, a.dailyCap); err != nil {
			if errors.Is(err, ErrBudgetExceeded) {
				result.Deferred = len(ranked) - i
				a.log.Info().
					Str("date", calendar.FormatDate(date)).
					Str("session", string(session)).
					Int("deferred", result.Deferred).
					Msg("Budget exhausted, deferring remaining candidates")
				a.events.Emit(ctx, notify.Event{
					Kind:    notify.KindBudgetExhausted,
					Date:    date,
					Session: session,
					Detail: map[string]string{
						"admitted": fmt.Sprintf("%d", result.Admitted),
						"deferred": fmt.Sprintf("%d", result.Deferred),
					},
				})
				return nil
			}
			return err
		}

		err := a.tasks.Insert(Task{
			Symbol:   cand.Symbol,
			Date:     date,
			Session:  session,
			Priority: cand.Priority,
		})
		if errors.Is(err, ErrDuplicateTask) {
			// The slot was reserved for work that already exists; give it back.
			if rerr := a.budgets.Refund(date, session); rerr != nil {
				return rerr
			}
			result.Duplicates++
			a.log.Debug().Str("symbol", cand.Symbol).Msg("Duplicate deep-dive task skipped")
			continue
		}
		if err != nil {
			return err
		}
		result.Admitted++
	}
	return nil
}

func (a *Allocator) execute(ctx context.Context, date time.Time, session jobs.Session, sessionCap int, result *SessionResult) error {
	pending, err := a.tasks.Pending(date, session, sessionCap)
	if err != nil {
		return err
	}

	for i, task := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.executor.Execute(ctx, task, i+1); err != nil {
			result.Failed++
			continue
		}
		result.Executed++
	}
	return nil
}
