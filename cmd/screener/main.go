// Command screener runs the equities screening orchestrator: a cron-driven
// daemon that fires the morning and close screens, replays missed days on
// startup, and drains the budget-bounded deep-dive queue. One-shot flags run
// a single family, session or historical range and exit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/screener/internal/calendar"
	"github.com/aristath/screener/internal/config"
	"github.com/aristath/screener/internal/database"
	"github.com/aristath/screener/internal/deepdive"
	"github.com/aristath/screener/internal/jobs"
	"github.com/aristath/screener/internal/notify"
	"github.com/aristath/screener/internal/orchestrator"
	"github.com/aristath/screener/internal/recovery"
	"github.com/aristath/screener/internal/scheduler"
	"github.com/aristath/screener/internal/screening"
	"github.com/aristath/screener/pkg/logger"
)

type app struct {
	db          *database.DB
	cal         calendar.Calendar
	runner      *orchestrator.Runner
	coordinator *recovery.Coordinator
	ranges      *recovery.RangeRunner
	loop        *scheduler.Loop
	log         zerolog.Logger
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	runType := flag.String("run-type", "", "One-shot run: morning, close, all, deepdive, catchup or recover")
	dateFlag := flag.String("date", "", "Operational date for one-shot runs (YYYY-MM-DD, default today)")
	sessionFlag := flag.String("session", "close", "Deep-dive session for -run-type deepdive (morning or close)")
	fromFlag := flag.String("from", "", "Range recovery start date (YYYY-MM-DD)")
	toFlag := flag.String("to", "", "Range recovery end date (YYYY-MM-DD)")
	recoverMode := flag.String("recover-mode", string(recovery.ModeCloseOnly), "Range recovery mode: close_only or morning_close")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.db.Close()

	if *runType != "" {
		if err := runOnce(ctx, a, *runType, *dateFlag, *sessionFlag, *fromFlag, *toFlag, *recoverMode); err != nil {
			log.Fatal().Err(err).Msg("One-shot run failed")
		}
		return
	}

	runDaemon(ctx, a, cfg)
}

func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "screener.db"),
		Name: "screener",
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		return nil, err
	}
	conn := db.Conn()

	var calRows []calendar.Day
	if cfg.Scheduler.CalendarFile != "" {
		calRows, err = calendar.LoadFile(cfg.Scheduler.CalendarFile)
		if err != nil {
			return nil, err
		}
	}
	cal := calendar.NewMarket(calRows, log)

	cursors := jobs.NewCursorRepository(conn, log)
	runs := jobs.NewRunRepository(conn, log)

	events := notify.NewRouter(cfg.Notify.WebhookURL, notify.NewRepository(conn), log)

	budgets := deepdive.NewBudgetRepository(conn, log)
	tasks := deepdive.NewTaskRepository(conn, log)
	reports := deepdive.NewReportRepository(conn, log)
	enricher := deepdive.NewHTTPEnricher(
		cfg.Enrichment.BaseURL,
		time.Duration(cfg.Enrichment.TimeoutSec)*time.Second,
		log,
	)
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Enrichment.RatePerMinute)), 1)
	executor := deepdive.NewExecutor(tasks, enricher, reports, limiter, events, log)

	client := screening.NewClient(
		cfg.Screening.BaseURL,
		time.Duration(cfg.Screening.TimeoutSec)*time.Second,
		log,
	)
	candidates := screening.NewCandidateRepository(conn, log)

	allocator, err := deepdive.NewAllocator(
		candidates, budgets, tasks, executor, events,
		cfg.Budget.DailyCap,
		map[jobs.Session]int{
			jobs.SessionMorning: cfg.Budget.MorningCap,
			jobs.SessionClose:   cfg.Budget.CloseCap,
		},
		log,
	)
	if err != nil {
		return nil, err
	}

	runner := orchestrator.NewRunner(
		orchestrator.Config{
			StaleRunningAfter:              time.Duration(cfg.Jobs.StaleRunningAfterMinutes) * time.Minute,
			MorningOnHoliday:               cfg.Holiday.MorningRun,
			DeepDiveOnHoliday:              cfg.Holiday.DeepDiveRun,
			DeepDiveUsePreviousBusinessDay: cfg.Holiday.DeepDiveUsePreviousBusinessDay,
			PollCloseData:                  cfg.Polling.Enabled,
			PollInterval:                   time.Duration(cfg.Polling.IntervalSec) * time.Second,
			PollMaxWait:                    time.Duration(cfg.Polling.MaxWaitMinutes) * time.Minute,
		},
		cal, runs, cursors,
		screening.NewEngine(screening.ScreenMorning, client, candidates, log),
		screening.NewEngine(screening.ScreenClose, client, candidates, log),
		allocator, client, events, log,
	)

	coordinator := recovery.NewCoordinator(
		recovery.Config{
			Enabled:              cfg.Recovery.Enabled,
			LookbackBusinessDays: cfg.Recovery.LookbackBusinessDays,
			MaxDaysPerRun:        cfg.Recovery.MaxDaysPerRun,
		},
		cal, cursors, runs, runner, events, log,
	)

	loc := cfg.Location()
	triggers, err := scheduler.NewTriggerTable([]scheduler.TriggerSpec{
		{Spec: cfg.Scheduler.MorningCron, Family: jobs.FamilyMorning, Session: jobs.SessionMorning},
		{Spec: cfg.Scheduler.CloseCron, Family: jobs.FamilyClose, Session: jobs.SessionClose},
		{Spec: cfg.Scheduler.DeepDiveMorningCron, Family: jobs.FamilyDeepDive, Session: jobs.SessionMorning},
		{Spec: cfg.Scheduler.DeepDiveCloseCron, Family: jobs.FamilyDeepDive, Session: jobs.SessionClose},
	}, loc)
	if err != nil {
		return nil, err
	}

	gate := scheduler.NewGate(
		triggers,
		time.Duration(cfg.Scheduler.PauseLeadMinutes)*time.Minute,
		time.Duration(cfg.Scheduler.ExpectedRunMinutes)*time.Minute,
		coordinator,
	)
	coordinator.SetGate(gate)
	coordinator.SetSchedule(triggers)

	loop, err := scheduler.NewLoop(triggers, gate, func(family jobs.Family, session jobs.Session) {
		runner.RunScheduled(ctx, family, session)
	}, loc, log)
	if err != nil {
		return nil, err
	}

	return &app{
		db:          db,
		cal:         cal,
		runner:      runner,
		coordinator: coordinator,
		ranges:      recovery.NewRangeRunner(cal, runner, log),
		loop:        loop,
		log:         log,
	}, nil
}

func runDaemon(ctx context.Context, a *app, cfg *config.Config) {
	if cfg.Recovery.Enabled {
		tick := fmt.Sprintf("@every %dm", cfg.Recovery.TickMinutes)
		err := a.loop.AddTick(tick, "catchup", func() {
			if err := a.coordinator.Activate(ctx, time.Now()); err != nil {
				a.log.Warn().Err(err).Msg("Catch-up pass incomplete")
			}
		})
		if err != nil {
			a.log.Fatal().Err(err).Msg("Failed to register catch-up tick")
		}

		// Startup activation so a restart after downtime begins replaying
		// immediately instead of waiting for the first tick.
		go func() {
			if err := a.coordinator.Activate(ctx, time.Now()); err != nil {
				a.log.Warn().Err(err).Msg("Startup catch-up pass incomplete")
			}
		}()
	} else {
		a.log.Info().Msg("Catch-up recovery disabled")
	}

	a.loop.Start()
	a.log.Info().Msg("Screener daemon running")

	<-ctx.Done()
	a.log.Info().Msg("Shutting down")
	a.loop.Stop()
}

func runOnce(ctx context.Context, a *app, runType, dateFlag, sessionFlag, fromFlag, toFlag, mode string) error {
	date := calendar.DateOf(time.Now())
	if dateFlag != "" {
		parsed, err := calendar.ParseDate(dateFlag)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
		date = parsed
	}

	switch runType {
	case "morning":
		return a.runner.Run(ctx, jobs.FamilyMorning, date)
	case "close":
		return a.runner.Run(ctx, jobs.FamilyClose, date)
	case "all":
		if err := a.runner.Run(ctx, jobs.FamilyMorning, date); err != nil {
			return err
		}
		return a.runner.Run(ctx, jobs.FamilyClose, date)
	case "deepdive":
		session := jobs.Session(sessionFlag)
		if !session.Valid() {
			return fmt.Errorf("invalid -session %q", sessionFlag)
		}
		return a.runner.RunDeepDive(ctx, date, session)
	case "catchup":
		return runCatchUp(ctx, a)
	case "recover":
		if fromFlag == "" || toFlag == "" {
			return fmt.Errorf("-run-type recover requires -from and -to")
		}
		from, err := calendar.ParseDate(fromFlag)
		if err != nil {
			return fmt.Errorf("invalid -from: %w", err)
		}
		to, err := calendar.ParseDate(toFlag)
		if err != nil {
			return fmt.Errorf("invalid -to: %w", err)
		}
		report, err := a.ranges.Run(ctx, from, to, recovery.Mode(mode))
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(rangeReportView(report), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	default:
		return fmt.Errorf("unknown -run-type %q", runType)
	}
}

// runCatchUp drains the catch-up backlog in one invocation by activating the
// coordinator repeatedly until every family is caught up. Each activation
// replays at most one batch per family, so the pass count is bounded by the
// lookback window; the cap is a guard against a misbehaving entry point.
func runCatchUp(ctx context.Context, a *app) error {
	const maxPasses = 100
	for i := 0; i < maxPasses; i++ {
		if err := a.coordinator.Activate(ctx, time.Now()); err != nil {
			return err
		}
		if a.coordinator.CaughtUp() {
			a.log.Info().Int("passes", i+1).Msg("Catch-up complete")
			return nil
		}
	}
	return fmt.Errorf("catch-up did not converge after %d passes", maxPasses)
}

type reportView struct {
	From          string            `json:"from"`
	To            string            `json:"to"`
	Mode          string            `json:"mode"`
	BusinessDays  int               `json:"business_days"`
	OKDays        []string          `json:"ok_days"`
	FailedDays    []string          `json:"failed_days"`
	FailedDetails map[string]string `json:"failed_details,omitempty"`
	Truncated     bool              `json:"truncated,omitempty"`
}

func rangeReportView(r *recovery.RangeReport) reportView {
	return reportView{
		From:          calendar.FormatDate(r.From),
		To:            calendar.FormatDate(r.To),
		Mode:          string(r.Mode),
		BusinessDays:  r.BusinessDays,
		OKDays:        r.OKDays,
		FailedDays:    r.FailedDays,
		FailedDetails: r.FailedDetails,
		Truncated:     r.Truncated,
	}
}
