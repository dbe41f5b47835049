package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
)

// DefaultSchedule is the cadence of the recurring sync
const DefaultSchedule = "@every 15m"

// ErrRunInProgress is returned by TriggerNow while a run is in progress
var ErrRunInProgress = errors.New("sync run already in progress")

// Task is one run of a recurring job
type Task func(ctx context.Context) Result

// Constraint is checked before each scheduled run; a non-nil error names
// the unmet condition and the run is skipped.
type Constraint func(ctx context.Context) error

// NetworkReachable is satisfied when a TCP connection to addr (host:port)
// can be established within timeout.
func NetworkReachable(addr string, timeout time.Duration) Constraint {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("network unreachable: %w", err)
		}
		return conn.Close()
	}
}

// BatteryNotLow is satisfied when no battery under powerSupplyDir (usually
// /sys/class/power_supply) is discharging below minPercent. Devices without
// a battery always satisfy it.
func BatteryNotLow(powerSupplyDir string, minPercent int) Constraint {
	return func(context.Context) error {
		batteries, err := filepath.Glob(filepath.Join(powerSupplyDir, "BAT*"))
		if err != nil {
			return err
		}

		for _, dir := range batteries {
			capacity, err := readSysValue(filepath.Join(dir, "capacity"))
			if err != nil {
				continue
			}
			level, err := strconv.Atoi(capacity)
			if err != nil {
				continue
			}

			status, _ := readSysValue(filepath.Join(dir, "status"))
			if level < minPercent && !strings.EqualFold(status, "Charging") {
				return fmt.Errorf("battery %s is low: %d%%", filepath.Base(dir), level)
			}
		}
		return nil
	}
}

func readSysValue(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// WithScheduleLogger sets the logger for the recurring task
func WithScheduleLogger(logger *slog.Logger) func(*Recurring) {
	return func(r *Recurring) {
		r.logger = logger
	}
}

// WithConstraints sets the constraints evaluated before scheduled runs
func WithConstraints(constraints ...Constraint) func(*Recurring) {
	return func(r *Recurring) {
		r.constraints = constraints
	}
}

// Recurring runs a task on a cron schedule when all constraints hold.
// Runs never overlap: a scheduled run that finds the previous one still
// going is skipped.
type Recurring struct {
	schedule    string
	task        Task
	constraints []Constraint
	cron        *cron.Cron

	running sync.Mutex

	mu      sync.Mutex
	last    Result
	lastRun time.Time

	logger *slog.Logger
}

// NewRecurring creates a Recurring task. The schedule uses cron syntax or
// descriptors such as "@every 15m".
func NewRecurring(schedule string, task Task, options ...func(*Recurring)) (*Recurring, error) {
	if _, err := cron.Parse(schedule); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}

	r := Recurring{
		schedule: schedule,
		task:     task,
		cron:     cron.New(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&r)
	}

	return &r, nil
}

// Start schedules runs until Stop is called or ctx is done
func (r *Recurring) Start(ctx context.Context) error {
	if err := r.cron.AddFunc(r.schedule, func() { r.scheduled(ctx) }); err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}
	r.cron.Start()

	go func() {
		<-ctx.Done()
		r.cron.Stop()
	}()

	r.logger.Info("recurring sync scheduled", slog.String("schedule", r.schedule))
	return nil
}

// Stop stops scheduling new runs
func (r *Recurring) Stop() {
	r.cron.Stop()
}

// TriggerNow runs the task immediately, bypassing the constraints.
func (r *Recurring) TriggerNow(ctx context.Context) (Result, error) {
	if !r.running.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer r.running.Unlock()

	return r.run(ctx), nil
}

// Last returns the result of the most recent run and when it finished
func (r *Recurring) Last() (Result, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.last, r.lastRun, !r.lastRun.IsZero()
}

func (r *Recurring) scheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if !r.running.TryLock() {
		r.logger.Debug("previous sync still running, skipping")
		return
	}
	defer r.running.Unlock()

	for _, check := range r.constraints {
		if err := check(ctx); err != nil {
			r.logger.Info(fmt.Sprintf("sync deferred: %s", err.Error()))
			return
		}
	}

	r.run(ctx)
}

func (r *Recurring) run(ctx context.Context) Result {
	res := r.task(ctx)

	r.mu.Lock()
	r.last = res
	r.lastRun = time.Now()
	r.mu.Unlock()

	return res
}
