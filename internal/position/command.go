package position

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
)

// ParseErrorsThreshold defines the number of consecutive parse errors allowed
const ParseErrorsThreshold = 5

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrAlreadyRunning is returned when Positions is called on a running source
	ErrAlreadyRunning = errors.New("position source is already running")
)

// WithLogger sets the logger for the command source
func WithLogger(logger *slog.Logger) func(*CommandSource) {
	return func(s *CommandSource) {
		s.logger = logger.With(slog.String("source", s.name))
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(*CommandSource) {
	return func(s *CommandSource) {
		s.parseErrorsThreshold = threshold
	}
}

// CommandSource runs an external program that prints NMEA sentences to its
// standard output (for example "gpspipe -r") and turns them into samples.
type CommandSource struct {
	name string
	args []string

	running atomic.Bool

	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// NewCommandSource creates a CommandSource for the given command line.
func NewCommandSource(command []string, options ...func(*CommandSource)) (*CommandSource, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("position command is empty")
	}

	s := CommandSource{
		name:                 command[0],
		args:                 command[1:],
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		parseErrorsThreshold: ParseErrorsThreshold,
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

// Positions starts the command. The returned channel is closed when the
// command exits, fails or ctx is cancelled.
func (s *CommandSource) Positions(ctx context.Context) (<-chan Sample, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	cmd := exec.CommandContext(ctx, s.name, s.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.running.Store(false)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.running.Store(false)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		s.running.Store(false)
		return nil, fmt.Errorf("starting command: %w", err)
	}

	samples := make(chan Sample)

	go func() {
		defer close(samples)
		defer s.running.Store(false)

		s.logger.Info("starting position collection...")

		// stdout and stderr must be drained before Wait is called
		done := make(chan error, 2)
		go s.handleStdout(ctx, stdout, samples, done)
		go s.handleStderr(stderr, done)

		for i := 0; i < cap(done); i++ {
			if err := <-done; err != nil {
				s.logger.Error(err.Error())
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			}
		}

		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.logger.Error(fmt.Sprintf("command exited with error: %s", err.Error()))
		}

		s.logger.Info("position collection stopped")
	}()

	return samples, nil
}

func (s *CommandSource) handleStdout(ctx context.Context, stdout io.Reader, samples chan<- Sample, done chan<- error) {
	var parser NMEAParser
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sample, ok, err := parser.Parse(line)
		if err != nil {
			if errors.Is(err, ErrNoFix) {
				continue
			}

			parseErrors++
			s.logger.Warn(fmt.Sprintf("error parsing position: %s", err.Error()), slog.String("line", line))

			if parseErrors >= s.parseErrorsThreshold {
				done <- ErrTooManyParseErrors
				return
			}

			continue
		}

		parseErrors = 0 // reset counter

		if !ok {
			continue
		}

		select {
		case samples <- sample:
		case <-ctx.Done():
			done <- nil
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

func (s *CommandSource) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		s.logger.Warn(fmt.Sprintf("%s >> %s", s.name, line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}
