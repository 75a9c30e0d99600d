// Package listing starts the external listing automation after a transfer.
package listing

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner launches the listing command in the background. The command reads
// the listing config written by the recorder; the token symbol is also passed
// as KASBOT_LISTING_TOKEN.
type Runner struct {
	command []string
	dir     string
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewRunner creates a Runner for command (program and arguments).
func NewRunner(command []string, dir string, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		command: command,
		dir:     dir,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "listing")),
	}
}

// Trigger starts the command and returns immediately. Output and exit status
// are logged; failures never reach the caller.
func (r *Runner) Trigger(ctx context.Context, tokenSymbol string) {
	if len(r.command) == 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, tokenSymbol)
	}()
}

// Wait blocks until every started command has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, tokenSymbol string) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := r.logger.With(
		slog.String("token", tokenSymbol),
		slog.String("command", strings.Join(r.command, " ")),
	)
	log.Info("listing automation started")

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), "KASBOT_LISTING_TOKEN="+tokenSymbol)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	attrs := []any{
		slog.Duration("elapsed", time.Since(start)),
		slog.String("output", strings.TrimSpace(string(out))),
	}
	if err != nil {
		log.Error("listing automation failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	log.Info("listing automation finished", attrs...)
}
