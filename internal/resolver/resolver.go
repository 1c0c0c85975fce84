// Package resolver turns content references into directly playable stream
// URLs by shelling out to an external resolution tool (yt-dlp). The tool is
// independently updated and talks to a flaky, rate-limited upstream, so every
// resolution is wrapped in a pre-flight self-update, linear backoff between
// attempts, and a negative cache for references that will never succeed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// ErrResolutionFailed is the terminal error after all attempts are exhausted
// or when the reference is already marked in the negative cache.
var ErrResolutionFailed = errors.New("resolution failed")

var toolArgs = []string{
	"--get-url",
	"--format", "bestaudio",
	"--no-cache-dir",
	"--no-playlist",
	"--no-progress",
	"--no-warnings",
	"--no-check-certificate",
}

type Resolver struct {
	tool      string
	attempts  int
	baseDelay time.Duration
	cache     *NegativeCache

	// Injection points for tests.
	run   func(ctx context.Context, name string, args ...string) (string, error)
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a resolver using the given external tool. The negative cache is
// owned by the caller and passed in explicitly so its lifetime and the admin
// reset path stay visible at the composition root.
func New(tool string, attempts int, baseDelay time.Duration, cache *NegativeCache) *Resolver {
	if tool == "" {
		tool = "yt-dlp"
	}
	if attempts <= 0 {
		attempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if cache == nil {
		cache = NewNegativeCache()
	}
	return &Resolver{
		tool:      tool,
		attempts:  attempts,
		baseDelay: baseDelay,
		cache:     cache,
		run:       runCommand,
		sleep:     sleepContext,
	}
}

// Cache returns the resolver's negative cache.
func (r *Resolver) Cache() *NegativeCache {
	return r.cache
}

// Reset clears the negative cache and returns how many references it held.
func (r *Resolver) Reset() int {
	return r.cache.Reset()
}

// Resolve returns a directly playable URL for ref.
//
// A reference marked in the negative cache fails immediately with zero
// external invocations. Otherwise the tool is refreshed best-effort, then
// invoked up to the configured attempt count with a sleep of
// baseDelay * attemptNumber after each failure; exhausting the attempts marks
// the reference permanently failed.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if r.cache.Failed(ref) {
		log.Printf("resolver: skipping %s, previously failed", ref)
		return "", fmt.Errorf("%w: %s is marked permanently failed", ErrResolutionFailed, ref)
	}

	r.refreshTool(ctx)

	args := append(append([]string{}, toolArgs...), ref)
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.run(ctx, r.tool, args...)
		if err == nil {
			if streamURL := firstLine(out); streamURL != "" {
				return streamURL, nil
			}
			err = errors.New("tool produced no url")
		}
		lastErr = err
		log.Printf("resolver: attempt %d/%d for %s failed: %v", attempt, r.attempts, ref, err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < r.attempts {
			r.sleep(ctx, r.baseDelay*time.Duration(attempt))
		}
	}

	r.cache.MarkFailed(ref)
	return "", fmt.Errorf("%w after %d attempts: %v", ErrResolutionFailed, r.attempts, lastErr)
}

// refreshTool runs the tool's self-update. Best-effort: an outdated tool is
// still worth trying, so failure is logged and resolution proceeds.
func (r *Resolver) refreshTool(ctx context.Context) {
	if _, err := r.run(ctx, r.tool, "--update"); err != nil {
		log.Printf("resolver: %s self-update failed, proceeding anyway: %v", r.tool, err)
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func firstLine(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line)
}
