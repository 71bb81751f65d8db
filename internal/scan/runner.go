// Package scan runs a battery of protocol probers against one target.
//
// Each prober owns its own sockets and shares nothing with the others,
// so the runner's only job is fan-out: bounded concurrency, one report
// per prober, no retries.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetscan/internal/probe"
)

// Report pairs one prober's result with what it probed
type Report struct {
	Prober     string        `json:"prober"`
	ServiceTag string        `json:"service_tag"`
	Target     probe.Target  `json:"target"`
	Result     probe.Result  `json:"result"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Runner probes one target with a set of probers
type Runner struct {
	log           zerolog.Logger
	registry      *probe.Registry
	maxConcurrent int
}

// NewRunner creates a runner over the given registry
func NewRunner(registry *probe.Registry, log zerolog.Logger) *Runner {
	return &Runner{
		log:           log.With().Str("component", "runner").Logger(),
		registry:      registry,
		maxConcurrent: 8,
	}
}

// Run probes the target with the named probers, or with every
// registered prober when names is empty. Reports come back ordered by
// prober name. Unknown names are skipped with a warning.
func (r *Runner) Run(ctx context.Context, target probe.Target, names []string) []Report {
	probers := r.selectProbers(names)
	if len(probers) == 0 {
		return nil
	}

	reports := make([]Report, len(probers))
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup

	for i, p := range probers {
		wg.Add(1)
		go func(i int, p probe.Prober) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			result := p.Discover(ctx, target)
			elapsed := time.Since(start)

			r.log.Debug().
				Str("prober", p.Name()).
				Str("address", target.Address).
				Bool("found", result.Found).
				Dur("elapsed", elapsed).
				Msg("probe finished")

			reports[i] = Report{
				Prober:     p.Name(),
				ServiceTag: p.ServiceTag(),
				Target:     target,
				Result:     result,
				Elapsed:    elapsed,
			}
		}(i, p)
	}
	wg.Wait()

	return reports
}

// selectProbers resolves prober names against the registry
func (r *Runner) selectProbers(names []string) []probe.Prober {
	if len(names) == 0 {
		return r.registry.All()
	}
	probers := make([]probe.Prober, 0, len(names))
	for _, name := range names {
		p, ok := r.registry.Get(name)
		if !ok {
			r.log.Warn().Str("prober", name).Msg("unknown prober requested")
			continue
		}
		probers = append(probers, p)
	}
	return probers
}
