package scan

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetscan/internal/probe"
)

type fixedProber struct {
	name  string
	found bool
}

func (f *fixedProber) Name() string       { return f.name }
func (f *fixedProber) DefaultPort() int   { return 1 }
func (f *fixedProber) ServiceTag() string { return f.name + "-svc" }
func (f *fixedProber) Discover(ctx context.Context, target probe.Target) probe.Result {
	if !f.found {
		return probe.NotFound()
	}
	return probe.Result{Found: true, Details: map[string]any{"prober": f.name}}
}

func testRegistry(t *testing.T, probers ...probe.Prober) *probe.Registry {
	t.Helper()
	r := probe.NewRegistry()
	for _, p := range probers {
		if err := r.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.Name(), err)
		}
	}
	return r
}

func TestRunner_Run_AllProbers(t *testing.T) {
	registry := testRegistry(t,
		&fixedProber{name: "beta", found: true},
		&fixedProber{name: "alpha", found: false},
	)
	runner := NewRunner(registry, zerolog.Nop())

	target := probe.Target{Address: "192.0.2.1", Timeout: time.Second}
	reports := runner.Run(context.Background(), target, nil)

	if len(reports) != 2 {
		t.Fatalf("got %d reports, want one per registered prober", len(reports))
	}
	if reports[0].Prober != "alpha" || reports[1].Prober != "beta" {
		t.Errorf("report order = %s, %s, want sorted by prober name", reports[0].Prober, reports[1].Prober)
	}
	if reports[0].Result.Found || !reports[1].Result.Found {
		t.Errorf("found flags = %v, %v", reports[0].Result.Found, reports[1].Result.Found)
	}
	if reports[1].ServiceTag != "beta-svc" {
		t.Errorf("ServiceTag = %s", reports[1].ServiceTag)
	}
	if reports[0].Target.Address != "192.0.2.1" {
		t.Errorf("Target = %+v", reports[0].Target)
	}
}

func TestRunner_Run_SelectedAndUnknown(t *testing.T) {
	registry := testRegistry(t,
		&fixedProber{name: "alpha", found: true},
		&fixedProber{name: "beta", found: true},
	)
	runner := NewRunner(registry, zerolog.Nop())

	target := probe.Target{Address: "192.0.2.1"}
	reports := runner.Run(context.Background(), target, []string{"beta", "no-such-prober"})

	if len(reports) != 1 {
		t.Fatalf("got %d reports, want unknown names skipped", len(reports))
	}
	if reports[0].Prober != "beta" {
		t.Errorf("Prober = %s", reports[0].Prober)
	}
}

func TestRunner_Run_NoMatchingProbers(t *testing.T) {
	runner := NewRunner(probe.NewRegistry(), zerolog.Nop())
	if reports := runner.Run(context.Background(), probe.Target{Address: "192.0.2.1"}, nil); reports != nil {
		t.Errorf("empty registry yielded %v", reports)
	}
}

func TestRunner_Run_Repeatable(t *testing.T) {
	registry := testRegistry(t, &fixedProber{name: "alpha", found: true})
	runner := NewRunner(registry, zerolog.Nop())
	target := probe.Target{Address: "192.0.2.1"}

	first := runner.Run(context.Background(), target, nil)
	second := runner.Run(context.Background(), target, nil)

	if !reflect.DeepEqual(first[0].Result, second[0].Result) {
		t.Errorf("results differ between identical runs: %+v vs %+v", first[0].Result, second[0].Result)
	}
}
