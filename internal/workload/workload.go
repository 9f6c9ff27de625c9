// Package workload contains user programs that exercise fork, _exit and
// waitpid, and the init program that drives them.
//
// Each workload runs inside its own driver process forked by init. A driver
// exits 0 when its checks pass and 1 otherwise; the error it hit is recorded
// in the Report.
package workload

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/randomizedcoder/go-kproc/internal/user"
)

// Params tunes the workloads.
type Params struct {
	// Width is the number of children widefork creates.
	Width int

	// Depth is the height of the forktree.
	Depth int

	// Orphans is the number of grandchildren orphans leaves behind.
	Orphans int

	// ExhaustLimit bounds how many children exhaust forks before giving up
	// on hitting a resource limit.
	ExhaustLimit int

	// MaxJitter is the longest a child sleeps before exiting.
	MaxJitter time.Duration
	Jitter    *JitterSource

	Logger *slog.Logger
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		Width:        16,
		Depth:        4,
		Orphans:      8,
		ExhaustLimit: 4096,
		MaxJitter:    2 * time.Millisecond,
	}
}

func (p Params) pause(pid int) {
	if d := p.Jitter.Delay(pid, p.MaxJitter); d > 0 {
		time.Sleep(d)
	}
}

func (p Params) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Workload is one user program.
type Workload struct {
	Name        string
	Description string

	// Exclusive workloads deliberately drive the system out of resources and
	// never run alongside others.
	Exclusive bool

	Run func(env *user.Env, p Params) error

	// Peak is the most processes the workload holds at once, its driver
	// included.
	Peak func(p Params) int

	// Lingering is how many of its processes may outlive the driver. Nil
	// means none.
	Lingering func(p Params) int
}

var registry = []Workload{
	{Name: "zombie", Description: "child exits before the parent waits", Run: zombie, Peak: fixed(2)},
	{Name: "widefork", Description: "many children reaped in reverse order", Run: widefork,
		Peak: func(p Params) int { return 1 + p.Width }},
	{Name: "forktree", Description: "binary process tree summing descendants through exit codes", Run: forktree,
		Peak: func(p Params) int { return 1<<(p.Depth+1) - 1 }},
	{Name: "orphans", Description: "parent exits leaving running grandchildren", Run: orphans,
		Peak:      func(p Params) int { return 2 + p.Orphans },
		Lingering: func(p Params) int { return p.Orphans }},
	{Name: "badwait", Description: "waitpid error cases", Run: badwait, Peak: fixed(3)},
	// exhaust needs only one child to prove anything; the rest is the point.
	{Name: "exhaust", Description: "fork until a resource limit, then recover", Exclusive: true, Run: exhaust, Peak: fixed(2)},
}

func fixed(n int) func(Params) int {
	return func(Params) int { return n }
}

// Footprint returns the most processes a run of ws under init holds at once,
// init included. It follows the order Init runs them in: shared workloads
// add up when parallel, and stragglers from earlier workloads count against
// later ones.
func Footprint(ws []Workload, p Params, parallel bool) int {
	var shared, exclusive []Workload
	for _, w := range ws {
		if w.Exclusive {
			exclusive = append(exclusive, w)
		} else {
			shared = append(shared, w)
		}
	}

	need, lingering := 0, 0
	step := func(w Workload) {
		need = max(need, lingering+w.Peak(p))
		lingering += w.lingers(p)
	}
	if parallel {
		for _, w := range shared {
			need += w.Peak(p)
			lingering += w.lingers(p)
		}
	} else {
		for _, w := range shared {
			step(w)
		}
	}
	for _, w := range exclusive {
		step(w)
	}
	return 1 + need
}

func (w Workload) lingers(p Params) int {
	if w.Lingering == nil {
		return 0
	}
	return w.Lingering(p)
}

// All returns every workload in run order.
func All() []Workload {
	return append([]Workload(nil), registry...)
}

// Names returns the names of every workload.
func Names() []string {
	names := make([]string, len(registry))
	for i, w := range registry {
		names[i] = w.Name
	}
	return names
}

// Lookup returns the named workloads in the order given. "all" selects every
// workload.
func Lookup(names []string) ([]Workload, error) {
	var out []Workload
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "all" {
			out = append(out, All()...)
			continue
		}
		w, ok := find(name)
		if !ok {
			known := Names()
			sort.Strings(known)
			return nil, fmt.Errorf("unknown workload %q (available: %s)", name, strings.Join(known, ", "))
		}
		out = append(out, w)
	}
	return out, nil
}

func find(name string) (Workload, bool) {
	for _, w := range registry {
		if w.Name == name {
			return w, true
		}
	}
	return Workload{}, false
}
