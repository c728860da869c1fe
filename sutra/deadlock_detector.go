package sutra

import (
	"context"
	"sort"
	"time"

	"github.com/sutra-kernel/sutra/metrics"
)

// DeadlockInfo reports one detected wait-for cycle.
type DeadlockInfo struct {
	Cycle     []string // agent IDs, cycle[0] == cycle[len-1]
	Resources []string // resources implicated in the cycle
}

// DeadlockDetector implements spec.md §4.6: builds a wait-for graph from
// LockManager's snapshot, finds cycles via DFS, and selects a victim to
// force-release.
type DeadlockDetector struct {
	locks   *LockManager
	metrics *metrics.KernelMetrics
}

// NewDeadlockDetector constructs a detector bound to locks.
func NewDeadlockDetector(locks *LockManager) *DeadlockDetector {
	return &DeadlockDetector{locks: locks}
}

// SetMetrics installs the kernel metrics instrument. Nil is a valid no-op
// value (the default).
func (d *DeadlockDetector) SetMetrics(km *metrics.KernelMetrics) {
	d.metrics = km
}

// Detect builds the wait-for graph (waiter -> holder edges) from a
// snapshot of the lock table and returns every cycle found via DFS with a
// recursion stack.
func (d *DeadlockDetector) Detect() []DeadlockInfo {
	snapshot := d.locks.Snapshot()

	// edges[agent] = set of agents it waits on (agent -> holder).
	edges := make(map[string]map[string]struct{})
	// resourceOf[waiter][holder] = resource that creates this edge.
	resourceOf := make(map[string]map[string]string)

	for resource, entry := range snapshot {
		for _, waiterID := range entry.Waiters {
			if edges[waiterID] == nil {
				edges[waiterID] = make(map[string]struct{})
				resourceOf[waiterID] = make(map[string]string)
			}
			edges[waiterID][entry.Holder] = struct{}{}
			resourceOf[waiterID][entry.Holder] = resource
		}
	}

	var results []DeadlockInfo
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(agent string)
	visit = func(agent string) {
		visited[agent] = true
		onStack[agent] = true
		stack = append(stack, agent)

		neighbors := make([]string, 0, len(edges[agent]))
		for n := range edges[agent] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, next := range neighbors {
			if onStack[next] {
				// Found a cycle: the slice of stack from next's first
				// occurrence to the top, closed back to next.
				idx := indexOf(stack, next)
				cycle := append([]string{}, stack[idx:]...)
				cycle = append(cycle, next)
				results = append(results, DeadlockInfo{
					Cycle:     cycle,
					Resources: resourcesForCycle(cycle, resourceOf),
				})
				continue
			}
			if !visited[next] {
				visit(next)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[agent] = false
	}

	agents := make([]string, 0, len(edges))
	for a := range edges {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for _, a := range agents {
		if !visited[a] {
			visit(a)
		}
	}

	if d.metrics != nil {
		for _, info := range results {
			d.metrics.RecordDeadlock(context.Background(), len(info.Cycle)-1, "")
		}
	}
	return results
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

func resourcesForCycle(cycle []string, resourceOf map[string]map[string]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i+1 < len(cycle); i++ {
		r, ok := resourceOf[cycle[i]][cycle[i+1]]
		if !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SelectVictim picks the agent in info.Cycle whose currently held
// resources have the smallest aggregate (ExpiresAt - now), tiebroken
// lexicographically by agent ID (§4.6).
func (d *DeadlockDetector) SelectVictim(info DeadlockInfo) string {
	snapshot := d.locks.Snapshot()
	now := time.Now()

	agents := make(map[string]struct{})
	for _, a := range info.Cycle {
		agents[a] = struct{}{}
	}

	remaining := make(map[string]time.Duration)
	for _, entry := range snapshot {
		if _, isMember := agents[entry.Holder]; !isMember {
			continue
		}
		remaining[entry.Holder] += entry.ExpiresAt.Sub(now)
	}

	var victim string
	var best time.Duration
	first := true
	candidates := make([]string, 0, len(agents))
	for a := range agents {
		candidates = append(candidates, a)
	}
	sort.Strings(candidates)
	for _, a := range candidates {
		r := remaining[a]
		if first || r < best || (r == best && a < victim) {
			victim = a
			best = r
			first = false
		}
	}
	return victim
}

// Resolve force-releases every lock held by the victim of info, breaking
// the cycle. It does not decide what happens to the victim's process
// (§4.6): callers may choose to cancel its work.
func (d *DeadlockDetector) Resolve(info DeadlockInfo) (victim string, released []string) {
	victim = d.SelectVictim(info)
	snapshot := d.locks.Snapshot()
	for resource, entry := range snapshot {
		if entry.Holder != victim {
			continue
		}
		if err := d.locks.ForceRelease(resource); err == nil {
			released = append(released, resource)
		}
	}
	sort.Strings(released)
	if d.metrics != nil && len(released) > 0 {
		d.metrics.RecordDeadlock(context.Background(), len(info.Cycle)-1, victim)
	}
	return victim, released
}
