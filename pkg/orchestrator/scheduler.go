package orchestrator

import (
	"fmt"
	"sync"

	"medcoder/pkg/orchestrator/agents"
)

// registration is one stage in the DAG.
type registration struct {
	stage     string
	agent     agents.Agent
	deps      []string
	priority  int
	timeoutMs int
	optional  bool
	order     int
}

// scheduler tracks the ready set under a condition variable. The run loop
// waits on cond instead of polling; every stage completion broadcasts.
type scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending   map[string]*registration
	satisfied map[string]bool
	failed    map[string]bool
	running   int
	aborted   bool
}

// newScheduler seeds the ready machinery. Steps already completed in the
// incoming state satisfy dependencies and are not re-run.
func newScheduler(regs map[string]*registration, completedSteps []string) *scheduler {
	s := &scheduler{
		pending:   make(map[string]*registration, len(regs)),
		satisfied: make(map[string]bool),
		failed:    make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)

	completed := make(map[string]bool, len(completedSteps))
	for _, step := range completedSteps {
		completed[step] = true
		s.satisfied[step] = true
	}
	for stage, reg := range regs {
		if !completed[stage] {
			s.pending[stage] = reg
		}
	}
	return s
}

// validateGraph rejects unknown dependencies and cycles. Dependencies on
// steps the incoming state already completed are allowed.
func validateGraph(regs map[string]*registration, completedSteps []string) error {
	completed := make(map[string]bool, len(completedSteps))
	for _, step := range completedSteps {
		completed[step] = true
	}

	indegree := make(map[string]int, len(regs))
	dependents := make(map[string][]string)
	for stage, reg := range regs {
		indegree[stage] += 0
		for _, dep := range reg.deps {
			if _, ok := regs[dep]; !ok {
				if completed[dep] {
					continue
				}
				return fmt.Errorf("stage %s depends on unregistered stage %s", stage, dep)
			}
			indegree[stage]++
			dependents[dep] = append(dependents[dep], stage)
		}
	}

	// Kahn's algorithm: anything left after draining zero-indegree nodes
	// sits on a cycle.
	queue := make([]string, 0, len(regs))
	for stage, deg := range indegree {
		if deg == 0 {
			queue = append(queue, stage)
		}
	}
	visited := 0
	for len(queue) > 0 {
		stage := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[stage] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(regs) {
		return fmt.Errorf("stage graph contains a cycle")
	}
	return nil
}

// nextReadyLocked returns the highest-priority pending stage whose
// dependencies are all satisfied, ties broken by registration order.
func (s *scheduler) nextReadyLocked() *registration {
	var best *registration
	for _, reg := range s.pending {
		if !s.depsSatisfiedLocked(reg) {
			continue
		}
		if best == nil || reg.priority > best.priority ||
			(reg.priority == best.priority && reg.order < best.order) {
			best = reg
		}
	}
	return best
}

func (s *scheduler) depsSatisfiedLocked(reg *registration) bool {
	for _, dep := range reg.deps {
		if !s.satisfied[dep] {
			return false
		}
	}
	return true
}

// unreachableLocked returns the pending stages that can never become ready
// because a (transitive) dependency failed, in deterministic order is not
// required; callers sort if they need one.
func (s *scheduler) unreachableLocked() []*registration {
	blocked := make(map[string]bool)
	for stage := range s.failed {
		if !s.satisfied[stage] {
			blocked[stage] = true
		}
	}
	for {
		grew := false
		for stage, reg := range s.pending {
			if blocked[stage] {
				continue
			}
			for _, dep := range reg.deps {
				if blocked[dep] {
					blocked[stage] = true
					grew = true
					break
				}
			}
		}
		if !grew {
			break
		}
	}
	var out []*registration
	for stage, reg := range s.pending {
		if blocked[stage] {
			out = append(out, reg)
		}
	}
	return out
}

// stageDone records an outcome and wakes the run loop.
func (s *scheduler) stageDone(stage string, success, optional bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.satisfied[stage] = true
	} else {
		s.failed[stage] = true
		// An optional stage's failure does not block its dependents.
		if optional {
			s.satisfied[stage] = true
		}
	}
	s.running--
	s.cond.Broadcast()
}

// abort cancels scheduling of anything not yet dispatched.
func (s *scheduler) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	s.cond.Broadcast()
}

func (s *scheduler) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}
