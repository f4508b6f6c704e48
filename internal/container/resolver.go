// Package container implements DependencyResolver and Container:
// graph construction and validation over a frozen registry,
// Tarjan-style cycle detection, and lazy singleton instantiation.
package container

import (
	"fmt"
	"os"
	"sort"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/registry"
)

// Resolver validates a registry's constructor dependency graph before
// any instance is built.
type Resolver struct {
	reg *registry.Registry
}

// NewResolver wraps reg. reg need not be frozen yet; ValidateAll does
// not mutate it.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// ValidateAll runs the full resolver dry: it does not fail fast, and
// accumulates every MissingDependency, AmbiguousBinding,
// SecondaryBindingMissing, and CircularDependency error before
// returning a single *FatalValidationError aggregate (nil if clean).
// verbose controls whether Report-time topN is ignored in favor of full
// detail; it is threaded through, not applied here.
func (r *Resolver) ValidateAll(verbose bool) *kerrors.FatalValidationError {
	var details []kerrors.ValidationDetail

	for _, name := range r.reg.DescriptorNames() {
		d, _ := r.reg.Descriptor(name)
		for _, p := range d.Parameters {
			if p.Optional || p.HasDefault {
				continue
			}
			if _, ok := r.reg.Primary(p.RequiredContract); !ok {
				bindings := r.reg.Bindings(p.RequiredContract)
				if len(bindings) > 1 {
					// Multiple candidates but none marked primary: a
					// generic specialization could not be picked.
					me := kerrors.NewSecondaryBindingMissing(p.RequiredContract, p.Name)
					details = append(details, kerrors.ValidationDetail{
						Kind: string(me.Kind), Component: d.QualifiedName,
						Message: me.Message, Suggestion: fmt.Sprintf(
							"register a concrete specialization of %q for parameter %q of %q",
							p.RequiredContract, p.Name, d.QualifiedName),
					})
					continue
				}
				me := kerrors.NewMissingDependency(d.QualifiedName, p.Name, p.RequiredContract)
				details = append(details, kerrors.ValidationDetail{
					Kind: string(me.Kind), Component: d.QualifiedName,
					Message: me.Message, Suggestion: me.Suggestion(),
				})
			}
		}
	}

	for contract, candidates := range r.reg.AmbiguousContracts() {
		sort.Strings(candidates)
		ae := kerrors.NewAmbiguousBinding(contract, candidates)
		details = append(details, kerrors.ValidationDetail{
			Kind: string(ae.Kind), Component: contract,
			Message: ae.Message, Suggestion: ae.Suggestion(),
		})
	}

	for _, cycle := range r.findCycles() {
		ce := kerrors.NewCircularDependency(cycle)
		details = append(details, kerrors.ValidationDetail{
			Kind: string(ce.Kind), Component: cycle[0],
			Message: ce.Message, Suggestion: ce.Suggestion(),
		})
	}

	if len(details) == 0 {
		return nil
	}

	sort.Slice(details, func(i, j int) bool {
		if details[i].Component != details[j].Component {
			return details[i].Component < details[j].Component
		}
		return details[i].Message < details[j].Message
	})

	return kerrors.NewFatalValidation(details, r.reg.DescriptorNames(), verbose || verboseFromEnv())
}

func verboseFromEnv() bool {
	return os.Getenv("KATALYST_DI_VERBOSE") == "true" || os.Getenv("KATALYST_DI_VERBOSE") == "1"
}

// findCycles runs a Tarjan strongly-connected-components pass over the
// descriptor dependency graph (edges: descriptor -> primary descriptor
// of each required, non-optional parameter contract). Any SCC of size
// greater than one is a cycle; a size-one SCC with a self-edge is also
// a cycle.
func (r *Resolver) findCycles() [][]string {
	names := r.reg.DescriptorNames()
	edges := make(map[string][]string, len(names))
	for _, name := range names {
		d, _ := r.reg.Descriptor(name)
		for _, p := range d.Parameters {
			if p.Optional || p.HasDefault {
				continue
			}
			if b, ok := r.reg.Primary(p.RequiredContract); ok {
				edges[name] = append(edges[name], b.Descriptor.QualifiedName)
			}
		}
	}

	t := &tarjan{
		edges: edges,
		index: make(map[string]int),
		low:   make(map[string]int),
		onStk: make(map[string]bool),
	}
	for _, name := range names {
		if _, seen := t.index[name]; !seen {
			t.strongConnect(name)
		}
	}

	var cycles [][]string
	for _, scc := range t.sccs {
		if len(scc) > 1 {
			cycles = append(cycles, cyclePath(scc, edges))
			continue
		}
		n := scc[0]
		for _, to := range edges[n] {
			if to == n {
				cycles = append(cycles, []string{n, n})
				break
			}
		}
	}
	return cycles
}

// cyclePath walks the SCC starting from its lexicographically smallest
// member to produce a deterministic, human-readable cycle path ending
// back at the start (e.g. "A -> B -> A").
func cyclePath(scc []string, edges map[string][]string) []string {
	sorted := append([]string(nil), scc...)
	sort.Strings(sorted)
	start := sorted[0]
	inSCC := make(map[string]bool, len(scc))
	for _, n := range scc {
		inSCC[n] = true
	}

	path := []string{start}
	visited := map[string]bool{start: true}
	cur := start
	for len(path) <= len(scc) {
		next := ""
		for _, to := range edges[cur] {
			if inSCC[to] && (!visited[to] || to == start) {
				next = to
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		cur = next
	}
	return path
}

type tarjan struct {
	edges   map[string][]string
	index   map[string]int
	low     map[string]int
	onStk   map[string]bool
	stack   []string
	counter int
	sccs    [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStk[v] = true

	for _, w := range t.edges[v] {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.onStk[w] {
			if t.index[w] < t.low[v] {
				t.low[v] = t.index[w]
			}
		}
	}

	if t.low[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStk[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}
