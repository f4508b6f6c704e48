// Package discovery implements TypeDiscovery: enumerating
// concrete types assignable to a base contract, filtered by composable
// predicates, with deterministic (sorted) output.
//
// Go has no runtime classpath scan, so discovery here is
// registration-driven: callers register a TypeHandle once, typically
// from an init() in the package that defines the concrete type, and
// Discover filters and sorts the registered set rather than walking a
// classpath.
package discovery

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// TypeHandle is a registered candidate component type.
type TypeHandle struct {
	// QualifiedName is "package/path.TypeName".
	QualifiedName string
	// Package is the Go import path the type was declared in.
	Package string
	// GoType is the reflect.Type of the concrete type, used by
	// GenericTypeExtractor and assignability checks.
	GoType reflect.Type
	// Capabilities are the abstract contract names this type
	// implements.
	Capabilities []string
	// Supertypes is the declared supertype graph used by
	// GenericTypeExtractor: immediate interfaces first, then the
	// superclass chain, in declared order. Each entry carries the
	// contract name and, if generic, its resolved type-parameter map.
	Supertypes []Supertype
	// Synthetic marks generated/anonymous types that discovery must
	// skip.
	Synthetic bool
	// Test marks types declared in _test.go files.
	Test bool
}

// Supertype is one entry of a TypeHandle's declared supertype graph.
type Supertype struct {
	Contract   string
	TypeParams map[string]reflect.Type
}

// Predicate is a pure filter over a TypeHandle.
type Predicate func(TypeHandle) bool

var (
	registryMu sync.RWMutex
	registered = map[string]TypeHandle{}
	unreadable = map[string]error{}
)

// Register adds a TypeHandle to the process-wide registration set.
// Re-registering the same qualified name overwrites the prior entry.
func Register(h TypeHandle) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered[h.QualifiedName] = h
}

// RecordUnreadable records that a candidate type could not be inspected
// (e.g. a generator failure) without aborting the overall scan.
func RecordUnreadable(qualifiedName string, err error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	unreadable[qualifiedName] = err
}

// Unreadable returns a copy of the unreadable-type ledger accumulated so
// far, keyed by qualified name.
func Unreadable() map[string]error {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]error, len(unreadable))
	for k, v := range unreadable {
		out[k] = v
	}
	return out
}

// Reset clears all registrations. Intended for tests.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = map[string]TypeHandle{}
	unreadable = map[string]error{}
}

// Discover enumerates concrete types assignable to contract under roots,
// minus anything predicate excludes, minus synthetic/anonymous/generated
// and test types. Result is sorted by qualified name so downstream
// graph building is reproducible.
func Discover(contract string, roots []string, predicate Predicate) []TypeHandle {
	registryMu.RLock()
	candidates := make([]TypeHandle, 0, len(registered))
	for _, h := range registered {
		candidates = append(candidates, h)
	}
	registryMu.RUnlock()

	rootSet := make(map[string]bool, len(roots))
	for _, r := range roots {
		rootSet[r] = true
	}

	var out []TypeHandle
	for _, h := range candidates {
		if h.Synthetic || h.Test {
			continue
		}
		if len(rootSet) > 0 && !inAnyRoot(h.Package, rootSet) {
			continue
		}
		if !hasCapability(h, contract) {
			continue
		}
		if predicate != nil && !predicate(h) {
			continue
		}
		out = append(out, h)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

func hasCapability(h TypeHandle, contract string) bool {
	for _, c := range h.Capabilities {
		if c == contract {
			return true
		}
	}
	return false
}

func inAnyRoot(pkg string, roots map[string]bool) bool {
	for root := range roots {
		if pkg == root || strings.HasPrefix(pkg, root+"/") {
			return true
		}
	}
	return false
}

// --- predicate combinators ---

func All(preds ...Predicate) Predicate {
	return func(h TypeHandle) bool {
		for _, p := range preds {
			if !p(h) {
				return false
			}
		}
		return true
	}
}

func None(preds ...Predicate) Predicate {
	return func(h TypeHandle) bool {
		for _, p := range preds {
			if p(h) {
				return false
			}
		}
		return true
	}
}

func And(a, b Predicate) Predicate {
	return func(h TypeHandle) bool { return a(h) && b(h) }
}

func Or(a, b Predicate) Predicate {
	return func(h TypeHandle) bool { return a(h) || b(h) }
}

func Not(p Predicate) Predicate {
	return func(h TypeHandle) bool { return !p(h) }
}

func RegexMatch(pattern string) Predicate {
	re := regexp.MustCompile(pattern)
	return func(h TypeHandle) bool { return re.MatchString(h.QualifiedName) }
}

func InPackage(pkg string) Predicate {
	return func(h TypeHandle) bool { return h.Package == pkg || strings.HasPrefix(h.Package, pkg+"/") }
}

func IsConcrete() Predicate {
	return func(h TypeHandle) bool {
		if h.GoType == nil {
			return true
		}
		return h.GoType.Kind() != reflect.Interface
	}
}

func NotTest() Predicate {
	return func(h TypeHandle) bool { return !h.Test }
}
