package discovery

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userRepository struct{}
type orderRepository struct{}
type generatedRepository struct{}

func seedRegistry() {
	Reset()
	Register(TypeHandle{
		QualifiedName: "app/repo.UserRepository",
		Package:       "app/repo",
		GoType:        reflect.TypeOf(userRepository{}),
		Capabilities:  []string{"Repository"},
	})
	Register(TypeHandle{
		QualifiedName: "app/repo.OrderRepository",
		Package:       "app/repo",
		GoType:        reflect.TypeOf(orderRepository{}),
		Capabilities:  []string{"Repository"},
	})
	Register(TypeHandle{
		QualifiedName: "app/repo.generatedRepository",
		Package:       "app/repo",
		GoType:        reflect.TypeOf(generatedRepository{}),
		Capabilities:  []string{"Repository"},
		Synthetic:     true,
	})
	Register(TypeHandle{
		QualifiedName: "app/other.Thing",
		Package:       "app/other",
		Capabilities:  []string{"Service"},
	})
}

func TestDiscoverIsDeterministicAndFiltersByRootAndCapability(t *testing.T) {
	seedRegistry()

	first := Discover("Repository", []string{"app/repo"}, nil)
	second := Discover("Repository", []string{"app/repo"}, nil)

	require.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "app/repo.OrderRepository", first[0].QualifiedName)
	assert.Equal(t, "app/repo.UserRepository", first[1].QualifiedName)
}

func TestDiscoverSkipsSyntheticTypes(t *testing.T) {
	seedRegistry()
	result := Discover("Repository", nil, nil)
	for _, h := range result {
		assert.False(t, h.Synthetic)
	}
}

func TestDiscoverAppliesPredicate(t *testing.T) {
	seedRegistry()
	result := Discover("Repository", nil, RegexMatch(`User`))
	require.Len(t, result, 1)
	assert.Equal(t, "app/repo.UserRepository", result[0].QualifiedName)
}

func TestPredicateCombinators(t *testing.T) {
	seedRegistry()

	p := And(InPackage("app/repo"), Not(RegexMatch(`Order`)))
	result := Discover("Repository", nil, p)
	require.Len(t, result, 1)
	assert.Equal(t, "app/repo.UserRepository", result[0].QualifiedName)
}

func TestRecordUnreadableDoesNotAbortScan(t *testing.T) {
	seedRegistry()
	RecordUnreadable("app/repo.Broken", assertErr("boom"))

	result := Discover("Repository", nil, nil)
	assert.Len(t, result, 2)
	assert.Contains(t, Unreadable(), "app/repo.Broken")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
