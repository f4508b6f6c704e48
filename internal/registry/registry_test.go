package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userServiceDescriptor() ComponentDescriptor {
	return ComponentDescriptor{
		QualifiedName: "app.UserService",
		Package:       "app",
		Capabilities:  []string{"Service"},
		Parameters:    []Parameter{{Name: "userRepo", RequiredContract: "UserRepository"}},
	}
}

func TestRegisterAndLookupDescriptor(t *testing.T) {
	r := New(false)
	require.NoError(t, r.Register(userServiceDescriptor()))

	d, ok := r.Descriptor("app.UserService")
	require.True(t, ok)
	assert.Equal(t, "app.UserService", d.QualifiedName)
}

func TestBindRejectsSecondPrimaryWithoutOverride(t *testing.T) {
	r := New(false)
	first := Binding{Contract: "UserRepository", Descriptor: ComponentDescriptor{QualifiedName: "app.PgUserRepo"}, Primary: true}
	second := Binding{Contract: "UserRepository", Descriptor: ComponentDescriptor{QualifiedName: "app.MemUserRepo"}, Primary: true}

	require.NoError(t, r.Bind(first))
	err := r.Bind(second)
	assert.Error(t, err)
}

func TestBindAllowsOverrideWhenPermitted(t *testing.T) {
	r := New(true)
	first := Binding{Contract: "UserRepository", Descriptor: ComponentDescriptor{QualifiedName: "app.PgUserRepo"}, Primary: true}
	second := Binding{Contract: "UserRepository", Descriptor: ComponentDescriptor{QualifiedName: "app.MemUserRepo"}, Primary: true}

	require.NoError(t, r.Bind(first))
	require.NoError(t, r.Bind(second))
}

func TestMultiBindingContractAllowsManyPrimaries(t *testing.T) {
	r := New(false)
	a := Binding{Contract: "Initializer", Descriptor: ComponentDescriptor{QualifiedName: "app.InitA"}, Primary: true, MultiBinding: true, Priority: 10}
	b := Binding{Contract: "Initializer", Descriptor: ComponentDescriptor{QualifiedName: "app.InitB"}, Primary: true, MultiBinding: true, Priority: 20}

	require.NoError(t, r.Bind(a))
	require.NoError(t, r.Bind(b))

	r.Freeze()
	bindings := r.Bindings("Initializer")
	require.Len(t, bindings, 2)
	assert.Equal(t, "app.InitB", bindings[0].Descriptor.QualifiedName, "higher priority sorts first")
}

func TestFreezeRejectsFurtherMutation(t *testing.T) {
	r := New(false)
	r.Freeze()

	assert.ErrorIs(t, r.Register(userServiceDescriptor()), ErrFrozen)
	assert.ErrorIs(t, r.Bind(Binding{Contract: "X"}), ErrFrozen)
}

func TestAmbiguousContractsDetectsMultiplePrimaries(t *testing.T) {
	r := New(true)
	require.NoError(t, r.Bind(Binding{Contract: "UserRepository", Descriptor: ComponentDescriptor{QualifiedName: "app.A"}, Primary: true}))
	require.NoError(t, r.Bind(Binding{Contract: "UserRepository", Descriptor: ComponentDescriptor{QualifiedName: "app.B"}, Primary: true}))

	ambiguous := r.AmbiguousContracts()
	assert.ElementsMatch(t, []string{"app.A", "app.B"}, ambiguous["UserRepository"])
}

func TestByCapabilitySortedByName(t *testing.T) {
	r := New(false)
	require.NoError(t, r.Register(ComponentDescriptor{QualifiedName: "app.Z", Capabilities: []string{"Service"}}))
	require.NoError(t, r.Register(ComponentDescriptor{QualifiedName: "app.A", Capabilities: []string{"Service"}}))

	result := r.ByCapability("Service")
	require.Len(t, result, 2)
	assert.Equal(t, "app.A", result[0].QualifiedName)
	assert.Equal(t, "app.Z", result[1].QualifiedName)
}
