package discovery

// GenericTypeExtractor resolves a generic contract G's type parameters
// against a concrete TypeHandle C.
//
// Go erases generic type arguments from runtime reflection, so the
// supertype graph and any resolved type-parameter maps are supplied
// explicitly by the registering code
// (TypeHandle.Supertypes) rather than computed by walking live
// reflection metadata. ArgsOf/ArgsMapOf/Describe simply look up and
// format that pre-computed graph, so they are pure and cache-safe by
// construction: no caching layer is needed because there is no
// recomputation to cache.
type GenericTypeExtractor struct{}

// NewGenericTypeExtractor returns a stateless extractor.
func NewGenericTypeExtractor() *GenericTypeExtractor { return &GenericTypeExtractor{} }

// ArgsOf returns the ordered list of concrete type parameters C resolves
// for generic contract G, or nil if G is not in C's declared supertype
// set or any parameter slot remains unresolved. Ties among multiple
// supertype entries for the same contract are broken by first
// declaration order.
func (GenericTypeExtractor) ArgsOf(c TypeHandle, g string, paramOrder []string) []TypeHandle {
	m := argsMap(c, g)
	if m == nil {
		return nil
	}
	out := make([]TypeHandle, 0, len(paramOrder))
	for _, name := range paramOrder {
		t, ok := m[name]
		if !ok {
			return nil
		}
		out = append(out, t)
	}
	return out
}

// ArgsMapOf returns the parameter-name -> resolved-type map for contract
// G on C, or nil if unresolved.
func (GenericTypeExtractor) ArgsMapOf(c TypeHandle, g string) map[string]TypeHandle {
	return argsMap(c, g)
}

// Describe renders "G<A, B>" using declared parameter order.
func (e GenericTypeExtractor) Describe(c TypeHandle, g string, paramOrder []string) string {
	args := e.ArgsOf(c, g, paramOrder)
	if args == nil {
		return g
	}
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.QualifiedName
	}
	s := g + "<"
	for i, n := range names {
		if i > 0 {
			s += ", "
		}
		s += n
	}
	return s + ">"
}

func argsMap(c TypeHandle, g string) map[string]TypeHandle {
	for _, st := range c.Supertypes {
		if st.Contract != g {
			continue
		}
		out := make(map[string]TypeHandle, len(st.TypeParams))
		for name, t := range st.TypeParams {
			qn := ""
			if t != nil {
				qn = t.String()
			}
			out[name] = TypeHandle{QualifiedName: qn, GoType: t}
		}
		return out
	}
	return nil
}
