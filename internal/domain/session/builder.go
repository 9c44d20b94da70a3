package session

// Builder holds sub-configuration references and is discarded after
// Build(). It exists so call sites that want to stage several mutations
// don't have to thread error returns through every With* call; Build()
// surfaces the first error encountered, if any.
//
// NewBuilder(s).Build() returns a copy equal to s when no With* method is
// called — every field is copied from the source snapshot untouched.
type Builder struct {
	state *State
	err   error
}

// NewBuilder starts a builder seeded from an existing snapshot.
func NewBuilder(s *State) *Builder {
	return &Builder{state: s.clone()}
}

// Build returns the accumulated state, or the first validation error.
func (b *Builder) Build() (*State, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.state, nil
}

func (b *Builder) WithBackendConfig(cfg BackendConfig) *Builder {
	if b.err != nil {
		return b
	}
	b.state.Backend = cfg
	return b
}

func (b *Builder) WithTemperature(t float64) *Builder {
	if b.err != nil {
		return b
	}
	next, err := b.state.WithTemperature(t)
	if err != nil {
		b.err = err
		return b
	}
	b.state = next
	return b
}

func (b *Builder) WithReasoningEffort(e ReasoningEffort) *Builder {
	if b.err != nil {
		return b
	}
	next, err := b.state.WithReasoningEffort(e)
	if err != nil {
		b.err = err
		return b
	}
	b.state = next
	return b
}

func (b *Builder) WithProject(name string) *Builder {
	if b.err != nil {
		return b
	}
	b.state = b.state.WithProject(name)
	return b
}
