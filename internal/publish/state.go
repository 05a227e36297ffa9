package publish

// State is the observed condition of one (channel, distribution)
// publication, reconstructed each run from the engine database and the
// published metadata files.
type State struct {
	// Exists reports whether the publication is present, either in the
	// engine database or as static files.
	Exists bool
	// Components are the component names the publication currently
	// contains.
	Components []string
}

// HasComponent reports whether the publication already contains the named
// component.
func (s State) HasComponent(name string) bool {
	for _, c := range s.Components {
		if c == name {
			return true
		}
	}
	return false
}

// Transition is the single mutating action selected for one publish run.
type Transition string

const (
	// TransitionBootstrap creates the publication from scratch.
	TransitionBootstrap Transition = "bootstrap"
	// TransitionAdd introduces a new component into an existing
	// publication. When the component turns out to be already staged,
	// the add falls back to a replace.
	TransitionAdd Transition = "add"
	// TransitionSwitch points an existing component at a new snapshot.
	TransitionSwitch Transition = "switch"
)

// Decide selects the transition for a target component given the observed
// publication state. Exactly one transition runs per invocation.
func Decide(state State, component string) Transition {
	if !state.Exists {
		return TransitionBootstrap
	}
	if state.HasComponent(component) {
		return TransitionSwitch
	}
	return TransitionAdd
}
