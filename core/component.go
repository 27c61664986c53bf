package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Component is a subsystem with a lifecycle Init step, adapted from
// periph.io's registry.Driver (String() + Init() (bool, error)) to this
// device's simpler needs: unlike a host's bus/GPIO drivers, the
// subsystems wired into one Loop (transport/seriallink.Link,
// afe.Driver, auxadc.Adc) form a single linear dependency chain fixed
// at construction time by Go's own type system, so the staged,
// concurrent, dependency-graph loader periph.io needs for an open set
// of host drivers has no work to do here; what is worth keeping is the
// named-component registry and the Loaded/Failed reporting, for a
// consistent startup log of what came up.
type Component interface {
	// String returns the component's name, unique among those
	// registered with a single Registry.
	String() string
	// Init prepares the component. It is called once, in registration
	// order, before Loop.Run begins servicing the gate.
	Init() error
}

// Registry collects Components and initializes them in registration
// order, analogous to periph.Register/periph.Init but without the
// prerequisite-graph machinery that open-ended host driver discovery
// requires.
type Registry struct {
	Logger *logrus.Logger

	components []Component
	loaded     []string
	failed     []ComponentFailure
}

// ComponentFailure pairs a Component with the error its Init returned.
type ComponentFailure struct {
	Component Component
	Err       error
}

func (f ComponentFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Component, f.Err)
}

// Register adds c to the registry. It is an error to call Register
// after Init.
func (r *Registry) Register(c Component) error {
	if r.loaded != nil || r.failed != nil {
		return fmt.Errorf("core: can't Register after Init")
	}
	r.components = append(r.components, c)
	return nil
}

// MustRegister calls Register and panics on error, for use from an
// init()-time wiring function the way periph.MustRegister is used from
// a driver package's init().
func (r *Registry) MustRegister(c Component) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Init initializes every registered component in order, stopping at
// the first failure. A second call returns the same loaded and failed
// lists, with a nil error, without re-running Init on any component.
func (r *Registry) Init() ([]string, []ComponentFailure, error) {
	if r.loaded != nil || r.failed != nil {
		return r.loaded, r.failed, nil
	}
	r.loaded = []string{}
	for _, c := range r.components {
		if err := c.Init(); err != nil {
			r.failed = append(r.failed, ComponentFailure{c, err})
			if r.Logger != nil {
				r.Logger.WithField("component", c.String()).WithError(err).Error("core: component init failed")
			}
			return r.loaded, r.failed, fmt.Errorf("core: init %s: %w", c.String(), err)
		}
		r.loaded = append(r.loaded, c.String())
		if r.Logger != nil {
			r.Logger.WithField("component", c.String()).Info("core: component initialized")
		}
	}
	return r.loaded, r.failed, nil
}
