package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feelpp/apt/internal/aptly"
)

// Target names the publication slot one reconcile run operates on, and the
// fresh snapshot feeding it. The channel doubles as the publish prefix.
type Target struct {
	Component string
	Distro    string
	Channel   string
	Snapshot  string
	Sign      aptly.Signing
}

// Reconciler executes exactly one publication transition per run. It owns
// the choice of mutating engine subcommands; nothing else in the program
// mutates publications.
type Reconciler struct {
	engine aptly.Engine
	logger *slog.Logger
}

// NewReconciler creates a Reconciler backed by the given engine.
func NewReconciler(engine aptly.Engine, logger *slog.Logger) *Reconciler {
	return &Reconciler{engine: engine, logger: logger}
}

// Reconcile inspects the decision table for the target and applies the
// selected transition. Rerunning with identical inputs converges: a
// bootstrap is followed by switches, never by a second bootstrap or a
// failing add.
func (r *Reconciler) Reconcile(ctx context.Context, state State, t Target) error {
	switch Decide(state, t.Component) {
	case TransitionBootstrap:
		return r.bootstrap(ctx, t)
	case TransitionSwitch:
		return r.switchComponent(ctx, t)
	default:
		return r.addComponent(ctx, t)
	}
}

// bootstrap creates the publication from the fresh snapshot, with
// component and distribution bound at creation.
func (r *Reconciler) bootstrap(ctx context.Context, t Target) error {
	r.logger.Info("creating first-time publication",
		"channel", t.Channel, "distro", t.Distro, "component", t.Component)

	if err := r.engine.PublishSnapshot(ctx, t.Snapshot, t.Channel, t.Distro, t.Component, t.Sign); err != nil {
		return fmt.Errorf("failed to create publication %s/%s: %w", t.Channel, t.Distro, err)
	}

	r.logger.Info("created publication", "channel", t.Channel, "distro", t.Distro)
	return nil
}

// switchComponent atomically replaces the component's package set, leaving
// sibling components untouched.
func (r *Reconciler) switchComponent(ctx context.Context, t Target) error {
	r.logger.Info("updating existing component",
		"channel", t.Channel, "distro", t.Distro, "component", t.Component)

	if err := r.engine.PublishSwitch(ctx, t.Distro, t.Channel, t.Snapshot, t.Component, t.Sign); err != nil {
		return fmt.Errorf("failed to switch component %s: %w", t.Component, err)
	}

	r.logger.Info("updated component", "component", t.Component)
	return nil
}

// addComponent stages the new component, falling back to a replace when
// the optimistic add finds the component already staged, then regenerates
// the publication metadata so the release index reflects it.
func (r *Reconciler) addComponent(ctx context.Context, t Target) error {
	r.logger.Info("adding new component",
		"channel", t.Channel, "distro", t.Distro, "component", t.Component)

	if err := r.engine.PublishSourceAdd(ctx, t.Distro, t.Channel, t.Snapshot, t.Component); err != nil {
		r.logger.Info("component already staged, replacing instead", "component", t.Component)
		if err := r.engine.PublishSourceReplace(ctx, t.Distro, t.Channel, t.Snapshot, t.Component); err != nil {
			return fmt.Errorf("failed to replace component %s: %w", t.Component, err)
		}
	}

	// The component's files are staged even when the index regeneration
	// fails; a later run's database recovery reconciles it.
	if err := r.engine.PublishUpdate(ctx, t.Distro, t.Channel, t.Sign); err != nil {
		r.logger.Warn("failed to update publication metadata", "error", err)
	} else {
		r.logger.Info("updated publication metadata", "channel", t.Channel, "distro", t.Distro)
	}

	return nil
}
