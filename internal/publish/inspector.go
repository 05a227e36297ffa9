package publish

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/feelpp/apt/internal/aptly"
)

// Inspector determines whether a (channel, distribution) publication exists
// and which components it contains. The engine exposes no direct query for
// this, so existing state is inferred from the engine database (recovered
// from public files when necessary) with the release index as fallback.
// The Inspector only reads; it never mutates engine state beyond the
// best-effort database recovery.
type Inspector struct {
	engine aptly.Engine
	logger *slog.Logger
}

// NewInspector creates an Inspector backed by the given engine.
func NewInspector(engine aptly.Engine, logger *slog.Logger) *Inspector {
	return &Inspector{engine: engine, logger: logger}
}

// Inspect reports the publication state for channel/distro under a public
// root already seeded with the currently published tree.
func (i *Inspector) Inspect(ctx context.Context, publicRoot, channel, distro string) State {
	inRelease := filepath.Join(publicRoot, channel, "dists", distro, "InRelease")
	staticExists := fileExists(inRelease)

	// A fresh workspace has an empty engine database even when the
	// static files carry a publication. Recover the database first so
	// the engine knows about it; failure here is not fatal.
	if staticExists {
		i.logger.Info("recovering engine database from existing publication")
		if err := i.engine.DBRecover(ctx); err != nil {
			i.logger.Warn("could not recover engine database", "error", err)
		}
	}

	var state State

	out, err := i.engine.PublishShow(ctx, distro, channel)
	if err == nil {
		state.Exists = true
		state.Components = parseComponents(out)
	}

	if staticExists {
		state.Exists = true
		if len(state.Components) == 0 {
			comps, err := componentsFromFile(inRelease)
			if err != nil {
				i.logger.Warn("could not parse release index", "path", inRelease, "error", err)
			} else {
				state.Components = comps
			}
		}
	}

	if state.Exists {
		i.logger.Info("publication exists",
			"channel", channel,
			"distro", distro,
			"components", strings.Join(state.Components, ","))
	} else {
		i.logger.Info("no existing publication", "channel", channel, "distro", distro)
	}
	return state
}

// parseComponents extracts the component list from release-index style
// output: the value of the first "Components:" line.
func parseComponents(text string) []string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if value, found := strings.CutPrefix(line, "Components:"); found {
			return strings.Fields(value)
		}
	}
	return nil
}

func componentsFromFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseComponents(string(data)), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
