package aptly

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the ephemeral private state of one aptly invocation: a
// config descriptor on disk and the root directory it points at. It exists
// only for the duration of one publish run.
type Workspace struct {
	// ConfigPath is the JSON config descriptor handed to every aptly call.
	ConfigPath string
	// Root is the aptly rootDir the descriptor points at.
	Root string
}

// PublicDir is where aptly materializes the published tree.
func (w *Workspace) PublicDir() string {
	return filepath.Join(w.Root, "public")
}

// Env returns the environment for aptly invocations. Any config or root
// overrides inherited from the caller's environment are stripped first, so
// the descriptor on disk is authoritative.
func (w *Workspace) Env() []string {
	env := make([]string, 0, len(os.Environ())+3)
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "APTLY_CONFIG", "APTLY_ROOT_DIR", "APTLY_ROOT", "APTLY_DB_DIR":
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"APTLY_CONFIG="+w.ConfigPath,
		"APTLY_ROOT_DIR="+w.Root,
		"APTLY_ROOT="+w.Root,
	)
	return env
}

// Provision writes an aptly config descriptor under workDir and creates the
// root directory tree. With userConfig set, that descriptor is adapted: its
// rootDir is resolved to an absolute path (relative paths resolve against
// the descriptor's own directory) or replaced by rootOverride. Without a
// user config a minimal descriptor is synthesized.
func Provision(workDir, userConfig, rootOverride string) (*Workspace, error) {
	configPath := filepath.Join(workDir, "config.json")

	var root string
	var cfg map[string]any

	if userConfig != "" {
		userPath, err := filepath.Abs(expandHome(userConfig))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve aptly config path: %w", err)
		}
		data, err := os.ReadFile(userPath)
		if err != nil {
			return nil, fmt.Errorf("aptly config not found: %s", userPath)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse aptly config %s: %w", userPath, err)
		}

		if rootOverride != "" {
			root, err = filepath.Abs(expandHome(rootOverride))
			if err != nil {
				return nil, fmt.Errorf("failed to resolve aptly root: %w", err)
			}
		} else {
			rootDir, _ := cfg["rootDir"].(string)
			if rootDir == "" {
				return nil, fmt.Errorf("config %s lacks rootDir; supply an aptly root override", userPath)
			}
			root = rootDir
			if !filepath.IsAbs(root) {
				root = filepath.Join(filepath.Dir(userPath), root)
			}
		}
		cfg["rootDir"] = root
	} else {
		if rootOverride != "" {
			var err error
			root, err = filepath.Abs(expandHome(rootOverride))
			if err != nil {
				return nil, fmt.Errorf("failed to resolve aptly root: %w", err)
			}
		} else {
			root = filepath.Join(workDir, ".aptly")
		}
		cfg = map[string]any{
			"rootDir":             root,
			"downloadConcurrency": 4,
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode aptly config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write aptly config: %w", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create aptly root %s: %w", root, err)
	}

	return &Workspace{ConfigPath: configPath, Root: root}, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
