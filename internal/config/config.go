package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/feelpp/apt/internal/deb"
)

// Channel is a publication track segregating package maturity. It doubles
// as the publication path prefix in the published tree.
type Channel string

const (
	ChannelStable  Channel = "stable"
	ChannelTesting Channel = "testing"
	ChannelPR      Channel = "pr"
)

// Channels lists every known channel, in scan order.
func Channels() []Channel {
	return []Channel{ChannelStable, ChannelTesting, ChannelPR}
}

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelStable, ChannelTesting, ChannelPR:
		return Channel(s), nil
	}
	return "", fmt.Errorf("invalid channel: %s (must be stable, testing, or pr)", s)
}

// Built-in defaults, overridable by environment and flags.
const (
	DefaultPagesRepo = "https://github.com/feelpp/apt.git"
	DefaultBranch    = "gh-pages"
	DefaultDistro    = "noble"
)

// Publish holds the resolved options for one publish invocation.
type Publish struct {
	Component   string
	Distro      string
	Channel     Channel
	DebsDir     string
	PagesRepo   string
	Branch      string
	Sign        bool
	KeyID       string
	Passphrase  string
	AptlyConfig string
	AptlyRoot   string
	AutoBump    bool
}

// Validate normalizes the component name and checks preconditions that can
// be verified without touching the filesystem or any external tool.
func (p *Publish) Validate() error {
	p.Component = deb.NormalizeComponent(p.Component)
	if p.Component == "" {
		return fmt.Errorf("component is required and must contain at least one alphanumeric character")
	}
	if p.Distro == "" {
		return fmt.Errorf("distro is required")
	}
	if _, err := ParseChannel(string(p.Channel)); err != nil {
		return err
	}
	if p.Sign && p.KeyID == "" {
		return fmt.Errorf("keyid is required when signing is enabled")
	}
	return nil
}

// File is the optional on-disk defaults file. Values here sit below flags
// and environment variables in precedence.
type File struct {
	PagesRepo   string `yaml:"pages_repo"`
	Branch      string `yaml:"branch"`
	Distro      string `yaml:"distro"`
	Channel     string `yaml:"channel"`
	Sign        bool   `yaml:"sign"`
	KeyID       string `yaml:"keyid"`
	AptlyConfig string `yaml:"aptly_config"`
	AptlyRoot   string `yaml:"aptly_root"`
}

// Load reads and parses a defaults file.
func Load(path string) (*File, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	f.expandEnv()

	if f.Channel != "" {
		if _, err := ParseChannel(f.Channel); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return &f, nil
}

// expandEnv expands environment variables in all string fields.
func (f *File) expandEnv() {
	f.PagesRepo = os.ExpandEnv(f.PagesRepo)
	f.Branch = os.ExpandEnv(f.Branch)
	f.Distro = os.ExpandEnv(f.Distro)
	f.KeyID = os.ExpandEnv(f.KeyID)
	f.AptlyConfig = os.ExpandEnv(f.AptlyConfig)
	f.AptlyRoot = os.ExpandEnv(f.AptlyRoot)
}

// Apply fills empty Publish fields from the defaults file.
func (f *File) Apply(p *Publish) {
	if p.PagesRepo == "" {
		p.PagesRepo = f.PagesRepo
	}
	if p.Branch == "" {
		p.Branch = f.Branch
	}
	if p.Distro == "" {
		p.Distro = f.Distro
	}
	if p.Channel == "" && f.Channel != "" {
		p.Channel = Channel(f.Channel)
	}
	if !p.Sign {
		p.Sign = f.Sign
	}
	if p.KeyID == "" {
		p.KeyID = f.KeyID
	}
	if p.AptlyConfig == "" {
		p.AptlyConfig = f.AptlyConfig
	}
	if p.AptlyRoot == "" {
		p.AptlyRoot = f.AptlyRoot
	}
}

// Resolve fills any still-empty fields from, in order, the environment,
// the defaults file (when given), and the built-in defaults. Flag values
// set by the caller always win.
func (p *Publish) Resolve(f *File) {
	if p.PagesRepo == "" {
		p.PagesRepo = os.Getenv("PAGES_REPO")
	}
	if p.Branch == "" {
		p.Branch = os.Getenv("BRANCH")
	}
	if p.KeyID == "" {
		p.KeyID = os.Getenv("GPG_KEYID")
	}
	if p.Passphrase == "" {
		p.Passphrase = os.Getenv("GPG_PASSPHRASE")
	}

	if f != nil {
		f.Apply(p)
	}

	if p.PagesRepo == "" {
		p.PagesRepo = DefaultPagesRepo
	}
	if p.Branch == "" {
		p.Branch = DefaultBranch
	}
	if p.Distro == "" {
		p.Distro = DefaultDistro
	}
	if p.Channel == "" {
		p.Channel = ChannelStable
	}
}
