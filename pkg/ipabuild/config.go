package ipabuild

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Build kinds accepted on the command line
const (
	KindRelease  = "release"
	KindDevbuild = "devbuild"
)

// ErrUnknownKind is returned for a build kind that has no configuration
var ErrUnknownKind = errors.New("unknown build kind")

// Config describes the project being built. Zero values are filled from DefaultConfig
// when loaded from a file.
type Config struct {
	Product       string                 `yaml:"product"`        // Prefix of the packaged .ipa name
	Project       string                 `yaml:"project"`        // .xcodeproj, used when Workspace is empty
	Workspace     string                 `yaml:"workspace"`      // .xcworkspace, takes precedence over Project
	Scheme        string                 `yaml:"scheme"`         // Scheme to archive
	ExportName    string                 `yaml:"export_name"`    // Base name of the .ipa written by -exportArchive
	BuildDir      string                 `yaml:"build_dir"`      // Output directory, wiped at the start of every build
	Manifest      string                 `yaml:"manifest"`       // Carthage manifest listing the frameworks to strip
	FrameworkDir  string                 `yaml:"framework_dir"`  // Directory Carthage writes built frameworks to
	Platform      string                 `yaml:"platform"`       // Carthage --platform value
	AllowedSlices []string               `yaml:"allowed_slices"` // Architectures kept in shipped frameworks
	BuildSettings map[string]string      `yaml:"build_settings"` // Extra settings passed to every archive
	Kinds         map[string]*KindConfig `yaml:"kinds"`
}

// KindConfig holds the settings selected by a build kind
type KindConfig struct {
	Configuration string `yaml:"configuration"` // Xcode build configuration

	// Provisioning maps build setting names to opaque profile identifiers,
	// e.g. PROVISIONING_PROFILE_SPECIFIER. They are passed to xcodebuild as-is.
	Provisioning map[string]string `yaml:"provisioning"`

	// ExportOptionsPlist is the descriptor passed to -exportArchive.
	// Relative paths are resolved against the project root.
	ExportOptionsPlist string `yaml:"export_options_plist"`

	// ExportOptions, if set, is written to the build directory and used
	// instead of ExportOptionsPlist.
	ExportOptions *ExportOptions `yaml:"export_options"`

	// ProfileFiles are .mobileprovision files checked before the build starts
	ProfileFiles []string `yaml:"profile_files"`
}

// DefaultConfig returns the configuration of the AdblockPlusSafari project
func DefaultConfig() *Config {
	return &Config{
		Product:       "adblockplussafariios",
		Project:       "AdblockPlusSafari.xcodeproj",
		Scheme:        "AdblockPlusSafari",
		ExportName:    "AdblockPlusSafari",
		BuildDir:      "build",
		Manifest:      "Cartfile",
		FrameworkDir:  filepath.Join("Carthage", "Build", "iOS"),
		Platform:      "ios",
		AllowedSlices: []string{"arm64"},
		BuildSettings: map[string]string{
			"ENABLE_BITCODE": "YES",
		},
		Kinds: map[string]*KindConfig{
			KindRelease: {
				Configuration:      "Release",
				ExportOptionsPlist: KindRelease + "ExportOptions.plist",
			},
			KindDevbuild: {
				Configuration:      "Devbuild Release",
				ExportOptionsPlist: KindDevbuild + "ExportOptions.plist",
			},
		},
	}
}

// LoadConfig reads a YAML config file. Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	defaults := cfg.Kinds
	cfg.Kinds = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Kinds == nil {
		cfg.Kinds = defaults
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ReadKindNames returns the build kinds declared in the config file at path
// without validating the rest of it. It falls back to the default kinds when
// the file is unreadable, malformed or declares none.
func ReadKindNames(path string) []string {
	defaults := DefaultConfig().KindNames()

	data, err := os.ReadFile(path)
	if err != nil {
		return defaults
	}
	var raw struct {
		Kinds map[string]yaml.Node `yaml:"kinds"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil || len(raw.Kinds) == 0 {
		return defaults
	}

	names := make([]string, 0, len(raw.Kinds))
	for name := range raw.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every field needed by the pipeline is set
func (c *Config) Validate() error {
	if c.Product == "" {
		return fmt.Errorf("product is required")
	}
	if c.Project == "" && c.Workspace == "" {
		return fmt.Errorf("either project or workspace is required")
	}
	if c.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if c.ExportName == "" {
		return fmt.Errorf("export_name is required")
	}
	if c.BuildDir == "" {
		return fmt.Errorf("build_dir is required")
	}
	// A cleaned path ending in ".." is made only of ".." elements
	if dir := filepath.Clean(c.BuildDir); dir == filepath.Dir(dir) || filepath.Base(dir) == ".." {
		return fmt.Errorf("build_dir %q must not be the project root or one of its parents", c.BuildDir)
	}
	if len(c.AllowedSlices) == 0 {
		return fmt.Errorf("allowed_slices must not be empty")
	}
	if len(c.Kinds) == 0 {
		return fmt.Errorf("at least one build kind is required")
	}

	for _, name := range c.KindNames() {
		kc := c.Kinds[name]
		if kc == nil {
			return fmt.Errorf("kind %s: empty configuration", name)
		}
		if kc.Configuration == "" {
			return fmt.Errorf("kind %s: configuration is required", name)
		}
		if kc.ExportOptionsPlist == "" && kc.ExportOptions == nil {
			return fmt.Errorf("kind %s: export_options_plist or export_options is required", name)
		}
	}
	return nil
}

// Kind returns the configuration for a build kind
func (c *Config) Kind(name string) (*KindConfig, error) {
	kc, ok := c.Kinds[name]
	if !ok || kc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return kc, nil
}

// KindNames returns the configured build kinds in sorted order
func (c *Config) KindNames() []string {
	names := make([]string, 0, len(c.Kinds))
	for name := range c.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
