package ipabuild

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Stage is a step of the build pipeline. Stages run in declaration order.
type Stage int

const (
	StageStart Stage = iota
	StageClean
	StageResolveDependencies
	StageStripFrameworks
	StageBuildArchive
	StageExportPackage
	StageRename
	StageDone
)

var stageNames = [...]string{
	StageStart:               "start",
	StageClean:               "clean",
	StageResolveDependencies: "resolve_dependencies",
	StageStripFrameworks:     "strip_frameworks",
	StageBuildArchive:        "build_archive",
	StageExportPackage:       "export_package",
	StageRename:              "rename",
	StageDone:                "done",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError reports the stage a pipeline halted in
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Framework is a framework binary processed by the strip stage
type Framework struct {
	Path      string   // Path of the binary
	Slices    []string // Slices found before stripping
	Remaining []string // Slices left after stripping
}

// Result describes the artifacts of a successful build
type Result struct {
	BuildName   string
	ArchivePath string
	IPAPath     string
	Frameworks  []Framework
}

// Pipeline builds, strips and packages the app. A Pipeline runs one request;
// a failed run is not resumed, the next run starts over from the clean stage.
type Pipeline struct {
	Config *Config
	Root   string // Project root, relative config paths are resolved against it
	Runner Runner

	// Inspector lists framework slices. Defaults to LipoInspector using Runner.
	Inspector Inspector

	// Certificate, if set, must be part of every profile in KindConfig.ProfileFiles
	Certificate *x509.Certificate

	// Now is used to check profile expiry. Defaults to time.Now.
	Now func() time.Time

	OnStage     func(Stage)     // Called when a stage starts
	OnFramework func(Framework) // Called after a framework has been stripped

	state Stage
}

// State returns the stage the pipeline is in, or halted in after a failure
func (p *Pipeline) State() Stage {
	return p.state
}

// Run executes every stage for req, stopping at the first failure
func (p *Pipeline) Run(req Request) (*Result, error) {
	p.state = StageStart

	kc, err := p.Config.Kind(req.Kind)
	if err != nil {
		return nil, &StageError{Stage: StageStart, Err: err}
	}
	if req.BuildNumber == "" {
		return nil, &StageError{Stage: StageStart, Err: fmt.Errorf("build number is required")}
	}
	if err := p.preflight(kc); err != nil {
		return nil, &StageError{Stage: StageStart, Err: err}
	}

	buildDir := p.path(p.Config.BuildDir)
	if err := p.checkBuildDir(buildDir); err != nil {
		return nil, &StageError{Stage: StageStart, Err: err}
	}
	result := &Result{
		BuildName:   req.BuildName(p.Config.Product),
		ArchivePath: filepath.Join(buildDir, req.BuildName(p.Config.Product)+".xcarchive"),
		IPAPath:     filepath.Join(buildDir, req.BuildName(p.Config.Product)+".ipa"),
	}

	steps := []struct {
		stage Stage
		run   func() error
	}{
		{StageClean, func() error { return p.clean(buildDir) }},
		{StageResolveDependencies, func() error { return p.resolveDependencies(req.Bootstrap) }},
		{StageStripFrameworks, func() error {
			fws, err := p.stripFrameworks()
			result.Frameworks = fws
			return err
		}},
		{StageBuildArchive, func() error {
			return p.Runner.Run("xcodebuild", ArchiveArgs(p.Config, kc, req, buildDir, result.ArchivePath)...)
		}},
		{StageExportPackage, func() error { return p.exportPackage(req, kc, buildDir, result.ArchivePath) }},
		{StageRename, func() error { return p.rename(buildDir, result.IPAPath) }},
	}

	for _, step := range steps {
		p.state = step.stage
		if p.OnStage != nil {
			p.OnStage(step.stage)
		}
		if err := step.run(); err != nil {
			return nil, &StageError{Stage: step.stage, Err: err}
		}
	}

	p.state = StageDone
	return result, nil
}

func (p *Pipeline) preflight(kc *KindConfig) error {
	opts := kc.ExportOptions
	if opts == nil {
		var err error
		if opts, err = ReadExportOptions(p.path(kc.ExportOptionsPlist)); err != nil {
			return err
		}
	}
	if len(kc.ProfileFiles) > 0 {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		if err := CheckSigning(kc, opts, p.Root, p.Certificate, now()); err != nil {
			return err
		}
	}
	return nil
}

// checkBuildDir rejects a build directory the clean stage would wipe the
// project with: the project root itself or one of its parents
func (p *Pipeline) checkBuildDir(buildDir string) error {
	absBuild, err := filepath.Abs(buildDir)
	if err != nil {
		return fmt.Errorf("failed to resolve build directory: %w", err)
	}
	absRoot, err := filepath.Abs(p.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}

	rel, err := filepath.Rel(absBuild, absRoot)
	if err != nil {
		return nil
	}
	if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("build directory %s contains the project root %s", absBuild, absRoot)
	}
	return nil
}

func (p *Pipeline) clean(buildDir string) error {
	if err := os.RemoveAll(buildDir); err != nil {
		return fmt.Errorf("failed to remove build directory: %w", err)
	}
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	return nil
}

func (p *Pipeline) resolveDependencies(bootstrap bool) error {
	return p.Runner.Run("carthage", CarthageArgs(bootstrap, p.Config.Platform)...)
}

func (p *Pipeline) stripFrameworks() ([]Framework, error) {
	paths, err := DiscoverFrameworks(p.path(p.Config.Manifest))
	if err != nil {
		return nil, err
	}

	inspector := p.Inspector
	if inspector == nil {
		inspector = &LipoInspector{Runner: p.Runner}
	}
	stripper := &Stripper{Runner: p.Runner, Allowed: p.Config.AllowedSlices}

	var frameworks []Framework
	for _, rel := range paths {
		fw := Framework{Path: filepath.Join(p.path(p.Config.FrameworkDir), filepath.FromSlash(rel))}

		fw.Slices, err = inspector.Slices(fw.Path)
		if err != nil {
			return frameworks, err
		}

		fw.Remaining, err = stripper.Strip(fw.Path, fw.Slices)
		if err != nil {
			return frameworks, err
		}

		frameworks = append(frameworks, fw)
		if p.OnFramework != nil {
			p.OnFramework(fw)
		}
	}
	return frameworks, nil
}

func (p *Pipeline) exportPackage(req Request, kc *KindConfig, buildDir, archivePath string) error {
	optionsPath := p.path(kc.ExportOptionsPlist)
	if kc.ExportOptions != nil {
		optionsPath = filepath.Join(buildDir, req.Kind+"ExportOptions.plist")
		if err := WriteExportOptions(optionsPath, kc.ExportOptions); err != nil {
			return err
		}
	}
	return p.Runner.Run("xcodebuild", ExportArgs(archivePath, buildDir, optionsPath)...)
}

func (p *Pipeline) rename(buildDir, ipaPath string) error {
	exported := filepath.Join(buildDir, p.Config.ExportName+".ipa")
	if err := os.Rename(exported, ipaPath); err != nil {
		return fmt.Errorf("failed to rename exported IPA: %w", err)
	}
	return nil
}

func (p *Pipeline) path(rel string) string {
	if filepath.IsAbs(rel) || p.Root == "" {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// CarthageArgs returns the carthage arguments that resolve dependencies for platform
func CarthageArgs(bootstrap bool, platform string) []string {
	command := "update"
	if bootstrap {
		command = "bootstrap"
	}
	return []string{command, "--platform", platform}
}

// ArchiveArgs constructs the argument list for xcodebuild archive
func ArchiveArgs(cfg *Config, kc *KindConfig, req Request, buildDir, archivePath string) []string {
	var args []string
	if cfg.Workspace != "" {
		args = append(args, "-workspace", cfg.Workspace)
	} else {
		args = append(args, "-project", cfg.Project)
	}
	args = append(args,
		"-configuration", kc.Configuration,
		"-scheme", cfg.Scheme,
		"CONFIGURATION_BUILD_DIR="+buildDir,
		"BUILD_NUMBER="+req.BuildNumber,
	)

	// Provisioning overrides win over project-wide settings
	settings := make(map[string]string, len(cfg.BuildSettings)+len(kc.Provisioning))
	for k, v := range cfg.BuildSettings {
		settings[k] = v
	}
	for k, v := range kc.Provisioning {
		settings[k] = v
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+settings[k])
	}

	return append(args, "archive", "-archivePath", archivePath)
}

// ExportArgs constructs the argument list for xcodebuild -exportArchive
func ExportArgs(archivePath, exportPath, optionsPlist string) []string {
	return []string{
		"-exportArchive",
		"-archivePath", archivePath,
		"-exportPath", exportPath,
		"-exportOptionsPlist", optionsPlist,
	}
}
