package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluedeke/go-ipabuild/internal/printer"
	"github.com/aluedeke/go-ipabuild/pkg/ipabuild"
	"github.com/docopt/docopt-go"
)

const version = "1.0.0"

// Exit codes
const (
	exitUsage       = 1
	exitUnknownKind = 2
	exitUnknownMode = 3
	exitFailed      = 4
)

const bootstrapMode = "bootstrap"

const defaultConfigFile = "ipabuild.yml"

const usage = `ipabuild - iOS Release Build Tool

Builds the app with Carthage and xcodebuild, strips framework slices that may
not ship, and packages a build-specific IPA.

Usage:
  ipabuild info --ipa=<path>
  ipabuild slices [--lipo] <binary>...
  ipabuild <kind> [<mode>] [--config=<path>] [--root=<path>] [--p12=<path>] [--password=<password>]
  ipabuild -h | --help
  ipabuild --version

Arguments:
  <kind>                   Build kind: release or devbuild
  <mode>                   Optional: bootstrap, to rebuild everything in Cartfile.resolved

Commands:
  info      Display information about a packaged IPA
  slices    List the architecture slices of Mach-O binaries

Options:
  --config=<path>          Path to a YAML project config (or IPABUILD_CONFIG env var, defaults to ipabuild.yml if present)
  --root=<path>            Project root directory [default: .]
  --p12=<path>             P12 identity checked against the kind's provisioning profiles (or IPABUILD_P12 env var)
  --password=<password>    Password for the P12 identity (or IPABUILD_P12_PASSWORD env var)
  --ipa=<path>             Path to the .ipa file (info command)
  --lipo                   Use lipo -info instead of reading Mach-O headers (slices command)
  -h --help                Show this help message
  --version                Show version

Exit Codes:
  1  Missing or malformed arguments
  2  Unknown build kind
  3  Second argument is not bootstrap
  4  Build failed

Examples:
  # Release build with an incremental dependency update
  ipabuild release

  # Enterprise devbuild, rebuilding all dependencies
  ipabuild devbuild bootstrap

  # Verify the signing identity before building
  ipabuild release --p12=dist.p12 --password=secret

  # View IPA information
  ipabuild info --ipa=build/adblockplussafariios-release-201810161200.ipa
`

// usageError carries the exit code for a rejected command line
type usageError struct {
	code int
	msg  string
}

func (e *usageError) Error() string {
	return e.msg
}

func main() {
	opts, err := parseArgs(os.Args[1:], docopt.PrintHelpAndExit)
	if err == nil {
		if info, _ := opts.Bool("info"); info {
			err = runInfo(opts)
		} else if slices, _ := opts.Bool("slices"); slices {
			err = runSlices(opts)
		} else {
			err = runBuild(opts)
		}
	}

	if err != nil {
		printer.Error("%v", err)
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprint(os.Stderr, "Usage: ipabuild release|devbuild [bootstrap]\n")
			os.Exit(ue.code)
		}
		os.Exit(exitFailed)
	}
}

// parseArgs parses argv against the usage text. help is called for -h,
// --version and malformed command lines.
func parseArgs(argv []string, help func(err error, usage string)) (docopt.Opts, error) {
	parser := &docopt.Parser{HelpHandler: help}
	opts, err := parser.ParseArgs(usage, argv, version)
	if err != nil {
		return nil, &usageError{code: exitUsage, msg: fmt.Sprintf("error parsing arguments: %v", err)}
	}
	return opts, nil
}

// buildArgs holds a validated build command line
type buildArgs struct {
	kind       string
	bootstrap  bool
	root       string
	configPath string // Empty when the built-in defaults apply
	p12Path    string
	password   string
}

// parseBuildArgs resolves the build command line and checks the kind and
// mode arguments. Only the kinds declared in the config are read here, so
// command line mistakes are reported before a broken config is.
func parseBuildArgs(opts docopt.Opts) (*buildArgs, error) {
	kind, _ := opts.String("<kind>")
	mode, _ := opts.String("<mode>")
	rootFlag, _ := opts.String("--root")
	configPath, _ := opts.String("--config")
	p12Path, _ := opts.String("--p12")
	password, _ := opts.String("--password")

	// Get values from environment if not provided via flags
	if configPath == "" {
		configPath = os.Getenv("IPABUILD_CONFIG")
	}
	if p12Path == "" {
		p12Path = os.Getenv("IPABUILD_P12")
	}
	if password == "" {
		password = os.Getenv("IPABUILD_P12_PASSWORD")
	}

	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	if configPath == "" {
		candidate := filepath.Join(root, defaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}

	kinds := ipabuild.DefaultConfig().KindNames()
	if configPath != "" {
		kinds = ipabuild.ReadKindNames(configPath)
	}
	if !contains(kinds, kind) {
		return nil, &usageError{code: exitUnknownKind, msg: fmt.Sprintf("unknown build kind %q (expected one of: %s)", kind, strings.Join(kinds, ", "))}
	}

	bootstrap := false
	if mode != "" {
		if mode != bootstrapMode {
			return nil, &usageError{code: exitUnknownMode, msg: fmt.Sprintf("unknown argument %q (expected %s)", mode, bootstrapMode)}
		}
		bootstrap = true
	}

	return &buildArgs{
		kind:       kind,
		bootstrap:  bootstrap,
		root:       root,
		configPath: configPath,
		p12Path:    p12Path,
		password:   password,
	}, nil
}

func runBuild(opts docopt.Opts) error {
	args, err := parseBuildArgs(opts)
	if err != nil {
		return err
	}
	root := args.root

	cfg := ipabuild.DefaultConfig()
	if args.configPath != "" {
		if cfg, err = ipabuild.LoadConfig(args.configPath); err != nil {
			return err
		}
	}

	req := ipabuild.NewRequest(args.kind, args.bootstrap, time.Now())

	pipeline := &ipabuild.Pipeline{
		Config: cfg,
		Root:   root,
		Runner: ipabuild.NewExecRunner(root),
		OnStage: func(s ipabuild.Stage) {
			printer.Stage("%s", s)
		},
		OnFramework: func(fw ipabuild.Framework) {
			rel, err := filepath.Rel(root, fw.Path)
			if err != nil {
				rel = fw.Path
			}
			if len(fw.Slices) == 0 {
				printer.Warning("%s: no slices reported", rel)
				return
			}
			printer.Info("%s: [%s] -> [%s]\n", rel, strings.Join(fw.Slices, " "), strings.Join(fw.Remaining, " "))
		},
	}

	if args.p12Path != "" {
		p12Data, err := os.ReadFile(args.p12Path)
		if err != nil {
			return fmt.Errorf("failed to read P12 file: %w", err)
		}
		cert, err := ipabuild.LoadSigningCertificate(p12Data, args.password)
		if err != nil {
			return err
		}
		pipeline.Certificate = cert
	}

	printer.Info("Building %s (%s)\n", cfg.Product, args.kind)
	printer.Info("Build number: %s\n", req.BuildNumber)
	if args.bootstrap {
		printer.Info("Dependencies: bootstrap\n")
	} else {
		printer.Info("Dependencies: update\n")
	}
	printer.Info("\n")

	result, err := pipeline.Run(req)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	printer.Success("Packaged %s", result.IPAPath)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func runInfo(opts docopt.Opts) error {
	ipaPath, _ := opts.String("--ipa")

	info, err := ipabuild.InspectIPA(ipaPath)
	if err != nil {
		return err
	}

	fmt.Println("IPA Information")
	fmt.Println("===============")
	fmt.Printf("File:          %s\n", ipaPath)
	fmt.Printf("App Name:      %s\n", info.AppName)
	fmt.Printf("Bundle ID:     %s\n", info.BundleID)
	fmt.Printf("Version:       %s\n", info.Version)
	fmt.Printf("Build Number:  %s\n", info.BuildNumber)
	fmt.Printf("Executable:    %s\n", info.Executable)
	fmt.Printf("Slices:        %s\n", strings.Join(info.Slices, " "))
	if len(info.Frameworks) > 0 {
		fmt.Printf("Frameworks:    %d\n", len(info.Frameworks))
		for _, fw := range info.Frameworks {
			fmt.Printf("  - %s\n", fw)
		}
	}
	return nil
}

func runSlices(opts docopt.Opts) error {
	useLipo, _ := opts.Bool("--lipo")
	binaries, _ := opts["<binary>"].([]string)

	var inspector ipabuild.Inspector = ipabuild.MachOInspector{}
	if useLipo {
		inspector = &ipabuild.LipoInspector{Runner: ipabuild.NewExecRunner("")}
	}

	for _, bin := range binaries {
		slices, err := inspector.Slices(bin)
		if err != nil {
			return fmt.Errorf("%s: %w", bin, err)
		}
		fmt.Printf("%s: %s\n", bin, strings.Join(slices, " "))
	}
	return nil
}
