// Package ipabuild orchestrates release builds of an iOS app.
//
// A build resolves Carthage dependencies, strips architecture slices that
// may not ship from the built frameworks, archives the app with xcodebuild
// and exports a signed IPA named after the build kind and build number.
// Every external tool is run through a Runner; a failing tool aborts the
// build and nothing is retried.
//
// # Basic Usage
//
//	cfg := ipabuild.DefaultConfig()
//	p := &ipabuild.Pipeline{
//	    Config: cfg,
//	    Root:   projectDir,
//	    Runner: ipabuild.NewExecRunner(projectDir),
//	}
//	res, err := p.Run(ipabuild.NewRequest(ipabuild.KindRelease, false, time.Now()))
//
// # Stages
//
// clean, resolve_dependencies, strip_frameworks, build_archive,
// export_package and rename run in that order. A StageError names the
// stage a failed build halted in.
package ipabuild
