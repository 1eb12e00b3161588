// Package main provides the ipabuild CLI tool for iOS release builds.
//
// For the library API, see the ipabuild subpackage:
//
//	import "github.com/aluedeke/go-ipabuild/pkg/ipabuild"
//
// # Installation
//
// Install the CLI:
//
//	go install github.com/aluedeke/go-ipabuild@latest
//
// Run it from the project root:
//
//	ipabuild release
//	ipabuild devbuild bootstrap
package main
