package printer

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
)

// Out receives progress output
var Out io.Writer = os.Stdout

// Err receives error output
var Err io.Writer = os.Stderr

// Stage prints a stage banner
func Stage(format string, a ...any) {
	cyan.Fprintf(Out, "==> %s\n", fmt.Sprintf(format, a...))
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	green.Fprintf(Out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	yellow.Fprintf(Out, "! %s\n", fmt.Sprintf(format, a...))
}

// Error prints an error message in red to Err
func Error(format string, a ...any) {
	red.Fprintf(Err, "Error: %s\n", fmt.Sprintf(format, a...))
}
