// Command dbugctl is the command-line front door to Dbug: it builds an
// instrumented target binary and drives a debug session against it from a
// terminal, wiring together the controller, its session store, and
// whichever observability endpoints the operator asked for.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
)

func printInfo(msg string)    { infoColor.Printf("[INFO] %s\n", msg) }
func printSuccess(msg string) { successColor.Printf("[SUCCESS] %s\n", msg) }
func printWarning(msg string) { warningColor.Printf("[WARNING] %s\n", msg) }
func printError(err error)    { errorColor.Fprintf(os.Stderr, "[ERROR] %s\n", err.Error()) }

func main() {
	rootCmd := &cobra.Command{
		Use:     "dbugctl",
		Short:   "Build and run instrumented programs under a Dbug session",
		Long:    `dbugctl builds a source-instrumented program and attaches a debug session to it, exposing breakpoints, stepping, and expression evaluation over a line REPL. It does not start a DAP or JSON-RPC server.`,
		Version: version,
	}
	rootCmd.SetVersionTemplate("dbugctl v{{.Version}}\n")

	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the dbugctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbugctl v%s\n", version)
		},
	})

	// build and run exit the process directly with their own classified
	// exit codes (see exitFor in build.go) once their arguments are
	// accepted; reaching Execute's own error path means the invocation was
	// rejected (cobra's argument and flag checks, or run's --store and
	// --transport validation).
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
