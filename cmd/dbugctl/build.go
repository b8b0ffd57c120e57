package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbug-project/dbug/internal/dbugerr"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <path>",
		Short: "Build an instrumented binary from a Go project",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			release, _ := cmd.Flags().GetBool("release")
			_, outPath, err := buildTarget(args[0], release)
			if err != nil {
				printError(err)
				os.Exit(exitFor(err))
			}
			printSuccess(fmt.Sprintf("Built %s", outPath))
			os.Exit(0)
		},
	}
	cmd.Flags().Bool("release", false, "Build with optimizations instead of a debug-friendly build")
	return cmd
}

// exitFor maps a build-time error to the exit codes spec.md's CLI section
// defines: 0 on success (handled by the caller, never passed here), 1 for
// a failed compile, 2 for a project that isn't buildable at all.
func exitFor(err error) int {
	if dbugerr.IsKind(err, dbugerr.InvalidProject) {
		return 2
	}
	return 1
}

// buildTarget shells out to the host Go toolchain to produce an
// instrumented debuggee binary at path/.dbug/<name>, returning its
// absolute path. release selects optimized codegen; its absence passes
// -gcflags="all=-N -l" so inlining and optimization don't scramble the
// line correspondence the breakpoint table depends on. DBUG_BUILD=1 is
// set on the subprocess environment so the project's own build-time code
// generation (out of this module's scope) can recognize an instrumented
// build is in progress.
func buildTarget(path string, release bool) (projectDir, outPath string, err error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return "", "", dbugerr.Wrap(dbugerr.InvalidProject, statErr, fmt.Sprintf("cannot open %s", path))
	}
	projectDir = path
	if !info.IsDir() {
		projectDir = filepath.Dir(path)
	}
	if abs, absErr := filepath.Abs(projectDir); absErr == nil {
		projectDir = abs
	}
	if _, err := os.Stat(filepath.Join(projectDir, "go.mod")); err != nil {
		return "", "", dbugerr.Wrap(dbugerr.InvalidProject, err, fmt.Sprintf("%s is not a Go module (no go.mod)", projectDir))
	}

	outDir := filepath.Join(projectDir, ".dbug")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", dbugerr.Wrap(dbugerr.InvalidProject, err, "create build output directory")
	}
	outPath = filepath.Join(outDir, filepath.Base(projectDir))

	buildArgs := []string{"build", "-o", outPath}
	if !release {
		buildArgs = append(buildArgs, "-gcflags=all=-N -l")
	}
	buildArgs = append(buildArgs, ".")

	buildCmd := exec.Command("go", buildArgs...)
	buildCmd.Dir = projectDir
	buildCmd.Env = append(os.Environ(), "DBUG_BUILD=1")
	var stderr bytes.Buffer
	buildCmd.Stderr = &stderr

	start := time.Now()
	if err := buildCmd.Run(); err != nil {
		exitCode := 1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return "", "", dbugerr.Wrap(dbugerr.BuildFailure, err, stderr.String()).
			WithExitCode(exitCode).
			WithSuggestion("run `go build` directly in " + projectDir + " to see the full compiler output")
	}
	printInfo(fmt.Sprintf("Build completed in %s", time.Since(start)))
	return projectDir, outPath, nil
}
