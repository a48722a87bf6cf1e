// Package env captures details about the mmstats environment: where stats
// files are published, what they are called, and how consumers find them.
package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schmichael/mmstats/internal/gettid"
)

// DefaultPath is the directory new stats files are published into.
var DefaultPath = findDefaultPath()

// DefaultFilename is the file name template for new stats files. It may
// contain the substitution tokens understood by Resolve.
var DefaultFilename = findDefaultFilename()

// DefaultGlob matches the stats files consumers should read.
var DefaultGlob = findDefaultGlob()

func findDefaultPath() string {
	if env := os.Getenv("MMSTATS_PATH"); env != "" {
		return env
	}
	return os.TempDir()
}

func findDefaultFilename() string {
	if env := os.Getenv("MMSTATS_FILES"); env != "" {
		return env
	}
	return "{CMD}-{PID}-{TID}.mmstats"
}

func findDefaultGlob() string {
	if env := os.Getenv("MMSTATS_GLOB"); env != "" {
		return env
	}
	return filepath.Join(DefaultPath, "*.mmstats")
}

// Resolve joins path and filename after substituting the template tokens
// {CMD} (basename of the invoking executable), {PID} and {TID} in both.
// Publishers running several instances per process should keep {PID} and
// {TID} in their template so files do not collide.
func Resolve(path, filename string) string {
	r := strings.NewReplacer(
		"{CMD}", filepath.Base(os.Args[0]),
		"{PID}", strconv.Itoa(os.Getpid()),
		"{TID}", strconv.Itoa(gettid.Gettid()),
	)
	return filepath.Join(r.Replace(path), r.Replace(filename))
}
