// Package shell runs the external helper binaries the provisioner core
// treats as well-defined collaborators (spec.md §1): the partition-table
// commit tool, mkfs.*, mount/umount, losetup, and the squashfs helpers.
//
// Adapted from the teacher codebase's internal/utils/shell: the same
// Executor interface and CombinedOutput-based ExecCmd/ExecCmdSilent shape,
// trimmed of the chroot-environment concerns (there is no chroot install
// step in a provisioner) since every invocation here runs directly against
// the host, typically as root (spec.md §6.1: "all require root").
package shell

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/phytec/partitup/internal/logger"
)

var log = logger.Logger()

// Executor runs shell commands; mockable for tests that must not actually
// invoke mkfs/mount/losetup.
type Executor interface {
	ExecCmd(cmdStr string) (string, error)
	ExecCmdSilent(cmdStr string) (string, error)
}

// DefaultExecutor runs commands via "bash -c" and captures combined output,
// matching the teacher's own invocation shape.
type DefaultExecutor struct{}

// Default is the package-level executor used by the convenience functions
// below; tests may swap it out.
var Default Executor = &DefaultExecutor{}

// ExecCmd runs cmdStr, logs its output at debug level, and returns it.
func (d *DefaultExecutor) ExecCmd(cmdStr string) (string, error) {
	log.Debugf("Exec: [%s]", cmdStr)
	cmd := exec.Command("bash", "-c", cmdStr)
	out, err := cmd.CombinedOutput()
	outStr := string(out)
	if err != nil {
		if outStr != "" {
			return outStr, fmt.Errorf("failed to exec %s: output %s, err %w", cmdStr, outStr, err)
		}
		return outStr, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	if outStr != "" {
		log.Debugf(outStr)
	}
	return outStr, nil
}

// ExecCmdSilent runs cmdStr without logging its output, for callers that
// parse the output themselves (e.g. blkid/lsblk probes).
func (d *DefaultExecutor) ExecCmdSilent(cmdStr string) (string, error) {
	cmd := exec.Command("bash", "-c", cmdStr)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// ExecCmd is the package-level convenience wrapper around Default.
func ExecCmd(cmdStr string) (string, error) { return Default.ExecCmd(cmdStr) }

// ExecCmdSilent is the package-level convenience wrapper around Default.
func ExecCmdSilent(cmdStr string) (string, error) { return Default.ExecCmdSilent(cmdStr) }

// Quote single-quotes s for embedding in a bash -c command line, escaping
// any embedded single quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
