// Package dispatch implements the provisioner's command dispatcher
// invariants (spec.md §4.7/§6.1) as a standalone, directly testable unit:
// arity validation per command and grapheme-aware help-column alignment,
// independent of the spf13/cobra tree cmd/partitup builds on top of it.
//
// Grounded on original_source/src/pu-command.c's PuCommandContext: a fixed
// table of command entries (name, arg kind, description), arity checked
// against PU_COMMAND_ARG_NONE/FILENAME/FILENAME_ARRAY, and get_main_help's
// column-aligned listing built from each entry's display width rather than
// its byte length.
package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/phytec/partitup/internal/perrors"
)

// ArgKind mirrors PuCommandArg: how many positional arguments a command
// accepts.
type ArgKind int

const (
	// ArgNone accepts no positional arguments.
	ArgNone ArgKind = iota
	// ArgFilename accepts exactly one positional argument.
	ArgFilename
	// ArgFilenameArray accepts two or more positional arguments.
	ArgFilenameArray
)

// Command is one dispatch-table entry, matching PuCommandEntry.
type Command struct {
	Name        string
	Arg         ArgKind
	Description string
}

// Context holds the fixed set of known commands, matching
// PuCommandContext's entries table.
type Context struct {
	Commands []Command
}

// NewContext builds a dispatch context from a fixed command table.
func NewContext(commands []Command) *Context {
	return &Context{Commands: commands}
}

// Find returns the command entry named name, if any.
func (c *Context) Find(name string) (Command, bool) {
	for _, cmd := range c.Commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

// Resolve looks up name and validates args against its arity, matching
// pu_command_context_parse's "Invalid number of arguments" check.
func (c *Context) Resolve(name string, args []string) (Command, error) {
	cmd, ok := c.Find(name)
	if !ok {
		return Command{}, perrors.New(perrors.UnknownCommand, fmt.Sprintf("invalid command %q", name))
	}
	if err := validateArity(cmd, args); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func validateArity(cmd Command, args []string) error {
	n := len(args)
	var ok bool
	switch cmd.Arg {
	case ArgNone:
		ok = n == 0
	case ArgFilename:
		ok = n == 1
	case ArgFilenameArray:
		ok = n >= 2
	}
	if ok {
		return nil
	}
	return perrors.New(perrors.BadValue,
		fmt.Sprintf("invalid number of arguments (%d) for command %q: %s",
			n, cmd.Name, strings.Join(args, " ")))
}

// displayWidth returns s's terminal column width, matching pu_utf8_strlen's
// use of unicode character width (wide CJK characters count as 2, combining
// marks count as 0) rather than byte or rune count.
func displayWidth(s string) int {
	return runewidth.StringWidth(s)
}

// HelpText renders the command listing the way get_main_help does: each
// command name followed by enough spaces (counted in display columns, not
// bytes) to align every description in one column, sorted alphabetically by
// name for a stable, reviewable listing.
func (c *Context) HelpText() string {
	names := make([]Command, len(c.Commands))
	copy(names, c.Commands)
	sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })

	maxLen := 0
	for _, cmd := range names {
		if w := displayWidth(cmd.Name); w > maxLen {
			maxLen = w
		}
	}

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range names {
		pad := maxLen + 4 - displayWidth(cmd.Name)
		fmt.Fprintf(&b, "  %s%s%s\n", cmd.Name, strings.Repeat(" ", pad), cmd.Description)
	}
	b.WriteString("\nExecute any command with the '-h, --help' option to show command specific help.")
	return b.String()
}

// CommandHelp returns the one-line description for name, or "" if unknown.
func (c *Context) CommandHelp(name string) string {
	cmd, ok := c.Find(name)
	if !ok {
		return ""
	}
	return cmd.Description
}
