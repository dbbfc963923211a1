// Copyright 2026 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUsage is returned by Execute when a command line is malformed.  The
// usage of the offending command has already been written.
var ErrUsage = errors.New("usage error")

// Command is a node in the debugger's command tree.
type Command struct {
	Name     string // Name of the command.
	Short    string // Short description, shown in help called on parent.
	Long     string // Long description, shown in help called on itself.
	ArgsName string // Name of the args, shown in usage line.
	ArgsLong string // Long description of the args, shown in help.

	// Children of the command.  args[0] is matched against each child's
	// name, and Run is called on the first matching child.
	Children []*Command

	// Run runs the command with args.  If both Children and Run are set,
	// Run is only called if none of the children match.
	Run func(cmd *Command, args []string) error

	parent        *Command
	out           io.Writer
	isDefaultHelp bool
}

// Output is where the command writes.
func (cmd *Command) Output() io.Writer {
	return cmd.out
}

// UsageErrorf prints the error message followed by the usage of cmd and
// returns ErrUsage.
func (cmd *Command) UsageErrorf(format string, v ...interface{}) error {
	fmt.Fprint(cmd.out, "ERROR: ")
	fmt.Fprintf(cmd.out, format, v...)
	fmt.Fprint(cmd.out, "\n\n")
	cmd.usage(cmd.out, true)
	return ErrUsage
}

func (cmd *Command) path() string {
	var names []string
	for c := cmd; c != nil; c = c.parent {
		if len(c.Name) > 0 {
			names = append([]string{c.Name}, names...)
		}
	}
	return strings.Join(names, " ")
}

func (cmd *Command) usage(w io.Writer, firstCall bool) {
	if long := strings.Trim(cmd.Long, "\n"); len(long) > 0 {
		fmt.Fprintln(w, long)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Usage:\n")
	name := "   " + cmd.path()
	if len(cmd.Children) > 0 {
		fmt.Fprintf(w, "%s <command>\n", name)
	}
	if cmd.Run != nil {
		if cmd.ArgsName != "" {
			fmt.Fprintf(w, "%s %s\n", name, cmd.ArgsName)
		} else {
			fmt.Fprintf(w, "%s\n", name)
		}
	}
	if len(cmd.Children) > 0 {
		fmt.Fprintf(w, "\nThe commands are:\n")
		for _, child := range cmd.Children {
			if !firstCall && child.isDefaultHelp {
				continue
			}
			fmt.Fprintf(w, "   %-15s %s\n", child.Name, child.Short)
		}
	}
	if cmd.Run != nil && cmd.ArgsLong != "" {
		fmt.Fprintf(w, "\n")
		fmt.Fprint(w, strings.Trim(cmd.ArgsLong, "\n"))
		fmt.Fprintf(w, "\n")
	}
}

const helpName = "help"

func newDefaultHelp() *Command {
	return &Command{
		Name:  helpName,
		Short: "Display help for commands",
		Long: `
Help displays usage descriptions for the debugger, or for one of its
commands.
`,
		ArgsName: "[command ...]",
		ArgsLong: `
[command ...] is an optional sequence of commands to display detailed usage.
The special-case "help ..." displays help for all commands.
`,
		Run: func(cmd *Command, args []string) error {
			return runHelp(cmd.parent, args)
		},
		isDefaultHelp: true,
	}
}

func runHelp(cmd *Command, args []string) error {
	if len(args) == 0 {
		cmd.usage(cmd.out, true)
		return nil
	}
	if args[0] == "..." {
		recursiveHelp(cmd, true)
		return nil
	}
	for _, child := range cmd.Children {
		if child.Name == args[0] {
			return runHelp(child, args[1:])
		}
	}
	return cmd.UsageErrorf("unknown command %q", args[0])
}

func recursiveHelp(cmd *Command, firstCall bool) {
	cmd.usage(cmd.out, firstCall)
	fmt.Fprintln(cmd.out, strings.Repeat("=", 80))
	for _, child := range cmd.Children {
		if !firstCall && child.isDefaultHelp {
			continue
		}
		recursiveHelp(child, false)
	}
}

// Init initializes the command tree rooted at cmd.  Init must be called
// before Execute.
func (cmd *Command) Init(parent *Command, out io.Writer) {
	cmd.parent = parent
	cmd.out = out
	hasHelp := false
	for _, child := range cmd.Children {
		if child.Name == helpName {
			hasHelp = true
			break
		}
	}
	if !hasHelp && cmd.Name != helpName && len(cmd.Children) > 0 {
		cmd.Children = append(cmd.Children, newDefaultHelp())
	}
	for _, child := range cmd.Children {
		child.Init(cmd, out)
	}
}

// Execute runs the command with the given args.
func (cmd *Command) Execute(args []string) error {
	if len(args) > 0 {
		for _, child := range cmd.Children {
			if child.Name == args[0] {
				return child.Execute(args[1:])
			}
		}
	}
	if cmd.Run != nil {
		if cmd.ArgsName == "" && len(args) > 0 {
			if len(cmd.Children) > 0 {
				return cmd.UsageErrorf("unknown command %q", args[0])
			}
			return cmd.UsageErrorf("%s doesn't take any arguments", cmd.Name)
		}
		return cmd.Run(cmd, args)
	}
	switch {
	case len(cmd.Children) == 0:
		return cmd.UsageErrorf("%s: neither Children nor Run is specified", cmd.Name)
	case len(args) > 0:
		return cmd.UsageErrorf("unknown command %q", args[0])
	default:
		return cmd.UsageErrorf("no command specified")
	}
}
