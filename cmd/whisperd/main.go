package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fmueller/whisperd/internal/cli"
	"github.com/spf13/cobra"
)

// usageErrors matches cobra's messages for mistakes on the command line,
// as opposed to failures while running a command.
var usageErrors = regexp.MustCompile(`(?i)unknown (command|flag|shorthand flag)|accepts \d+ arg|requires (at least|at most|between)|required flag|missing required`)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := cli.NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if shouldPrintUsageHint(err) {
			fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", helpHintTarget(cmd, args))
		}
		return 1
	}
	return 0
}

func shouldPrintUsageHint(err error) bool {
	if err == nil {
		return false
	}
	return usageErrors.MatchString(strings.TrimSpace(err.Error()))
}

func helpHintTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "whisperd"
	}

	target := root.CommandPath()
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return target
	}

	if found, _, err := root.Find(args); err == nil && found != nil {
		return found.CommandPath()
	}
	return target
}
