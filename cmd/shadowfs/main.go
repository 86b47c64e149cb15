// shadowfs mirrors a directory of record files through the write-back cache.
//
// Usage:
//
//	shadowfs init [--config PATH] [--force]
//	shadowfs start [--config PATH]
//	shadowfs sync [--config PATH] --to DIR
//	shadowfs version
//
// "start" loads every record under directory.default_directory/records_dir,
// keeps them in memory, writes them back every directory.backup_interval and
// flushes everything on SIGINT/SIGTERM. "sync" loads the same records once and
// writes them to another directory of the same backend.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"init", "write a sample configuration file", runInit},
	{"start", "load the records directory and keep it mirrored until interrupted", runStart},
	{"sync", "copy the records directory to another directory once", runSync},
	{"version", "print the version", runVersion},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}

	for _, c := range commands {
		if c.name == args[0] {
			err := c.run(args[1:])
			if errors.Is(err, pflag.ErrHelp) {
				return nil
			}
			return err
		}
	}

	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: shadowfs <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'shadowfs <command> --help' for the flags of a command.")
}

// newFlagSet creates a command flag set with the shared --config flag.
func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("shadowfs "+name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/shadowfs/config.yaml)")
	return fs
}

func runVersion(args []string) error {
	fs := pflag.NewFlagSet("shadowfs version", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Printf("shadowfs %s\n", version)
	return nil
}
