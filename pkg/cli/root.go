package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// out receives command output. Logs go to stderr through logrus.
var out io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "shopadmin-cli",
		Description: "shopadmin operator CLI",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("shopadmin-cli", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(),
		newSeedCommand(),
		newMatrixCommand(),
		newCheckCommand(),
		newGrantCommand(),
		newRevokeCommand(),
		newTokenCommand(),
		newRatingCommand(),
		newAverageCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// newCommand builds a leaf command whose flags are declared by setup and
// whose body runs after parsing.
func newCommand(name, description string, setup func(fs *flag.FlagSet) func() error) *Command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	run := setup(fs)
	return &Command{
		Name:        name,
		Description: description,
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return run()
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
