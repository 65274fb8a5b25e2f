package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/rager/pkg/buildinfo"
)

// Keys under which positional arguments are stored in the flag map.
const (
	ArgEntryID  = "entry-id"
	ArgFile     = "file"
	ArgPrefix   = "prefix"
	ArgIssueKey = "issue-key"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	Config   *string
	LogLevel *string
	LogFile  *string
	Quiet    *bool
	SyncDir  *string

	// Remote
	Server         *string
	Username       *string
	Password       *string
	RequestTimeout *int

	// Filter: Sync / Search / Prune
	OS     *string
	Before *string
	After  *string
	When   *string
	User   *string
	Any    *bool
	Unsure *bool

	// Sync specific
	Threads         *int
	SinceLastDay    *bool
	BeeperHacks     *bool
	CacheDetails    *bool
	RetryLimit      *int
	Metrics         *bool
	MetricsTextfile *string

	// Search specific
	Term    *string
	Preview *bool

	// Prune / Desync
	Force         *bool
	DryRun        *bool
	DeleteWorkers *int

	// Issue specific
	LinearToken *string
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Config = fs.String("config", "", "Path to the TOML config file. Defaults to rager.toml in the user config directory.")
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.LogFile = fs.String("log-file", "", "Also write logs to this file, rotated when it grows large.")
	f.Quiet = fs.Bool("quiet", false, "Suppress informational output.")
	f.SyncDir = fs.String("sync-dir", "", "Local directory holding the mirrored entries.")
}

func registerRemoteFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Server = fs.String("server", "", "Base URL of the rageshake server.")
	f.Username = fs.String("username", "", "Username for the rageshake server.")
	f.Password = fs.String("password", "", "Password for the rageshake server.")
	f.RequestTimeout = fs.Int("request-timeout", 30, "Timeout in seconds for a single request.")
}

func registerFilterFlags(fs *flag.FlagSet, f *cliFlags) {
	f.OS = fs.String("os", "", "Comma-separated list of platforms to select: 'ios', 'android', 'desktop', 'unknown'.")
	f.Before = fs.String("before", "", "Only select days strictly before this date (YYYY-MM-DD, 'today', 'yesterday', a weekday or free text).")
	f.After = fs.String("after", "", "Only select days strictly after this date.")
	f.When = fs.String("when", "", "Comma-separated list of days to select.")
	f.User = fs.String("user", "", "Only select entries whose user id contains this text.")
	f.Any = fs.Bool("any", false, "Select entries matching any condition instead of all of them.")
	f.Unsure = fs.Bool("unsure", true, "Select entries whose match cannot be determined.")
}

func registerSyncFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Threads = fs.Int("threads", 0, "Number of concurrent listings and downloads.")
	f.SinceLastDay = fs.Bool("since-last-day", false, "Only list days after the last fully synced day.")
	f.BeeperHacks = fs.Bool("beeper-hacks", false, "Treat entries with a console log as iOS without reading their details.")
	f.CacheDetails = fs.Bool("cache-details", false, "Keep the details of filtered entries so later runs do not fetch them again.")
	f.RetryLimit = fs.Int("retry-limit", 0, "Retry failures for at most this many extra passes (0 = until clean).")
	f.Metrics = fs.Bool("metrics", false, "Log progress and a summary of the sync counters.")
	f.MetricsTextfile = fs.String("metrics-textfile", "", "Write the sync counters to this file in Prometheus text format.")
}

func registerSearchFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Term = fs.String("term", "", "Regular expression to search for in the entry's log files.")
	f.Preview = fs.Bool("preview", false, "Print each matching line.")
}

func registerDeleteFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.DeleteWorkers = fs.Int("delete-workers", 0, "Number of worker goroutines for deleting entries.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the action and config map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)

	var desc, positional string
	switch command {
	case Sync:
		registerRemoteFlags(fs, f)
		registerFilterFlags(fs, f)
		registerSyncFlags(fs, f)
		desc = "Mirror the entries selected by the filter from the server."
	case Search:
		registerFilterFlags(fs, f)
		registerSearchFlags(fs, f)
		desc = "List local entries matching the filter and search term."
	case View:
		desc = "Print a file of a local entry. Defaults to the details file."
		positional = " <entry-id> [file]"
	case Prune:
		registerFilterFlags(fs, f)
		registerDeleteFlags(fs, f)
		f.DryRun = fs.Bool("dry-run", false, "Show what would be deleted without deleting anything.")
		desc = "Delete the local entries matching the filter."
	case Desync:
		registerDeleteFlags(fs, f)
		desc = "Delete all local entries and cached details."
	case Complete:
		desc = "Print the local entry ids starting with a prefix."
		positional = " [prefix]"
	case Issue:
		registerRemoteFlags(fs, f)
		f.LinearToken = fs.String("linear-token", "", "API token for Linear.")
		desc = "Find the entry linked from a Linear issue."
		positional = " <TEAM-123>"
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, positional, desc, fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	flagMap, err := flagsToMap(command, fs, f)
	return command, flagMap, err
}

func flagsToMap(c Command, fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "config", f.Config)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "log-file", f.LogFile)
	addIfUsed(flagMap, usedFlags, "quiet", f.Quiet)
	addIfUsed(flagMap, usedFlags, "sync-dir", f.SyncDir)

	addIfUsed(flagMap, usedFlags, "server", f.Server)
	addIfUsed(flagMap, usedFlags, "username", f.Username)
	addIfUsed(flagMap, usedFlags, "password", f.Password)
	addIfUsed(flagMap, usedFlags, "request-timeout", f.RequestTimeout)

	addIfUsed(flagMap, usedFlags, "before", f.Before)
	addIfUsed(flagMap, usedFlags, "after", f.After)
	addIfUsed(flagMap, usedFlags, "user", f.User)
	addIfUsed(flagMap, usedFlags, "any", f.Any)
	addIfUsed(flagMap, usedFlags, "unsure", f.Unsure)

	addIfUsed(flagMap, usedFlags, "threads", f.Threads)
	addIfUsed(flagMap, usedFlags, "since-last-day", f.SinceLastDay)
	addIfUsed(flagMap, usedFlags, "beeper-hacks", f.BeeperHacks)
	addIfUsed(flagMap, usedFlags, "cache-details", f.CacheDetails)
	addIfUsed(flagMap, usedFlags, "retry-limit", f.RetryLimit)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "metrics-textfile", f.MetricsTextfile)

	addIfUsed(flagMap, usedFlags, "term", f.Term)
	addIfUsed(flagMap, usedFlags, "preview", f.Preview)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "delete-workers", f.DeleteWorkers)

	addIfUsed(flagMap, usedFlags, "linear-token", f.LinearToken)

	// Handle flags that require parsing.
	addParsedIfUsed(flagMap, usedFlags, "os", f.OS, ParseList)
	addParsedIfUsed(flagMap, usedFlags, "when", f.When, ParseList)

	if err := positionalToMap(c, fs.Args(), flagMap); err != nil {
		return nil, err
	}
	return flagMap, nil
}

// positionalToMap checks the positional arguments of c and stores them under their Arg* keys.
func positionalToMap(c Command, args []string, flagMap map[string]interface{}) error {
	switch c {
	case View:
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("view expects an entry id and an optional file name, got %d arguments", len(args))
		}
		flagMap[ArgEntryID] = args[0]
		if len(args) == 2 {
			flagMap[ArgFile] = args[1]
		}
	case Complete:
		if len(args) > 1 {
			return fmt.Errorf("complete expects at most one prefix, got %d arguments", len(args))
		}
		if len(args) == 1 {
			flagMap[ArgPrefix] = args[0]
		}
	case Issue:
		if len(args) != 1 {
			return fmt.Errorf("issue expects exactly one issue key, got %d arguments", len(args))
		}
		flagMap[ArgIssueKey] = args[0]
	default:
		if len(args) > 0 {
			return fmt.Errorf("unexpected arguments for %s: %s", c, strings.Join(args, " "))
		}
	}
	return nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A local mirror and query tool for rageshake bug reports.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  sync        Mirror entries from the server\n")
	fmt.Fprintf(fs.Output(), "  search      Search the local entries\n")
	fmt.Fprintf(fs.Output(), "  view        Print a file of a local entry\n")
	fmt.Fprintf(fs.Output(), "  prune       Delete local entries matching a filter\n")
	fmt.Fprintf(fs.Output(), "  desync      Delete all local entries\n")
	fmt.Fprintf(fs.Output(), "  complete    Print local entry ids for shell completion\n")
	fmt.Fprintf(fs.Output(), "  issue       Find the entry linked from a Linear issue\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, positional, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A local mirror and query tool for rageshake bug reports.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]%s\n\n", command, execName, command, positional)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseList parses a comma-separated list such as "ios,android" or
// "2021-07-01,yesterday". Single (') and double (") quotes group items that
// contain commas or spaces and are removed from the result.
func ParseList(s string) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	for _, r := range s {
		switch {
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
