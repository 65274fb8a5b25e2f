package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/paulschiretz/rager/pkg/config"
	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/metrics"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/preflight"
	"github.com/paulschiretz/rager/pkg/store"
	"github.com/paulschiretz/rager/pkg/util"
)

const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

// output receives command results such as search matches and file content.
// Logs go through plog.
var output io.Writer = os.Stdout

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// loadRunConfig loads the config file, merges the flags over it, validates
// the result and applies the logging settings.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}, requireRemote bool) (config.Config, error) {
	path, _ := flagMap["config"].(string)
	loadedConfig, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Merge the flag values over the loaded config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(requireRemote); err != nil {
		return config.Config{}, err
	}

	// Completion output is parsed by the shell.
	if command == flagparse.Complete {
		runConfig.Runtime.Quiet = true
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetQuiet(runConfig.Runtime.Quiet)
	if runConfig.LogFile != "" {
		logFile, err := util.ExpandedAbsPath(runConfig.LogFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("log file path invalid: %w", err)
		}
		plog.SetLogFile(logFile, logFileMaxSizeMB, logFileMaxBackups)
	}

	runConfig.LogSummary(command)
	return runConfig, nil
}

// openStore resolves the sync dir and returns a store on it. With
// writable the directory is checked and created if needed.
func openStore(runConfig config.Config, writable bool, m metrics.Metrics) (*store.Store, error) {
	syncDir, err := util.ExpandedAbsPath(runConfig.SyncDir)
	if err != nil {
		return nil, fmt.Errorf("sync dir invalid: %w", err)
	}
	if writable {
		if err := preflight.CheckSyncDirSafe(syncDir); err != nil {
			return nil, err
		}
		if err := preflight.CheckSyncDirAccessible(syncDir); err != nil {
			return nil, err
		}
		if err := preflight.CheckSyncDirWritable(syncDir); err != nil {
			return nil, err
		}
	}
	return store.New(syncDir, store.Options{
		DeleteWorkers: runConfig.DeleteWorkers,
		Metrics:       m,
	}), nil
}

// lockStore takes the store lock and returns a function releasing it that
// logs instead of failing.
func lockStore(st *store.Store) (func(), error) {
	unlock, err := st.Lock()
	if err != nil {
		return nil, err
	}
	return func() {
		if err := unlock(); err != nil {
			plog.Warn("Failed to release sync dir lock", "path", st.Root(), "error", err)
		}
	}, nil
}

// PromptForConfirmation prompts the user for a yes/no response. Without a
// terminal on stdin the answer is no.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	if !stdinIsTerminal() {
		plog.Warn("Not running in a terminal, cannot ask for confirmation; use -force to skip it", "prompt", prompt)
		return false
	}

	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(output, "%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
