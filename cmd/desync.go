package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/rager/pkg/buildinfo"
	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/plog"
)

// RunDesync removes every mirrored entry and the details cache. The state
// file and the config are kept.
func RunDesync(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Desync, flagMap, false)
	if err != nil {
		return err
	}
	st, err := openStore(runConfig, true, nil)
	if err != nil {
		return err
	}
	unlock, err := lockStore(st)
	if err != nil {
		return err
	}
	defer unlock()

	if !runConfig.Runtime.Force {
		fmt.Fprintf(output, "This operation will permanently delete every local entry in %s.\n", st.Root())
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " desync operation canceled.")
			return nil
		}
	}

	startTime := time.Now()
	removed, err := st.DeleteAll(ctx)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" desync finished successfully.", "days_removed", removed, "duration", duration)
	return nil
}
