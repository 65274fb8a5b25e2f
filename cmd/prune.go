package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/rager/pkg/buildinfo"
	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/metrics"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/search"
)

// RunPrune handles the logic for the prune command.
func RunPrune(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Prune, flagMap, false)
	if err != nil {
		return err
	}
	query, err := runConfig.SearchQuery(time.Now())
	if err != nil {
		return err
	}
	query.IncludeCached = true

	m := &metrics.SyncMetrics{}
	st, err := openStore(runConfig, true, m)
	if err != nil {
		return err
	}
	unlock, err := lockStore(st)
	if err != nil {
		return err
	}
	defer unlock()

	matches, err := search.Run(ctx, st, query)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		plog.Info("No local entries match the filter, nothing to prune")
		return nil
	}

	ids := make([]string, len(matches))
	for i, match := range matches {
		ids[i] = match.Entry.ID
	}

	if runConfig.Runtime.DryRun {
		for _, id := range ids {
			plog.Notice("[DRY RUN] DELETE", "entry", id)
		}
		plog.Info("[DRY RUN] Prune would delete entries", "count", len(ids))
		return nil
	}

	if !runConfig.Runtime.Force {
		fmt.Fprintf(output, "This operation will permanently delete %d local entries matching the filter.\n", len(ids))
		if !PromptForConfirmation("Are you sure you want to continue?", false) {
			plog.Info(buildinfo.Name + " prune operation canceled.")
			return nil
		}
	}

	startTime := time.Now()
	deleted, err := st.DeleteEntries(ctx, ids)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return fmt.Errorf("prune deleted %d of %d entries: %w", deleted, len(ids), err)
	}
	plog.Info(buildinfo.Name+" prune finished successfully.", "deleted", deleted, "duration", duration)
	return nil
}
