package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/paulschiretz/rager/pkg/buildinfo"
	"github.com/paulschiretz/rager/pkg/config"
	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/metrics"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/remote"
	"github.com/paulschiretz/rager/pkg/syncer"
)

const syncProgressInterval = 10 * time.Second

// RunSync handles the logic for the sync command.
func RunSync(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Sync, flagMap, true)
	if err != nil {
		return err
	}

	client, err := remote.New(runConfig.RemoteOptions())
	if err != nil {
		if errors.Is(err, remote.ErrMissingCredentials) {
			return &config.ConfigError{Field: "server", Err: err}
		}
		return err
	}

	var m metrics.Metrics = &metrics.NoopMetrics{}
	var syncMetrics *metrics.SyncMetrics
	if runConfig.Metrics || runConfig.MetricsTextfile != "" {
		syncMetrics = &metrics.SyncMetrics{}
		m = syncMetrics
	}

	st, err := openStore(runConfig, true, m)
	if err != nil {
		return err
	}
	unlock, err := lockStore(st)
	if err != nil {
		return err
	}
	defer unlock()

	lastDay, _, err := st.ReadLastSyncDay()
	if err != nil {
		return err
	}

	startTime := time.Now()
	opts, err := runConfig.SyncOptions(startTime)
	if err != nil {
		return err
	}
	opts.Metrics = m
	if runConfig.Metrics {
		opts.ProgressInterval = syncProgressInterval
	}

	report, newState, runErr := syncer.New(client, st, opts).Run(ctx, syncer.State{LastSyncedDay: lastDay})

	if !newState.LastSyncedDay.Equal(lastDay) {
		if err := st.WriteLastSyncDay(newState.LastSyncedDay); err != nil {
			plog.Warn("Failed to persist last synced day", "day", newState.LastSyncedDay, "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}
	if syncMetrics != nil && runConfig.MetricsTextfile != "" {
		if err := syncMetrics.WriteTextfile(runConfig.MetricsTextfile); err != nil {
			plog.Warn("Failed to write metrics textfile", "path", runConfig.MetricsTextfile, "error", err)
		}
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	if runErr != nil {
		plog.Warn(buildinfo.Name+" sync did not complete",
			"passes", report.Passes,
			"downloaded", report.Downloaded,
			"present", report.Skipped,
			"filtered", report.Filtered,
			"failed", report.Failed,
			"failed_ids", report.FailedIDs,
			"failed_days", report.FailedDays,
			"index_failed", report.IndexFailed,
			"duration", duration)
		return runErr
	}
	plog.Info(buildinfo.Name+" sync finished successfully.",
		"passes", report.Passes,
		"downloaded", report.Downloaded,
		"present", report.Skipped,
		"filtered", report.Filtered,
		"cached", report.Cached,
		"duration", duration)
	return nil
}
