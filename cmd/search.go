package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/plog"
	"github.com/paulschiretz/rager/pkg/search"
)

// RunSearch handles the logic for the search command.
func RunSearch(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Search, flagMap, false)
	if err != nil {
		return err
	}
	query, err := runConfig.SearchQuery(time.Now())
	if err != nil {
		return err
	}
	st, err := openStore(runConfig, false, nil)
	if err != nil {
		return err
	}

	matches, err := search.Run(ctx, st, query)
	if err != nil {
		return err
	}

	renderer := search.NewRenderer(output)
	for _, m := range matches {
		renderer.Match(m, runConfig.Runtime.Preview)
	}
	plog.Debug("Search finished", "matches", len(matches), "filter", query.Filter.Describe())
	return nil
}
