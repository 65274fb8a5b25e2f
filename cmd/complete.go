package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/search"
)

// RunComplete prints the ids of local entries starting with the given
// prefix, one per line, for shell completion.
func RunComplete(ctx context.Context, flagMap map[string]interface{}) error {
	prefix, _ := flagMap[flagparse.ArgPrefix].(string)

	runConfig, err := loadRunConfig(flagparse.Complete, flagMap, false)
	if err != nil {
		return err
	}
	st, err := openStore(runConfig, false, nil)
	if err != nil {
		return err
	}

	ids, err := search.CompleteIDs(st, prefix)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(output, id)
	}
	return nil
}
