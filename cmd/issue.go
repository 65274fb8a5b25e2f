package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/rager/pkg/flagparse"
	"github.com/paulschiretz/rager/pkg/linear"
)

// linearEndpoint is replaced in tests.
var linearEndpoint = linear.DefaultEndpoint

// RunIssue looks up a Linear issue, finds the entry its description links
// to and reports whether that entry is mirrored locally.
func RunIssue(ctx context.Context, flagMap map[string]interface{}) error {
	key, ok := flagMap[flagparse.ArgIssueKey].(string)
	if !ok || key == "" {
		return fmt.Errorf("an issue key is required to run issue")
	}

	runConfig, err := loadRunConfig(flagparse.Issue, flagMap, false)
	if err != nil {
		return err
	}
	if err := runConfig.ValidateIssueLookup(); err != nil {
		return err
	}

	client, err := linear.New(linear.Options{
		Token:    runConfig.LinearToken,
		Endpoint: linearEndpoint,
		Timeout:  time.Duration(runConfig.RequestTimeout) * time.Second,
	})
	if err != nil {
		return err
	}
	issue, id, err := client.FindEntry(ctx, key, runConfig.Server)
	if err != nil {
		return fmt.Errorf("issue %s: %w", key, err)
	}

	st, err := openStore(runConfig, false, nil)
	if err != nil {
		return err
	}
	presence := "not synced"
	switch {
	case st.HasEntry(id):
		presence = "synced"
	case st.HasCachedMetadata(id):
		presence = "filtered, details cached"
	}
	fmt.Fprintf(output, "%s %s\n%s (%s)\n", issue.Identifier, issue.Title, id, presence)
	return nil
}
