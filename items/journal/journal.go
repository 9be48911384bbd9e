// Package journal provides the generic prompt item body: ask the
// configured question, log the answer to the item's dataset.
package journal

import (
	"context"
	"fmt"
	"time"

	"tickler/internal/app"
	"tickler/internal/config"
	"tickler/internal/eventlog"
	"tickler/internal/prompt"
	"tickler/internal/registry"
	logx "tickler/pkg/logx"
)

// Factory builds a prompt-and-record body from an item declaration.
func Factory(deps app.BodyDeps, ic config.ItemConfig) (registry.Body, error) {
	text := ic.Text
	if text == "" {
		return nil, fmt.Errorf("text is required for prompt items")
	}

	return func(ctx context.Context, _ *registry.Excursion) prompt.Result {
		res := deps.Prompter.Ask(ctx, prompt.Question{Item: ic.FN, Text: text})
		if res.Outcome != prompt.Success || deps.Dataset == "" {
			return res
		}

		// Items resolved by embedded datestamp need it in the row;
		// posted-time items carry only the answer.
		fields := []string{res.Answer}
		if !ic.LookupPostedTime {
			fields = append([]string{eventlog.Day(time.Now())}, fields...)
		}
		if err := deps.Elog.Append(deps.Dataset, fields...); err != nil {
			deps.Log.Warn("dataset append failed", logx.Err(err))
			res.Err = err
		}
		return res
	}, nil
}
