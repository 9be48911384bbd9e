// Package speedtest provides a collector item body: measure the
// connection against the closest server and record the result in the
// item's dataset.
package speedtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"tickler/internal/app"
	"tickler/internal/config"
	"tickler/internal/prompt"
	"tickler/internal/registry"
	logx "tickler/pkg/logx"
)

const runTimeout = 3 * time.Minute

// Factory builds the measurement body. The item needs a dataset to
// record into.
func Factory(deps app.BodyDeps, ic config.ItemConfig) (registry.Body, error) {
	if deps.Dataset == "" {
		return nil, fmt.Errorf("dataset is required for the speedtest item")
	}

	return func(ctx context.Context, _ *registry.Excursion) prompt.Result {
		res, err := measure(ctx, deps.Log)
		if err != nil {
			if ctx.Err() != nil {
				return prompt.Result{Outcome: prompt.Cancelled, Err: ctx.Err()}
			}
			// A failed measurement is not a dismissal; leave the item
			// eligible for the next pass.
			deps.Log.Warn("speedtest failed", logx.Err(err))
			return prompt.Result{Outcome: prompt.TimedOut, Err: err}
		}

		row := []string{
			fmt.Sprintf("%.2f", res.downloadMbps),
			fmt.Sprintf("%.2f", res.uploadMbps),
			fmt.Sprintf("%d", res.latency.Milliseconds()),
		}
		if err := deps.Elog.Append(deps.Dataset, row...); err != nil {
			deps.Log.Warn("dataset append failed", logx.Err(err))
			return prompt.Result{Outcome: prompt.TimedOut, Err: err}
		}
		deps.Log.Info("speedtest recorded",
			logx.Float64("download_mbps", res.downloadMbps),
			logx.Float64("upload_mbps", res.uploadMbps),
			logx.Duration("latency", res.latency))
		return prompt.Result{Outcome: prompt.Success}
	}, nil
}

type result struct {
	downloadMbps float64
	uploadMbps   float64
	latency      time.Duration
}

func measure(ctx context.Context, log logx.Logger) (*result, error) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	// A fresh client per run; the package-level default retains large
	// snapshots across runs.
	st := speedtest.New()
	defer func() {
		st.Snapshots().Clean()
		st.Reset()
	}()

	servers, err := st.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Distance < servers[j].Distance
	})
	s := servers[0]

	if err := s.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping test: %w", err)
	}
	if err := s.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := s.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	log.Debug("speedtest server",
		logx.String("sponsor", s.Sponsor),
		logx.Float64("distance_km", s.Distance))

	return &result{
		downloadMbps: s.DLSpeed.Mbps(),
		uploadMbps:   s.ULSpeed.Mbps(),
		latency:      s.Latency,
	}, nil
}
