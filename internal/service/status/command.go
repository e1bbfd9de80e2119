// Package status probes the deployed site and reports recent runs. The
// bounded HTTP retries here are a diagnostic probe, not a pipeline retry
// policy.
package status

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/history"
	"github.com/pagehaul/pagehaul/internal/logger"
)

const (
	// probeRetries is the bounded retry budget of the probe.
	probeRetries = 2

	// probeTimeout bounds a single probe attempt.
	probeTimeout = 10 * time.Second

	// defaultHistoryLimit is how many recent runs are reported.
	defaultHistoryLimit = 5
)

// Options are inputs accepted by the status entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// URL overrides the probe target derived from the deploy host.
	URL string
	// Limit caps the number of reported history records.
	Limit int
}

// Run probes the deployed site and reports the most recent runs.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "status")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	probeURL := opts.URL
	if probeURL == "" && cfg.Deploy.Host != "" {
		probeURL = "http://" + cfg.Deploy.Host + "/"
	}

	if probeURL != "" {
		probe(ctx, probeURL)
	} else {
		logger.Info(ctx, "No deploy host configured, skipping probe")
	}

	return reportHistory(ctx, cfg.HistoryFile, opts.Limit)
}

// probe checks the site over HTTP and logs the outcome. An unreachable
// site is reported, not returned as an error; status is diagnostic.
func probe(ctx context.Context, probeURL string) {
	client := retryablehttp.NewClient()
	client.RetryMax = probeRetries
	client.HTTPClient.Timeout = probeTimeout
	client.Logger = nil

	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		logger.ErrorKV(ctx, "Invalid probe URL", "url", probeURL, "error", err)
		return
	}

	response, err := client.Do(request)
	if err != nil {
		logger.WarnKV(ctx, "Site unreachable", "url", probeURL, "error", err)
		return
	}

	defer func() {
		_ = response.Body.Close()
	}()

	reachable := response.StatusCode == http.StatusOK

	logger.InfoKV(ctx, lo.Ternary(reachable, "Site reachable", "Site responding abnormally"),
		"url", probeURL, "status", response.StatusCode)
}

// reportHistory logs the most recent run records.
func reportHistory(ctx context.Context, historyFile string, limit int) error {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	records, err := history.NewFileRepository(historyFile).Latest(ctx, limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		logger.Info(ctx, "No recorded runs yet")
		return nil
	}

	lines := lo.Map(records, func(record history.Record, _ int) string {
		return fmt.Sprintf("%s  started=%s  build=%s  deploy=%s  publish=%s  digest=%s",
			record.ID,
			record.StartedAt.Format(time.RFC3339),
			record.Build.Status,
			record.Deploy.Status,
			record.Publish.Status,
			record.Digest)
	})

	logger.Infof(ctx, "Recent runs:\n%s", strings.Join(lines, "\n"))

	return nil
}
