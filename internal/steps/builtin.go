// Package steps provides the step bodies the orchestrator can run: the
// built-in prepare and summary steps and the external command step that
// wraps every provider-facing script.
package steps

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/contenta/internal/artifact"
	"github.com/kingrea/contenta/internal/step"
)

// Step kinds understood by RegisterBuiltins.
const (
	KindPrepare = "prepare"
	KindSummary = "summary"
	KindCommand = "command"
)

// RegisterBuiltins installs the factories for every kind in this package.
// Command steps look up their scripts in scriptsDir.
func RegisterBuiltins(reg *step.Registry, scriptsDir string) error {
	factories := map[string]step.Factory{
		KindPrepare: func(step.Descriptor) (step.Executable, error) { return &Prepare{}, nil },
		KindSummary: func(step.Descriptor) (step.Executable, error) { return &Summary{}, nil },
		KindCommand: CommandFactory(scriptsDir),
	}
	for _, kind := range []string{KindPrepare, KindSummary, KindCommand} {
		if err := reg.RegisterKind(kind, factories[kind]); err != nil {
			return err
		}
	}
	return nil
}

// SiteURL builds <scheme>://<domain> from the config and job.
func SiteURL(sc *step.Context) string {
	scheme := "https"
	if sc.Config != nil {
		scheme = sc.Config.String("site.scheme", "https")
	}
	return scheme + "://" + sc.Job.Domain()
}

// Prepare normalizes the confirmed job data into config/processed_data.json.
type Prepare struct {
	Clock func() time.Time
}

// Run implements step.Executable.
func (p *Prepare) Run(_ context.Context, sc *step.Context) (step.Result, error) {
	if sc.Job == nil || sc.Job.Confirmed == nil {
		return step.Failed(fmt.Errorf("prepare: job has no confirmed data")), nil
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	record := map[string]any{}
	for key, value := range sc.Job.Confirmed.Extra {
		record[key] = value
	}
	siteURL := SiteURL(sc)
	record["job_id"] = sc.Job.ID
	record["website_name"] = strings.TrimSpace(sc.Job.Confirmed.WebsiteName)
	record["domain"] = strings.ToLower(strings.TrimSpace(sc.Job.Confirmed.Domain))
	record["user_email"] = strings.TrimSpace(sc.Job.Confirmed.UserEmail)
	record["site_url"] = siteURL
	record["created_at"] = clock().UTC().Format(time.RFC3339)
	if err := sc.Workspace.WriteJSON(artifact.ProcessedData, record); err != nil {
		return step.Failed(err), nil
	}
	if sc.Job.Defaulted {
		sc.Log.Warn("job %s has no job file; processed data built from the default stub", sc.Job.ID)
	}
	sc.Log.Info("processed data written for %s (%s)", record["website_name"], record["domain"])
	return step.Success(map[string]any{
		"processed_data": sc.Workspace.Path(artifact.ProcessedData),
		"site_url":       siteURL,
	}), nil
}

// Summary reports the finished site and the artifacts the run left behind.
type Summary struct{}

// Run implements step.Executable.
func (Summary) Run(_ context.Context, sc *step.Context) (step.Result, error) {
	var processed map[string]any
	if err := sc.Workspace.ReadJSON(artifact.ProcessedData, &processed); err != nil {
		return step.Failed(err), nil
	}
	siteURL, _ := processed["site_url"].(string)
	if siteURL == "" {
		siteURL = SiteURL(sc)
	}
	artifacts, err := listJSON(sc.Workspace)
	if err != nil {
		return step.Failed(err), nil
	}
	for _, name := range artifacts {
		sc.Log.Info("artifact: %s", name)
	}
	sc.Log.Info("site: %v (%s)", processed["website_name"], siteURL)
	return step.Success(map[string]any{
		"site_url":  siteURL,
		"artifacts": artifacts,
	}), nil
}

func listJSON(ws *artifact.Workspace) ([]string, error) {
	entries, err := os.ReadDir(ws.Path(artifact.DirJSON))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("summary: list artifacts: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, artifact.DirJSON+"/"+entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
