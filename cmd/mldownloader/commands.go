package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"mldownloader/internal/config"
	"mldownloader/internal/distribution"
	"mldownloader/internal/inference"
	"mldownloader/internal/lockfile"
	"mldownloader/internal/logging"
	"mldownloader/internal/metrics"
	"mldownloader/internal/session"
	"mldownloader/internal/state"
)

// app wires the stack one command needs.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	log    *logging.Logger
	st     *state.DB
	m      *metrics.Manager
	client *distribution.Client
	lock   *lockfile.LockFile
}

// openApp opens the registry and service client. Mutating commands pass
// exclusive to hold the data-root lock for the command's lifetime. Close waits
// for background refreshes until ctx is cancelled.
func openApp(ctx context.Context, c *config.Config, log *logging.Logger, exclusive bool) (*app, error) {
	a := &app{ctx: ctx, cfg: c, log: log, m: metrics.New(c)}
	if exclusive {
		lk, err := lockfile.Acquire(c.General.DataRoot)
		if err != nil {
			return nil, err
		}
		a.lock = lk
	}
	st, err := state.Open(c)
	if err != nil {
		_ = a.lock.Release()
		return nil, err
	}
	a.st = st
	client, err := distribution.NewClient(c, log, st, a.m)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client
	return a, nil
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Wait(a.ctx)
	}
	_ = a.st.Close()
	if err := a.lock.Release(); err != nil {
		a.log.Warnf("%v", err)
	}
}

func (a *app) controller(sample string) *session.Controller {
	if sample == "" {
		sample = a.cfg.Inference.SampleInput
	}
	return session.New(a.client, session.Options{
		Loader:      inference.OpenDense,
		SampleInput: sample,
		Log:         a.log,
		Metrics:     a.m,
	})
}

func handleDownload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	name := fs.String("name", "", "model name")
	policy := fs.String("policy", "", "download policy: local|background|latest (default: config download.default_policy)")
	sample := fs.String("sample", "", "sample input for the post-download inference run (default: config inference.sample_input)")
	quiet := fs.Bool("quiet", false, "suppress the progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name is required")
	}
	c, log, err := cf.load()
	if err != nil {
		return err
	}
	p := *policy
	if p == "" {
		p = c.Download.DefaultPolicy
	}
	dt, err := distribution.ParseDownloadType(p)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, c, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.controller(*sample)
	stop := func() {}
	if !*cf.jsonOut && !*quiet {
		stop = startProgress(ctrl, os.Stderr)
	}
	op := ctrl.Download(ctx, *name, dt)
	err = op.Wait(ctx)
	stop()
	s := ctrl.Snapshot()
	if err != nil {
		if s.ErrorMessage != "" {
			log.Errorf("%s", s.ErrorMessage)
		}
		return err
	}
	d := op.Diagnostics()
	if *cf.jsonOut {
		out := map[string]any{
			"name":   s.ModelName,
			"path":   s.FilePath,
			"size":   d.FileSize,
			"policy": dt.String(),
			"output": d.Output,
			"status": "ok",
		}
		if d.InferenceErr != nil {
			out["inference_error"] = d.InferenceErr.Error()
		}
		return writeJSON(out)
	}
	fmt.Fprintf(stdout, "Downloaded: %s\nPath: %s\nSize: %s\n", s.ModelName, s.FilePath, humanize.Bytes(uint64(d.FileSize)))
	switch {
	case d.InferenceErr != nil:
		fmt.Fprintf(stdout, "Inference: failed (%v)\n", d.InferenceErr)
	case d.Output != nil:
		fmt.Fprintf(stdout, "Output: %v\n", d.Output)
	}
	return nil
}

func handleDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	name := fs.String("name", "", "model name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name is required")
	}
	c, log, err := cf.load()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, c, log, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.controller("")
	if err := ctrl.Delete(ctx, *name).Wait(ctx); err != nil {
		if s := ctrl.Snapshot(); s.ErrorMessage != "" {
			log.Errorf("%s", s.ErrorMessage)
		}
		return err
	}
	if *cf.jsonOut {
		return writeJSON(map[string]any{"name": *name, "status": "deleted"})
	}
	fmt.Fprintf(stdout, "Deleted: %s\n", *name)
	return nil
}

func handleList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	match := fs.String("match", "", "fuzzy filter applied to model names")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, log, err := cf.load()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, c, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl := a.controller("")
	if err := ctrl.List(ctx).Wait(ctx); err != nil {
		return err
	}
	names := filterNames(ctrl.Snapshot().ModelNames, *match)
	if *cf.jsonOut {
		if names == nil {
			names = []string{}
		}
		return writeJSON(names)
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return nil
}

// filterNames keeps names fuzzily matching q, preserving order.
func filterNames(names []string, q string) []string {
	if q == "" {
		return names
	}
	var out []string
	for _, n := range names {
		if fuzzy.MatchNormalizedFold(q, n) {
			out = append(out, n)
		}
	}
	return out
}

func handleVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, log, err := cf.load()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, c, log, false)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.client.Verify(ctx)
	if err != nil {
		return err
	}
	failed := 0
	type row struct {
		Name   string `json:"name"`
		Path   string `json:"path"`
		SHA256 string `json:"sha256"`
		OK     bool   `json:"ok"`
		Error  string `json:"error,omitempty"`
	}
	rows := make([]row, 0, len(results))
	for _, r := range results {
		rw := row{Name: r.Name, Path: r.Path, SHA256: r.Actual, OK: r.OK()}
		if !r.OK() {
			failed++
			rw.Error = r.Err.Error()
		}
		rows = append(rows, rw)
	}
	if *cf.jsonOut {
		if err := writeJSON(rows); err != nil {
			return err
		}
	} else {
		for _, r := range rows {
			status := "ok"
			if !r.OK {
				status = "FAILED: " + r.Error
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s\n", r.Name, r.Path, status)
		}
		if st, err := a.st.GetStats(); err == nil {
			fmt.Fprintf(stdout, "%d models, %s on disk, registry %s\n", st.Models, humanize.Bytes(uint64(st.TotalBytes)), humanize.Bytes(uint64(st.DatabaseSize)))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d models failed verification", failed, len(results))
	}
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
