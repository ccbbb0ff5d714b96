package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mldownloader/internal/inference"
	"mldownloader/internal/session"
)

// newFixture serves a dense model named "ecg" and writes a matching config.
func newFixture(t *testing.T) (cfgPath string, out *bytes.Buffer) {
	t.Helper()
	model, err := inference.EncodeDense(2, 1, []float32{1, 2}, []float32{0.25})
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(model)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models/ecg", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":         "ecg",
			"download_url": "/files/ecg.mldn",
			"hash":         hex.EncodeToString(sum[:]),
			"size":         len(model),
		})
	})
	mux.HandleFunc("/files/ecg.mldn", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(model)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	tmp := t.TempDir()
	sample := filepath.Join(tmp, "Voltages.json")
	if err := os.WriteFile(sample, []byte(`{"voltages":[1.0, 3.0]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := strings.Join([]string{
		"version: 1",
		"general:",
		"  data_root: \"" + filepath.Join(tmp, "data") + "\"",
		"  download_root: \"" + filepath.Join(tmp, "models") + "\"",
		"service:",
		"  base_url: \"" + ts.URL + "\"",
		"inference:",
		"  sample_input: \"" + sample + "\"",
		"logging:",
		"  level: error",
	}, "\n")
	cfgPath = filepath.Join(tmp, "config.yml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	out = &bytes.Buffer{}
	prev := stdout
	stdout = out
	t.Cleanup(func() { stdout = prev })
	return cfgPath, out
}

func TestDownloadListDeleteFlow(t *testing.T) {
	cfgPath, out := newFixture(t)
	ctx := context.Background()

	if err := run(ctx, []string{"download", "--config", cfgPath, "--name", "ecg", "--quiet"}); err != nil {
		t.Fatalf("download: %v", err)
	}
	// 1*1 + 2*3 + 0.25
	if !strings.Contains(out.String(), "Downloaded: ecg") || !strings.Contains(out.String(), "Output: [7.25]") {
		t.Fatalf("unexpected download output:\n%s", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"list", "--config", cfgPath}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out.String()) != "ecg" {
		t.Fatalf("unexpected list output: %q", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"verify", "--config", cfgPath}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out.String(), "ecg") || !strings.Contains(out.String(), "ok") {
		t.Fatalf("unexpected verify output: %q", out.String())
	}

	out.Reset()
	if err := run(ctx, []string{"delete", "--config", cfgPath, "--name", "ecg"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out.String(), "Deleted: ecg") {
		t.Fatalf("unexpected delete output: %q", out.String())
	}

	err := run(ctx, []string{"list", "--config", cfgPath})
	if !errors.Is(err, session.ErrNoModels) {
		t.Fatalf("expected ErrNoModels after delete, got %v", err)
	}
}

func TestDownloadJSONSummary(t *testing.T) {
	cfgPath, out := newFixture(t)
	if err := run(context.Background(), []string{"download", "--config", cfgPath, "--name", "ecg", "--policy", "latest", "--json"}); err != nil {
		t.Fatalf("download: %v", err)
	}
	var summary struct {
		Name   string    `json:"name"`
		Policy string    `json:"policy"`
		Output []float32 `json:"output"`
		Status string    `json:"status"`
	}
	if err := json.Unmarshal(out.Bytes(), &summary); err != nil {
		t.Fatalf("not json: %v\n%s", err, out.String())
	}
	if summary.Name != "ecg" || summary.Policy != "latest" || summary.Status != "ok" || len(summary.Output) != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCommandErrors(t *testing.T) {
	cfgPath, _ := newFixture(t)
	ctx := context.Background()
	if err := run(ctx, nil); err == nil {
		t.Fatal("expected error without command")
	}
	if err := run(ctx, []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := run(ctx, []string{"download", "--config", cfgPath}); err == nil {
		t.Fatal("expected error without --name")
	}
	if err := run(ctx, []string{"download", "--config", cfgPath, "--name", "ecg", "--policy", "sometimes"}); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if err := run(ctx, []string{"delete", "--config", cfgPath, "--name", "ecg"}); err == nil {
		t.Fatal("deleting a model that was never downloaded should fail")
	}
}

func TestFilterNames(t *testing.T) {
	names := []string{"ecg-classifier", "mobilenet", "ecg-v2"}
	got := filterNames(names, "ecg")
	if strings.Join(got, ",") != "ecg-classifier,ecg-v2" {
		t.Fatalf("unexpected filter result %v", got)
	}
	if len(filterNames(names, "")) != 3 {
		t.Fatal("empty query should keep everything")
	}
}

func TestRenderBar(t *testing.T) {
	cases := map[float32]string{
		0:   "[>         ]",
		0.5: "[=====>    ]",
		1:   "[==========]",
		2:   "[==========]",
	}
	for in, want := range cases {
		if got := renderBar(in, 10); got != want {
			t.Errorf("renderBar(%v) = %q, want %q", in, got, want)
		}
	}
}
