package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mldownloader/internal/config"
)

func TestNilManagerIsNoop(t *testing.T) {
	m := New(&config.Config{})
	if m != nil {
		t.Fatal("expected nil manager when textfile metrics are disabled")
	}
	m.AddBytes(1)
	m.ObserveDownload(true, 1)
	m.IncDeletes()
	m.ObserveInference(false)
	if err := m.Write(); err != nil {
		t.Fatalf("nil Write: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "prom", "mldownloader.prom")
	cfg := &config.Config{Metrics: config.Metrics{PrometheusTextfile: config.PromTextfile{Enabled: true, Path: p}}}
	m := New(cfg)
	m.AddBytes(2048)
	m.ObserveDownload(true, 1.5)
	m.ObserveDownload(false, 0)
	m.IncDeletes()
	m.ObserveInference(true)
	m.ObserveInference(false)
	if err := m.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{
		"mldownloader_bytes_downloaded_total 2048",
		"mldownloader_downloads_success_total 1",
		"mldownloader_downloads_failed_total 1",
		"mldownloader_deletes_total 1",
		"mldownloader_inference_runs_total 2",
		"mldownloader_inference_failed_total 1",
		"mldownloader_last_download_seconds 1.500000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
