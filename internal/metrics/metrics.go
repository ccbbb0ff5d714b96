package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mldownloader/internal/config"
)

// Manager accumulates counters and writes them as a Prometheus textfile.
// A nil *Manager is valid and records nothing.
type Manager struct {
	path string
	mu   sync.Mutex

	bytesTotal       int64
	downloadsSuccess int64
	downloadsFailed  int64
	deletesTotal     int64
	inferenceRuns    int64
	inferenceFailed  int64
	lastDownloadSec  float64
}

func New(cfg *config.Config) *Manager {
	if cfg == nil || !cfg.Metrics.PrometheusTextfile.Enabled || cfg.Metrics.PrometheusTextfile.Path == "" {
		return nil
	}
	p := cfg.Metrics.PrometheusTextfile.Path
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	return &Manager{path: p}
}

func (m *Manager) AddBytes(n int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.bytesTotal += n
	m.mu.Unlock()
}

// ObserveDownload records one finished download attempt.
func (m *Manager) ObserveDownload(ok bool, sec float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.downloadsSuccess++
		m.lastDownloadSec = sec
	} else {
		m.downloadsFailed++
	}
}

func (m *Manager) IncDeletes() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deletesTotal++
	m.mu.Unlock()
}

func (m *Manager) ObserveInference(ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferenceRuns++
	if !ok {
		m.inferenceFailed++
	}
}

func (m *Manager) Write() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := os.CreateTemp(filepath.Dir(m.path), ".metrics.tmp.*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	write := func(name, kind, help string, v any) {
		fmt.Fprintf(f, "# HELP mldownloader_%s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE mldownloader_%s %s\n", name, kind)
		fmt.Fprintf(f, "mldownloader_%s %v\n", name, v)
	}
	write("bytes_downloaded_total", "counter", "Total model bytes downloaded.", m.bytesTotal)
	write("downloads_success_total", "counter", "Total successful model downloads.", m.downloadsSuccess)
	write("downloads_failed_total", "counter", "Total failed model downloads.", m.downloadsFailed)
	write("deletes_total", "counter", "Total deleted local models.", m.deletesTotal)
	write("inference_runs_total", "counter", "Total post-download inference runs.", m.inferenceRuns)
	write("inference_failed_total", "counter", "Post-download inference runs that failed.", m.inferenceFailed)
	write("last_download_seconds", "gauge", "Duration of the last completed download in seconds.", fmt.Sprintf("%.6f", m.lastDownloadSec))
	write("metrics_timestamp_seconds", "gauge", "UNIX timestamp when this file was written.", time.Now().Unix())

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), m.path)
}
