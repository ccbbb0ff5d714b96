package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `version: 1
general:
  data_root: "${TMPROOT}/data"
  download_root: "${TMPROOT}/models"
service:
  base_url: "http://127.0.0.1:8080"
  timeout_seconds: 30
  token_env: "MLDOWNLOADER_TEST_TOKEN"
download:
  default_policy: latest
inference:
  sample_input: "${TMPROOT}/Voltages.json"
logging:
  level: debug
  format: json
`

func TestLoadSampleConfig(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPROOT", tmp)
	path := filepath.Join(tmp, "config.yml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("expected version 1, got %d", c.Version)
	}
	if c.General.DataRoot != tmp+"/data" || c.General.DownloadRoot != tmp+"/models" {
		t.Fatalf("env placeholders not expanded: %+v", c.General)
	}
	if c.Download.DefaultPolicy != "latest" {
		t.Fatalf("default policy = %q", c.Download.DefaultPolicy)
	}
	if c.Inference.SampleInput != tmp+"/Voltages.json" {
		t.Fatalf("sample input = %q", c.Inference.SampleInput)
	}
}

func TestToken(t *testing.T) {
	t.Setenv("TMPROOT", t.TempDir())
	t.Setenv("MLDOWNLOADER_TEST_TOKEN", " secret ")
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Token(); got != "secret" {
		t.Fatalf("Token() = %q", got)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		edit func(string) string
		want string
	}{
		{"version", func(s string) string { return strings.Replace(s, "version: 1", "version: 2", 1) }, "version"},
		{"base url", func(s string) string { return strings.Replace(s, "http://127.0.0.1:8080", "ftp://x", 1) }, "base_url"},
		{"policy", func(s string) string { return strings.Replace(s, "default_policy: latest", "default_policy: never", 1) }, "default_policy"},
		{"level", func(s string) string { return strings.Replace(s, "level: debug", "level: loud", 1) }, "logging.level"},
		{"format", func(s string) string { return strings.Replace(s, "format: json", "format: xml", 1) }, "logging.format"},
	}
	t.Setenv("TMPROOT", t.TempDir())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.edit(sampleYAML)))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestValidateDetailedWarnings(t *testing.T) {
	t.Setenv("MLDOWNLOADER_UNSET_TOKEN", "")
	c := &Config{
		Version: 1,
		General: General{DataRoot: "/tmp/x", DownloadRoot: "/tmp/x"},
		Service: Service{BaseURL: "http://models.local", TimeoutSeconds: 7200, TokenEnv: "MLDOWNLOADER_UNSET_TOKEN"},
		Inference: Inference{SampleInput: "/definitely/not/here.json"},
	}
	issues := c.ValidateDetailed()
	fields := map[string]bool{}
	for _, i := range issues {
		fields[i.Field] = true
	}
	for _, want := range []string{"service.timeout_seconds", "service.base_url", "service.token_env", "inference.sample_input", "general.download_root"} {
		if !fields[want] {
			t.Errorf("missing warning for %s (got %v)", want, fields)
		}
	}
	out := FormatValidationErrors(issues)
	if !strings.HasPrefix(out, "1. ") || !strings.Contains(out, "export MLDOWNLOADER_UNSET_TOKEN") {
		t.Fatalf("unexpected rendering:\n%s", out)
	}

	clean := &Config{Version: 1, General: General{DataRoot: "/a", DownloadRoot: "/b"}, Service: Service{BaseURL: "https://m"}}
	if got := clean.ValidateDetailed(); len(got) != 0 {
		t.Fatalf("expected no warnings, got %+v", got)
	}
}
