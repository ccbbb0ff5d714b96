package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFloatsFromBytes(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []float32
		ok   bool
	}{
		{"one", []byte{0x00, 0x00, 0x80, 0x3f}, []float32{1.0}, true},
		{"two", []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xc0}, []float32{1.0, -2.0}, true},
		{"empty", []byte{}, []float32{}, true},
		{"short", []byte{0x00, 0x00, 0x80}, nil, false},
		{"ragged", []byte{0, 0, 0x80, 0x3f, 0}, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FloatsFromBytes(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				if got != nil {
					t.Fatalf("expected no result, got %v", got)
				}
				return
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestFloatsToBytesInverse(t *testing.T) {
	in := []float32{0, 1.5, -3.25, 1e-6}
	got, ok := FloatsFromBytes(FloatsToBytes(in))
	if !ok || len(got) != len(in) {
		t.Fatalf("unexpected result %v %v", got, ok)
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("index %d: %v != %v", i, got[i], in[i])
		}
	}
}

func writeDense(t *testing.T, inputs, outputs int, w, b []float32) string {
	t.Helper()
	raw, err := EncodeDense(inputs, outputs, w, b)
	if err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRunDense(t *testing.T) {
	// y0 = x0 + 2*x1 + 0.5, y1 = -x0 + x1
	p := writeDense(t, 2, 2, []float32{1, 2, -1, 1}, []float32{0.5, 0})
	out, err := Run(OpenDense, p, FloatsToBytes([]float32{3, 4}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out) != 2 || out[0] != 11.5 || out[1] != 1 {
		t.Fatalf("unexpected output %v", out)
	}
}

func TestRunErrors(t *testing.T) {
	p := writeDense(t, 2, 1, []float32{1, 1}, []float32{0})
	if _, err := Run(OpenDense, p, []byte{1, 2, 3}); !errors.Is(err, ErrInputSize) {
		t.Fatalf("expected ErrInputSize, got %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(bad, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(OpenDense, bad, nil); !errors.Is(err, ErrBadArtifact) {
		t.Fatalf("expected ErrBadArtifact, got %v", err)
	}
	if _, err := Run(nil, p, nil); err == nil {
		t.Fatal("expected error without loader")
	}
}

func TestDenseRequiresAllocation(t *testing.T) {
	raw, _ := EncodeDense(1, 1, []float32{2}, []float32{0})
	d, err := ParseDense(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.CopyInput(FloatsToBytes([]float32{1}), 0); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("expected ErrNotAllocated, got %v", err)
	}
	_ = d.AllocateTensors()
	if _, err := d.Output(1); !errors.Is(err, ErrTensorIndex) {
		t.Fatalf("expected ErrTensorIndex, got %v", err)
	}
}

func TestParseDenseRejectsTruncated(t *testing.T) {
	raw, _ := EncodeDense(3, 2, make([]float32, 6), make([]float32, 2))
	if _, err := ParseDense(raw[:len(raw)-1]); !errors.Is(err, ErrBadArtifact) {
		t.Fatalf("expected ErrBadArtifact, got %v", err)
	}
}

func TestLoadSample(t *testing.T) {
	dir := t.TempDir()
	ecg := filepath.Join(dir, "Voltages.json")
	if err := os.WriteFile(ecg, []byte(`{"voltages":[0.25,-1,2]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadSample(ecg)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := FloatsFromBytes(b)
	if !ok || len(got) != 3 || got[0] != 0.25 || got[1] != -1 || got[2] != 2 {
		t.Fatalf("unexpected sample %v", got)
	}

	raw := filepath.Join(dir, "input.raw")
	if err := os.WriteFile(raw, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}
	b, err = LoadSample(raw)
	if err != nil || len(b) != 4 || b[0] != 1 {
		t.Fatalf("raw input should pass through: %v %v", b, err)
	}
	if _, err := LoadSample(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing sample")
	}
}
