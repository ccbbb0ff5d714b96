package inference

import (
	"encoding/json"
	"os"
)

// ECGSample is the bundled sample input: a trace of voltages.
type ECGSample struct {
	Voltages []float64 `json:"voltages"`
}

// LoadSample reads the sample input file. An ECG JSON document is encoded as
// float32 input bytes; any other content is passed through unchanged.
func LoadSample(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s ECGSample
	if err := json.Unmarshal(b, &s); err != nil || len(s.Voltages) == 0 {
		return b, nil
	}
	v := make([]float32, len(s.Voltages))
	for i, f := range s.Voltages {
		v[i] = float32(f)
	}
	return FloatsToBytes(v), nil
}
