// Package inference is the boundary to the tensor runtime that executes a
// downloaded model artifact, plus the byte/float conversions around it.
package inference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotAllocated   = errors.New("inference: tensors not allocated")
	ErrTensorIndex    = errors.New("inference: tensor index out of range")
	ErrInputSize      = errors.New("inference: input size does not match tensor")
	ErrOutputNotFloat = errors.New("inference: output is not a float32 tensor")
)

// Interpreter executes a loaded computational graph.
type Interpreter interface {
	AllocateTensors() error
	CopyInput(data []byte, index int) error
	Invoke() error
	Output(index int) ([]byte, error)
}

// Loader opens the artifact at path and returns an interpreter for it.
type Loader func(path string) (Interpreter, error)

// Run loads the model, feeds input into slot 0, invokes it and decodes output slot 0.
func Run(load Loader, modelPath string, input []byte) ([]float32, error) {
	if load == nil {
		return nil, errors.New("inference: no loader configured")
	}
	interp, err := load(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", modelPath, err)
	}
	if err := interp.AllocateTensors(); err != nil {
		return nil, fmt.Errorf("allocate tensors: %w", err)
	}
	if err := interp.CopyInput(input, 0); err != nil {
		return nil, fmt.Errorf("copy input: %w", err)
	}
	if err := interp.Invoke(); err != nil {
		return nil, fmt.Errorf("invoke: %w", err)
	}
	raw, err := interp.Output(0)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	out, ok := FloatsFromBytes(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutputNotFloat, len(raw))
	}
	return out, nil
}

// FloatsFromBytes reinterprets b as little-endian float32 values.
// It reports false when len(b) is not a multiple of 4.
func FloatsFromBytes(b []byte) ([]float32, bool) {
	if len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

// FloatsToBytes is the inverse of FloatsFromBytes.
func FloatsToBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}
