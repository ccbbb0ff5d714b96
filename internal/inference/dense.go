package inference

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Dense artifact layout, all little-endian:
//
//	[magic "MLDN"] [version uint32] [inputs uint32] [outputs uint32]
//	[weights float32 x outputs*inputs, row-major] [bias float32 x outputs]
const (
	denseMagic   = "MLDN"
	denseVersion = 1
	denseHeader  = 16
	// maxDenseDim keeps a corrupt header from requesting a huge allocation.
	maxDenseDim = 1 << 16
)

var ErrBadArtifact = errors.New("inference: not a dense model artifact")

// Dense is a single fully connected layer, y = Wx + b. It is the reference
// interpreter used when no native runtime is configured.
type Dense struct {
	inputs, outputs int
	weights, bias   []float32

	input, output []byte
}

// OpenDense loads a dense artifact from disk. It satisfies Loader.
func OpenDense(path string) (Interpreter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDense(b)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func ParseDense(b []byte) (*Dense, error) {
	if len(b) < denseHeader || !bytes.Equal(b[:4], []byte(denseMagic)) {
		return nil, ErrBadArtifact
	}
	if v := binary.LittleEndian.Uint32(b[4:]); v != denseVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadArtifact, v)
	}
	in := binary.LittleEndian.Uint32(b[8:])
	out := binary.LittleEndian.Uint32(b[12:])
	if in == 0 || out == 0 || in > maxDenseDim || out > maxDenseDim {
		return nil, fmt.Errorf("%w: bad dimensions %dx%d", ErrBadArtifact, out, in)
	}
	want := denseHeader + 4*int(out)*(int(in)+1)
	if len(b) != want {
		return nil, fmt.Errorf("%w: size %d, want %d", ErrBadArtifact, len(b), want)
	}
	params, _ := FloatsFromBytes(b[denseHeader:])
	nw := int(out) * int(in)
	return &Dense{
		inputs:  int(in),
		outputs: int(out),
		weights: params[:nw],
		bias:    params[nw:],
	}, nil
}

// EncodeDense serialises a layer into the artifact format.
func EncodeDense(inputs, outputs int, weights, bias []float32) ([]byte, error) {
	if inputs <= 0 || outputs <= 0 || inputs > maxDenseDim || outputs > maxDenseDim {
		return nil, fmt.Errorf("bad dimensions %dx%d", outputs, inputs)
	}
	if len(weights) != inputs*outputs || len(bias) != outputs {
		return nil, fmt.Errorf("got %d weights and %d biases for a %dx%d layer", len(weights), len(bias), outputs, inputs)
	}
	var buf bytes.Buffer
	buf.WriteString(denseMagic)
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:], denseVersion)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(inputs))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(outputs))
	buf.Write(hdr)
	buf.Write(FloatsToBytes(weights))
	buf.Write(FloatsToBytes(bias))
	return buf.Bytes(), nil
}

func (d *Dense) AllocateTensors() error {
	d.input = make([]byte, 4*d.inputs)
	d.output = make([]byte, 4*d.outputs)
	return nil
}

func (d *Dense) CopyInput(data []byte, index int) error {
	if d.input == nil {
		return ErrNotAllocated
	}
	if index != 0 {
		return fmt.Errorf("%w: input %d", ErrTensorIndex, index)
	}
	if len(data) != len(d.input) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInputSize, len(data), len(d.input))
	}
	copy(d.input, data)
	return nil
}

func (d *Dense) Invoke() error {
	if d.input == nil {
		return ErrNotAllocated
	}
	x, _ := FloatsFromBytes(d.input)
	y := make([]float32, d.outputs)
	for o := 0; o < d.outputs; o++ {
		sum := d.bias[o]
		row := d.weights[o*d.inputs : (o+1)*d.inputs]
		for i, w := range row {
			sum += w * x[i]
		}
		y[o] = sum
	}
	copy(d.output, FloatsToBytes(y))
	return nil
}

func (d *Dense) Output(index int) ([]byte, error) {
	if d.output == nil {
		return nil, ErrNotAllocated
	}
	if index != 0 {
		return nil, fmt.Errorf("%w: output %d", ErrTensorIndex, index)
	}
	out := make([]byte, len(d.output))
	copy(out, d.output)
	return out, nil
}
