// Package ml implements the DnCNN residual denoiser used by the denoise
// operation. The network predicts the noise component and the cleaned image
// is input minus prediction.
//
// Inference is plain single-threaded CPU convolution. Worker concurrency is
// governed by the queue (prefetch one per consumer), not by threading inside
// the model.
package ml

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
)

// Fixed architecture matching the trained checkpoint: 19 Conv3x3+ReLU layers
// then one Conv3x3, all with bias, no batch norm.
const (
	Channels  = 3
	NumLayers = 20
	Features  = 64
)

type convLayer struct {
	inC, outC int
	// weights laid out [outC][inC][3][3], flattened
	weights []float32
	bias    []float32
	relu    bool
}

// DnCNN is a loaded model ready for inference.
type DnCNN struct {
	layers []convLayer
}

// WeightCount returns the number of float32 parameters the fixed
// architecture expects.
func WeightCount() int {
	n := 0
	inC := Channels
	for i := 0; i < NumLayers; i++ {
		outC := Features
		if i == NumLayers-1 {
			outC = Channels
		}
		n += outC*inC*9 + outC
		inC = outC
	}
	return n
}

// New builds a model from a flat little-endian parameter stream in layer
// order: weights then bias per layer.
func New(params []float32) (*DnCNN, error) {
	if len(params) != WeightCount() {
		return nil, fmt.Errorf("op=ml.new: expected %d parameters, got %d", WeightCount(), len(params))
	}
	m := &DnCNN{layers: make([]convLayer, 0, NumLayers)}
	off := 0
	inC := Channels
	for i := 0; i < NumLayers; i++ {
		outC := Features
		if i == NumLayers-1 {
			outC = Channels
		}
		wn := outC * inC * 9
		layer := convLayer{
			inC:     inC,
			outC:    outC,
			weights: params[off : off+wn],
			bias:    params[off+wn : off+wn+outC],
			relu:    i != NumLayers-1,
		}
		off += wn + outC
		m.layers = append(m.layers, layer)
		inC = outC
	}
	return m, nil
}

// Load reads the flat float32 parameter file at path.
func Load(path string) (*DnCNN, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=ml.load path=%s: %w", path, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("op=ml.load path=%s: truncated parameter file", path)
	}
	params := make([]float32, len(raw)/4)
	for i := range params {
		params[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return New(params)
}

// Denoise runs the network over img and returns the residual-subtracted
// result clamped to [0,1] per channel.
func (m *DnCNN) Denoise(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Planes normalized to [0,1], CHW layout.
	input := make([][]float32, Channels)
	for c := range input {
		input[c] = make([]float32, w*h)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			input[0][y*w+x] = float32(r) / 65535.0
			input[1][y*w+x] = float32(g) / 65535.0
			input[2][y*w+x] = float32(bl) / 65535.0
		}
	}

	act := input
	for _, layer := range m.layers {
		act = layer.apply(act, w, h)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			out.Pix[4*i+0] = toByte(input[0][i] - act[0][i])
			out.Pix[4*i+1] = toByte(input[1][i] - act[1][i])
			out.Pix[4*i+2] = toByte(input[2][i] - act[2][i])
			out.Pix[4*i+3] = 255
		}
	}
	return out
}

// apply performs a 3x3 same-padded convolution over CHW planes.
func (l convLayer) apply(in [][]float32, w, h int) [][]float32 {
	out := make([][]float32, l.outC)
	for oc := 0; oc < l.outC; oc++ {
		plane := make([]float32, w*h)
		base := oc * l.inC * 9
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sum := l.bias[oc]
				for ic := 0; ic < l.inC; ic++ {
					kbase := base + ic*9
					src := in[ic]
					for ky := -1; ky <= 1; ky++ {
						sy := y + ky
						if sy < 0 || sy >= h {
							continue
						}
						for kx := -1; kx <= 1; kx++ {
							sx := x + kx
							if sx < 0 || sx >= w {
								continue
							}
							sum += l.weights[kbase+(ky+1)*3+(kx+1)] * src[sy*w+sx]
						}
					}
				}
				if l.relu && sum < 0 {
					sum = 0
				}
				plane[y*w+x] = sum
			}
		}
		out[oc] = plane
	}
	return out
}

func toByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(float64(v) * 255.0))
}
