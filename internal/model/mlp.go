package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// MLPParams configures the feed-forward regressor: ReLU hidden layers, a
// linear output, squared loss with L2 penalty, optimized with Adam.
type MLPParams struct {
	Hidden       []int   `json:"hidden"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	L2           float64 `json:"l2"`
	Seed         uint64  `json:"seed"`
}

// DefaultMLPParams returns a two-hidden-layer (64, 32) network.
func DefaultMLPParams() MLPParams {
	return MLPParams{
		Hidden:       []int{64, 32},
		LearningRate: 1e-3,
		Epochs:       200,
		BatchSize:    32,
		L2:           1e-4,
		Seed:         42,
	}
}

func (p MLPParams) validate() error {
	if p.LearningRate <= 0 || p.Epochs <= 0 || p.BatchSize <= 0 || p.L2 < 0 {
		return fmt.Errorf("model: invalid mlp params %+v", p)
	}
	for _, h := range p.Hidden {
		if h <= 0 {
			return fmt.Errorf("model: mlp hidden layer sizes must be positive, got %v", p.Hidden)
		}
	}
	return nil
}

// denseLayer holds an Out x In weight matrix in row-major order.
type denseLayer struct {
	In  int       `json:"in"`
	Out int       `json:"out"`
	W   []float64 `json:"w"`
	B   []float64 `json:"b"`
}

type mlpModel struct {
	XMean  []float64    `json:"x_mean"`
	XStd   []float64    `json:"x_std"`
	YMean  float64      `json:"y_mean"`
	YStd   float64      `json:"y_std"`
	Layers []denseLayer `json:"layers"`
}

func (m *mlpModel) Predict(x []float64) float64 {
	in := make([]float64, len(x))
	for i, v := range x {
		in[i] = (v - m.XMean[i]) / m.XStd[i]
	}
	for li, l := range m.Layers {
		out := make([]float64, l.Out)
		l.forward(in, out, li < len(m.Layers)-1)
		in = out
	}
	return in[0]*m.YStd + m.YMean
}

func (m *mlpModel) validate() error {
	if len(m.Layers) == 0 || len(m.XMean) != len(m.XStd) || m.YStd == 0 {
		return fmt.Errorf("model: mlp is malformed")
	}
	prev := len(m.XMean)
	for i, l := range m.Layers {
		if l.In != prev || len(l.W) != l.In*l.Out || len(l.B) != l.Out {
			return fmt.Errorf("model: mlp layer %d is malformed", i)
		}
		prev = l.Out
	}
	if prev != 1 {
		return fmt.Errorf("model: mlp output width %d, want 1", prev)
	}
	return nil
}

func (l *denseLayer) forward(in, out []float64, relu bool) {
	for o := 0; o < l.Out; o++ {
		z := l.B[o]
		row := l.W[o*l.In : (o+1)*l.In]
		for i, v := range in {
			z += row[i] * v
		}
		if relu && z < 0 {
			z = 0
		}
		out[o] = z
	}
}

type adamState struct {
	mW, vW, mB, vB []float64
}

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

func trainMLP(ctx context.Context, p MLPParams, X [][]float64, y []float64) (*mlpModel, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	n, nIn := len(X), len(X[0])
	m := &mlpModel{}
	m.XMean, m.XStd = columnStats(X)
	m.YMean, m.YStd = mean(y), stddev(y)
	if m.YStd == 0 {
		m.YStd = 1
	}

	xs := make([][]float64, n)
	ys := make([]float64, n)
	for i := range X {
		row := make([]float64, nIn)
		for j, v := range X[i] {
			row[j] = (v - m.XMean[j]) / m.XStd[j]
		}
		xs[i] = row
		ys[i] = (y[i] - m.YMean) / m.YStd
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	sizes := append(append([]int{nIn}, p.Hidden...), 1)
	m.Layers = make([]denseLayer, len(sizes)-1)
	opt := make([]adamState, len(m.Layers))
	grads := make([]denseLayer, len(m.Layers))
	for l := range m.Layers {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2 / float64(in))
		if l == len(m.Layers)-1 {
			scale = math.Sqrt(1 / float64(in))
		}
		w := make([]float64, in*out)
		for i := range w {
			w[i] = rng.NormFloat64() * scale
		}
		m.Layers[l] = denseLayer{In: in, Out: out, W: w, B: make([]float64, out)}
		grads[l] = denseLayer{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
		opt[l] = adamState{
			mW: make([]float64, in*out), vW: make([]float64, in*out),
			mB: make([]float64, out), vB: make([]float64, out),
		}
	}

	acts := make([][]float64, len(sizes))
	deltas := make([][]float64, len(sizes))
	for i, s := range sizes {
		acts[i] = make([]float64, s)
		deltas[i] = make([]float64, s)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	step := 0
	for epoch := 0; epoch < p.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < n; start += p.BatchSize {
			batch := order[start:min(start+p.BatchSize, n)]
			for l := range grads {
				clear(grads[l].W)
				clear(grads[l].B)
			}

			for _, idx := range batch {
				copy(acts[0], xs[idx])
				for l := range m.Layers {
					m.Layers[l].forward(acts[l], acts[l+1], l < len(m.Layers)-1)
				}
				last := len(sizes) - 1
				deltas[last][0] = acts[last][0] - ys[idx]

				for l := len(m.Layers) - 1; l >= 0; l-- {
					layer, g := &m.Layers[l], &grads[l]
					din, dout := deltas[l], deltas[l+1]
					for o := 0; o < layer.Out; o++ {
						g.B[o] += dout[o]
						row := g.W[o*layer.In : (o+1)*layer.In]
						for i, a := range acts[l] {
							row[i] += dout[o] * a
						}
					}
					if l == 0 {
						continue
					}
					for i := 0; i < layer.In; i++ {
						if acts[l][i] <= 0 {
							din[i] = 0
							continue
						}
						var s float64
						for o := 0; o < layer.Out; o++ {
							s += layer.W[o*layer.In+i] * dout[o]
						}
						din[i] = s
					}
				}
			}

			step++
			inv := 1 / float64(len(batch))
			c1 := 1 - math.Pow(adamBeta1, float64(step))
			c2 := 1 - math.Pow(adamBeta2, float64(step))
			for l := range m.Layers {
				layer, g, st := &m.Layers[l], &grads[l], &opt[l]
				for i := range layer.W {
					gw := g.W[i]*inv + p.L2*layer.W[i]
					layer.W[i] -= adamStep(&st.mW[i], &st.vW[i], gw, p.LearningRate, c1, c2)
				}
				for i := range layer.B {
					layer.B[i] -= adamStep(&st.mB[i], &st.vB[i], g.B[i]*inv, p.LearningRate, c1, c2)
				}
			}
		}
	}
	return m, nil
}

func adamStep(m, v *float64, g, lr, c1, c2 float64) float64 {
	*m = adamBeta1*(*m) + (1-adamBeta1)*g
	*v = adamBeta2*(*v) + (1-adamBeta2)*g*g
	return lr * (*m / c1) / (math.Sqrt(*v/c2) + adamEpsilon)
}

// columnStats returns per-column mean and standard deviation; constant
// columns get a unit deviation so they standardize to zero.
func columnStats(X [][]float64) ([]float64, []float64) {
	cols := len(X[0])
	means := make([]float64, cols)
	stds := make([]float64, cols)
	for _, row := range X {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(len(X))
	}
	for _, row := range X {
		for j, v := range row {
			d := v - means[j]
			stds[j] += d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / float64(len(X)))
		if stds[j] == 0 {
			stds[j] = 1
		}
	}
	return means, stds
}
