// ABOUTME: Streaming resampler for interleaved float32 audio
// ABOUTME: Carries interpolation history across spans so output has no seams
package resample

import (
	"fmt"
	"math"

	"github.com/Resonate-Protocol/resonate-direct/pkg/audio"
)

const (
	QualityLinear = 0
	QualityCubic  = 1

	// historyFrames is the context kept from the previous span. The output
	// lags the input by two frames so cubic taps never read past the span.
	historyFrames = 3
)

// Resampler converts between two fixed sample rates
type Resampler struct {
	channels   int
	inputRate  int
	outputRate int
	quality    int

	// ext holds history frames followed by the current span
	ext []float32
}

// New creates a resampler for channels interleaved channels
func New(channels, inputRate, outputRate, quality int) (*Resampler, error) {
	if channels <= 0 || inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("%w: resampler %dch %d->%d", audio.ErrInvalidParam, channels, inputRate, outputRate)
	}
	return &Resampler{
		channels:   channels,
		inputRate:  inputRate,
		outputRate: outputRate,
		quality:    quality,
		ext:        make([]float32, historyFrames*channels),
	}, nil
}

// Channels returns the interleaved channel count
func (r *Resampler) Channels() int { return r.channels }

// InputRate returns the source rate
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the destination rate
func (r *Resampler) OutputRate() int { return r.outputRate }

// OutputSamples returns the number of output samples Process produces for
// inputSamples interleaved input samples
func (r *Resampler) OutputSamples(inputSamples int) int {
	frames := inputSamples / r.channels
	out := int(math.Round(float64(frames) * float64(r.outputRate) / float64(r.inputRate)))
	return out * r.channels
}

// Process resamples src into dst. dst must hold exactly OutputSamples(len(src)).
func (r *Resampler) Process(src, dst []float32) error {
	if len(src)%r.channels != 0 || len(dst)%r.channels != 0 {
		return fmt.Errorf("%w: src %d dst %d channels %d", audio.ErrInvalidDstSize, len(src), len(dst), r.channels)
	}
	if len(dst) != r.OutputSamples(len(src)) {
		return fmt.Errorf("%w: want %d samples, got %d", audio.ErrInvalidDstSize, r.OutputSamples(len(src)), len(dst))
	}
	if len(src) == 0 {
		return nil
	}

	if r.inputRate == r.outputRate {
		copy(dst, src)
		r.keepHistory(src)
		return nil
	}

	ch := r.channels
	hist := historyFrames * ch
	need := hist + len(src)
	if cap(r.ext) < need {
		grown := make([]float32, need)
		copy(grown, r.ext[:hist])
		r.ext = grown
	}
	r.ext = r.ext[:need]
	copy(r.ext[hist:], src)

	inFrames := len(src) / ch
	outFrames := len(dst) / ch
	step := float64(inFrames) / float64(outFrames)

	for j := 0; j < outFrames; j++ {
		pos := float64(j) * step
		base := int(pos)
		frac := float32(pos - float64(base))
		i := base + 1 // two frames of latency into ext

		for c := 0; c < ch; c++ {
			y1 := r.ext[i*ch+c]
			y2 := r.ext[(i+1)*ch+c]
			if r.quality == QualityLinear {
				dst[j*ch+c] = y1 + (y2-y1)*frac
				continue
			}
			y0 := r.ext[(i-1)*ch+c]
			y3 := r.ext[(i+2)*ch+c]
			dst[j*ch+c] = catmullRom(y0, y1, y2, y3, frac)
		}
	}

	copy(r.ext[:hist], r.ext[need-hist:need])
	return nil
}

// Reset clears the carried history
func (r *Resampler) Reset() {
	for i := range r.ext {
		r.ext[i] = 0
	}
}

func (r *Resampler) keepHistory(src []float32) {
	hist := historyFrames * r.channels
	if len(src) >= hist {
		copy(r.ext[:hist], src[len(src)-hist:])
		return
	}
	shift := len(src)
	copy(r.ext[:hist-shift], r.ext[shift:hist])
	copy(r.ext[hist-shift:hist], src)
}

// catmullRom interpolates between y1 and y2 at x in [0, 1)
func catmullRom(y0, y1, y2, y3, x float32) float32 {
	a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
	a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
	a2 := -0.5*y0 + 0.5*y2
	a3 := y1

	return a0*x*x*x + a1*x*x + a2*x + a3
}
