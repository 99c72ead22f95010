package score

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/autopeq/internal/curve"
)

// Weights of the Olive loudspeaker preference model
const (
	speakerIntercept = 12.69
	nbdOnWeight      = 2.49
	nbdPIRWeight     = 2.99
	lfxWeight        = 4.31
	smPIRWeight      = 2.32

	nbdMinFreq = 100.0
	nbdMaxFreq = 12000.0
	smMinFreq  = 100.0
	smMaxFreq  = 16000.0
	refMinFreq = 300.0
	refMaxFreq = 10000.0
	lfxMaxFreq = 300.0
)

// SpeakerComponents are the terms of the loudspeaker model
type SpeakerComponents struct {
	NBDOn  float64 `json:"nbd_on"`
	NBDPIR float64 `json:"nbd_pir"`
	LFX    float64 `json:"lfx"`
	SMPIR  float64 `json:"sm_pir"`
}

// Penalty is the weighted terms with smoothness inverted; lower is better
func (c SpeakerComponents) Penalty() float64 {
	return nbdOnWeight*c.NBDOn + nbdPIRWeight*c.NBDPIR + lfxWeight*c.LFX + smPIRWeight*(1-c.SMPIR)
}

// Score is the predicted preference rating
func (c SpeakerComponents) Score() float64 {
	return speakerIntercept - nbdOnWeight*c.NBDOn - nbdPIRWeight*c.NBDPIR - lfxWeight*c.LFX + smPIRWeight*c.SMPIR
}

// SpeakerModel evaluates the loudspeaker model on a fixed grid
type SpeakerModel struct {
	freq     []float64
	bands    [][2]int
	smLo     int
	smHi     int
	smX      []float64
	refLo    int
	refHi    int
	lfxLimit int
	lfxFloor float64
}

// NewSpeakerModel prepares the model for an increasing frequency grid.
// Narrow-band deviation is measured over half-octave bands from 100 Hz.
func NewSpeakerModel(freq []float64) (*SpeakerModel, error) {
	m := &SpeakerModel{freq: append([]float64(nil), freq...)}
	for lo := nbdMinFreq; lo < nbdMaxFreq; lo *= math.Sqrt2 {
		a, b := indexRange(freq, lo, math.Min(lo*math.Sqrt2, nbdMaxFreq))
		if b-a >= 1 {
			m.bands = append(m.bands, [2]int{a, b})
		}
	}
	m.smLo, m.smHi = indexRange(freq, smMinFreq, smMaxFreq)
	m.refLo, m.refHi = indexRange(freq, refMinFreq, refMaxFreq)
	if len(m.bands) == 0 || m.smHi-m.smLo < 3 || m.refHi <= m.refLo {
		return nil, ErrInsufficientData
	}
	m.smX = log10s(freq[m.smLo:m.smHi])
	_, m.lfxLimit = indexRange(freq, 0, lfxMaxFreq)
	m.lfxFloor = math.Log10(freq[0])
	return m, nil
}

// nbd is the mean over bands of the mean absolute deviation from the band mean
func (m *SpeakerModel) nbd(spl []float64) float64 {
	total := 0.0
	for _, b := range m.bands {
		y := spl[b[0]:b[1]]
		mean := stat.Mean(y, nil)
		dev := 0.0
		for _, v := range y {
			dev += math.Abs(v - mean)
		}
		total += dev / float64(len(y))
	}
	return total / float64(len(m.bands))
}

// sm is the coefficient of determination of a straight-line fit over log
// frequency.
func (m *SpeakerModel) sm(spl []float64) float64 {
	y := spl[m.smLo:m.smHi]
	alpha, beta := stat.LinearRegression(m.smX, y, nil, false)
	r2 := stat.RSquared(m.smX, y, nil, alpha, beta)
	if math.IsNaN(r2) {
		// a perfectly flat line has no variance to explain
		return 1
	}
	return r2
}

// lfx is log10 of the first frequency, scanning down from 300 Hz, where the
// sound power falls 6 dB below the on-axis reference level.
func (m *SpeakerModel) lfx(on, sp []float64) float64 {
	ref := stat.Mean(on[m.refLo:m.refHi], nil) - 6
	for i := m.lfxLimit - 1; i >= 0; i-- {
		if sp[i] < ref {
			return math.Log10(m.freq[i])
		}
	}
	return m.lfxFloor
}

// Components computes the model terms. pir and sp may be nil, in which case
// on stands in for them.
func (m *SpeakerModel) Components(on, pir, sp []float64) SpeakerComponents {
	if pir == nil {
		pir = on
	}
	if sp == nil {
		sp = on
	}
	return SpeakerComponents{
		NBDOn:  m.nbd(on),
		NBDPIR: m.nbd(pir),
		LFX:    m.lfx(on, sp),
		SMPIR:  m.sm(pir),
	}
}

// Speaker rates a loudspeaker from its spin curves
type Speaker struct{}

// Name implements Scorer
func (Speaker) Name() string { return "speaker" }

// Score implements Scorer
func (Speaker) Score(in Input) (float64, error) {
	if in.Response == nil {
		return 0, ErrInsufficientData
	}
	freq := in.Response.Freq()
	m, err := NewSpeakerModel(freq)
	if err != nil {
		return 0, err
	}
	onGrid := func(c *curve.Curve) []float64 {
		if c == nil {
			return nil
		}
		out := make([]float64, len(freq))
		for i, f := range freq {
			out[i] = c.At(f)
		}
		return out
	}
	return m.Components(in.Response.SPL(), onGrid(in.PIR), onGrid(in.SoundPower)).Score(), nil
}
