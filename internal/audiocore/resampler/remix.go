package resampler

import "github.com/tphakala/audiocore/internal/audiocore/format"

// Matrix is map_table[out_ch][in_ch] of remix weights.
type Matrix [][]float32

// newZeroMatrix allocates an outCh x inCh matrix of zeroes.
func newZeroMatrix(outCh, inCh int) Matrix {
	m := make(Matrix, outCh)
	for o := range m {
		m[o] = make([]float32, inCh)
	}
	return m
}

// noRemapMatrix maps input channel i to output channel i, an identity
// mapping by raw channel index rather than by channel position. Output
// channels past the input count stay silent; surplus inputs are dropped.
func noRemapMatrix(inCh, outCh int) Matrix {
	m := newZeroMatrix(outCh, inCh)
	n := inCh
	if outCh < n {
		n = outCh
	}
	for i := 0; i < n; i++ {
		m[i][i] = 1.0
	}
	return m
}

// noRemixMatrix maps by channel position only: identity where positions
// match, zero otherwise ("If no_remix is set, map by channel position").
func noRemixMatrix(in, out format.ChannelMap) Matrix {
	m := newZeroMatrix(out.Channels(), in.Channels())
	for o, op := range out.Positions {
		for i, ip := range in.Positions {
			if op == ip {
				m[o][i] = 1.0
			}
		}
	}
	return m
}

// CalcMapTable computes the full 8-step remix matrix, a direct port of
// pulsecore/resampler.c's calc_map_table.
// The steps must run in this exact order: later steps inspect the
// ic_connected/oc_connected state left by earlier ones.
func CalcMapTable(in, out format.ChannelMap, noRemap, noRemix bool) Matrix {
	inCh := in.Channels()
	outCh := out.Channels()

	if noRemap {
		return noRemapMatrix(inCh, outCh)
	}
	if noRemix {
		return noRemixMatrix(in, out)
	}

	m := newZeroMatrix(outCh, inCh)
	icConnected := make([]bool, inCh)
	ocConnected := make([]bool, outCh)

	// Step 1: identity pass by position; Mono matches everything.
	for o, op := range out.Positions {
		for i, ip := range in.Positions {
			if op == ip || op == format.PositionMono || ip == format.PositionMono {
				m[o][i] = 1.0
				icConnected[i] = true
				ocConnected[o] = true
			}
		}
	}

	// Step 2/3: unconnected left/right outputs average all same-side inputs.
	fillUnconnectedOutputBySide := func(isSide func(format.ChannelPosition) bool) {
		var sideInputs []int
		for i, ip := range in.Positions {
			if isSide(ip) {
				sideInputs = append(sideInputs, i)
			}
		}
		if len(sideInputs) == 0 {
			return
		}
		weight := float32(1.0) / float32(len(sideInputs))
		for o, op := range out.Positions {
			if ocConnected[o] || !isSide(op) {
				continue
			}
			for _, i := range sideInputs {
				m[o][i] = weight
				icConnected[i] = true
			}
			ocConnected[o] = true
		}
	}
	fillUnconnectedOutputBySide(format.ChannelPosition.IsLeft)
	fillUnconnectedOutputBySide(format.ChannelPosition.IsRight)

	// Step 4: unconnected center outputs average center inputs, else L+R.
	for o, op := range out.Positions {
		if ocConnected[o] || !op.IsCenter() {
			continue
		}
		var centerInputs []int
		for i, ip := range in.Positions {
			if ip.IsCenter() {
				centerInputs = append(centerInputs, i)
			}
		}
		if len(centerInputs) > 0 {
			weight := float32(1.0) / float32(len(centerInputs))
			for _, i := range centerInputs {
				m[o][i] = weight
				icConnected[i] = true
			}
		} else {
			var lr []int
			for i, ip := range in.Positions {
				if ip.IsLeft() || ip.IsRight() {
					lr = append(lr, i)
				}
			}
			if len(lr) > 0 {
				weight := float32(1.0) / float32(len(lr))
				for _, i := range lr {
					m[o][i] = weight
					icConnected[i] = true
				}
			}
		}
		ocConnected[o] = true
	}

	// Step 5: unconnected LFE outputs average ALL inputs; this does not
	// count as "connecting" those inputs.
	for o, op := range out.Positions {
		if ocConnected[o] || !op.IsLFE() {
			continue
		}
		if inCh > 0 {
			weight := float32(1.0) / float32(inCh)
			for i := 0; i < inCh; i++ {
				m[o][i] = weight
			}
		}
		ocConnected[o] = true
	}

	// Step 6: unconnected input left/right channels scale existing
	// connected rows on the corresponding side by 0.9 and add 0.1/n.
	foldUnconnectedInputBySide := func(isSide func(format.ChannelPosition) bool) {
		var unconnected []int
		for i, ip := range in.Positions {
			if isSide(ip) && !icConnected[i] {
				unconnected = append(unconnected, i)
			}
		}
		if len(unconnected) == 0 {
			return
		}
		add := float32(0.1) / float32(len(unconnected))
		for o, op := range out.Positions {
			if !isSide(op) {
				continue
			}
			// Scale only the entries this output already routes on this side.
			scaled := false
			for i := range m[o] {
				if icConnected[i] && isSide(in.Positions[i]) {
					m[o][i] *= 0.9
					scaled = true
				}
			}
			if !scaled {
				continue
			}
			for _, i := range unconnected {
				m[o][i] = add
			}
		}
		for _, i := range unconnected {
			icConnected[i] = true
		}
	}
	foldUnconnectedInputBySide(format.ChannelPosition.IsLeft)
	foldUnconnectedInputBySide(format.ChannelPosition.IsRight)

	// Step 7: unconnected input center folds into center outputs (0.9/0.1),
	// else into left+right (0.75/0.375).
	var unconnectedCenter []int
	for i, ip := range in.Positions {
		if ip.IsCenter() && !icConnected[i] {
			unconnectedCenter = append(unconnectedCenter, i)
		}
	}
	if len(unconnectedCenter) > 0 {
		var centerOutputs []int
		for o, op := range out.Positions {
			if op.IsCenter() {
				centerOutputs = append(centerOutputs, o)
			}
		}
		if len(centerOutputs) > 0 {
			add := float32(0.1) / float32(len(unconnectedCenter))
			for _, o := range centerOutputs {
				for i := range m[o] {
					if icConnected[i] && in.Positions[i].IsCenter() {
						m[o][i] *= 0.9
					}
				}
				for _, i := range unconnectedCenter {
					m[o][i] = add
				}
			}
		} else {
			var lrOutputs []int
			for o, op := range out.Positions {
				if op.IsLeft() || op.IsRight() {
					lrOutputs = append(lrOutputs, o)
				}
			}
			add := float32(0.375) / float32(len(unconnectedCenter))
			for _, o := range lrOutputs {
				for i := range m[o] {
					if icConnected[i] && (in.Positions[i].IsLeft() || in.Positions[i].IsRight()) {
						m[o][i] *= 0.75
					}
				}
				for _, i := range unconnectedCenter {
					m[o][i] = add
				}
			}
		}
		for _, i := range unconnectedCenter {
			icConnected[i] = true
		}
	}

	// Step 8: unconnected input LFE mixes into ALL outputs at 0.375/n, no
	// pre-scale of existing entries.
	var unconnectedLFE []int
	for i, ip := range in.Positions {
		if ip.IsLFE() && !icConnected[i] {
			unconnectedLFE = append(unconnectedLFE, i)
		}
	}
	if len(unconnectedLFE) > 0 {
		add := float32(0.375) / float32(len(unconnectedLFE))
		for o := range m {
			for _, i := range unconnectedLFE {
				m[o][i] = add
			}
		}
		for _, i := range unconnectedLFE {
			icConnected[i] = true
		}
	}

	return m
}

// Apply performs the vectorized multiply-accumulate of the matrix over one
// frame of interleaved float32 work-format samples.
func (m Matrix) Apply(inFrame []float32, outFrame []float32) {
	for o := range m {
		var sum float32
		row := m[o]
		for i, w := range row {
			if w == 0 {
				continue
			}
			sum += inFrame[i] * w
		}
		outFrame[o] = sum
	}
}

func (m Matrix) OutChannels() int {
	return len(m)
}

func (m Matrix) InChannels() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}
