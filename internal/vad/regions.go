package vad

// Region is a span of speech in sample offsets, End exclusive.
type Region struct {
	Start int64
	End   int64
}

// DetectRegions runs an Iterator window by window over a complete clip and
// returns its speech regions. A region still open at the end of the clip
// ends at len(samples).
func DetectRegions(samples []float32, cfg IteratorConfig) ([]Region, error) {
	it, err := NewIterator(cfg)
	if err != nil {
		return nil, err
	}

	total := int64(len(samples))
	var regions []Region
	var open *Region
	for offset := 0; offset+it.windowSize <= len(samples); offset += it.windowSize {
		ev, ok := it.Feed(samples[offset : offset+it.windowSize])
		if !ok {
			continue
		}
		if ev.HasStart() && open == nil {
			open = &Region{Start: ev.Start}
		}
		if ev.HasEnd() && open != nil {
			open.End = clamp(ev.End, open.Start, total)
			regions = append(regions, *open)
			open = nil
		}
	}

	if open != nil {
		open.End = total
		regions = append(regions, *open)
	}
	return regions, nil
}

// Trim returns the part of samples between the first and last speech
// region, or nil if the clip holds no speech.
func Trim(samples []float32, cfg IteratorConfig) ([]float32, int64, error) {
	regions, err := DetectRegions(samples, cfg)
	if err != nil {
		return nil, 0, err
	}
	if len(regions) == 0 {
		return nil, 0, nil
	}
	start := regions[0].Start
	end := regions[len(regions)-1].End
	return samples[start:end], start, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
