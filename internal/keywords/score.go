package keywords

import "math"

// Score fills ValueScore for every record in place.
//
// Both numeric columns are standardized with statistics taken only from
// non-imputed rows, shifted so their minimum is zero, then combined as
// (volume+1)/(competitors+1). With fewer than two non-imputed rows both
// columns scale to zero and every record scores 1.
func Score(records []Record) {
	if len(records) == 0 {
		return
	}
	vol := make([]float64, len(records))
	comp := make([]float64, len(records))
	var fitVol, fitComp []float64
	for i, r := range records {
		vol[i] = float64(r.SearchVolume)
		comp[i] = float64(r.CompetingProducts)
		if !r.IsImputed {
			fitVol = append(fitVol, vol[i])
			fitComp = append(fitComp, comp[i])
		}
	}
	if len(fitVol) > 1 {
		standardize(vol, fitVol)
		standardize(comp, fitComp)
		shiftToZero(vol)
		shiftToZero(comp)
	} else {
		zero(vol)
		zero(comp)
	}
	for i := range records {
		records[i].ValueScore = (vol[i] + 1) / (comp[i] + 1)
	}
}

func standardize(values, fit []float64) {
	m := mean(fit)
	variance := 0.0
	for _, v := range fit {
		variance += (v - m) * (v - m)
	}
	std := math.Sqrt(variance / float64(len(fit)))
	if std == 0 {
		std = 1
	}
	for i, v := range values {
		values[i] = (v - m) / std
	}
}

func shiftToZero(values []float64) {
	lowest := math.Inf(1)
	for _, v := range values {
		lowest = math.Min(lowest, v)
	}
	for i := range values {
		values[i] -= lowest
	}
}

func zero(values []float64) {
	for i := range values {
		values[i] = 0
	}
}
