package detector

import (
	"math"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// checkNaN returns a *NaNError naming checkpoint if t holds any NaN.
func checkNaN(t *tensor.Dense, checkpoint string) error {
	if hasNaN(t) {
		return &NaNError{Checkpoint: checkpoint}
	}
	return nil
}

func hasNaN(t *tensor.Dense) bool {
	switch data := t.Data().(type) {
	case []float32:
		for _, v := range data {
			if math32.IsNaN(v) {
				return true
			}
		}
	case []float64:
		for _, v := range data {
			if math.IsNaN(v) {
				return true
			}
		}
	case float32:
		return math32.IsNaN(data)
	case float64:
		return math.IsNaN(data)
	}
	return false
}
