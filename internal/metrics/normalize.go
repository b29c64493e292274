package metrics

import "github.com/yishak-cs/meal-metrics/internal/models"

// NormalizeForProteins rescales a distribution so the available proteins sum to 1.
// Proteins outside the list are zeroed. An all-zero row becomes uniform over the list.
func NormalizeForProteins(d models.Distribution, proteins []models.Protein) models.Distribution {
	if len(proteins) == 0 {
		proteins = models.CanonicalProteins
	}

	out := make(models.Distribution, len(models.CanonicalProteins))
	for _, p := range models.CanonicalProteins {
		out[p] = 0
	}

	total := 0.0
	for _, p := range proteins {
		if v := d[p]; v > 0 {
			total += v
		}
	}

	for _, p := range proteins {
		if total > 0 {
			v := d[p]
			if v < 0 {
				v = 0
			}
			out[p] = v / total
		} else {
			out[p] = 1.0 / float64(len(proteins))
		}
	}
	return out
}
