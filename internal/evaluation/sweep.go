package evaluation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quotegate/backend/internal/query"
	"github.com/quotegate/backend/pkg/logger"
)

type AlphaPoint struct {
	Alpha   float64 `json:"alpha"`
	HitRate float64 `json:"hit_rate"`
	MRR     float64 `json:"mrr"`
}

// SweepAlpha scores hybrid retrieval at alpha = 0.0, 0.1, ..., 1.0. Hit rate
// is retrieved expected ids over all expected ids; MRR is averaged over the
// records that have expected ids. It only reports and changes nothing.
func SweepAlpha(ctx context.Context, engine *query.Engine, records []Record, k int) ([]AlphaPoint, error) {
	if k <= 0 {
		k = engine.TopK()
	}

	var tuning []Record
	for _, rec := range records {
		if !rec.Unanswerable() && len(rec.ExpectedIDs) > 0 {
			tuning = append(tuning, rec)
		}
	}

	points := make([]AlphaPoint, 0, 11)
	for step := 0; step <= 10; step++ {
		alpha := float64(step) / 10

		var hits, relevant int
		var rrSum float64
		for _, rec := range tuning {
			cands, err := engine.HybridSearch(ctx, rec.Query, k, alpha)
			if err != nil {
				return nil, fmt.Errorf("failed to search %s at alpha %.1f: %w", rec.ID, alpha, err)
			}
			ids := make([]string, len(cands))
			for i, c := range cands {
				ids[i] = c.ID
			}

			top := topK(ids, k)
			for _, e := range rec.ExpectedIDs {
				if _, ok := top[e]; ok {
					hits++
				}
			}
			relevant += len(rec.ExpectedIDs)
			rrSum += ReciprocalRank(ids, rec.ExpectedIDs)
		}

		p := AlphaPoint{Alpha: alpha}
		if relevant > 0 {
			p.HitRate = round(float64(hits)/float64(relevant), 3)
		}
		if len(tuning) > 0 {
			p.MRR = round(rrSum/float64(len(tuning)), 3)
		}
		points = append(points, p)
		logger.Debug("Alpha evaluated", zap.Float64("alpha", alpha), zap.Float64("hit_rate", p.HitRate), zap.Float64("mrr", p.MRR))
	}
	return points, nil
}

// BestAlpha picks the point with the highest MRR, then hit rate, then the
// lowest alpha.
func BestAlpha(points []AlphaPoint) (AlphaPoint, bool) {
	if len(points) == 0 {
		return AlphaPoint{}, false
	}
	best := points[0]
	for _, p := range points[1:] {
		if p.MRR > best.MRR || (p.MRR == best.MRR && p.HitRate > best.HitRate) {
			best = p
		}
	}
	return best, true
}
