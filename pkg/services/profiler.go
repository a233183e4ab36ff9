package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// datetimeLayouts are the formats recognized during type inference, tried in
// order. A column is datetime only if every non-missing value parses.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const (
	// Categorical inference thresholds: distinct <= categoricalMaxDistinct,
	// or distinct/total < categoricalMaxRatio.
	categoricalMaxDistinct = 20
	categoricalMaxRatio    = 0.3

	// Enum candidate thresholds: distinct <= enumMaxDistinct and distinct
	// under 10% of sampled rows.
	enumMaxDistinct = 50
	enumRowFraction = 0.10

	histogramBuckets = 10
	topValueCount    = 5
)

// ColumnProfiler computes deterministic per-column statistics from a bounded
// sample of rows. All statistics describe the sample actually fetched, never
// the full table.
type ColumnProfiler struct{}

// NewColumnProfiler creates a column profiler.
func NewColumnProfiler() *ColumnProfiler {
	return &ColumnProfiler{}
}

// ProfileColumns profiles every column of a sample, in result column order.
func (p *ColumnProfiler) ProfileColumns(result *datasource.QueryExecutionResult) []models.ColumnProfile {
	profiles := make([]models.ColumnProfile, 0, len(result.Columns))
	for _, col := range result.Columns {
		values := make([]any, 0, len(result.Rows))
		for _, row := range result.Rows {
			values = append(values, row[col.Name])
		}
		profiles = append(profiles, p.ProfileColumn(col.Name, values))
	}
	return profiles
}

// ProfileColumn computes the profile for one column from its ordered sample
// values. Missing means nil; type inference follows the fixed order
// numerical > datetime > categorical > text, and the quality score follows
// the documented completeness/uniqueness formula.
func (p *ColumnProfiler) ProfileColumn(name string, values []any) models.ColumnProfile {
	total := len(values)

	var nonMissing []any
	missing := 0
	for _, v := range values {
		if v == nil {
			missing++
		} else {
			nonMissing = append(nonMissing, v)
		}
	}

	var missingPct float64
	if total > 0 {
		missingPct = float64(missing) / float64(total) * 100
	}

	strValues := make([]string, len(nonMissing))
	counts := make(map[string]int, len(nonMissing))
	for i, v := range nonMissing {
		s := stringifyValue(v)
		strValues[i] = s
		counts[s]++
	}
	uniqueCount := len(counts)

	profile := models.ColumnProfile{
		Name:             name,
		MissingCount:     missing,
		MissingPct:       missingPct,
		UniqueCount:      uniqueCount,
		ModeValue:        modeValue(counts),
		Completeness:     100 - missingPct,
		ValueFingerprint: valueFingerprint(counts),
	}

	profile.InferredType = inferType(nonMissing, uniqueCount)

	var uniqueness float64
	switch profile.InferredType {
	case models.ColumnNumerical:
		nums := make([]float64, len(nonMissing))
		for i, v := range nonMissing {
			nums[i], _ = asNumber(v)
		}
		stats := numericStats(nums)
		profile.Numeric = stats
		uniqueness = spreadUniqueness(stats.Std, stats.Min, stats.Max)

	case models.ColumnDatetime:
		times := make([]time.Time, len(nonMissing))
		secs := make([]float64, len(nonMissing))
		for i, v := range nonMissing {
			times[i], _ = asTime(v)
			secs[i] = float64(times[i].Unix())
		}
		minT, maxT := times[0], times[0]
		for _, t := range times[1:] {
			if t.Before(minT) {
				minT = t
			}
			if t.After(maxT) {
				maxT = t
			}
		}
		profile.Datetime = &models.DatetimeStats{Min: minT, Max: maxT}
		// Spread over unix seconds, same normalization as numerical columns
		s := numericStats(secs)
		uniqueness = spreadUniqueness(s.Std, s.Min, s.Max)

	case models.ColumnCategorical, models.ColumnText:
		profile.Categorical = &models.CategoricalStats{
			TopValues:       topValues(counts),
			IsEnumCandidate: isEnumCandidate(uniqueCount, total),
		}
		if len(nonMissing) > 0 {
			uniqueness = float64(uniqueCount) / float64(len(nonMissing)) * 100
		}
	}

	profile.Uniqueness = uniqueness
	profile.QualityScore = QualityScore(profile.Completeness, uniqueness)

	return profile
}

// QualityScore applies the documented formula:
// round(completeness*0.7 + uniqueness*0.3), clamped to [0, 100].
// Exported so callers can recompute a stored profile's score.
func QualityScore(completeness, uniqueness float64) int {
	score := int(math.Round(completeness*0.7 + uniqueness*0.3))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// inferType applies the ordered heuristic. A column with no non-missing
// values falls through to text; there is nothing to infer from.
func inferType(nonMissing []any, uniqueCount int) models.ColumnType {
	if len(nonMissing) == 0 {
		return models.ColumnText
	}

	allNumbers := true
	for _, v := range nonMissing {
		if _, ok := asNumber(v); !ok {
			allNumbers = false
			break
		}
	}
	if allNumbers {
		return models.ColumnNumerical
	}

	allTimes := true
	for _, v := range nonMissing {
		if _, ok := asTime(v); !ok {
			allTimes = false
			break
		}
	}
	if allTimes {
		return models.ColumnDatetime
	}

	ratio := float64(uniqueCount) / float64(len(nonMissing))
	if uniqueCount <= categoricalMaxDistinct || ratio < categoricalMaxRatio {
		return models.ColumnCategorical
	}

	return models.ColumnText
}

// asNumber reports whether a sample value is numeric, converting it.
// Strings are numeric when they parse as a float.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asTime reports whether a sample value is a timestamp, converting it.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range datetimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// stringifyValue renders a sample value for counting and display.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// modeValue returns the most frequent value; ties break to the
// lexicographically smallest value for determinism.
func modeValue(counts map[string]int) string {
	best := ""
	bestCount := 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best = v
			bestCount = c
		}
	}
	return best
}

// topValues returns the 5 most frequent values, descending by count,
// ties broken by value for determinism.
func topValues(counts map[string]int) []models.ValueCount {
	all := make([]models.ValueCount, 0, len(counts))
	for v, c := range counts {
		all = append(all, models.ValueCount{Value: v, Count: c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Value < all[j].Value
	})
	if len(all) > topValueCount {
		all = all[:topValueCount]
	}
	return all
}

// isEnumCandidate flags columns that look like a closed value set.
func isEnumCandidate(uniqueCount, totalRows int) bool {
	if totalRows == 0 || uniqueCount == 0 {
		return false
	}
	return uniqueCount <= enumMaxDistinct &&
		float64(uniqueCount) < float64(totalRows)*enumRowFraction
}

// valueFingerprint hashes the sorted distinct values, giving callers a cheap
// change-detection hint. Two samples with identical value sets fingerprint
// identically regardless of row order.
func valueFingerprint(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	distinct := make([]string, 0, len(counts))
	for v := range counts {
		distinct = append(distinct, v)
	}
	sort.Strings(distinct)

	h := sha256.New()
	for _, v := range distinct {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// numericStats computes sample statistics; std is the population standard
// deviation.
func numericStats(values []float64) *models.NumericStats {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}
	std := math.Sqrt(sqDiff / n)

	minV, maxV := sorted[0], sorted[len(sorted)-1]

	return &models.NumericStats{
		Mean:      mean,
		Std:       std,
		Min:       minV,
		Max:       maxV,
		Median:    percentile(sorted, 0.50),
		Q25:       percentile(sorted, 0.25),
		Q75:       percentile(sorted, 0.75),
		Histogram: histogram(sorted, minV, maxV),
	}
}

// percentile computes a percentile with linear interpolation over a sorted
// slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// histogram builds 10 equal-width buckets over [min, max]. The last bucket
// is inclusive of max. A constant column gets one degenerate bucket.
func histogram(sorted []float64, minV, maxV float64) []models.HistogramBucket {
	if minV == maxV {
		return []models.HistogramBucket{{Low: minV, High: maxV, Count: len(sorted)}}
	}

	width := (maxV - minV) / histogramBuckets
	buckets := make([]models.HistogramBucket, histogramBuckets)
	for i := range buckets {
		buckets[i] = models.HistogramBucket{
			Low:  minV + float64(i)*width,
			High: minV + float64(i+1)*width,
		}
	}

	for _, v := range sorted {
		idx := int((v - minV) / width)
		if idx >= histogramBuckets {
			idx = histogramBuckets - 1
		}
		buckets[idx].Count++
	}
	return buckets
}

// spreadUniqueness normalizes std by the value range, clamped to [0, 1],
// scaled to 0-100. A constant column has zero spread.
func spreadUniqueness(std, minV, maxV float64) float64 {
	if maxV == minV {
		return 0
	}
	ratio := std / (maxV - minV)
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio * 100
}
