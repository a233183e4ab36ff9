package models

import "time"

// ColumnType is the inferred type of a profiled column. Inference is ordered:
// numerical > datetime > categorical > text. A column satisfying more than
// one heuristic takes the earlier type; this ordering is a contract.
type ColumnType string

const (
	ColumnNumerical   ColumnType = "numerical"
	ColumnCategorical ColumnType = "categorical"
	ColumnDatetime    ColumnType = "datetime"
	ColumnText        ColumnType = "text"
)

// ValueCount pairs a categorical value with its frequency in the sample.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// HistogramBucket is one of the 10 equal-width buckets spanning a numerical
// sample's min-max range.
type HistogramBucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// NumericStats holds statistics for numerical columns. All values are
// computed over the fetched sample, never the full table.
type NumericStats struct {
	Mean      float64           `json:"mean"`
	Std       float64           `json:"std"`
	Min       float64           `json:"min"`
	Max       float64           `json:"max"`
	Median    float64           `json:"median"`
	Q25       float64           `json:"q25"`
	Q75       float64           `json:"q75"`
	Histogram []HistogramBucket `json:"histogram"`
}

// CategoricalStats holds statistics for categorical and text columns.
type CategoricalStats struct {
	// TopValues are the 5 most frequent values, descending by count.
	TopValues []ValueCount `json:"top_values"`
	// IsEnumCandidate is set when the column looks like a closed value set:
	// distinct <= 50 and distinct < 10% of sampled rows.
	IsEnumCandidate bool `json:"is_enum_candidate,omitempty"`
}

// DatetimeStats holds the observed range for datetime columns.
type DatetimeStats struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// ColumnProfile is the statistical profile of a single column, computed from
// a bounded sample of rows.
//
// QualityScore is derived deterministically:
//
//	completeness = (1 - missing_fraction) * 100
//	quality      = round(completeness*0.7 + uniqueness*0.3), clamped to [0, 100]
//
// where uniqueness is a normalized spread measure for numerical/datetime
// columns and a normalized diversity measure for categorical/text columns.
// Tests rely on this formula verbatim.
type ColumnProfile struct {
	Name         string     `json:"name"`
	InferredType ColumnType `json:"inferred_type"`

	MissingCount int     `json:"missing_count"`
	MissingPct   float64 `json:"missing_pct"` // 0-100
	UniqueCount  int     `json:"unique_count"`
	ModeValue    string  `json:"mode_value,omitempty"`

	Numeric     *NumericStats     `json:"numeric,omitempty"`
	Categorical *CategoricalStats `json:"categorical,omitempty"`
	Datetime    *DatetimeStats    `json:"datetime,omitempty"`

	Completeness float64 `json:"completeness"` // 0-100
	Uniqueness   float64 `json:"uniqueness"`   // 0-100
	QualityScore int     `json:"quality_score"`

	// ValueFingerprint is a hash over the sorted distinct sample values,
	// surfaced as a change-detection hint for callers. The profile cache
	// itself stays purely TTL-based.
	ValueFingerprint string `json:"value_fingerprint,omitempty"`
}
