package models

import (
	"time"
)

// Metadata is carried by every record regardless of its kind.
type Metadata struct {
	ID           string    `json:"id,omitempty"`
	DataOrigin   string    `json:"data_origin,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

func (m Metadata) Meta() Metadata {
	return m
}

// SetMeta replaces the metadata in place. It is promoted to pointers of
// every record kind, which lets stores stamp ids on insert.
func (m *Metadata) SetMeta(md Metadata) {
	*m = md
}

// MetaSetter is implemented by pointers to records.
type MetaSetter interface {
	SetMeta(Metadata)
}

// Record is a single health measurement as stored by the platform.
type Record interface {
	Meta() Metadata
	// StartTime reports when the measurement began; ok is false when the
	// record has no start time.
	StartTime() (t time.Time, ok bool)
}

// Instant is embedded by records sampled at a single point in time.
type Instant struct {
	Time time.Time `json:"time"`
}

func (i Instant) StartTime() (time.Time, bool) {
	return i.Time, !i.Time.IsZero()
}

// Interval is embedded by records spanning a period of time.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) StartTime() (time.Time, bool) {
	return i.Start, !i.Start.IsZero()
}

type Steps struct {
	Metadata
	Interval
	Count int64 `json:"count"`
}

type Distance struct {
	Metadata
	Interval
	Meters float64 `json:"meters"`
}

type ActiveCaloriesBurned struct {
	Metadata
	Interval
	Kilocalories float64 `json:"kilocalories"`
}

type TotalCaloriesBurned struct {
	Metadata
	Interval
	Kilocalories float64 `json:"kilocalories"`
}

type HeartRateSample struct {
	Time           time.Time `json:"time"`
	BeatsPerMinute int64     `json:"bpm"`
}

type HeartRate struct {
	Metadata
	Interval
	Samples []HeartRateSample `json:"samples"`
}

type RestingHeartRate struct {
	Metadata
	Instant
	BeatsPerMinute int64 `json:"bpm"`
}

type Weight struct {
	Metadata
	Instant
	Kilograms float64 `json:"kilograms"`
}

type Height struct {
	Metadata
	Instant
	Meters float64 `json:"meters"`
}

type BodyFat struct {
	Metadata
	Instant
	Percentage float64 `json:"percentage"`
}

type BloodPressure struct {
	Metadata
	Instant
	Systolic  float64 `json:"systolic_mmhg"`
	Diastolic float64 `json:"diastolic_mmhg"`
}

type BloodGlucose struct {
	Metadata
	Instant
	MillimolesPerLiter float64 `json:"mmol_per_l"`
}

type OxygenSaturation struct {
	Metadata
	Instant
	Percentage float64 `json:"percentage"`
}

type BodyTemperature struct {
	Metadata
	Instant
	Celsius float64 `json:"celsius"`
}

type Hydration struct {
	Metadata
	Interval
	Liters float64 `json:"liters"`
}

type SleepStage struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Stage string    `json:"stage"`
}

type SleepSession struct {
	Metadata
	Interval
	Title  string       `json:"title,omitempty"`
	Stages []SleepStage `json:"stages,omitempty"`
}

type ExerciseSession struct {
	Metadata
	Interval
	ExerciseType string `json:"exercise_type"`
	Title        string `json:"title,omitempty"`
}
