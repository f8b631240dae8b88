package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"tangled.sh/tangled.sh/healthsync/log"
)

// Kind is the stable identifier of a record kind.
type Kind string

const (
	KindSteps                Kind = "steps"
	KindDistance             Kind = "distance"
	KindActiveCaloriesBurned Kind = "active_calories_burned"
	KindTotalCaloriesBurned  Kind = "total_calories_burned"
	KindHeartRate            Kind = "heart_rate"
	KindRestingHeartRate     Kind = "resting_heart_rate"
	KindWeight               Kind = "weight"
	KindHeight               Kind = "height"
	KindBodyFat              Kind = "body_fat"
	KindBloodPressure        Kind = "blood_pressure"
	KindBloodGlucose         Kind = "blood_glucose"
	KindOxygenSaturation     Kind = "oxygen_saturation"
	KindBodyTemperature      Kind = "body_temperature"
	KindHydration            Kind = "hydration"
	KindSleepSession         Kind = "sleep_session"
	KindExerciseSession      Kind = "exercise_session"
)

const permissionPrefix = "android.permission.health."

var ErrUnknownKind = errors.New("unknown record kind")

// RecordType describes one kind of record together with the permissions
// guarding it. Values are comparable and safe to use as map keys.
type RecordType struct {
	Kind            Kind
	ReadPermission  string
	WritePermission string
}

func (t RecordType) ID() string {
	return string(t.Kind)
}

func (t RecordType) String() string {
	return string(t.Kind)
}

func newType(kind Kind, suffix string) RecordType {
	return RecordType{
		Kind:            kind,
		ReadPermission:  permissionPrefix + "READ_" + suffix,
		WritePermission: permissionPrefix + "WRITE_" + suffix,
	}
}

var (
	StepsType                = newType(KindSteps, "STEPS")
	DistanceType             = newType(KindDistance, "DISTANCE")
	ActiveCaloriesBurnedType = newType(KindActiveCaloriesBurned, "ACTIVE_CALORIES_BURNED")
	TotalCaloriesBurnedType  = newType(KindTotalCaloriesBurned, "TOTAL_CALORIES_BURNED")
	HeartRateType            = newType(KindHeartRate, "HEART_RATE")
	RestingHeartRateType     = newType(KindRestingHeartRate, "RESTING_HEART_RATE")
	WeightType               = newType(KindWeight, "WEIGHT")
	HeightType               = newType(KindHeight, "HEIGHT")
	BodyFatType              = newType(KindBodyFat, "BODY_FAT")
	BloodPressureType        = newType(KindBloodPressure, "BLOOD_PRESSURE")
	BloodGlucoseType         = newType(KindBloodGlucose, "BLOOD_GLUCOSE")
	OxygenSaturationType     = newType(KindOxygenSaturation, "OXYGEN_SATURATION")
	BodyTemperatureType      = newType(KindBodyTemperature, "BODY_TEMPERATURE")
	HydrationType            = newType(KindHydration, "HYDRATION")
	SleepSessionType         = newType(KindSleepSession, "SLEEP")
	ExerciseSessionType      = newType(KindExerciseSession, "EXERCISE")
)

type entry struct {
	recordType RecordType
	newRecord  func() Record
}

// catalog is ordered; All returns it in this order.
var catalog = []entry{
	{StepsType, func() Record { return &Steps{} }},
	{DistanceType, func() Record { return &Distance{} }},
	{ActiveCaloriesBurnedType, func() Record { return &ActiveCaloriesBurned{} }},
	{TotalCaloriesBurnedType, func() Record { return &TotalCaloriesBurned{} }},
	{HeartRateType, func() Record { return &HeartRate{} }},
	{RestingHeartRateType, func() Record { return &RestingHeartRate{} }},
	{WeightType, func() Record { return &Weight{} }},
	{HeightType, func() Record { return &Height{} }},
	{BodyFatType, func() Record { return &BodyFat{} }},
	{BloodPressureType, func() Record { return &BloodPressure{} }},
	{BloodGlucoseType, func() Record { return &BloodGlucose{} }},
	{OxygenSaturationType, func() Record { return &OxygenSaturation{} }},
	{BodyTemperatureType, func() Record { return &BodyTemperature{} }},
	{HydrationType, func() Record { return &Hydration{} }},
	{SleepSessionType, func() Record { return &SleepSession{} }},
	{ExerciseSessionType, func() Record { return &ExerciseSession{} }},
}

// All returns every supported record type.
func All() []RecordType {
	out := make([]RecordType, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e.recordType)
	}
	return out
}

// ByID looks a record type up by its identifier.
func ByID(id string) (RecordType, error) {
	for _, e := range catalog {
		if e.recordType.ID() == id {
			return e.recordType, nil
		}
	}
	return RecordType{}, fmt.Errorf("%w: %q", ErrUnknownKind, id)
}

// New returns an empty record of the given type, ready to be decoded into.
func New(t RecordType) (Record, error) {
	for _, e := range catalog {
		if e.recordType == t {
			return e.newRecord(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
}

// Decode unmarshals a JSON document into a record of type t.
func Decode(t RecordType, data []byte) (Record, error) {
	r, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", t, err)
	}
	return r, nil
}

// From maps a record to its descriptor. Records of a kind outside the
// catalog get a descriptor named after their Go type with no permissions,
// so they are never considered authorized.
func From(r Record) RecordType {
	switch r.(type) {
	case *Steps, Steps:
		return StepsType
	case *Distance, Distance:
		return DistanceType
	case *ActiveCaloriesBurned, ActiveCaloriesBurned:
		return ActiveCaloriesBurnedType
	case *TotalCaloriesBurned, TotalCaloriesBurned:
		return TotalCaloriesBurnedType
	case *HeartRate, HeartRate:
		return HeartRateType
	case *RestingHeartRate, RestingHeartRate:
		return RestingHeartRateType
	case *Weight, Weight:
		return WeightType
	case *Height, Height:
		return HeightType
	case *BodyFat, BodyFat:
		return BodyFatType
	case *BloodPressure, BloodPressure:
		return BloodPressureType
	case *BloodGlucose, BloodGlucose:
		return BloodGlucoseType
	case *OxygenSaturation, OxygenSaturation:
		return OxygenSaturationType
	case *BodyTemperature, BodyTemperature:
		return BodyTemperatureType
	case *Hydration, Hydration:
		return HydrationType
	case *SleepSession, SleepSession:
		return SleepSessionType
	case *ExerciseSession, ExerciseSession:
		return ExerciseSessionType
	}

	name := "unknown"
	if r != nil {
		rt := reflect.TypeOf(r)
		for rt.Kind() == reflect.Pointer {
			rt = rt.Elem()
		}
		if rt.Name() != "" {
			name = rt.Name()
		}
	}
	log.New("health/models").Warn("record kind not in catalog, permission checks will fail", "type", name)
	return RecordType{Kind: Kind(name)}
}
