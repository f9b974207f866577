// Package domain defines the canonical activity model shared across the
// service.
package domain

import (
	"math"
	"time"
)

// Source identifies where an activity record originated.
type Source string

const (
	SourceManual      Source = "manual"
	SourceAppleHealth Source = "apple_health"
)

// ActivityType is the closed canonical taxonomy, independent of the
// provider's workout vocabulary. Unknown provider codes map to TypeOther.
type ActivityType string

const (
	TypeRun     ActivityType = "run"
	TypeHike    ActivityType = "hike"
	TypeBike    ActivityType = "bike"
	TypeWalk    ActivityType = "walk"
	TypeSwim    ActivityType = "swim"
	TypePaddle  ActivityType = "paddle"
	TypeSnow    ActivityType = "snow"
	TypeWorkout ActivityType = "workout"
	TypeOther   ActivityType = "other"
)

// Activity is the persisted workout record. Created exactly once by either
// manual entry or the sync orchestrator, never mutated afterwards.
type Activity struct {
	ID              string
	Source          Source
	ExternalID      string // empty for manual entries
	Type            ActivityType
	DurationSeconds int
	DistanceKm      float64
	StartedAt       time.Time
	Name            string
	SportType       string
	CreatedAt       time.Time
}

// HealthKit workout activity type codes, as surfaced by the gateway.
// Values mirror HKWorkoutActivityType.
const (
	codeCrossTraining       = 11
	codeCrossCountrySkiing  = 12
	codeCycling             = 13
	codeDownhillSkiing      = 14
	codeFunctionalStrength  = 20
	codeHiking              = 24
	codeHIIT                = 25
	codePaddleSports        = 31
	codePilates             = 32
	codeRowing              = 35
	codeRunning             = 37
	codeSnowboarding        = 43
	codeSnowSports          = 44
	codeSwimming            = 46
	codeTraditionalStrength = 50
	codeWalking             = 52
	codeYoga                = 54
)

var workoutTypeMap = map[int]ActivityType{
	codeRunning:             TypeRun,
	codeHiking:              TypeHike,
	codeCycling:             TypeBike,
	codeWalking:             TypeWalk,
	codeSwimming:            TypeSwim,
	codePaddleSports:        TypePaddle,
	codeRowing:              TypePaddle,
	codeSnowSports:          TypeSnow,
	codeCrossCountrySkiing:  TypeSnow,
	codeDownhillSkiing:      TypeSnow,
	codeSnowboarding:        TypeSnow,
	codeFunctionalStrength:  TypeWorkout,
	codeTraditionalStrength: TypeWorkout,
	codeCrossTraining:       TypeWorkout,
	codeHIIT:                TypeWorkout,
	codeYoga:                TypeWorkout,
	codePilates:             TypeWorkout,
}

// MapWorkoutType translates a provider activity-type code into the canonical
// taxonomy. Unmapped codes fall back to TypeOther.
func MapWorkoutType(code int) ActivityType {
	if t, ok := workoutTypeMap[code]; ok {
		return t
	}
	return TypeOther
}

// DistanceChannel names a typed distance statistic exposed by the provider.
type DistanceChannel string

const (
	DistanceWalkingRunning DistanceChannel = "distance_walking_running"
	DistanceCycling        DistanceChannel = "distance_cycling"
	DistanceSwimming       DistanceChannel = "distance_swimming"
)

// distanceProbeOrder is the priority order for resolving a workout's
// distance. The first channel with a positive value wins; channels the user
// has not granted are simply absent from the map.
var distanceProbeOrder = []DistanceChannel{
	DistanceWalkingRunning,
	DistanceCycling,
	DistanceSwimming,
}

// RawWorkout is a provider record as delivered by the source adapter.
type RawWorkout struct {
	RecordID        string
	TypeCode        int
	TypeName        string
	StartedAt       time.Time
	DurationSeconds float64
	// DistanceMeters holds one entry per distance channel the provider was
	// able to read for this workout.
	DistanceMeters map[DistanceChannel]float64
}

// Canonicalize converts a raw provider record into an Activity. It is a pure
// function: no I/O, and it never fails on unknown type codes.
func Canonicalize(raw RawWorkout) Activity {
	var distanceKm float64
	for _, channel := range distanceProbeOrder {
		if meters, ok := raw.DistanceMeters[channel]; ok && meters > 0 {
			distanceKm = meters / 1000
			break
		}
	}

	duration := int(math.Round(raw.DurationSeconds))
	if duration < 0 {
		duration = 0
	}

	name := raw.TypeName
	if name == "" {
		name = "Workout"
	}

	return Activity{
		Source:          SourceAppleHealth,
		ExternalID:      raw.RecordID,
		Type:            MapWorkoutType(raw.TypeCode),
		DurationSeconds: duration,
		DistanceKm:      math.Round(distanceKm*100) / 100,
		StartedAt:       raw.StartedAt,
		Name:            name,
		SportType:       name,
	}
}

// DefaultStepsPerKm estimates steps from distance for step-counting
// activities when the provider does not report them directly.
const DefaultStepsPerKm = 1300

var stepCountingTypes = map[ActivityType]struct{}{
	TypeWalk: {},
	TypeHike: {},
	TypeRun:  {},
}

// SyntheticSteps returns the estimated step count for an activity, or zero
// for types that are not step-based.
func SyntheticSteps(t ActivityType, distanceKm float64, stepsPerKm int) int {
	if _, ok := stepCountingTypes[t]; !ok {
		return 0
	}
	return int(math.Round(distanceKm * float64(stepsPerKm)))
}

// ParseActivityType validates a client-supplied type string against the
// canonical taxonomy.
func ParseActivityType(s string) (ActivityType, bool) {
	t := ActivityType(s)
	switch t {
	case TypeRun, TypeHike, TypeBike, TypeWalk, TypeSwim, TypePaddle, TypeSnow, TypeWorkout, TypeOther:
		return t, true
	}
	return "", false
}

// StatsDelta is the per-run accumulation applied to lifetime counters.
type StatsDelta struct {
	Minutes int
	Km      float64
	Steps   int
}

// Add folds one activity into the delta.
func (d *StatsDelta) Add(a Activity, stepsPerKm int) {
	d.Minutes += int(math.Round(float64(a.DurationSeconds) / 60))
	d.Km += a.DistanceKm
	d.Steps += SyntheticSteps(a.Type, a.DistanceKm, stepsPerKm)
}

// Stats holds the lifetime counters and streaks for a user.
type Stats struct {
	TotalMinutes  int
	TotalKm       float64
	TotalSteps    int
	CurrentStreak int
	LongestStreak int
}

// Connection is the per-user health source connection state.
type Connection struct {
	IsAuthorized bool
	ConnectedAt  time.Time
	LastSyncAt   time.Time // zero when the user has never completed a sync
}
