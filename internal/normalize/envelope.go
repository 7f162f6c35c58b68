package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"trk-go/internal/model"
)

// SchemaVersion identifies the envelope layout. Bump on any change to the
// JSON shape; old envelopes are simply regenerated from the archive.
const SchemaVersion = 1

// Envelope is the self-describing cached form of one normalized activity:
// the summary plus column-oriented sample streams for fast read-back
// without re-decoding the archived file.
type Envelope struct {
	SchemaVersion int      `json:"schema_version"`
	Summary       Summary  `json:"summary"`
	Streams       Streams  `json:"streams"`
}

type Summary struct {
	Sport          string   `json:"sport"`
	StartTime      string   `json:"start_time"`
	DurationS      float64  `json:"duration_s"`
	DistanceM      *float64 `json:"distance_m"`
	Calories       *float64 `json:"calories"`
	AscentM        *float64 `json:"ascent_m"`
	DescentM       *float64 `json:"descent_m"`
	AvgHeartRate   *float64 `json:"avg_hr"`
	MaxHeartRate   *float64 `json:"max_hr"`
	AvgCadence     *float64 `json:"avg_cadence"`
	AvgPower       *float64 `json:"avg_power"`
	MaxPower       *float64 `json:"max_power"`
	AvgSpeedMS     *float64 `json:"avg_speed_ms"`
	TrainingStress *float64 `json:"training_stress"`
	NumLaps        int      `json:"num_laps"`
}

// Streams are aligned arrays: index i across every stream describes the
// same sample. Absent measurements stay null, never zero.
type Streams struct {
	Timestamp []string   `json:"timestamp"`
	Latitude  []*float64 `json:"lat"`
	Longitude []*float64 `json:"lon"`
	AltitudeM []*float64 `json:"alt_m"`
	DistanceM []*float64 `json:"distance_m"`
	SpeedMS   []*float64 `json:"speed_ms"`
	HeartRate []*float64 `json:"heart_rate"`
	Cadence   []*float64 `json:"cadence"`
	Power     []*float64 `json:"power"`
}

// EncodeEnvelope renders a bundle as versioned JSON. Struct-driven
// encoding keeps field order fixed, so identical bundles produce
// identical bytes.
func EncodeEnvelope(b Bundle) ([]byte, error) {
	env := Envelope{
		SchemaVersion: SchemaVersion,
		Summary: Summary{
			Sport:          b.Activity.Sport,
			StartTime:      b.Activity.StartTime.UTC().Format(time.RFC3339),
			DurationS:      b.Activity.DurationS,
			DistanceM:      b.Activity.DistanceM,
			Calories:       b.Activity.Calories,
			AscentM:        b.Activity.AscentM,
			DescentM:       b.Activity.DescentM,
			AvgHeartRate:   b.Activity.AvgHeartRate,
			MaxHeartRate:   b.Activity.MaxHeartRate,
			AvgCadence:     b.Activity.AvgCadence,
			AvgPower:       b.Activity.AvgPower,
			MaxPower:       b.Activity.MaxPower,
			AvgSpeedMS:     b.Activity.AvgSpeedMS,
			TrainingStress: b.Activity.TrainingStress,
			NumLaps:        b.Activity.NumLaps,
		},
	}

	for _, s := range b.Samples {
		env.Streams.Timestamp = append(env.Streams.Timestamp, s.Timestamp.UTC().Format(time.RFC3339))
		env.Streams.Latitude = append(env.Streams.Latitude, s.Latitude)
		env.Streams.Longitude = append(env.Streams.Longitude, s.Longitude)
		env.Streams.AltitudeM = append(env.Streams.AltitudeM, s.AltitudeM)
		env.Streams.DistanceM = append(env.Streams.DistanceM, s.DistanceM)
		env.Streams.SpeedMS = append(env.Streams.SpeedMS, s.SpeedMS)
		env.Streams.HeartRate = append(env.Streams.HeartRate, s.HeartRate)
		env.Streams.Cadence = append(env.Streams.Cadence, s.Cadence)
		env.Streams.Power = append(env.Streams.Power, s.Power)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a stored envelope payload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("envelope schema version %d is not %d", env.SchemaVersion, SchemaVersion)
	}
	return &env, nil
}

// NewEnvelopeRecord builds the persistable envelope row for an activity.
func NewEnvelopeRecord(activityID string, b Bundle) (model.Envelope, error) {
	payload, err := EncodeEnvelope(b)
	if err != nil {
		return model.Envelope{}, err
	}
	return model.Envelope{
		ActivityID:    activityID,
		SchemaVersion: SchemaVersion,
		Payload:       payload,
	}, nil
}
