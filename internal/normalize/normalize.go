// Package normalize folds decoded recorder messages into the stable
// application schema: activities, their ordered samples, and per-day
// health metrics. Normalization is deterministic: the same decoded
// input always produces byte-identical output, which is what makes the
// stored envelope a regenerable cache rather than a source of truth.
package normalize

import (
	"time"

	"trk-go/internal/fit"
	"trk-go/internal/model"
)

// Bundle is one normalized session: the activity summary plus its
// samples in file order. Identities (activity ID, asset fingerprint) are
// assigned by the ingestion layer, not here.
type Bundle struct {
	Activity model.Activity
	Samples  []model.Sample
}

// Output is the result of normalizing one decoded file. A file with no
// session-defining message yields no activities; that is a legitimate
// outcome (settings dumps, monitoring-only files), not an error.
//
// Activities is a sequence: multi-session files produce one activity per
// session message.
type Output struct {
	Activities []Bundle
	Health     []model.HealthMetric
}

// trainingStressReference is the fixed power reference used for the
// training-stress estimate, matching the recorder ecosystem convention.
const trainingStressReference = 250.0

type sessionAgg struct {
	start    time.Time
	end      time.Time
	sport    string
	timerS   *float64
	elapsedS *float64
	distM    *float64
	calories *float64
	ascent   *float64
	descent  *float64
	avgHR    *float64
	maxHR    *float64
	avgCad   *float64
	avgPow   *float64
	maxPow   *float64
	avgSpd   *float64
	numLaps  int
}

// Normalize maps a decoded file to the application schema. Record order
// is preserved: samples keep their encoding order via Seq.
func Normalize(file *fit.File) Output {
	var (
		samples  []model.Sample
		sessions []sessionAgg
		lapTimes []time.Time
		monHR    []float64
		stress   []float64
		firstTS  time.Time
	)

	for _, rec := range file.Records {
		switch rec.MesgNum {
		case fit.MesgRecord:
			s, ok := sampleFromRecord(rec)
			if !ok {
				continue
			}
			if firstTS.IsZero() {
				firstTS = s.Timestamp
			}
			samples = append(samples, s)

		case fit.MesgSession:
			sessions = append(sessions, sessionFromRecord(rec))

		case fit.MesgLap:
			if t, ok := fieldTime(rec, 2); ok {
				lapTimes = append(lapTimes, t)
			}

		case fit.MesgMonitoring:
			if v, ok := fieldScaled(rec, 27); ok {
				monHR = append(monHR, v)
			}
			if firstTS.IsZero() {
				if t, ok := fieldTime(rec, 253); ok {
					firstTS = t
				}
			}

		case fit.MesgStressLevel:
			if v, ok := fieldScaled(rec, 0); ok && v >= 0 {
				stress = append(stress, v)
			}
			if firstTS.IsZero() {
				if t, ok := fieldTime(rec, 1); ok {
					firstTS = t
				}
			}
		}
	}

	var out Output
	for i := range sessions {
		out.Activities = append(out.Activities, buildBundle(&sessions[i], samples, lapTimes, len(sessions) == 1))
	}
	out.Health = buildHealth(monHR, stress, firstTS, out.Activities)
	return out
}

func buildBundle(sess *sessionAgg, all []model.Sample, lapTimes []time.Time, only bool) Bundle {
	act := model.Activity{
		Sport:        sess.sport,
		StartTime:    sess.start,
		DistanceM:    sess.distM,
		Calories:     sess.calories,
		AscentM:      sess.ascent,
		DescentM:     sess.descent,
		AvgHeartRate: sess.avgHR,
		MaxHeartRate: sess.maxHR,
		AvgCadence:   sess.avgCad,
		AvgPower:     sess.avgPow,
		MaxPower:     sess.maxPow,
		AvgSpeedMS:   sess.avgSpd,
		NumLaps:      sess.numLaps,
	}

	// Timer time is the canonical duration; elapsed time, then the
	// sample span, are the fallbacks.
	switch {
	case sess.timerS != nil:
		act.DurationS = *sess.timerS
	case sess.elapsedS != nil:
		act.DurationS = *sess.elapsedS
	}

	var bundle []model.Sample
	seq := 0
	for _, s := range all {
		if !only && !inWindow(s.Timestamp, sess) {
			continue
		}
		s.Seq = seq
		seq++
		bundle = append(bundle, s)
	}

	if act.DurationS == 0 && len(bundle) > 1 {
		act.DurationS = bundle[len(bundle)-1].Timestamp.Sub(bundle[0].Timestamp).Seconds()
	}
	if act.StartTime.IsZero() && len(bundle) > 0 {
		act.StartTime = bundle[0].Timestamp
	}

	if act.NumLaps == 0 {
		for _, lt := range lapTimes {
			if only || inWindowTime(lt, sess) {
				act.NumLaps++
			}
		}
	}

	// Fill average aggregates the session summary did not carry.
	if act.AvgHeartRate == nil {
		act.AvgHeartRate = meanOf(bundle, func(s model.Sample) *float64 { return s.HeartRate })
	}
	if act.AvgPower == nil {
		act.AvgPower = meanOf(bundle, func(s model.Sample) *float64 { return s.Power })
	}
	if act.AvgCadence == nil {
		act.AvgCadence = meanOf(bundle, func(s model.Sample) *float64 { return s.Cadence })
	}

	if act.AvgPower != nil && act.DurationS > 0 {
		intensity := *act.AvgPower / trainingStressReference
		tss := intensity * intensity * (act.DurationS / 3600.0) * 100.0
		act.TrainingStress = &tss
	}

	return Bundle{Activity: act, Samples: bundle}
}

// inWindow assigns a sample to a session by timestamp. Recorder files
// emit samples before the session summary that scopes them, so the "open
// session" relationship is resolved by time range.
func inWindow(ts time.Time, sess *sessionAgg) bool {
	return inWindowTime(ts, sess)
}

func inWindowTime(t time.Time, sess *sessionAgg) bool {
	if sess.start.IsZero() {
		return true
	}
	if t.Before(sess.start) {
		return false
	}
	return sess.end.IsZero() || !t.After(sess.end)
}

func buildHealth(monHR, stress []float64, firstTS time.Time, acts []Bundle) []model.HealthMetric {
	if len(monHR) == 0 && len(stress) == 0 {
		return nil
	}

	day := firstTS
	if day.IsZero() && len(acts) > 0 {
		day = acts[0].Activity.StartTime
	}
	if day.IsZero() {
		return nil
	}

	hm := model.HealthMetric{
		MetricDate: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
	}
	if len(monHR) > 0 {
		resting := monHR[0]
		for _, v := range monHR[1:] {
			if v < resting {
				resting = v
			}
		}
		hm.RestingHR = &resting
	}
	if len(stress) > 0 {
		var sum float64
		for _, v := range stress {
			sum += v
		}
		avg := sum / float64(len(stress))
		hm.StressLevel = &avg
	}
	return []model.HealthMetric{hm}
}

func sampleFromRecord(rec fit.Record) (model.Sample, bool) {
	ts, ok := fieldTime(rec, 253)
	if !ok {
		// A sample without a timestamp cannot be ordered or scoped.
		return model.Sample{}, false
	}

	s := model.Sample{Timestamp: ts}
	if f, ok := rec.Field(0); ok {
		if v, ok := f.Degrees(); ok {
			s.Latitude = &v
		}
	}
	if f, ok := rec.Field(1); ok {
		if v, ok := f.Degrees(); ok {
			s.Longitude = &v
		}
	}
	s.AltitudeM = scaledPtr(rec, 2)
	s.HeartRate = scaledPtr(rec, 3)
	s.Cadence = scaledPtr(rec, 4)
	s.DistanceM = scaledPtr(rec, 5)
	s.SpeedMS = scaledPtr(rec, 6)
	s.Power = scaledPtr(rec, 7)
	s.Temperature = scaledPtr(rec, 13)
	return s, true
}

func sessionFromRecord(rec fit.Record) sessionAgg {
	sess := sessionAgg{sport: "generic"}
	if t, ok := fieldTime(rec, 2); ok {
		sess.start = t
	}
	if f, ok := rec.Field(5); ok {
		if v, ok := f.Uint(); ok {
			sess.sport = fit.SportName(v)
		}
	}
	sess.elapsedS = scaledPtr(rec, 7)
	sess.timerS = scaledPtr(rec, 8)
	sess.distM = scaledPtr(rec, 9)
	sess.calories = scaledPtr(rec, 11)
	sess.avgSpd = scaledPtr(rec, 14)
	sess.avgHR = scaledPtr(rec, 16)
	sess.maxHR = scaledPtr(rec, 17)
	sess.avgCad = scaledPtr(rec, 18)
	sess.avgPow = scaledPtr(rec, 20)
	sess.maxPow = scaledPtr(rec, 21)
	sess.ascent = scaledPtr(rec, 22)
	sess.descent = scaledPtr(rec, 23)
	if f, ok := rec.Field(26); ok {
		if v, ok := f.Uint(); ok {
			sess.numLaps = int(v)
		}
	}

	if !sess.start.IsZero() {
		if sess.elapsedS != nil {
			sess.end = sess.start.Add(time.Duration(*sess.elapsedS * float64(time.Second)))
		} else if t, ok := fieldTime(rec, 253); ok {
			sess.end = t
		}
	}
	return sess
}

func scaledPtr(rec fit.Record, num byte) *float64 {
	f, ok := rec.Field(num)
	if !ok {
		return nil
	}
	v, ok := f.Scaled()
	if !ok {
		return nil
	}
	return &v
}

func fieldScaled(rec fit.Record, num byte) (float64, bool) {
	f, ok := rec.Field(num)
	if !ok {
		return 0, false
	}
	return f.Scaled()
}

func fieldTime(rec fit.Record, num byte) (time.Time, bool) {
	f, ok := rec.Field(num)
	if !ok {
		return time.Time{}, false
	}
	return f.Time()
}

func meanOf(samples []model.Sample, get func(model.Sample) *float64) *float64 {
	var sum float64
	n := 0
	for _, s := range samples {
		if v := get(s); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
