package fit

// Message numbers understood by the normalization layer. Anything else in
// a recorder file is decoded positionally and skipped downstream.
const (
	MesgFileID      uint16 = 0
	MesgSession     uint16 = 18
	MesgLap         uint16 = 19
	MesgRecord      uint16 = 20
	MesgEvent       uint16 = 21
	MesgActivity    uint16 = 34
	MesgMonitoring  uint16 = 55
	MesgStressLevel uint16 = 227
)

// fieldRule is one decode rule of the message dictionary: target name plus
// the scale/offset needed to convert the stored integer to target units.
type fieldRule struct {
	name   string
	scale  float64
	offset float64
}

type mesgRule struct {
	name   string
	fields map[byte]fieldRule
}

// profile is the static message dictionary, built once at package init
// rather than inferred at decode time. Field numbers, scales and offsets
// follow the recorder's published global profile.
var profile = map[uint16]mesgRule{
	MesgFileID: {name: "file_id", fields: map[byte]fieldRule{
		0: {name: "type"},
		1: {name: "manufacturer"},
		2: {name: "product"},
		3: {name: "serial_number"},
		4: {name: "time_created"},
	}},
	MesgSession: {name: "session", fields: map[byte]fieldRule{
		253: {name: "timestamp"},
		2:   {name: "start_time"},
		5:   {name: "sport"},
		6:   {name: "sub_sport"},
		7:   {name: "total_elapsed_time", scale: 1000},
		8:   {name: "total_timer_time", scale: 1000},
		9:   {name: "total_distance", scale: 100},
		11:  {name: "total_calories"},
		14:  {name: "avg_speed", scale: 1000},
		15:  {name: "max_speed", scale: 1000},
		16:  {name: "avg_heart_rate"},
		17:  {name: "max_heart_rate"},
		18:  {name: "avg_cadence"},
		19:  {name: "max_cadence"},
		20:  {name: "avg_power"},
		21:  {name: "max_power"},
		22:  {name: "total_ascent"},
		23:  {name: "total_descent"},
		26:  {name: "num_laps"},
	}},
	MesgLap: {name: "lap", fields: map[byte]fieldRule{
		253: {name: "timestamp"},
		2:   {name: "start_time"},
		7:   {name: "total_elapsed_time", scale: 1000},
		8:   {name: "total_timer_time", scale: 1000},
		9:   {name: "total_distance", scale: 100},
		11:  {name: "total_calories"},
		13:  {name: "avg_speed", scale: 1000},
		14:  {name: "max_speed", scale: 1000},
		15:  {name: "avg_heart_rate"},
		16:  {name: "max_heart_rate"},
		17:  {name: "avg_cadence"},
		19:  {name: "avg_power"},
		20:  {name: "max_power"},
		21:  {name: "total_ascent"},
		22:  {name: "total_descent"},
	}},
	MesgRecord: {name: "record", fields: map[byte]fieldRule{
		253: {name: "timestamp"},
		0:   {name: "position_lat"},
		1:   {name: "position_long"},
		2:   {name: "altitude", scale: 5, offset: 500},
		3:   {name: "heart_rate"},
		4:   {name: "cadence"},
		5:   {name: "distance", scale: 100},
		6:   {name: "speed", scale: 1000},
		7:   {name: "power"},
		13:  {name: "temperature"},
	}},
	MesgEvent: {name: "event", fields: map[byte]fieldRule{
		253: {name: "timestamp"},
		0:   {name: "event"},
		1:   {name: "event_type"},
	}},
	MesgActivity: {name: "activity", fields: map[byte]fieldRule{
		253: {name: "timestamp"},
		0:   {name: "total_timer_time", scale: 1000},
		1:   {name: "num_sessions"},
	}},
	MesgMonitoring: {name: "monitoring", fields: map[byte]fieldRule{
		253: {name: "timestamp"},
		27:  {name: "heart_rate"},
	}},
	MesgStressLevel: {name: "stress_level", fields: map[byte]fieldRule{
		0: {name: "stress_level_value"},
		1: {name: "stress_level_time"},
	}},
}

// sports maps the recorder's sport enum to stable names.
var sports = map[uint64]string{
	0:  "generic",
	1:  "running",
	2:  "cycling",
	3:  "transition",
	4:  "fitness_equipment",
	5:  "swimming",
	6:  "basketball",
	7:  "soccer",
	8:  "tennis",
	10: "training",
	11: "walking",
	17: "hiking",
}

// SportName returns a stable name for a sport enum value. Unknown codes
// map deterministically so normalization stays byte-identical.
func SportName(code uint64) string {
	if s, ok := sports[code]; ok {
		return s
	}
	return "generic"
}

// lookupRule resolves the decode rule for a field, if the dictionary
// knows the message and field.
func lookupRule(mesgNum uint16, fieldNum byte) (fieldRule, bool) {
	m, ok := profile[mesgNum]
	if !ok {
		return fieldRule{}, false
	}
	r, ok := m.fields[fieldNum]
	return r, ok
}

// MessageName returns the profile name for a message number, or "" when
// the number is not in the dictionary.
func MessageName(mesgNum uint16) string {
	return profile[mesgNum].name
}
