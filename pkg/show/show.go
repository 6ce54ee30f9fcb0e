// Package show holds the wire-level show data model and the per-device
// instruction extraction logic (the projection of a show into a timed
// instruction stream for one device).
package show

// Device kind kept consistent with the show's laser schema. Lights,
// projectors and turrets are parsed off the wire (so uploads round-trip)
// but only the LED/laser kind is projected into instructions; see Extract.
const (
	DeviceKindLED = "led"
)

// Show is a named, immutable, ordered sequence of Frames. Frame timestamps
// must be non-decreasing within a Show; the extractor does not verify this
// on upload (garbage in, garbage out on the timestamp axis) but never
// reorders frames itself.
type Show struct {
	Name   string  `json:"name"`
	Frames []Frame `json:"frames"`
}

// Frame is a timestamped per-device command bundle. Only Lasers is consumed
// by the extractor; Lights/Projectors/Turrets round-trip through upload but
// have no specified device kind in this core (spec: "other kinds are
// answered with an empty list and a warning").
type Frame struct {
	Timestamp  uint64      `json:"timestamp"`
	Lights     []*bool     `json:"lights"`
	Lasers     []*Laser    `json:"lasers"`
	Projectors []*Pseudo   `json:"projectors"`
	Turrets    []*Pseudo   `json:"turrets"`
}

// Laser is the only device schema this core understands. Home,
// PointCount and SpeedProfile are carried for round-trip fidelity with the
// authoring tool but are not consumed by the extractor.
type Laser struct {
	Home         bool    `json:"home"`
	PointCount   uint8   `json:"point_count"`
	SpeedProfile uint8   `json:"speed_profile"`
	Enable       bool    `json:"enable"`
	Hex          [3]byte `json:"hex"`
	Value        uint8   `json:"value"`
}

// Pseudo is a placeholder for device kinds named in spec.md's wire schema
// (projectors, turrets) that carry no specified extraction semantics in
// this core; it preserves arbitrary JSON so uploads still round-trip.
type Pseudo map[string]any

// RGB is a raw, un-gamma-corrected color. The zero value is black, used
// interchangeably with an explicit Off instruction.
type RGB struct {
	R, G, B uint8
}

// Instruction is the node-facing projection of a frame: a point in time
// (milliseconds since show start) and either an RGB color or Off.
type Instruction struct {
	TimestampMS uint64
	Color       RGB
	Off         bool
}

// Equal implements the instruction-equality rule spec.md §9 relies on for
// enqueue idempotence (I5): same timestamp *and* same color. Two
// instructions at the same timestamp with different colors are distinct.
func (i Instruction) Equal(o Instruction) bool {
	if i.TimestampMS != o.TimestampMS || i.Off != o.Off {
		return false
	}
	return i.Off || i.Color == o.Color
}
