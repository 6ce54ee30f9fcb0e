package show

// Window is the fixed forward interval (5s) the server projects on each
// instruction query (spec.md §4.6).
const Window uint64 = 5000

// Extract projects show into the instruction stream over
// [from, from+Window). It returns the instructions in frame order (stable
// across ties, spec.md I2) and the timestamp callers should use as the next
// from when paging forward — the timestamp of the last instruction
// returned, or from unchanged if nothing was returned.
//
// Extract takes no device id: every device that is answered at all gets
// the same stream. The device-kind gate lives in showstore.Store.Instructions
// (other kinds get an empty list), and the HTTP layer logs a warning for
// those kinds.
func Extract(s *Show, from uint64) ([]Instruction, uint64) {
	to := from + Window
	var out []Instruction
	next := from
	for _, f := range s.Frames {
		if f.Timestamp < from || f.Timestamp >= to {
			continue
		}
		inst := extractFrame(f)
		out = append(out, inst)
		next = f.Timestamp
	}
	return out, next
}

// extractFrame aggregates across all laser sub-entries in the frame: sum
// R/G/B across lasers whose Enable flag is set, divide by the enabled
// count. Zero enabled lasers yields Off. This is the provisional
// workaround spec.md §9 documents for the authoring tool's many-lasers
// versus one-RGB-strip schema mismatch.
func extractFrame(f Frame) Instruction {
	var sumR, sumG, sumB int
	var enabled int
	for _, l := range f.Lasers {
		if l == nil || !l.Enable {
			continue
		}
		enabled++
		sumR += int(l.Hex[0])
		sumG += int(l.Hex[1])
		sumB += int(l.Hex[2])
	}
	if enabled == 0 {
		return Instruction{TimestampMS: f.Timestamp, Off: true}
	}
	return Instruction{
		TimestampMS: f.Timestamp,
		Color: RGB{
			R: uint8(sumR / enabled),
			G: uint8(sumG / enabled),
			B: uint8(sumB / enabled),
		},
	}
}

// ParseDeviceKind returns the <kind> segment of a device id of the form
// <kind>-<role>-<index> (spec.md §3, e.g. "esp32-light-1" -> "esp32").
// The extractor itself does not gate on this; showstore.Store.Instructions
// uses it to decide whether a device id is addressable by this core, and
// the HTTP layer uses it to decide whether to log a warning.
func ParseDeviceKind(deviceID string) (kind string, ok bool) {
	for i := 0; i < len(deviceID); i++ {
		if deviceID[i] == '-' {
			return deviceID[:i], true
		}
	}
	return "", false
}
