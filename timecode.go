package main

const (
	SysExStart        = 0xF0
	SysExEnd          = 0xF7
	UniversalRealTime = 0x7F // SysEx Universal Real Time header
	DeviceIDAll       = 0x7F // broadcast device ID
	SubIDTimecode     = 0x01 // sub-ID #1: MIDI Time Code
	SubIDFullFrame    = 0x01 // sub-ID #2: Full Message
	QuarterFrameTag   = 0xF1

	// FrameRate is the only rate this program emits (PAL video). The MTC rate
	// code field also defines 24, 29.97 drop-frame and 30 fps, but those are
	// never selected.
	FrameRate  = 25
	RateCode25 = 0b01
)

// decomposeTimecode splits a millisecond position into SMPTE fields at 25 fps.
// All divisions truncate; frames resolve to 40 ms. Positions wrap at 24 hours
// so the hours value can never spill into the rate bits of the encoded byte,
// and negative positions clamp to zero (the wire has no sign).
func decomposeTimecode(positionMs int64) (hours, minutes, seconds, frames int) {
	if positionMs < 0 {
		positionMs = 0
	}
	hours = int(positionMs/3600000) % 24
	minutes = int(positionMs % 3600000 / 60000)
	seconds = int(positionMs % 60000 / 1000)
	frames = int(positionMs % 1000 * FrameRate / 1000)
	return hours, minutes, seconds, frames
}

// encodeFullFrame builds the 10-byte MTC Full Message for a position:
//
//	[F0][7F][7F][01][01][rate<<5|hh][mm][ss][ff][F7]
//
// Position fields carry their decimal value directly in the byte, which is
// the convention MTC full messages use; only the hours byte is shared with
// the 2-bit rate code.
func encodeFullFrame(positionMs int64) []byte {
	hours, minutes, seconds, frames := decomposeTimecode(positionMs)
	return []byte{
		SysExStart, UniversalRealTime, DeviceIDAll, SubIDTimecode, SubIDFullFrame,
		byte(RateCode25<<5 | hours),
		byte(minutes),
		byte(seconds),
		byte(frames),
		SysExEnd,
	}
}

// encodeQuarterFrame builds quarter-frame message number index (0-7) for a
// position. Each message is F1 plus one payload byte whose high nibble selects
// the piece and whose low bits carry it:
//
//	0: frames low     2: seconds low    4: minutes low    6: hours low
//	1: frames high    3: seconds high   5: minutes high   7: hours high|rate
//
// This order and bit layout is fixed by the MTC quarter-frame format. The
// caller owns the cursor and advances it modulo 8; the position is read fresh
// for every message, so nibbles emitted mid-cycle track the live position
// rather than a frozen snapshot.
func encodeQuarterFrame(positionMs int64, index int) []byte {
	hours, minutes, seconds, frames := decomposeTimecode(positionMs)

	var payload byte
	switch index & 0x07 {
	case 0:
		payload = byte(frames & 0x0F)
	case 1:
		payload = byte(frames>>4&0x01) | 0x10
	case 2:
		payload = byte(seconds&0x0F) | 0x20
	case 3:
		payload = byte(seconds>>4&0x03) | 0x30
	case 4:
		payload = byte(minutes&0x0F) | 0x40
	case 5:
		payload = byte(minutes>>4&0x03) | 0x50
	case 6:
		payload = byte(hours&0x0F) | 0x60
	case 7:
		payload = byte(hours>>4&0x01) | RateCode25<<1 | 0x70
	}
	return []byte{QuarterFrameTag, payload}
}
