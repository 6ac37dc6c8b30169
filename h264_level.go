package media

// H.264 level_idc values. Level 1b is signalled as 9 outside of the
// Baseline/Main constraint_set3 encoding.
const (
	H264Level1   uint8 = 10
	H264Level1b  uint8 = 9
	H264Level11  uint8 = 11
	H264Level12  uint8 = 12
	H264Level13  uint8 = 13
	H264Level2   uint8 = 20
	H264Level21  uint8 = 21
	H264Level22  uint8 = 22
	H264Level3   uint8 = 30
	H264Level31  uint8 = 31
	H264Level32  uint8 = 32
	H264Level4   uint8 = 40
	H264Level41  uint8 = 41
	H264Level42  uint8 = 42
	H264Level5   uint8 = 50
	H264Level51  uint8 = 51
	H264Level52  uint8 = 52
	H264Level6   uint8 = 60
	H264Level61  uint8 = 61
	H264Level62  uint8 = 62
)

// DefaultH264Level is used when the caller does not ask for a level.
const DefaultH264Level = H264Level4

const h264MacroblockSize = 16

// h264LevelLimits is one row of ITU-T H.264 Table A-1.
type h264LevelLimits struct {
	level     uint8
	maxMBPS   uint32 // macroblocks per second
	maxFS     uint32 // frame size in macroblocks
	maxDpbMbs uint32
	maxBR     uint32 // units of 1000 bits/s for the VCL HRD of Baseline/Main
}

// Ordered from the lowest level up.
var h264LevelTable = []h264LevelLimits{
	{H264Level1, 1485, 99, 396, 64},
	{H264Level1b, 1485, 99, 396, 128},
	{H264Level11, 3000, 396, 900, 192},
	{H264Level12, 6000, 396, 2376, 384},
	{H264Level13, 11880, 396, 2376, 768},
	{H264Level2, 11880, 396, 2376, 2000},
	{H264Level21, 19800, 792, 4752, 4000},
	{H264Level22, 20250, 1620, 8100, 4000},
	{H264Level3, 40500, 1620, 8100, 10000},
	{H264Level31, 108000, 3600, 18000, 14000},
	{H264Level32, 216000, 5120, 20480, 20000},
	{H264Level4, 245760, 8192, 32768, 20000},
	{H264Level41, 245760, 8192, 32768, 50000},
	{H264Level42, 522240, 8704, 34816, 50000},
	{H264Level5, 589824, 22080, 110400, 135000},
	{H264Level51, 983040, 36864, 184320, 240000},
	{H264Level52, 2073600, 36864, 184320, 240000},
	{H264Level6, 4177920, 139264, 696320, 240000},
	{H264Level61, 8355840, 139264, 696320, 480000},
	{H264Level62, 16711680, 139264, 696320, 800000},
}

func lookupH264Level(level uint8) (h264LevelLimits, bool) {
	for _, l := range h264LevelTable {
		if l.level == level {
			return l, true
		}
	}
	return h264LevelLimits{}, false
}

// h264CpbBrNalFactor is the Table A-2 cpbBrNalFactor for profile.
func h264CpbBrNalFactor(profile VideoCodecProfile) uint64 {
	if profile == H264ProfileHigh {
		return 1500
	}
	return 1200
}

// H264FrameSizeInMbs returns the number of macroblocks covering size.
func H264FrameSizeInMbs(size Size) uint32 {
	w := (size.Width + h264MacroblockSize - 1) / h264MacroblockSize
	h := (size.Height + h264MacroblockSize - 1) / h264MacroblockSize
	return uint32(w * h)
}

// CheckH264LevelLimits reports whether a stream with the given bitrate
// (bits/s), framerate and frame size fits level.
func CheckH264LevelLimits(profile VideoCodecProfile, level uint8, bitrate, framerate, frameSizeInMbs uint32) bool {
	limits, ok := lookupH264Level(level)
	if !ok || frameSizeInMbs == 0 {
		return false
	}
	if uint64(bitrate) > uint64(limits.maxBR)*h264CpbBrNalFactor(profile) {
		return false
	}
	if frameSizeInMbs > limits.maxFS {
		return false
	}
	if uint64(frameSizeInMbs)*uint64(framerate) > uint64(limits.maxMBPS) {
		return false
	}
	// The DPB must hold at least one frame.
	return limits.maxDpbMbs/frameSizeInMbs > 0
}

// FindValidH264Level returns the lowest level that can carry the stream.
func FindValidH264Level(profile VideoCodecProfile, bitrate, framerate, frameSizeInMbs uint32) (uint8, bool) {
	for _, l := range h264LevelTable {
		if CheckH264LevelLimits(profile, l.level, bitrate, framerate, frameSizeInMbs) {
			return l.level, true
		}
	}
	return 0, false
}
