package annexb

// H.264 NAL unit types (low 5 bits of the NAL header byte).
const (
	NALTypeSliceNonIDR uint32 = 1 // P/B slice
	NALTypeSliceIDR    uint32 = 5 // IDR keyframe slice
	NALTypeSEI         uint32 = 6
	NALTypeSPS         uint32 = 7
	NALTypePPS         uint32 = 8
	NALTypeAUD         uint32 = 9
)

// NALType extracts the NAL unit type from a NAL header byte.
func NALType(header byte) uint32 {
	return uint32(header & 0x1F)
}

// IsSlice reports whether the NAL type carries coded slice data
// (non-IDR or IDR).
func IsSlice(nalType uint32) bool {
	return nalType == NALTypeSliceNonIDR || nalType == NALTypeSliceIDR
}

// TypeName returns a short human-readable name for a NAL type.
func TypeName(nalType uint32) string {
	switch nalType {
	case NALTypeSliceNonIDR:
		return "slice"
	case NALTypeSliceIDR:
		return "idr"
	case NALTypeSEI:
		return "sei"
	case NALTypeSPS:
		return "sps"
	case NALTypePPS:
		return "pps"
	case NALTypeAUD:
		return "aud"
	default:
		return "other"
	}
}
