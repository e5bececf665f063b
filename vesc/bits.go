package vesc

import "math"

// putBE writes the low width bytes of u into b, most significant byte first.
func putBE(b []byte, width int, u uint64) {
	for i := 0; i < width; i++ {
		b[i] = byte(u >> (8 * (width - 1 - i)))
	}
}

func getBE(b []byte, width int) uint64 {
	var u uint64
	for i := 0; i < width; i++ {
		u = u<<8 | uint64(b[i])
	}
	return u
}

func unsignedToRawInt64(u uint64, bitLen int, signed bool) int64 {
	if !signed {
		return int64(u)
	}
	signBit := uint64(1) << (bitLen - 1)
	if (u & signBit) == 0 {
		return int64(u)
	}
	fullMask := uint64((1 << bitLen) - 1)
	twos := (^u + 1) & fullMask
	return -int64(twos)
}

func rawToUnsigned(raw int64, bitLen int) uint64 {
	fullMask := uint64((1 << bitLen) - 1)
	if raw >= 0 {
		return uint64(raw) & fullMask
	}
	u := uint64(-raw)
	return (^u + 1) & fullMask
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		max := int64((1 << bitLen) - 1)
		if raw < 0 {
			return 0
		}
		if raw > max {
			return max
		}
		return raw
	}
	min := -int64(1 << (bitLen - 1))
	max := int64((1 << (bitLen - 1)) - 1)
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}

// toRaw rounds a scaled physical value to an integer, saturating well inside
// the int64 range so the conversion is always defined.
func toRaw(scaled float64) int64 {
	const limit = float64(1 << 62)
	if math.IsNaN(scaled) {
		return 0
	}
	if scaled > limit {
		scaled = limit
	} else if scaled < -limit {
		scaled = -limit
	}
	return int64(math.Round(scaled))
}
