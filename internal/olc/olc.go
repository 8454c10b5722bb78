// Package olc encodes coordinates as short Open Location Code labels.
//
// Only the ten-character pair section of the code is implemented; that is
// the precision the pipeline tags positions with (roughly a 14m cell).
package olc

import (
	"errors"
	"math"
	"strings"
)

const (
	// Alphabet is the base-20 digit set, chosen to avoid vowels and
	// easily-confused characters.
	Alphabet     = "23456789CFGHJMPQRVWX"
	encodingBase = len(Alphabet)

	latitudeMax  = 90.0
	longitudeMax = 180.0

	// PairCodeLength is the number of digits in a standard pair code.
	PairCodeLength = 10

	separator         = '+'
	separatorPosition = 8
)

// pairResolutions holds the degrees spanned by each successive digit pair.
var pairResolutions = [...]float64{20.0, 1.0, 0.05, 0.0025, 0.000125}

var (
	// ErrInvalidLength is returned for unsupported code lengths.
	ErrInvalidLength = errors.New("olc: invalid code length")
	// ErrInvalidCode is returned when decoding a malformed code.
	ErrInvalidCode = errors.New("olc: invalid code")
)

// clipLatitude clamps latitude to the valid range.
func clipLatitude(lat float64) float64 {
	return math.Min(math.Max(lat, -latitudeMax), latitudeMax)
}

// normalizeLongitude wraps longitude into [-180, 180).
func normalizeLongitude(lon float64) float64 {
	for lon < -longitudeMax {
		lon += 360
	}
	for lon >= longitudeMax {
		lon -= 360
	}
	return lon
}

// Encode returns the standard ten-digit code for a coordinate.
func Encode(lat, lon float64) string {
	code, _ := EncodeLength(lat, lon, PairCodeLength)
	return code
}

// EncodeLength encodes a coordinate at the requested code length. Lengths
// shorter than the standard must be even; longer codes are padded with '0'.
func EncodeLength(lat, lon float64, codeLength int) (string, error) {
	if codeLength < 2 || (codeLength < PairCodeLength && codeLength%2 == 1) {
		return "", ErrInvalidLength
	}

	lat = clipLatitude(lat)
	lon = normalizeLongitude(lon)

	latVal := lat + latitudeMax
	lonVal := lon + longitudeMax

	var b strings.Builder
	pairLength := codeLength
	if pairLength > PairCodeLength {
		pairLength = PairCodeLength
	}

	for i := 0; i < pairLength/2; i++ {
		resolution := pairResolutions[i]

		latDigit := int(latVal/resolution) % encodingBase
		lonDigit := int(lonVal/resolution) % encodingBase

		b.WriteByte(Alphabet[latDigit])
		b.WriteByte(Alphabet[lonDigit])

		latVal -= math.Floor(latVal/resolution) * resolution
		lonVal -= math.Floor(lonVal/resolution) * resolution
	}

	for i := PairCodeLength; i < codeLength; i++ {
		b.WriteByte('0')
	}

	code := b.String()
	if len(code) > separatorPosition {
		code = code[:separatorPosition] + string(separator) + code[separatorPosition:]
	}
	return code, nil
}

// Decode returns the center coordinate of the cell a code describes.
func Decode(code string) (lat, lon float64, err error) {
	clean := strings.ToUpper(code)
	clean = strings.ReplaceAll(clean, string(separator), "")
	clean = strings.ReplaceAll(clean, "0", "")

	if len(clean) < 2 {
		return 0, 0, ErrInvalidCode
	}
	for _, c := range clean {
		if !strings.ContainsRune(Alphabet, c) {
			return 0, 0, ErrInvalidCode
		}
	}

	lat = -latitudeMax
	lon = -longitudeMax

	pairs := len(clean) / 2
	if pairs > len(pairResolutions) {
		pairs = len(pairResolutions)
	}
	for i := 0; i < pairs; i++ {
		resolution := pairResolutions[i]
		lat += float64(strings.IndexByte(Alphabet, clean[2*i])) * resolution
		lon += float64(strings.IndexByte(Alphabet, clean[2*i+1])) * resolution
	}

	// Return the cell center rather than its south-west corner.
	precision := pairResolutions[pairs-1] / 2
	return lat + precision, lon + precision, nil
}
