package track

import "math"

// earthRadiusMeters is the mean spherical earth radius.
const earthRadiusMeters = 6371000.0

// destinationPoint returns the coordinate reached by travelling distance
// meters from (lat, lon) along the given bearing (degrees clockwise from
// north) on a spherical earth. A negative distance travels backward along
// the bearing.
//
// Flat-plane meters-per-degree shortcuts accumulate noticeable error away
// from the equator, so the spherical inverse geodesic is used instead.
func destinationPoint(lat, lon, bearingDeg, distance float64) (float64, float64) {
	delta := distance / earthRadiusMeters // angular distance
	theta := bearingDeg * math.Pi / 180

	phi1 := lat * math.Pi / 180
	lambda1 := lon * math.Pi / 180

	sinPhi2 := math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta)
	phi2 := math.Asin(sinPhi2)

	y := math.Sin(theta) * math.Sin(delta) * math.Cos(phi1)
	x := math.Cos(delta) - math.Sin(phi1)*sinPhi2
	lambda2 := lambda1 + math.Atan2(y, x)

	newLat := phi2 * 180 / math.Pi
	newLon := lambda2 * 180 / math.Pi

	// Normalize longitude to [-180, 180).
	newLon = math.Mod(newLon+540, 360) - 180

	return newLat, newLon
}
