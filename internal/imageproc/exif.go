package imageproc

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// ExtractEXIF reads the EXIF block from raw image bytes and normalizes the
// fixed field set. Images without EXIF yield an empty map, not an error.
func ExtractEXIF(raw []byte) map[string]any {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return map[string]any{}
	}

	md := map[string]any{}
	if v := stringField(x, exif.Make); v != "" {
		md["camera_make"] = v
	}
	if v := stringField(x, exif.Model); v != "" {
		md["camera_model"] = v
	}
	if v := stringField(x, exif.LensModel); v != "" {
		md["lens_model"] = v
	}
	if v := stringField(x, exif.DateTimeOriginal); v != "" {
		md["captured_at"] = v
	}
	if v := exposureTime(x); v != "" {
		md["exposure_time"] = v
	}
	if f, ok := ratField(x, exif.FNumber); ok {
		md["aperture"] = FormatAperture(f)
	}
	if iso, ok := isoField(x); ok {
		md["iso"] = iso
	}
	if gps := gpsField(x); gps != nil {
		md["gps"] = gps
	}
	return md
}

// FormatAperture renders an f-number rounded to two decimals, keeping at
// least one decimal place ("f/2.0", "f/1.8", "f/5.66").
func FormatAperture(f float64) string {
	r := math.Round(f*100) / 100
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return "f/" + s
}

// GPSToDecimal converts one degree/minute/second triplet to decimal degrees,
// negating southern and western references, rounded to six decimals.
func GPSToDecimal(d, m, s float64, ref string) float64 {
	dec := d + m/60.0 + s/3600.0
	if ref == "S" || ref == "W" {
		dec = -dec
	}
	return math.Round(dec*1e6) / 1e6
}

func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	v, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func ratField(x *exif.Exif, name exif.FieldName) (float64, bool) {
	tag, err := x.Get(name)
	if err != nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	return float64(num) / float64(den), true
}

func exposureTime(x *exif.Exif) string {
	tag, err := x.Get(exif.ExposureTime)
	if err != nil {
		return ""
	}
	if num, den, err := tag.Rat2(0); err == nil && den != 0 {
		return strconv.FormatInt(num, 10) + "/" + strconv.FormatInt(den, 10) + "s"
	}
	if f, err := tag.Float(0); err == nil {
		return strconv.FormatFloat(f, 'f', 4, 64) + "s"
	}
	return ""
}

func isoField(x *exif.Exif) (int, bool) {
	tag, err := x.Get(exif.ISOSpeedRatings)
	if err != nil {
		return 0, false
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0, false
	}
	return v, true
}

func gpsField(x *exif.Exif) map[string]any {
	lat, ok1 := gpsCoord(x, exif.GPSLatitude, exif.GPSLatitudeRef)
	lon, ok2 := gpsCoord(x, exif.GPSLongitude, exif.GPSLongitudeRef)
	if !ok1 && !ok2 {
		return nil
	}
	gps := map[string]any{}
	if ok1 {
		gps["latitude"] = lat
	}
	if ok2 {
		gps["longitude"] = lon
	}
	return gps
}

func gpsCoord(x *exif.Exif, coordName, refName exif.FieldName) (float64, bool) {
	tag, err := x.Get(coordName)
	if err != nil {
		return 0, false
	}
	refTag, err := x.Get(refName)
	if err != nil {
		return 0, false
	}
	ref, err := refTag.StringVal()
	if err != nil {
		return 0, false
	}
	var parts [3]float64
	for i := 0; i < 3; i++ {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return 0, false
		}
		parts[i] = float64(num) / float64(den)
	}
	return GPSToDecimal(parts[0], parts[1], parts[2], strings.TrimSpace(ref)), true
}
