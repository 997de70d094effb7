package workflow

import (
	"math"
	"strconv"
	"strings"
)

// AspectRatios are the presets offered by the dimensions control.
var AspectRatios = []string{
	"1:1", "4:3", "3:4", "16:9", "9:16", "3:2", "2:3", "7:9", "9:7", "1:2", "2:1",
}

// PixelCounts are the megapixel presets. 1M is 1024*1024 pixels.
var PixelCounts = []string{"0.25M", "0.5M", "1M", "1.5M", "2M"}

const dimensionStep = 64

// DimensionsField prefixes the derived override sub-keys. They never resolve
// to a real input and are dropped at merge time.
const DimensionsField = "Dimensions"

// CalculateDimensions turns an aspect ratio such as "16:9" and a pixel count
// in megapixels into a width and height rounded to multiples of 64. An
// unparsable ratio is treated as 1:1.
func CalculateDimensions(aspect string, megapixels float64) (int, int) {
	total := megapixels * 1024 * 1024
	ratio := parseRatio(aspect)

	height := math.Sqrt(total / ratio)
	width := height * ratio

	return max(dimensionStep, roundTo64(width)), max(dimensionStep, roundTo64(height))
}

func parseRatio(aspect string) float64 {
	w, h, ok := strings.Cut(aspect, ":")
	if !ok {
		return 1
	}
	wf, errW := strconv.ParseFloat(strings.TrimSpace(w), 64)
	hf, errH := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if errW != nil || errH != nil || wf <= 0 || hf <= 0 {
		return 1
	}
	return wf / hf
}

func roundTo64(v float64) int {
	return int(math.RoundToEven(v/dimensionStep) * dimensionStep)
}

// ParsePixelCount parses a preset such as "1.5M".
func ParsePixelCount(pc string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(pc), "M"), 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

// FindMatchingPreset returns the preset that produces exactly width x height.
func FindMatchingPreset(width, height int) (aspect, pixels string, ok bool) {
	for _, ar := range AspectRatios {
		for _, pc := range PixelCounts {
			mp, _ := ParsePixelCount(pc)
			w, h := CalculateDimensions(ar, mp)
			if w == width && h == height {
				return ar, pc, true
			}
		}
	}
	return "", "", false
}

// FindNearestPreset returns the preset whose dimensions are closest to
// width x height.
func FindNearestPreset(width, height int) (aspect, pixels string) {
	best := math.Inf(1)
	aspect, pixels = "1:1", "1M"
	for _, ar := range AspectRatios {
		for _, pc := range PixelCounts {
			mp, _ := ParsePixelCount(pc)
			w, h := CalculateDimensions(ar, mp)
			d := math.Hypot(float64(w-width), float64(h-height))
			if d < best {
				best = d
				aspect, pixels = ar, pc
			}
		}
	}
	return aspect, pixels
}

// DimensionOverrides returns the overrides for a preset selection on the
// node holding a width/height pair.
func DimensionOverrides(nodeID, aspect, pixels string) (Overrides, bool) {
	mp, ok := ParsePixelCount(pixels)
	if !ok {
		return nil, false
	}
	w, h := CalculateDimensions(aspect, mp)
	o := Overrides{}
	o[Key(nodeID, "width")] = w
	o[Key(nodeID, "height")] = h
	o[Key(nodeID, DimensionsField+".aspect_ratio")] = aspect
	o[Key(nodeID, DimensionsField+".pixel_count")] = pixels
	return o, true
}
