// Package layout computes the source/destination rectangle pair used to
// render a video frame into an output of a different aspect ratio.
//
// The math is a direct, line-for-line port of
// original_source/src/core/layout.rs's calculate_layout, translated to the
// Rect/IntRect types below; it carries no third-party dependency because
// it is a handful of closed-form arithmetic expressions with no ecosystem
// library worth reaching for.
package layout

import "math"

// Mode is the video-to-output scaling policy.
type Mode int

const (
	Fill Mode = iota
	Contain
	Stretch
	Centre
)

// Cover is an alias for Fill.
const Cover = Fill

// ParseMode parses a case-insensitive layout string from the wire protocol.
func ParseMode(s string) (Mode, bool) {
	switch toLower(s) {
	case "fill", "cover":
		return Fill, true
	case "contain":
		return Contain, true
	case "stretch":
		return Stretch, true
	case "centre", "center":
		return Centre, true
	default:
		return 0, false
	}
}

func (m Mode) String() string {
	switch m {
	case Fill:
		return "fill"
	case Contain:
		return "contain"
	case Stretch:
		return "stretch"
	case Centre:
		return "centre"
	default:
		return "unknown"
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Rect is a normalised [0,1]^2 source rectangle.
type Rect struct {
	X, Y, W, H float64
}

// IntRect is a destination rectangle in output pixels.
type IntRect struct {
	X, Y, W, H int
}

// Transform computes the source and destination rectangles for rendering a
// video of size (vw,vh) into an output of size (ow,oh) under mode.
//
// Rounding ties (the scaled dimension lands exactly on .5) break toward the
// larger destination size, i.e. round-half-away-from-zero.
func Transform(mode Mode, vw, vh, ow, oh int) (Rect, IntRect) {
	va := float64(vw) / float64(vh)
	oa := float64(ow) / float64(oh)

	switch mode {
	case Fill:
		if va > oa {
			scale := float64(oh) / float64(vh)
			scaledW := float64(vw) * scale
			cropW := float64(ow) / scaledW
			cropX := (1.0 - cropW) / 2.0
			return Rect{X: cropX, Y: 0, W: cropW, H: 1}, IntRect{0, 0, ow, oh}
		}
		scale := float64(ow) / float64(vw)
		scaledH := float64(vh) * scale
		cropH := float64(oh) / scaledH
		cropY := (1.0 - cropH) / 2.0
		return Rect{X: 0, Y: cropY, W: 1, H: cropH}, IntRect{0, 0, ow, oh}

	case Contain:
		if va > oa {
			scale := float64(ow) / float64(vw)
			scaledH := roundHalfAwayFromZero(float64(vh) * scale)
			offsetY := (oh - scaledH) / 2
			return Rect{0, 0, 1, 1}, IntRect{0, offsetY, ow, scaledH}
		}
		scale := float64(oh) / float64(vh)
		scaledW := roundHalfAwayFromZero(float64(vw) * scale)
		offsetX := (ow - scaledW) / 2
		return Rect{0, 0, 1, 1}, IntRect{offsetX, 0, scaledW, oh}

	case Stretch:
		return Rect{0, 0, 1, 1}, IntRect{0, 0, ow, oh}

	case Centre:
		offsetX := (ow - vw) / 2
		offsetY := (oh - vh) / 2
		return Rect{0, 0, 1, 1}, IntRect{offsetX, offsetY, vw, vh}

	default:
		return Rect{0, 0, 1, 1}, IntRect{0, 0, ow, oh}
	}
}

func roundHalfAwayFromZero(f float64) int {
	if f >= 0 {
		return int(math.Floor(f + 0.5))
	}
	return int(math.Ceil(f - 0.5))
}
