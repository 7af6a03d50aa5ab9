package engine

import (
	"image"
	"math"
	"os"
	"strings"

	"gocv.io/x/gocv"
)

// UnknownClass is returned when a class id falls outside the name table.
// A detector/config mismatch must not take the node down or leak a bogus
// index downstream.
const UnknownClass = "unknown"

// OBB is one oriented detection in image-plane coordinates. Width and
// Height run along the box's own rotated axes; Angle is the rotation of
// the width axis relative to the image x-axis, in radians.
type OBB struct {
	ClassID int
	Score   float32
	XCenter float32
	YCenter float32
	Width   float32
	Height  float32
	Angle   float32
}

// Detector is the object-recognition capability the pipeline runs against.
// Detect returns detections already filtered by the given confidence
// threshold, in the backend's native order. Any concrete backend may
// require a one-time, possibly slow, preparation step before first use.
type Detector interface {
	Detect(img gocv.Mat, conf float32) ([]OBB, error)
	Draw(img *gocv.Mat, dets []OBB)
	ClassName(id int) string
	Close() error
}

// ReadLinesFile loads a class-names file, one name per line. Windows CRLF
// endings are tolerated and blank lines are skipped.
func ReadLinesFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := strings.Split(string(b), "\n")
	var lines []string
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// corners returns the four vertices of the rotated box in drawing order
// (top-left, top-right, bottom-right, bottom-left before rotation).
func corners(d OBB) [4]image.Point {
	c := math.Cos(float64(d.Angle))
	s := math.Sin(float64(d.Angle))
	hw := float64(d.Width) / 2
	hh := float64(d.Height) / 2
	cx := float64(d.XCenter)
	cy := float64(d.YCenter)
	dx := [4]float64{-hw, hw, hw, -hw}
	dy := [4]float64{-hh, -hh, hh, hh}
	var pts [4]image.Point
	for i := 0; i < 4; i++ {
		pts[i] = image.Pt(
			int(math.Round(cx+dx[i]*c-dy[i]*s)),
			int(math.Round(cy+dx[i]*s+dy[i]*c)),
		)
	}
	return pts
}

// enclosingRect is the axis-aligned rectangle covering the rotated box.
// NMS operates on plain rectangles, so rotated candidates are suppressed
// against their enclosing extents.
func enclosingRect(d OBB) image.Rectangle {
	c := math.Abs(math.Cos(float64(d.Angle)))
	s := math.Abs(math.Sin(float64(d.Angle)))
	ex := float64(d.Width)/2*c + float64(d.Height)/2*s
	ey := float64(d.Width)/2*s + float64(d.Height)/2*c
	cx := float64(d.XCenter)
	cy := float64(d.YCenter)
	return image.Rect(
		int(math.Floor(cx-ex)), int(math.Floor(cy-ey)),
		int(math.Ceil(cx+ex)), int(math.Ceil(cy+ey)),
	)
}
