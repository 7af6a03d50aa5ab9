// Package msg defines the wire envelopes exchanged over the frame and
// detection topics. All payloads are JSON; image bytes ride base64-encoded
// through encoding/json's default []byte handling.
package msg

// Header correlates an output message with the input frame that produced it.
// It is copied verbatim from the triggering frame onto every output.
type Header struct {
	ID    uint32  `json:"id"`
	Stamp float64 `json:"stamp"`
}

// CompressedImage carries one compressed camera frame.
type CompressedImage struct {
	Header Header `json:"header"`
	Format string `json:"format"`
	Data   []byte `json:"data"`
}

// Detection is one oriented-bounding-box object instance. Width and height
// run along the box's own rotated axes; Angle is the rotation of the width
// axis relative to the image x-axis, in radians.
type Detection struct {
	ClassID   int     `json:"class_id"`
	ClassName string  `json:"class_name"`
	Score     float32 `json:"score"`
	XCenter   float32 `json:"x_center"`
	YCenter   float32 `json:"y_center"`
	Width     float32 `json:"width"`
	Height    float32 `json:"height"`
	Angle     float32 `json:"angle"`
}

// DetectionBatch is the ordered detector output for one frame. Detections
// keeps the detector's native order; an empty batch is a valid result and
// marshals as an empty array, never null.
type DetectionBatch struct {
	Header     Header      `json:"header"`
	Detections []Detection `json:"detections"`
}
