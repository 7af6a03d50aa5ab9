package engine

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"gocv.io/x/gocv"

	"YoloObbNode/logger"

	"go.uber.org/zap"
)

const defaultIoU = 0.45

var boxColor = color.RGBA{G: 255}

// YoloOBB runs a YOLOv8-OBB ONNX graph through the OpenCV DNN module.
// The output head is laid out [1, 4+nc+1, anchors]: box center/extent in
// the first four rows, nc class scores, and the rotation angle in radians
// in the last row.
type YoloOBB struct {
	net       gocv.Net
	names     []string
	inputSize int
	iou       float32
	modelPath string
}

// LoadYoloOBB reads the model graph and prepares it for inference. It fails
// rather than returning a half-initialized detector.
func LoadYoloOBB(modelPath string, names []string, inputSize int) (*YoloOBB, error) {
	if filepath.Ext(modelPath) != ".onnx" {
		return nil, fmt.Errorf("LoadYoloOBB only supports .onnx models, got %q", modelPath)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read network from %s", modelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("set dnn backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		_ = net.Close()
		return nil, fmt.Errorf("set dnn target: %w", err)
	}
	logger.Log().Info("model loaded",
		zap.String("modelPath", modelPath),
		zap.Int("inputSize", inputSize),
		zap.Int("classes", len(names)))
	return &YoloOBB{
		net:       net,
		names:     names,
		inputSize: inputSize,
		iou:       defaultIoU,
		modelPath: modelPath,
	}, nil
}

// Detect runs one forward pass and returns oriented detections scoring at
// or above conf, in the graph's native anchor order after suppression.
func (d *YoloOBB) Detect(img gocv.Mat, conf float32) ([]OBB, error) {
	if img.Empty() {
		return nil, errors.New("empty input image")
	}

	// Pad to a square so the fixed-size blob does not distort the aspect
	// ratio; detections scale back by side/inputSize.
	side := img.Rows()
	if img.Cols() > side {
		side = img.Cols()
	}
	square := gocv.NewMatWithSize(side, side, gocv.MatTypeCV8UC3)
	defer square.Close()
	roi := square.Region(image.Rect(0, 0, img.Cols(), img.Rows()))
	img.CopyTo(&roi)
	if err := roi.Close(); err != nil {
		return nil, err
	}
	scale := float32(side) / float32(d.inputSize)

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(d.inputSize, d.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("inference produced no output")
	}
	return d.decode(&out, scale, conf), nil
}

func (d *YoloOBB) decode(out *gocv.Mat, scale float32, conf float32) []OBB {
	sizes := out.Size()
	if len(sizes) != 3 {
		return nil
	}
	rows := sizes[1]
	anchors := sizes[2]
	nc := rows - 5
	if nc < 1 {
		return nil
	}

	var (
		dets   []OBB
		rects  []image.Rectangle
		scores []float32
	)
	for j := 0; j < anchors; j++ {
		best := float32(0)
		bestID := 0
		for c := 0; c < nc; c++ {
			if s := out.GetFloatAt3(0, 4+c, j); s > best {
				best = s
				bestID = c
			}
		}
		if best < conf {
			continue
		}
		det := OBB{
			ClassID: bestID,
			Score:   best,
			XCenter: out.GetFloatAt3(0, 0, j) * scale,
			YCenter: out.GetFloatAt3(0, 1, j) * scale,
			Width:   out.GetFloatAt3(0, 2, j) * scale,
			Height:  out.GetFloatAt3(0, 3, j) * scale,
			Angle:   out.GetFloatAt3(0, 4+nc, j),
		}
		dets = append(dets, det)
		rects = append(rects, enclosingRect(det))
		scores = append(scores, det.Score)
	}
	if len(dets) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(rects, scores, conf, d.iou)
	kept := make([]OBB, 0, len(keep))
	for _, idx := range keep {
		kept = append(kept, dets[idx])
	}
	return kept
}

// Draw renders each rotated box and its class label onto the frame in place.
func (d *YoloOBB) Draw(img *gocv.Mat, dets []OBB) {
	for _, det := range dets {
		pts := corners(det)
		for i := range pts {
			gocv.Line(img, pts[i], pts[(i+1)%4], boxColor, 2)
		}
		label := fmt.Sprintf("%s %.2f", d.ClassName(det.ClassID), det.Score)
		org := image.Pt(pts[0].X, pts[0].Y-5)
		gocv.PutTextWithParams(img, label, org, gocv.FontHersheySimplex, 0.5,
			boxColor, 1, gocv.LineAA, false)
	}
}

// ClassName resolves a class id against the name table, falling back to
// UnknownClass for out-of-range ids.
func (d *YoloOBB) ClassName(id int) string {
	if id < 0 || id >= len(d.names) {
		return UnknownClass
	}
	return d.names[id]
}

func (d *YoloOBB) Close() error {
	return d.net.Close()
}

// Warmup runs a few inferences over a small black image so the first real
// frame does not pay graph-initialization cost. A panic inside the backend
// is contained.
func Warmup(d Detector, conf float32) {
	warm := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	for i := 0; i < 3; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Log().Warn("panic during warmup detect", zap.Any("cause", r))
				}
			}()
			_, _ = d.Detect(warm, conf)
		}()
	}
	_ = warm.Close()
}
