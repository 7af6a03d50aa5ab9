// Package node implements the streaming inference pipeline: one inbound
// compressed frame becomes one annotated frame and one detection batch,
// both carrying the input frame's header. Processing is single-threaded
// and callback-driven; the next frame is only taken once the current
// cycle completes.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"YoloObbNode/engine"
	"YoloObbNode/logger"
	"YoloObbNode/monitor"
	"YoloObbNode/msg"
	"YoloObbNode/transport"
)

// Publisher is the outbound half of the transport layer.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// ClassNamer resolves a class id to a display name.
type ClassNamer interface {
	ClassName(id int) string
}

// Config holds the per-node parameters resolved once at startup.
type Config struct {
	ImageTopic     string
	DetectionTopic string
	Confidence     float32
	JPEGQuality    int
}

// Node owns the per-frame processing cycle. All state mutated during a
// cycle (the two rate trackers, the detector) is touched only by the
// single processing goroutine.
type Node struct {
	cfg      Config
	detector engine.Detector
	pub      Publisher
	now      func() time.Time

	arrival RateTracker
	proc    RateTracker

	// Published atomically so the status API can read live values
	// without touching the trackers.
	arrivalBits atomic.Uint64
	procBits    atomic.Uint64
	frames      atomic.Uint64
}

func New(cfg Config, det engine.Detector, pub Publisher) *Node {
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &Node{
		cfg:      cfg,
		detector: det,
		pub:      pub,
		now:      time.Now,
	}
}

// Run drains the inbox until ctx ends, fully processing one frame before
// taking the next. Shutdown is cooperative: it lands between cycles,
// never mid-cycle.
func (n *Node) Run(ctx context.Context, frames *transport.Inbox) {
	for {
		frame, ok := frames.Next(ctx)
		if !ok {
			return
		}
		n.HandleFrame(frame)
	}
}

// HandleFrame executes one complete cycle: rate accounting, decode,
// inference, annotation, and dual publication. Per-frame failures are
// logged and skip the rest of the cycle; the node keeps serving.
func (n *Node) HandleFrame(frame msg.CompressedImage) {
	subRate := n.arrival.Update(n.now())

	img, err := decodeImage(frame.Data)
	if err != nil {
		logger.Log().Error("error decoding compressed image",
			zap.Uint32("id", frame.Header.ID), zap.Error(err))
		monitor.DecodeFailures.Inc()
		return
	}
	defer func() {
		_ = img.Close()
	}()

	dets, err := n.detector.Detect(img, n.cfg.Confidence)
	if err != nil {
		logger.Log().Error("inference failed, skipping frame",
			zap.Uint32("id", frame.Header.ID), zap.Error(err))
		monitor.InferenceFailures.Inc()
		return
	}
	n.detector.Draw(&img, dets)
	procRate := n.proc.Update(n.now())

	overlayRates(&img, subRate, procRate)

	// Independent failure domains: a failed image encode or publish must
	// not stop the detection batch from going out.
	n.publishAnnotated(frame.Header, img)
	n.publishDetections(frame.Header, dets)

	n.arrivalBits.Store(math.Float64bits(subRate))
	n.procBits.Store(math.Float64bits(procRate))
	n.frames.Add(1)
	monitor.FramesProcessed.Inc()
	monitor.ArrivalRate.Set(subRate)
	monitor.ProcessRate.Set(procRate)
}

func (n *Node) publishAnnotated(h msg.Header, img gocv.Mat) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img,
		[]int{gocv.IMWriteJpegQuality, n.cfg.JPEGQuality})
	if err != nil {
		logger.Log().Error("failed to encode annotated image",
			zap.Uint32("id", h.ID), zap.Error(err))
		monitor.PublishFailures.Inc()
		return
	}
	defer buf.Close()

	out := msg.CompressedImage{
		Header: h,
		Format: "jpeg",
		Data:   append([]byte(nil), buf.GetBytes()...),
	}
	payload, err := json.Marshal(out)
	if err != nil {
		logger.Log().Error("failed to marshal annotated image", zap.Error(err))
		monitor.PublishFailures.Inc()
		return
	}
	if err := n.pub.Publish(n.cfg.ImageTopic, payload); err != nil {
		logger.Log().Error("failed to publish annotated image",
			zap.String("topic", n.cfg.ImageTopic), zap.Error(err))
		monitor.PublishFailures.Inc()
	}
}

func (n *Node) publishDetections(h msg.Header, dets []engine.OBB) {
	batch := BuildBatch(h, dets, n.detector)
	payload, err := json.Marshal(batch)
	if err != nil {
		logger.Log().Error("failed to marshal detection batch", zap.Error(err))
		monitor.PublishFailures.Inc()
		return
	}
	if err := n.pub.Publish(n.cfg.DetectionTopic, payload); err != nil {
		logger.Log().Error("failed to publish detection batch",
			zap.String("topic", n.cfg.DetectionTopic), zap.Error(err))
		monitor.PublishFailures.Inc()
	}
}

// BuildBatch translates raw detector output into the wire representation,
// in the detector's native order. The rotated-box quintuple is copied
// verbatim; only the class name is derived. The batch always carries a
// non-nil detection slice so an empty result marshals as an empty array.
func BuildBatch(h msg.Header, dets []engine.OBB, names ClassNamer) msg.DetectionBatch {
	batch := msg.DetectionBatch{
		Header:     h,
		Detections: make([]msg.Detection, 0, len(dets)),
	}
	for _, d := range dets {
		batch.Detections = append(batch.Detections, msg.Detection{
			ClassID:   d.ClassID,
			ClassName: names.ClassName(d.ClassID),
			Score:     d.Score,
			XCenter:   d.XCenter,
			YCenter:   d.YCenter,
			Width:     d.Width,
			Height:    d.Height,
			Angle:     d.Angle,
		})
	}
	return batch
}

// Snapshot is the live view served by the status API.
type Snapshot struct {
	ArrivalRate float64 `json:"arrivalRate"`
	ProcessRate float64 `json:"processRate"`
	Frames      uint64  `json:"frames"`
}

func (n *Node) Snapshot() Snapshot {
	return Snapshot{
		ArrivalRate: math.Float64frombits(n.arrivalBits.Load()),
		ProcessRate: math.Float64frombits(n.procBits.Load()),
		Frames:      n.frames.Load(),
	}
}

var overlayColor = color.RGBA{G: 255}

func overlayRates(img *gocv.Mat, sub, proc float64) {
	gocv.PutTextWithParams(img, fmt.Sprintf("Sub FPS: %.1f", sub),
		image.Pt(10, 30), gocv.FontHersheySimplex, 1, overlayColor, 2, gocv.LineAA, false)
	gocv.PutTextWithParams(img, fmt.Sprintf("Proc FPS: %.1f", proc),
		image.Pt(10, 70), gocv.FontHersheySimplex, 1, overlayColor, 2, gocv.LineAA, false)
}

func decodeImage(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, err
	}
	if mat.Empty() {
		// IMDecode returns an empty Mat when decoding fails.
		if err := mat.Close(); err != nil {
			return gocv.Mat{}, err
		}
		return gocv.Mat{}, errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}
