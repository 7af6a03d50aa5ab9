package node

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"YoloObbNode/engine"
	"YoloObbNode/msg"
)

type fakeDetector struct {
	dets     []engine.OBB
	err      error
	calls    int
	lastConf float32
	names    []string
}

func (f *fakeDetector) Detect(img gocv.Mat, conf float32) ([]engine.OBB, error) {
	f.calls++
	f.lastConf = conf
	if f.err != nil {
		return nil, f.err
	}
	return f.dets, nil
}

func (f *fakeDetector) Draw(img *gocv.Mat, dets []engine.OBB) {}

func (f *fakeDetector) ClassName(id int) string {
	if id < 0 || id >= len(f.names) {
		return engine.UnknownClass
	}
	return f.names[id]
}

func (f *fakeDetector) Close() error { return nil }

type published struct {
	topic   string
	payload []byte
}

type capturePub struct {
	records   []published
	failTopic string
}

func (p *capturePub) Publish(topic string, payload []byte) error {
	if topic == p.failTopic {
		return errors.New("broker rejected publish")
	}
	p.records = append(p.records, published{topic: topic, payload: payload})
	return nil
}

func (p *capturePub) byTopic(topic string) [][]byte {
	var out [][]byte
	for _, r := range p.records {
		if r.topic == topic {
			out = append(out, r.payload)
		}
	}
	return out
}

func testFrame(t *testing.T, header msg.Header) msg.CompressedImage {
	t.Helper()
	m := gocv.NewMatWithSize(64, 64, gocv.MatTypeCV8UC3)
	defer m.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		t.Fatalf("IMEncode failed: %v", err)
	}
	defer buf.Close()
	return msg.CompressedImage{
		Header: header,
		Format: "jpeg",
		Data:   append([]byte(nil), buf.GetBytes()...),
	}
}

func newTestNode(det engine.Detector, pub Publisher, conf float32) *Node {
	return New(Config{
		ImageTopic:     "img",
		DetectionTopic: "det",
		Confidence:     conf,
		JPEGQuality:    90,
	}, det, pub)
}

func TestEndToEndSingleDetection(t *testing.T) {
	det := &fakeDetector{
		names: []string{"plane", "ship", "storage-tank"},
		dets: []engine.OBB{
			{ClassID: 2, Score: 0.83, XCenter: 50, YCenter: 60, Width: 20, Height: 10, Angle: 0.3},
		},
	}
	pub := &capturePub{}
	n := newTestNode(det, pub, 0.5)

	n.HandleFrame(testFrame(t, msg.Header{ID: 7, Stamp: 100.0}))

	batches := pub.byTopic("det")
	if !assert.Len(t, batches, 1) {
		return
	}
	var batch msg.DetectionBatch
	assert.NoError(t, json.Unmarshal(batches[0], &batch))
	assert.Equal(t, msg.Header{ID: 7, Stamp: 100.0}, batch.Header)
	if assert.Len(t, batch.Detections, 1) {
		d := batch.Detections[0]
		assert.Equal(t, 2, d.ClassID)
		assert.Equal(t, "storage-tank", d.ClassName)
		assert.Equal(t, float32(0.83), d.Score)
		assert.Equal(t, float32(50), d.XCenter)
		assert.Equal(t, float32(60), d.YCenter)
		assert.Equal(t, float32(20), d.Width)
		assert.Equal(t, float32(10), d.Height)
		assert.Equal(t, float32(0.3), d.Angle)
	}

	images := pub.byTopic("img")
	if assert.Len(t, images, 1) {
		var annotated msg.CompressedImage
		assert.NoError(t, json.Unmarshal(images[0], &annotated))
		assert.Equal(t, batch.Header, annotated.Header)
		assert.Equal(t, "jpeg", annotated.Format)
		assert.NotEmpty(t, annotated.Data)
	}
}

func TestEmptyBatchStillPublished(t *testing.T) {
	det := &fakeDetector{names: []string{"plane"}}
	pub := &capturePub{}
	n := newTestNode(det, pub, 0.5)

	n.HandleFrame(testFrame(t, msg.Header{ID: 1, Stamp: 1.0}))

	batches := pub.byTopic("det")
	if !assert.Len(t, batches, 1) {
		return
	}
	// An empty result is a valid batch: present, and an array, never null.
	assert.True(t, strings.Contains(string(batches[0]), `"detections":[]`),
		"expected empty detections array, got %s", batches[0])
}

func TestDecodeFailureSkipsCycle(t *testing.T) {
	det := &fakeDetector{names: []string{"plane"}}
	pub := &capturePub{}
	n := newTestNode(det, pub, 0.5)

	n.HandleFrame(msg.CompressedImage{
		Header: msg.Header{ID: 3, Stamp: 3.0},
		Format: "jpeg",
		Data:   []byte("definitely not an image"),
	})

	assert.Empty(t, pub.records, "no publication may happen for an undecodable frame")
	assert.Equal(t, 0, det.calls)

	// The node keeps serving: the next valid frame publishes normally.
	n.HandleFrame(testFrame(t, msg.Header{ID: 4, Stamp: 4.0}))
	assert.Len(t, pub.byTopic("det"), 1)
	assert.Len(t, pub.byTopic("img"), 1)
}

func TestInferenceFailureSkipsCycle(t *testing.T) {
	det := &fakeDetector{err: errors.New("backend exploded")}
	pub := &capturePub{}
	n := newTestNode(det, pub, 0.5)

	n.HandleFrame(testFrame(t, msg.Header{ID: 5, Stamp: 5.0}))

	assert.Empty(t, pub.records)
}

func TestImagePublishFailureDoesNotBlockBatch(t *testing.T) {
	det := &fakeDetector{
		names: []string{"plane"},
		dets:  []engine.OBB{{ClassID: 0, Score: 0.9, XCenter: 1, YCenter: 2, Width: 3, Height: 4, Angle: 0}},
	}
	pub := &capturePub{failTopic: "img"}
	n := newTestNode(det, pub, 0.5)

	n.HandleFrame(testFrame(t, msg.Header{ID: 6, Stamp: 6.0}))

	assert.Empty(t, pub.byTopic("img"))
	assert.Len(t, pub.byTopic("det"), 1, "batch publication is an independent failure domain")
}

func TestThresholdPassedThroughUnmodified(t *testing.T) {
	det := &fakeDetector{names: []string{"plane"}}
	pub := &capturePub{}
	n := newTestNode(det, pub, 0.73)

	n.HandleFrame(testFrame(t, msg.Header{ID: 8, Stamp: 8.0}))

	assert.Equal(t, float32(0.73), det.lastConf)
}

func TestBuildBatchIdempotent(t *testing.T) {
	det := &fakeDetector{names: []string{"plane", "ship"}}
	dets := []engine.OBB{
		{ClassID: 1, Score: 0.9, XCenter: 10, YCenter: 20, Width: 30, Height: 40, Angle: 1.1},
		{ClassID: 9, Score: 0.6, XCenter: 1, YCenter: 2, Width: 3, Height: 4, Angle: -0.2},
	}
	h := msg.Header{ID: 9, Stamp: 9.0}

	first := BuildBatch(h, dets, det)
	second := BuildBatch(h, dets, det)

	assert.Equal(t, first, second)
	// Native order is preserved and out-of-range ids fall back.
	assert.Equal(t, "ship", first.Detections[0].ClassName)
	assert.Equal(t, engine.UnknownClass, first.Detections[1].ClassName)
}
