package engine

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassNameBoundsChecked(t *testing.T) {
	d := &YoloOBB{names: []string{"plane", "ship", "storage-tank"}}

	assert.Equal(t, "ship", d.ClassName(1))
	assert.Equal(t, UnknownClass, d.ClassName(-1))
	assert.Equal(t, UnknownClass, d.ClassName(3))
}

func TestCornersAxisAligned(t *testing.T) {
	pts := corners(OBB{XCenter: 50, YCenter: 60, Width: 20, Height: 10, Angle: 0})

	assert.Equal(t, image.Pt(40, 55), pts[0])
	assert.Equal(t, image.Pt(60, 55), pts[1])
	assert.Equal(t, image.Pt(60, 65), pts[2])
	assert.Equal(t, image.Pt(40, 65), pts[3])
}

func TestCornersQuarterTurn(t *testing.T) {
	// At pi/2 the width axis lies along image y: extents swap.
	pts := corners(OBB{XCenter: 50, YCenter: 60, Width: 20, Height: 10, Angle: math.Pi / 2})

	assert.Equal(t, image.Pt(55, 50), pts[0])
	assert.Equal(t, image.Pt(55, 70), pts[1])
	assert.Equal(t, image.Pt(45, 70), pts[2])
	assert.Equal(t, image.Pt(45, 50), pts[3])
}

func TestEnclosingRect(t *testing.T) {
	r := enclosingRect(OBB{XCenter: 50, YCenter: 60, Width: 20, Height: 10, Angle: 0})
	assert.Equal(t, image.Rect(40, 55, 60, 65), r)

	// A rotated box must stay inside its enclosing rectangle.
	d := OBB{XCenter: 50, YCenter: 60, Width: 20, Height: 10, Angle: 0.7}
	r = enclosingRect(d)
	for _, p := range corners(d) {
		assert.True(t, p.In(r.Inset(-1)), "corner %v outside enclosing rect %v", p, r)
	}
}

func TestLoadRejectsNonOnnxModel(t *testing.T) {
	_, err := LoadYoloOBB("model/test_model.param", []string{"plane"}, 640)
	assert.Error(t, err)
}

func TestPrepareModelFailsWithoutAnyModel(t *testing.T) {
	dir := t.TempDir()
	_, err := PrepareModel(
		filepath.Join(dir, "missing.onnx"),
		filepath.Join(dir, "missing.opt.onnx"),
	)
	assert.Error(t, err)
}

func TestPrepareModelPrefersExistingArtifact(t *testing.T) {
	dir := t.TempDir()
	opt := filepath.Join(dir, "model.opt.onnx")
	assert.NoError(t, os.WriteFile(opt, []byte("artifact"), 0o644))

	got, err := PrepareModel(filepath.Join(dir, "missing.onnx"), opt)
	assert.NoError(t, err)
	assert.Equal(t, opt, got)
}

func TestReadLinesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "names.txt")
	assert.NoError(t, os.WriteFile(path, []byte("plane\r\nship\n\nstorage-tank\n"), 0o644))

	names, err := ReadLinesFile(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"plane", "ship", "storage-tank"}, names)
}
