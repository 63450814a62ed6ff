package recognize

import (
	"GlyphNet/classmap"
	"GlyphNet/engine"
	iface "GlyphNet/interface"
	"GlyphNet/vision"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func glyphImage(squares ...image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 160, 60))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, r := range squares {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

var threeGlyphs = []image.Rectangle{
	image.Rect(10, 10, 30, 40),
	image.Rect(60, 15, 75, 45),
	image.Rect(110, 5, 140, 50),
}

func TestPipeline_All(t *testing.T) {
	p := NewPipeline(vision.NewOps(), engine.NewClassifier(21))

	t.Run("Test Recognize", func(t *testing.T) {
		det, err := p.Recognize(glyphImage(threeGlyphs...))
		require.NoError(t, err)
		require.Len(t, det.Chars, 3)
		require.Len(t, det.Boxes, 3)
		for _, c := range det.Chars {
			assert.True(t, classmap.Contains(c), "char %q", c)
		}
		assert.Equal(t, iface.Box{X: 10, Y: 10, W: 20, H: 30}, det.Boxes[0])
		assert.Equal(t, "uninitialized", det.Weights)
	})

	t.Run("Test Blank", func(t *testing.T) {
		det, err := p.Recognize(glyphImage())
		require.NoError(t, err)
		assert.Empty(t, det.Chars)
	})

	t.Run("Test Deterministic", func(t *testing.T) {
		data := pngBytes(t, glyphImage(threeGlyphs...))
		a, err := p.RecognizeBytes(data)
		require.NoError(t, err)
		b, err := p.RecognizeBytes(data)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Test Malformed Bytes", func(t *testing.T) {
		_, err := p.RecognizeBytes([]byte("nope"))
		assert.ErrorIs(t, err, iface.ErrMalformedImage)
	})
}

func TestRecognizeDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), pngBytes(t, glyphImage(threeGlyphs[:2]...)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, glyphImage(threeGlyphs...)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.png"), []byte("broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("skip"), 0o644))

	clf := engine.NewClassifier(4)
	weights := filepath.Join(t.TempDir(), "model.ckpt")
	require.NoError(t, clf.Save(weights))
	loaded := engine.NewClassifier(5)
	require.NoError(t, loaded.Load(weights))

	p := NewPipeline(vision.NewOps(), loaded)
	results, err := p.RecognizeDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.png", results[0].Name)
	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Detection.Chars, 3)
	assert.Equal(t, "loaded", results[0].Detection.Weights)

	assert.Equal(t, "b.png", results[1].Name)
	assert.Len(t, results[1].Detection.Chars, 2)

	assert.Equal(t, "c.png", results[2].Name)
	assert.ErrorIs(t, results[2].Err, iface.ErrMalformedImage)

	_, err = p.RecognizeDir(filepath.Join(dir, "missing"), nil)
	assert.ErrorIs(t, err, iface.ErrMissingResource)
}
