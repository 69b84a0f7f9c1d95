package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRenderer struct {
	img    image.Image
	err    error
	panics bool
	gotDPI float64
	called int
}

func (s *stubRenderer) RenderFirstPage(pdf []byte, dpi float64) (image.Image, error) {
	s.called++
	s.gotDPI = dpi
	if s.panics {
		panic("canvas backend unavailable")
	}
	return s.img, s.err
}

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img
}

// minimalPDF 生成一个带正确xref偏移的单页PDF
func minimalPDF(width, height int) []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents 4 0 R /Resources << >> >>", width, height),
		"<< /Length 0 >>\nstream\n\nendstream",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestConvertProducesPNG(t *testing.T) {
	renderer := &stubRenderer{img: solidImage(40, 20)}
	c := New(WithRenderer(renderer))

	res := c.Convert(context.Background(), []byte("%PDF-stub"), "My Resume.pdf")

	require.False(t, res.Failed(), res.Error)
	assert.Empty(t, res.Error)
	assert.Equal(t, "My Resume.png", res.Image.Filename)
	assert.Equal(t, "image/png", res.Image.ContentType)
	assert.Equal(t, 40, res.Image.Width)
	assert.Equal(t, 20, res.Image.Height)
	assert.InDelta(t, 288.0, renderer.gotDPI, 1e-9, "默认应按4倍原生DPI渲染")

	decoded, err := png.Decode(bytes.NewReader(res.Image.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(3, 3).RGBA()
	assert.Equal(t, uint32(200), r>>8, "PNG应无损")
	assert.Equal(t, uint32(10), g>>8)
	assert.Equal(t, uint32(10), b>>8)
}

func TestConvertFailuresAreStructured(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		pdf      []byte
		renderer *stubRenderer
	}{
		{"empty input", context.Background(), nil, &stubRenderer{}},
		{"renderer error", context.Background(), []byte("x"), &stubRenderer{err: errors.New("corrupt xref")}},
		{"zero pages", context.Background(), []byte("x"), &stubRenderer{err: ErrNoPages}},
		{"renderer panic", context.Background(), []byte("x"), &stubRenderer{panics: true}},
		{"nil image", context.Background(), []byte("x"), &stubRenderer{}},
		{"cancelled context", cancelled, []byte("x"), &stubRenderer{img: solidImage(1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(WithRenderer(tt.renderer)).Convert(tt.ctx, tt.pdf, "cv.pdf")
			assert.True(t, res.Failed())
			assert.Nil(t, res.Image)
			assert.NotEmpty(t, res.Error)
			assert.Contains(t, res.Error, "Failed to convert PDF")
		})
	}
}

func TestWithScale(t *testing.T) {
	renderer := &stubRenderer{img: solidImage(2, 2)}
	c := New(WithRenderer(renderer), WithScale(2), WithScale(-1))
	assert.InDelta(t, 144.0, c.DPI(), 1e-9)
	c.Convert(context.Background(), []byte("x"), "a.pdf")
	assert.InDelta(t, 144.0, renderer.gotDPI, 1e-9)
}

func TestImageFilename(t *testing.T) {
	assert.Equal(t, "resume.png", ImageFilename("resume.pdf"))
	assert.Equal(t, "cv.final.png", ImageFilename("/tmp/cv.final.PDF"))
	assert.Equal(t, "resume.png", ImageFilename(""))
	assert.Equal(t, "resume.png", ImageFilename(".pdf"))
	assert.Equal(t, "noext.png", ImageFilename("noext"))
}

func TestFitzRendererRealPDF(t *testing.T) {
	res := New().Convert(context.Background(), minimalPDF(200, 100), "page.pdf")
	require.False(t, res.Failed(), res.Error)
	assert.InDelta(t, 800, res.Image.Width, 1)
	assert.InDelta(t, 400, res.Image.Height, 1)
}

func TestFitzRendererCorruptPDF(t *testing.T) {
	res := New().Convert(context.Background(), []byte("this is definitely not a pdf"), "bad.pdf")
	assert.True(t, res.Failed())
	assert.NotEmpty(t, res.Error)
}
