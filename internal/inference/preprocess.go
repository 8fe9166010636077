package inference

import (
	"image"

	"github.com/disintegration/gift"

	"github.com/technospes/StrikeSync-Project/internal/types"
)

// Resizer downscales frames whose long side exceeds MaxSide before they are
// sent to the model, preserving aspect ratio. Frames already small enough
// pass through untouched.
type Resizer struct {
	MaxSide int
}

// prepared is a frame ready for the worker plus the factors that map
// model-space coordinates back to source pixels.
type prepared struct {
	Data   []byte
	Width  int
	Height int
	ScaleX float64
	ScaleY float64
}

// targetSize returns the output size for a w×h frame.
func (r Resizer) targetSize(w, h int) (int, int) {
	long := w
	if h > long {
		long = h
	}
	if r.MaxSide <= 0 || long <= r.MaxSide {
		return w, h
	}

	ratio := float64(r.MaxSide) / float64(long)
	tw := int(float64(w)*ratio + 0.5)
	th := int(float64(h)*ratio + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

// Prepare returns the pixels to send for frame. The frame itself is never
// modified; when no resize is needed its Data slice is shared read-only.
func (r Resizer) Prepare(frame *types.Frame) prepared {
	tw, th := r.targetSize(frame.Width, frame.Height)
	if tw == frame.Width && th == frame.Height {
		return prepared{Data: frame.Data, Width: tw, Height: th, ScaleX: 1, ScaleY: 1}
	}

	src := rgbToRGBA(frame.Data, frame.Width, frame.Height)
	g := gift.New(gift.Resize(tw, th, gift.LinearResampling))
	dst := image.NewRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)

	b := dst.Bounds()
	return prepared{
		Data:   rgbaToRGB(dst),
		Width:  b.Dx(),
		Height: b.Dy(),
		ScaleX: float64(frame.Width) / float64(b.Dx()),
		ScaleY: float64(frame.Height) / float64(b.Dy()),
	}
}

// rgbToRGBA expands packed RGB into an opaque *image.RGBA.
func rgbToRGBA(data []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(data) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// rgbaToRGB packs an *image.RGBA into RGB bytes, dropping alpha.
func rgbaToRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return out
}
