package vision

import (
	iface "GlyphNet/interface"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Compact 返回原点为 (0,0) 且 Stride == 宽度的灰度图，必要时拷贝
func Compact(img *image.Gray) *image.Gray {
	r := img.Rect
	if r.Min == (image.Point{}) && img.Stride == r.Dx() {
		return img
	}
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		off := img.PixOffset(r.Min.X, r.Min.Y+y)
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], img.Pix[off:off+r.Dx()])
	}
	return out
}

// Crop 拷贝 rect 区域为独立的灰度图
func Crop(img *image.Gray, rect image.Rectangle) *image.Gray {
	sub, ok := img.SubImage(rect.Intersect(img.Rect)).(*image.Gray)
	if !ok {
		return image.NewGray(image.Rectangle{})
	}
	out := Compact(sub)
	if out == sub {
		out = &image.Gray{Pix: append([]uint8(nil), sub.Pix...), Stride: sub.Stride, Rect: sub.Rect}
	}
	return out
}

func grayToMat(img *image.Gray) (gocv.Mat, error) {
	if img == nil || img.Rect.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", iface.ErrMalformedImage)
	}
	c := Compact(img)
	return gocv.NewMatFromBytes(c.Rect.Dy(), c.Rect.Dx(), gocv.MatTypeCV8UC1, c.Pix)
}

func matToGray(mat gocv.Mat) (*image.Gray, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("%w: empty mat", iface.ErrMalformedImage)
	}
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("%w: expected 8-bit single channel, got %v", iface.ErrMalformedImage, mat.Type())
	}
	rows, cols := mat.Rows(), mat.Cols()
	pix := mat.ToBytes()
	if len(pix) != rows*cols {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", iface.ErrMalformedImage, len(pix), cols, rows)
	}
	return &image.Gray{Pix: pix, Stride: cols, Rect: image.Rect(0, 0, cols, rows)}, nil
}
