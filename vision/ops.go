package vision

import (
	iface "GlyphNet/interface"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"

	"gocv.io/x/gocv"
)

// Ops 基于 gocv 的 iface.ImageOps 实现，所有 Mat 在函数内关闭
type Ops struct {
	Interpolation gocv.InterpolationFlags
}

// NewOps 缩放默认使用双线性插值
func NewOps() *Ops {
	return &Ops{Interpolation: gocv.InterpolationLinear}
}

func (o *Ops) Load(path string) (*image.Gray, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: image %s", iface.ErrMissingResource, path)
	}
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("%w: cannot decode %s", iface.ErrMalformedImage, path)
	}
	return matToGray(mat)
}

func (o *Ops) Decode(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty buffer", iface.ErrMalformedImage)
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadGrayScale)
	defer mat.Close()
	if err != nil || mat.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		return nil, fmt.Errorf("%w: decoded image is empty or unsupported format", iface.ErrMalformedImage)
	}
	return matToGray(mat)
}

func (o *Ops) Resize(img *image.Gray, width, height int) (*image.Gray, error) {
	src, err := grayToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, o.Interpolation)
	return matToGray(dst)
}

func (o *Ops) ThresholdInv(img *image.Gray, cutoff uint8) (*image.Gray, error) {
	src, err := grayToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Threshold(src, &dst, float32(cutoff), 255, gocv.ThresholdBinaryInv)
	return matToGray(dst)
}

func (o *Ops) ExternalBoxes(binary *image.Gray) ([]image.Rectangle, error) {
	src, err := grayToMat(binary)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	contours := gocv.FindContours(src, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	boxes := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		boxes = append(boxes, gocv.BoundingRect(contours.At(i)))
	}
	return boxes, nil
}

var _ iface.ImageOps = (*Ops)(nil)
