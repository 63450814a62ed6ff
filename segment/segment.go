package segment

import (
	iface "GlyphNet/interface"
	"GlyphNet/vision"
	"fmt"
	"image"
	"sort"
)

const (
	DefaultCutoff  = 127
	DefaultMinSide = 5
)

// Region 一个候选字符区域，Pixels 取自二值化后的图像
type Region struct {
	Box    image.Rectangle
	Pixels *image.Gray
}

type Segmenter struct {
	Ops iface.ImageOps
	// Cutoff 之上（更亮）的像素视为背景
	Cutoff uint8
	// 宽和高都必须严格大于 MinSide
	MinSide int
}

func New(ops iface.ImageOps) *Segmenter {
	return &Segmenter{Ops: ops, Cutoff: DefaultCutoff, MinSide: DefaultMinSide}
}

func (s *Segmenter) SegmentFile(path string) ([]Region, error) {
	img, err := s.Ops.Load(path)
	if err != nil {
		return nil, err
	}
	return s.Segment(img)
}

// Segment 反向二值化后取最外层轮廓，过滤过小的框，按从左到右排序
func (s *Segmenter) Segment(img *image.Gray) ([]Region, error) {
	binary, err := s.Ops.ThresholdInv(img, s.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("threshold: %w", err)
	}
	boxes, err := s.Ops.ExternalBoxes(binary)
	if err != nil {
		return nil, fmt.Errorf("contours: %w", err)
	}
	kept := boxes[:0]
	for _, b := range boxes {
		if b.Dx() > s.MinSide && b.Dy() > s.MinSide {
			kept = append(kept, b)
		}
	}
	SortBoxes(kept)

	regions := make([]Region, 0, len(kept))
	for _, b := range kept {
		regions = append(regions, Region{Box: b, Pixels: vision.Crop(binary, b)})
	}
	return regions, nil
}

// SortBoxes 按 x、y、宽度排序，保证输出顺序确定
func SortBoxes(boxes []image.Rectangle) {
	sort.SliceStable(boxes, func(i, j int) bool {
		a, b := boxes[i], boxes[j]
		if a.Min.X != b.Min.X {
			return a.Min.X < b.Min.X
		}
		if a.Min.Y != b.Min.Y {
			return a.Min.Y < b.Min.Y
		}
		return a.Dx() < b.Dx()
	})
}
