package recognize

import (
	"GlyphNet/classmap"
	"GlyphNet/dataset"
	"GlyphNet/engine"
	iface "GlyphNet/interface"
	"GlyphNet/logger"
	"GlyphNet/monitor"
	"GlyphNet/segment"
	"GlyphNet/tensor"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// DefaultExtensions 识别目录时只处理这些后缀
var DefaultExtensions = []string{".jpg", ".png"}

// Pipeline 切分 + 逐区域分类
type Pipeline struct {
	Ops        iface.ImageOps
	Segmenter  *segment.Segmenter
	Classifier *engine.Classifier
	Metrics    *monitor.Metrics
}

func NewPipeline(ops iface.ImageOps, clf *engine.Classifier) *Pipeline {
	if clf.State == engine.UNINITIALIZED {
		logger.Log().Warn("classifier weights are uninitialized; predictions are random")
	}
	return &Pipeline{Ops: ops, Segmenter: segment.New(ops), Classifier: clf}
}

func (p *Pipeline) WeightState() string {
	return p.Classifier.WeightState()
}

// Recognize 每个候选区域输出一个字符，顺序与区域顺序一致
func (p *Pipeline) Recognize(img *image.Gray) (*iface.Detection, error) {
	regions, err := p.Segmenter.Segment(img)
	if err != nil {
		return nil, err
	}
	p.Classifier.Eval()
	det := &iface.Detection{
		Chars:   make([]string, 0, len(regions)),
		Boxes:   make([]iface.Box, 0, len(regions)),
		Weights: p.WeightState(),
	}
	for _, r := range regions {
		char, err := p.classify(r.Pixels)
		if err != nil {
			return nil, fmt.Errorf("region %v: %w", r.Box, err)
		}
		det.Chars = append(det.Chars, char)
		det.Boxes = append(det.Boxes, iface.BoxFromRect(r.Box))
	}
	p.Metrics.ObserveRegions(len(regions))
	return det, nil
}

func (p *Pipeline) classify(region *image.Gray) (string, error) {
	pixels, err := dataset.Preprocess(p.Ops, region, 0, 1)
	if err != nil {
		return "", err
	}
	x, err := tensor.FromData(pixels, 1, 1, dataset.Size, dataset.Size)
	if err != nil {
		return "", err
	}
	pred, err := p.Classifier.Predict(x)
	if err != nil {
		return "", err
	}
	return classmap.ToChar(pred[0])
}

func (p *Pipeline) RecognizeBytes(data []byte) (*iface.Detection, error) {
	img, err := p.Ops.Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Recognize(img)
}

func (p *Pipeline) RecognizeFile(path string) (*iface.Detection, error) {
	img, err := p.Ops.Load(path)
	if err != nil {
		return nil, err
	}
	return p.Recognize(img)
}

// FileResult 目录识别中单个文件的结果，失败时 Err 非空
type FileResult struct {
	Name      string
	Path      string
	Detection *iface.Detection
	Err       error
}

// RecognizeDir 目录不存在直接报错；单个文件失败只记录，不中断
func (p *Pipeline) RecognizeDir(dir string, exts []string) ([]FileResult, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: images dir %s", iface.ErrMissingResource, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	results := make([]FileResult, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		det, err := p.RecognizeFile(path)
		if err != nil {
			logger.Log().Warn("recognition failed", zap.String("file", name), zap.Error(err))
		}
		results = append(results, FileResult{Name: name, Path: path, Detection: det, Err: err})
	}
	return results, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

var _ iface.Recognizer = (*Pipeline)(nil)
