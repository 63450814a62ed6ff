package dataset

import (
	"GlyphNet/classmap"
	iface "GlyphNet/interface"
	"GlyphNet/logger"
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

const Size = 28

// ImageExtensions 与常见图片文件夹数据集的约定一致
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".ppm", ".bmp", ".pgm", ".tif", ".tiff", ".webp"}

// Sample 一张已预处理的样本，Pixels 为 28×28 行主序
type Sample struct {
	Path   string
	Label  int
	Pixels []float32
}

type Dataset struct {
	Root    string
	Classes []string
	Samples []Sample
	// Skipped 解码失败被跳过的文件
	Skipped []string
}

type Loader struct {
	Ops        iface.ImageOps
	Mean       float32
	Std        float32
	Extensions []string
}

// NewLoader 归一化参数为 mean 0 / std 1，即只缩放到 [0,1]
func NewLoader(ops iface.ImageOps) *Loader {
	return &Loader{Ops: ops, Mean: 0, Std: 1, Extensions: ImageExtensions}
}

// Load 每个子目录是一个类别，按目录名排序分配下标
func (l *Loader) Load(root string) (*Dataset, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: dataset root %s", iface.ErrMissingResource, root)
	}
	if err != nil {
		return nil, fmt.Errorf("stat dataset root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: dataset root %s is not a directory", iface.ErrMissingResource, root)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset root: %w", err)
	}
	ds := &Dataset{Root: root}
	for _, e := range entries {
		if e.IsDir() {
			ds.Classes = append(ds.Classes, e.Name())
		}
	}
	sort.Strings(ds.Classes)
	if len(ds.Classes) == 0 {
		return nil, fmt.Errorf("%w: no class directories under %s", iface.ErrMissingResource, root)
	}

	for label, class := range ds.Classes {
		files, err := l.discover(filepath.Join(root, class))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			pixels, err := l.loadOne(path)
			if err != nil {
				logger.Log().Warn("skip unreadable image", zap.String("path", path), zap.Error(err))
				ds.Skipped = append(ds.Skipped, path)
				continue
			}
			ds.Samples = append(ds.Samples, Sample{Path: path, Label: label, Pixels: pixels})
		}
	}

	counts := ds.ClassCounts()
	logger.Log().Info("dataset loaded",
		zap.String("root", root),
		zap.Int("classes", len(ds.Classes)),
		zap.Int("samples", len(ds.Samples)),
		zap.Int("skipped", len(ds.Skipped)),
		zap.Ints("per_class", counts),
	)
	for _, m := range ds.LabelMismatches() {
		logger.Log().Warn("class directory does not match alphabet index", zap.String("detail", m))
	}
	return ds, nil
}

func (l *Loader) discover(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if l.accepts(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) accepts(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range l.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (l *Loader) loadOne(path string) ([]float32, error) {
	img, err := l.Ops.Load(path)
	if err != nil {
		return nil, err
	}
	return Preprocess(l.Ops, img, l.Mean, l.Std)
}

// Preprocess 灰度图缩放到 28×28，像素缩放到 [0,1] 后做 (x-mean)/std
func Preprocess(ops iface.ImageOps, img *image.Gray, mean, std float32) ([]float32, error) {
	if img == nil || img.Rect.Empty() {
		return nil, fmt.Errorf("%w: empty image", iface.ErrMalformedImage)
	}
	small := img
	if img.Rect.Dx() != Size || img.Rect.Dy() != Size {
		var err error
		small, err = ops.Resize(img, Size, Size)
		if err != nil {
			return nil, err
		}
	}
	out := make([]float32, 0, Size*Size)
	r := small.Rect
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := float32(small.GrayAt(x, y).Y) / 255
			out = append(out, (v-mean)/std)
		}
	}
	if len(out) != Size*Size {
		return nil, fmt.Errorf("%w: resized to %v", iface.ErrMalformedImage, r)
	}
	return out, nil
}

func (d *Dataset) Len() int { return len(d.Samples) }

func (d *Dataset) ClassCounts() []int {
	counts := make([]int, len(d.Classes))
	for _, s := range d.Samples {
		counts[s.Label]++
	}
	return counts
}

// LabelMismatches 单字符命名的目录，其下标应与字母表中的位置一致；只报告，不修正
func (d *Dataset) LabelMismatches() []string {
	var out []string
	for label, class := range d.Classes {
		idx, err := classmap.ToIndex(class)
		if err != nil || idx == label {
			continue
		}
		out = append(out, fmt.Sprintf("directory %q trains label %d but decodes as index %d", class, label, idx))
	}
	return out
}

// Batch 将 indices 指定的样本拼成 [b,1,28,28] 张量
func (d *Dataset) Batch(indices []int) (*tensor.Tensor, []int) {
	x := tensor.New(len(indices), 1, Size, Size)
	labels := make([]int, len(indices))
	for i, idx := range indices {
		s := d.Samples[idx]
		copy(x.Data[i*Size*Size:(i+1)*Size*Size], s.Pixels)
		labels[i] = s.Label
	}
	return x, labels
}

// Chunks 按 size 切分，最后一块可以更小
func Chunks(indices []int, size int) [][]int {
	if size <= 0 {
		size = len(indices)
	}
	var out [][]int
	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		out = append(out, indices[start:end])
	}
	return out
}
