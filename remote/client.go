package remote

import (
	iface "GlyphNet/interface"
	"GlyphNet/recognize"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const TimeOutSeconds = 10

// Client 调用远端 serve 的 HTTP 接口，detect -server 时使用
type Client struct {
	http *resty.Client
}

type detectionEnvelope struct {
	Success bool            `json:"success"`
	Data    iface.Detection `json:"data"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/ping")
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ping: server returned %s", resp.Status())
	}
	return nil
}

func (c *Client) Recognize(ctx context.Context, path string) (*iface.Detection, error) {
	var ok detectionEnvelope
	var failed errorEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&ok).    // 2xx 自动反序列化
		SetError(&failed). // 4xx/5xx
		Post("/api/recognize")
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status(), failed.Data)
	}
	if !ok.Success {
		return nil, errors.New("server reported failure")
	}
	return &ok.Data, nil
}

// RecognizeDir 与本地 Pipeline.RecognizeDir 语义一致，只是识别在远端完成
func (c *Client) RecognizeDir(ctx context.Context, dir string, exts []string) ([]recognize.FileResult, error) {
	if len(exts) == 0 {
		exts = recognize.DefaultExtensions
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: images dir %s", iface.ErrMissingResource, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range exts {
			if ext == strings.ToLower(want) {
				names = append(names, e.Name())
				break
			}
		}
	}
	sort.Strings(names)
	results := make([]recognize.FileResult, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		det, err := c.Recognize(ctx, path)
		results = append(results, recognize.FileResult{Name: name, Path: path, Detection: det, Err: err})
	}
	return results, nil
}
