package report

import (
	iface "GlyphNet/interface"
	"GlyphNet/recognize"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Entry 单个文件的输出记录
type Entry struct {
	File    string      `json:"file" yaml:"file"`
	Chars   []string    `json:"chars" yaml:"chars"`
	Boxes   []iface.Box `json:"boxes,omitempty" yaml:"boxes,omitempty"`
	Weights string      `json:"weights,omitempty" yaml:"weights,omitempty"`
	Error   string      `json:"error,omitempty" yaml:"error,omitempty"`
}

func Entries(results []recognize.FileResult) []Entry {
	out := make([]Entry, 0, len(results))
	for _, r := range results {
		e := Entry{File: r.Name, Chars: []string{}}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		if r.Detection != nil {
			e.Chars = r.Detection.Chars
			e.Boxes = r.Detection.Boxes
			e.Weights = r.Detection.Weights
		}
		out = append(out, e)
	}
	return out
}

func Write(w io.Writer, format string, entries []Entry) error {
	switch format {
	case FormatText, "":
		return writeText(w, entries)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown report format %q", format)
}

// writeText 每行 "文件名: [c, c, ...]"，失败的文件输出错误
func writeText(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		var line string
		if e.Error != "" {
			line = fmt.Sprintf("%s: error: %s\n", e.File, e.Error)
		} else {
			line = fmt.Sprintf("%s: [%s]\n", e.File, strings.Join(e.Chars, ", "))
		}
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
