package engine

import (
	"GlyphNet/tensor"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// checkpoint 使用 protobuf 线格式：
//
//	Checkpoint { 1: string architecture; 2: repeated Tensor }
//	Tensor     { 1: string name; 2: packed int64 shape; 3: bytes data (float32 LE) }
const (
	fieldArchitecture = 1
	fieldTensor       = 2

	fieldTensorName  = 1
	fieldTensorShape = 2
	fieldTensorData  = 3
)

type Checkpoint struct {
	Architecture string
	Tensors      []*NamedTensor
}

type NamedTensor struct {
	Name  string
	Value *tensor.Tensor
}

func EncodeCheckpoint(params []*tensor.Param) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldArchitecture, protowire.BytesType)
	b = protowire.AppendString(b, Architecture)
	for _, p := range params {
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTensor(p.Name, p.Value))
	}
	return b
}

func encodeTensor(name string, t *tensor.Tensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTensorName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var shape []byte
	for _, d := range t.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	data := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func DecodeCheckpoint(b []byte) (*Checkpoint, error) {
	ckpt := &Checkpoint{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldArchitecture && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			ckpt.Architecture = v
			b = b[n:]
		case num == fieldTensor && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			nt, err := decodeTensor(v)
			if err != nil {
				return nil, err
			}
			ckpt.Tensors = append(ckpt.Tensors, nt)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if ckpt.Architecture == "" {
		return nil, errors.New("checkpoint has no architecture tag")
	}
	return ckpt, nil
}

func decodeTensor(b []byte) (*NamedTensor, error) {
	nt := &NamedTensor{}
	var shape []int
	var data []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldTensorName:
			nt.Name = string(v)
		case fieldTensorShape:
			for len(v) > 0 {
				d, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return nil, protowire.ParseError(m)
				}
				shape = append(shape, int(d))
				v = v[m:]
			}
		case fieldTensorData:
			data = v
		}
	}
	if nt.Name == "" {
		return nil, errors.New("tensor without name")
	}
	if len(data) != 4*tensor.Volume(shape) {
		return nil, fmt.Errorf("tensor %s: %d data bytes for shape %v", nt.Name, len(data), shape)
	}
	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	t, err := tensor.FromData(values, shape...)
	if err != nil {
		return nil, err
	}
	nt.Value = t
	return nt, nil
}

// applyTo 先整体校验再拷贝，校验失败时参数保持不变
func (ck *Checkpoint) applyTo(params []*tensor.Param) error {
	if ck.Architecture != Architecture {
		return fmt.Errorf("architecture %q, want %q", ck.Architecture, Architecture)
	}
	byName := make(map[string]*tensor.Tensor, len(ck.Tensors))
	for _, nt := range ck.Tensors {
		if _, dup := byName[nt.Name]; dup {
			return fmt.Errorf("duplicate tensor %s", nt.Name)
		}
		byName[nt.Name] = nt.Value
	}
	if len(byName) != len(params) {
		return fmt.Errorf("checkpoint has %d tensors, model has %d", len(byName), len(params))
	}
	for _, p := range params {
		t, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("missing tensor %s", p.Name)
		}
		if !t.SameShape(p.Value) {
			return fmt.Errorf("tensor %s has shape %v, want %v", p.Name, t.Shape, p.Value.Shape)
		}
	}
	for _, p := range params {
		copy(p.Value.Data, byName[p.Name].Data)
	}
	return nil
}
