// Package embedding loads pretrained word embedding tables. Tables are
// immutable once loaded and shared by every model that consumes them; row 0
// is reserved for the padding token and is always the zero vector.
package embedding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/textmodels/textmodels/ml"
)

var ErrBadTable = errors.New("embedding: malformed table")

type Table struct {
	data []float32
	rows int
	dim  int
}

// New builds a table from row major data. Row 0 is overwritten with zeros:
// it belongs to the padding token and must never contribute to a lookup.
func New(data []float32, rows, dim int) (*Table, error) {
	if rows < 2 || dim < 1 {
		return nil, fmt.Errorf("%w: need at least 2 rows and 1 dimension, got %dx%d", ErrBadTable, rows, dim)
	}
	if len(data) != rows*dim {
		return nil, fmt.Errorf("%w: %d values do not fill %dx%d", ErrBadTable, len(data), rows, dim)
	}

	clear(data[:dim])
	return &Table{data: data, rows: rows, dim: dim}, nil
}

func (t *Table) Rows() int { return t.rows }
func (t *Table) Dim() int  { return t.dim }

// Tensor materializes the table as a (rows, dim) tensor on ctx.
func (t *Table) Tensor(ctx ml.Context) (ml.Tensor, error) {
	return ctx.FromFloatSlice(t.data, t.rows, t.dim)
}

// LoadText reads a GloVe style text table: one row per line, whitespace
// separated values, with an optional leading word column which is ignored
// since models address rows by index. Line i becomes row i+1.
func LoadText(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data []float32
	var dim int
	rows := 1 // row 0 is the reserved padding row

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if _, err := strconv.ParseFloat(fields[0], 32); err != nil {
			fields = fields[1:]
		}

		if dim == 0 {
			dim = len(fields)
			data = make([]float32, dim) // zero padding row
		} else if len(fields) != dim {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrBadTable, rows, len(fields), dim)
		}

		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", ErrBadTable, rows, err)
			}

			data = append(data, float32(v))
		}

		rows++
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	t, err := New(data, rows, dim)
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded text embedding table", "rows", t.rows, "dim", t.dim)
	return t, nil
}

const binaryMagic = 0x54424d45 // "EMBT" little endian

// Binary table dtypes.
const (
	dtypeF32 uint32 = iota
	dtypeF16
	dtypeBF16
)

// LoadBinary reads the raw binary table format: a little endian header of
// magic, dtype, rows and dim as uint32, followed by the row major payload in
// float32, float16 or bfloat16.
func LoadBinary(r io.Reader) (*Table, error) {
	var header struct {
		Magic, DType, Rows, Dim uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
	}

	if header.Magic != binaryMagic {
		return nil, fmt.Errorf("%w: bad magic %08x", ErrBadTable, header.Magic)
	}

	n := int(header.Rows) * int(header.Dim)

	var data []float32
	switch header.DType {
	case dtypeF32:
		data = make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
		}
	case dtypeF16:
		u16s := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, &u16s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
		}

		data = make([]float32, n)
		for i := range u16s {
			data[i] = float16.Frombits(u16s[i]).Float32()
		}
	case dtypeBF16:
		u8s := make([]byte, 2*n)
		if _, err := io.ReadFull(r, u8s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
		}

		data = bfloat16.DecodeFloat32(u8s)
	default:
		return nil, fmt.Errorf("%w: unknown dtype %d", ErrBadTable, header.DType)
	}

	t, err := New(data, int(header.Rows), int(header.Dim))
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded binary embedding table", "rows", t.rows, "dim", t.dim, "dtype", header.DType)
	return t, nil
}
