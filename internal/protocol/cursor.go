package protocol

import "encoding/binary"

// NameSize is the width of a fixed name field.
const NameSize = 8

// Reader walks a payload. Reads past the end return ErrTruncated and leave
// the offset unchanged.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.buf)-r.off {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	return v != 0, err
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Blob reads a u32 length followed by that many bytes.
func (r *Reader) Blob() ([]byte, error) {
	start := r.off
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		r.off = start
		return nil, err
	}
	return b, nil
}

// Name scans a fixed NameSize field and keeps only printable ASCII bytes.
// There is no length prefix and a zero byte does not end the scan.
func (r *Reader) Name() (string, error) {
	b, err := r.take(NameSize)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, NameSize)
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			out = append(out, c)
		}
	}
	return string(out), nil
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Offset() int {
	return r.off
}

// Writer accumulates a payload.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) U8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) U16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) U64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	if v {
		return w.U8(1)
	}
	return w.U8(0)
}

func (w *Writer) Raw(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Blob writes a u32 length followed by b.
func (w *Writer) Blob(b []byte) *Writer {
	w.U32(uint32(len(b)))
	return w.Raw(b)
}

// Name writes name into a zero-padded NameSize field.
func (w *Writer) Name(name string) error {
	field, err := EncodeName(name)
	if err != nil {
		return err
	}
	w.buf = append(w.buf, field[:]...)
	return nil
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

// EncodeName packs name into a zero-padded fixed field.
func EncodeName(name string) ([NameSize]byte, error) {
	var field [NameSize]byte
	if len(name) > NameSize {
		return field, ErrNameTooLong
	}
	copy(field[:], name)
	return field, nil
}
