package binaryserializer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxItems is the number of buffers to keep in the free
// list to use for binary serialization and deserialization.
const maxItems = 1024

// ErrVarBytesTooLong is returned when a length-prefixed byte slice
// declares a length above the limit given by the caller.
var ErrVarBytesTooLong = errors.New("var bytes length is above the allowed maximum")

// binaryFreeList provides a free list of buffers to use for serializing and
// deserializing primitive integer values to and from io.Readers and io.Writers.
var binaryFreeList = make(chan []byte, maxItems)

// Borrow returns a byte slice from the free list with a length of 8. A new
// buffer is allocated if there are not any available on the free list.
func Borrow() []byte {
	var buf []byte
	select {
	case buf = <-binaryFreeList:
	default:
		buf = make([]byte, 8)
	}
	return buf[:8]
}

// Return puts the provided byte slice back on the free list. The buffer MUST
// have been obtained via the Borrow function and therefore have a cap of 8.
func Return(buf []byte) {
	select {
	case binaryFreeList <- buf:
	default:
		// Let it go to the garbage collector.
	}
}

func readFull(r io.Reader, size int) ([]byte, error) {
	buf := Borrow()[:size]
	if _, err := io.ReadFull(r, buf); err != nil {
		Return(buf)
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

// Uint8 reads a single byte from the provided reader and returns it as a uint8.
func Uint8(r io.Reader) (uint8, error) {
	buf, err := readFull(r, 1)
	if err != nil {
		return 0, err
	}
	rv := buf[0]
	Return(buf)
	return rv, nil
}

// Uint16 reads two little endian bytes from the provided reader.
func Uint16(r io.Reader) (uint16, error) {
	buf, err := readFull(r, 2)
	if err != nil {
		return 0, err
	}
	rv := binary.LittleEndian.Uint16(buf)
	Return(buf)
	return rv, nil
}

// Uint32 reads four little endian bytes from the provided reader.
func Uint32(r io.Reader) (uint32, error) {
	buf, err := readFull(r, 4)
	if err != nil {
		return 0, err
	}
	rv := binary.LittleEndian.Uint32(buf)
	Return(buf)
	return rv, nil
}

// Uint64 reads eight little endian bytes from the provided reader.
func Uint64(r io.Reader) (uint64, error) {
	buf, err := readFull(r, 8)
	if err != nil {
		return 0, err
	}
	rv := binary.LittleEndian.Uint64(buf)
	Return(buf)
	return rv, nil
}

func write(w io.Writer, buf []byte) error {
	_, err := w.Write(buf)
	Return(buf)
	return errors.WithStack(err)
}

// PutUint8 writes the provided uint8 to the writer.
func PutUint8(w io.Writer, val uint8) error {
	buf := Borrow()[:1]
	buf[0] = val
	return write(w, buf)
}

// PutUint16 writes the little endian representation of val to the writer.
func PutUint16(w io.Writer, val uint16) error {
	buf := Borrow()[:2]
	binary.LittleEndian.PutUint16(buf, val)
	return write(w, buf)
}

// PutUint32 writes the little endian representation of val to the writer.
func PutUint32(w io.Writer, val uint32) error {
	buf := Borrow()[:4]
	binary.LittleEndian.PutUint32(buf, val)
	return write(w, buf)
}

// PutUint64 writes the little endian representation of val to the writer.
func PutUint64(w io.Writer, val uint64) error {
	buf := Borrow()[:8]
	binary.LittleEndian.PutUint64(buf, val)
	return write(w, buf)
}

// PutVarBytes writes a uint32 length prefix followed by the bytes themselves.
func PutVarBytes(w io.Writer, bytes []byte) error {
	err := PutUint32(w, uint32(len(bytes)))
	if err != nil {
		return err
	}
	if len(bytes) == 0 {
		return nil
	}
	_, err = w.Write(bytes)
	return errors.WithStack(err)
}

// VarBytes reads a slice written by PutVarBytes. maxLength bounds the
// allocation a malicious length prefix can cause.
func VarBytes(r io.Reader, maxLength uint32) ([]byte, error) {
	length, err := Uint32(r)
	if err != nil {
		return nil, err
	}
	if length > maxLength {
		return nil, errors.Wrapf(ErrVarBytesTooLong, "length %d is above %d", length, maxLength)
	}
	if length == 0 {
		return nil, nil
	}
	bytes := make([]byte, length)
	_, err = io.ReadFull(r, bytes)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return bytes, nil
}
