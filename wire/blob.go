package wire

import (
	"encoding/binary"
	"fmt"
	"iter"
	"slices"

	"github.com/pkg/errors"
)

const (
	// TagSize is the size of the tag preceding every blob.
	TagSize = 4

	// Alignment is the alignment of tags and of extended-name regions.
	Alignment = 4

	// MaxBlobSize is the largest size a tag can declare.
	MaxBlobSize = 0xffffff

	// MaxID is the largest id a tag can carry.
	MaxID = 0x7f
)

const (
	tagIDShift  = 24
	tagIDMask   = 0x7f
	tagSizeMask = 0xffffff
	tagExtended = 1 << 31
)

// Tag is the big-endian word opening every blob: extended flag, 7-bit id and the total size
// of the blob including the tag itself.
type Tag uint32

// NewTag creates a tag.
func NewTag(id uint8, size int, extended bool) (Tag, error) {
	if id > MaxID || size < TagSize || size > MaxBlobSize {
		return 0, invalidDataf("invalid tag id=%d size=%d", id, size)
	}
	t := Tag(uint32(id)<<tagIDShift | uint32(size))
	if extended {
		t |= tagExtended
	}
	return t, nil
}

// ParseTag reads tag from the first TagSize bytes of b.
func ParseTag(b []byte) Tag {
	return Tag(binary.BigEndian.Uint32(b))
}

// Put writes tag into the first TagSize bytes of b.
func (t Tag) Put(b []byte) {
	binary.BigEndian.PutUint32(b, uint32(t))
}

// ID returns the id carried by the tag.
func (t Tag) ID() uint8 {
	return uint8(uint32(t) >> tagIDShift & tagIDMask)
}

// Size returns total size of the blob, tag included.
func (t Tag) Size() int {
	return int(uint32(t) & tagSizeMask)
}

// InnerSize returns the size of the payload following the tag.
func (t Tag) InnerSize() int {
	return max(t.Size()-TagSize, 0)
}

// Extended tells if the payload starts with a name.
func (t Tag) Extended() bool {
	return uint32(t)&tagExtended != 0
}

// Padding returns the number of zero bytes between this blob and the next tag.
func (t Tag) Padding() int {
	return padding(t.Size())
}

// Validate checks that tag declares at least its own size.
func (t Tag) Validate() error {
	if t.Size() < TagSize {
		return invalidDataf("tag size %d smaller than tag", t.Size())
	}
	return nil
}

func (t Tag) String() string {
	if t.Extended() {
		return fmt.Sprintf("Tag(id=%d, size=%d, extended)", t.ID(), t.Size())
	}
	return fmt.Sprintf("Tag(id=%d, size=%d)", t.ID(), t.Size())
}

func padding(n int) int {
	return (Alignment - n%Alignment) % Alignment
}

// Blob is a tag and the payload it describes. Data references the decoded buffer.
type Blob struct {
	Tag  Tag
	Data []byte
}

// DecodeBlob decodes the blob at the beginning of b and returns it together with the bytes
// following it, padding skipped.
func DecodeBlob(b []byte) (Blob, []byte, error) {
	if len(b) < TagSize {
		return Blob{}, nil, invalidDataf("blob of %d bytes shorter than tag", len(b))
	}
	tag := ParseTag(b)
	if err := tag.Validate(); err != nil {
		return Blob{}, nil, err
	}
	size := tag.Size()
	if len(b) < size {
		return Blob{}, nil, invalidDataf("blob declares %d bytes, %d available", size, len(b))
	}

	next := min(size+tag.Padding(), len(b))
	return Blob{Tag: tag, Data: b[TagSize:size:size]}, b[next:], nil
}

// EncodeBlob writes tag, payload and padding into buf and returns the number of bytes written.
func EncodeBlob(buf []byte, id uint8, extended bool, payload []byte) (int, error) {
	size := TagSize + len(payload)
	tag, err := NewTag(id, size, extended)
	if err != nil {
		return 0, err
	}
	total := size + tag.Padding()
	if total > len(buf) {
		return 0, errors.WithStack(ErrBufferOverflow)
	}
	tag.Put(buf)
	copy(buf[TagSize:], payload)
	clear(buf[size:total])
	return total, nil
}

// BlobSeq is a sequence of consecutive, padded blobs.
type BlobSeq []byte

// All iterates over blobs in the sequence. Decoding stops at the first error.
// Trailing bytes shorter than a tag end the sequence when they are zero padding.
func (s BlobSeq) All() iter.Seq2[Blob, error] {
	return func(yield func(Blob, error) bool) {
		rest := []byte(s)
		for len(rest) > 0 {
			if len(rest) < TagSize {
				if slices.ContainsFunc(rest, func(b byte) bool { return b != 0 }) {
					yield(Blob{}, invalidDataf("%d trailing bytes shorter than tag", len(rest)))
				}
				return
			}

			blob, next, err := DecodeBlob(rest)
			if err != nil {
				yield(Blob{}, err)
				return
			}
			if !yield(blob, nil) {
				return
			}
			rest = next
		}
	}
}

// Nest marks a blob opened by Builder.Nest which is waiting for its size.
type Nest struct {
	start    int
	id       uint8
	extended bool
}

// Builder encodes blobs. Builder created by NewBuilder writes into a fixed buffer and fails with
// ErrBufferOverflow when it is full, zero value allocates as needed.
type Builder struct {
	buf   []byte
	off   int
	fixed bool
}

// NewBuilder creates builder writing into buf.
func NewBuilder(buf []byte) *Builder {
	return &Builder{buf: buf, fixed: true}
}

// Bytes returns encoded bytes.
func (b *Builder) Bytes() []byte {
	return b.buf[:b.off]
}

// Len returns the number of encoded bytes.
func (b *Builder) Len() int {
	return b.off
}

// Write appends raw bytes.
func (b *Builder) Write(p []byte) (int, error) {
	dst, err := b.reserve(len(p))
	if err != nil {
		return 0, err
	}
	return copy(dst, p), nil
}

// Put appends non-extended blob.
func (b *Builder) Put(id uint8, payload []byte) error {
	if !b.fixed {
		size := TagSize + len(payload)
		b.grow(size + padding(size))
	}
	n, err := EncodeBlob(b.buf[b.off:], id, false, payload)
	if err != nil {
		return err
	}
	b.off += n
	return nil
}

// PutString appends blob containing NUL-terminated string.
func (b *Builder) PutString(id uint8, v string) error {
	payload := make([]byte, len(v)+1)
	copy(payload, v)
	return b.Put(id, payload)
}

// PutUint32 appends blob containing big-endian uint32.
func (b *Builder) PutUint32(id uint8, v uint32) error {
	return b.Put(id, binary.BigEndian.AppendUint32(nil, v))
}

// PutBool appends blob containing one byte.
func (b *Builder) PutBool(id uint8, v bool) error {
	if v {
		return b.Put(id, []byte{1})
	}
	return b.Put(id, []byte{0})
}

// Nest opens a blob whose payload is written by subsequent calls. It must be closed by Unnest.
func (b *Builder) Nest(id uint8, extended bool) (Nest, error) {
	if id > MaxID {
		return Nest{}, invalidDataf("invalid tag id=%d", id)
	}
	n := Nest{start: b.off, id: id, extended: extended}
	if _, err := b.reserve(TagSize); err != nil {
		return Nest{}, err
	}
	return n, nil
}

// Unnest writes the final tag of the nested blob and pads it.
func (b *Builder) Unnest(n Nest) error {
	tag, err := NewTag(n.id, b.off-n.start, n.extended)
	if err != nil {
		return err
	}
	tag.Put(b.buf[n.start:])
	pad, err := b.reserve(tag.Padding())
	if err != nil {
		return err
	}
	clear(pad)
	return nil
}

func (b *Builder) reserve(n int) ([]byte, error) {
	if b.off+n > len(b.buf) {
		if b.fixed {
			return nil, errors.WithStack(ErrBufferOverflow)
		}
		b.grow(n)
	}
	dst := b.buf[b.off : b.off+n]
	b.off += n
	return dst, nil
}

func (b *Builder) grow(n int) {
	if b.off+n <= len(b.buf) {
		return
	}
	b.buf = slices.Grow(b.buf[:b.off], n)[:b.off+n]
}
