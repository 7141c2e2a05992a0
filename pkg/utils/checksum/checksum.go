// Package checksum computes MD5 digests of streams while they are copied.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
)

// HeaderMD5 is the (trailer) header carrying the hex MD5 of a transferred body.
const HeaderMD5 = "X-Checksum-Md5"

type Writer struct {
	dest io.Writer
	md5  hash.Hash
}

func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest, md5: md5.New()}
}

func (w *Writer) Write(buf []byte) (int, error) {
	n, err := w.dest.Write(buf)
	w.md5.Write(buf[:n])
	return n, err
}

// Hex returns the MD5 of bytes written so far.
func (w *Writer) Hex() string {
	return hex.EncodeToString(w.md5.Sum(nil))
}

type Reader struct {
	source io.Reader
	md5    hash.Hash
}

func NewReader(source io.Reader) *Reader {
	return &Reader{source: source, md5: md5.New()}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.source.Read(p)
	if 0 < n {
		r.md5.Write(p[:n])
	}
	return n, err
}

// Hex returns the MD5 of bytes read so far.
func (r *Reader) Hex() string {
	return hex.EncodeToString(r.md5.Sum(nil))
}

// String returns the hex MD5 of s.
func String(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
