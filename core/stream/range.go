package stream

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrMalformedRange     = errors.New("malformed range")
	ErrUnsatisfiableRange = errors.New("range not satisfiable")
)

// RangeError carries the content length so the caller can answer with
// "Content-Range: bytes */<size>".
type RangeError struct {
	Err  error
	Spec string
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: %q (content length %d)", e.Err, e.Spec, e.Size)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// ContentRange returns the value for the Content-Range header of a 416 reply.
func (e *RangeError) ContentRange() string {
	return fmt.Sprintf("bytes */%d", e.Size)
}

// ByteRange is an inclusive interval [Start, End] of a file's content.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the header value for a 206 reply.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// 整个头部必须完整匹配，"bytes=0-1,5-9" 之类的多段请求视为格式错误
var rangePattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)$`)

// parseOffset parses a run of digits. Values beyond int64 saturate, which
// the clamping below turns into the right answer.
func parseOffset(s string) int64 {
	// 正则已保证全是数字，唯一可能的错误是 ErrRange，此时 n 为 MaxInt64
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// ParseRange resolves a Range header against a content length of size bytes.
// Supported forms are "bytes=a-b", "bytes=a-" and "bytes=-n".
func ParseRange(spec string, size int64) (ByteRange, error) {
	m := rangePattern.FindStringSubmatch(spec)
	if m == nil || (m[1] == "" && m[2] == "") {
		return ByteRange{}, &RangeError{Err: ErrMalformedRange, Spec: spec, Size: size}
	}

	var start, end int64
	switch {
	case m[1] == "":
		suffix := parseOffset(m[2])
		start = size - suffix
		if start < 0 {
			start = 0
		}
		end = size - 1
	case m[2] == "":
		start = parseOffset(m[1])
		end = size - 1
	default:
		start = parseOffset(m[1])
		end = parseOffset(m[2])
	}

	if start < 0 {
		start = 0
	}
	if end > size-1 {
		end = size - 1
	}
	if start > end {
		return ByteRange{}, &RangeError{Err: ErrUnsatisfiableRange, Spec: spec, Size: size}
	}
	return ByteRange{Start: start, End: end}, nil
}
