package apexfile

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec names the compression applied to the original archive inside a
// compressed apex.
type Codec string

const (
	CodecStore   Codec = "store"
	CodecDeflate Codec = "deflate"
	CodecXZ      Codec = "xz"
	CodecZstd    Codec = "zstd"
	CodecLZ4     Codec = "lz4"
)

type decoderFunc func(io.Reader) (io.ReadCloser, error)

type encoderFunc func(io.Writer) (io.WriteCloser, error)

type codecInfo struct {
	entry  string
	method uint16
	decode decoderFunc
	encode encoderFunc
}

var codecs = map[Codec]codecInfo{
	CodecStore: {
		entry:  OriginalApexEntry,
		method: zip.Store,
		decode: passthroughDecoder,
		encode: passthroughEncoder,
	},
	CodecDeflate: {
		entry:  OriginalApexEntry,
		method: zip.Deflate,
		decode: passthroughDecoder,
		encode: passthroughEncoder,
	},
	CodecXZ: {
		entry:  OriginalApexEntry + ".xz",
		method: zip.Store,
		decode: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		},
		encode: func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriter(w)
		},
	},
	CodecZstd: {
		entry:  OriginalApexEntry + ".zst",
		method: zip.Store,
		decode: func(r io.Reader) (io.ReadCloser, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zr.IOReadCloser(), nil
		},
		encode: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		},
	},
	CodecLZ4: {
		entry:  OriginalApexEntry + ".lz4",
		method: zip.Store,
		decode: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
		encode: func(w io.Writer) (io.WriteCloser, error) {
			return lz4.NewWriter(w), nil
		},
	},
}

// ParseCodec parses a codec name.
func ParseCodec(name string) (Codec, error) {
	c := Codec(strings.ToLower(name))
	if _, ok := codecs[c]; !ok {
		return "", fmt.Errorf("unknown codec %q", name)
	}
	return c, nil
}

// codecForEntry returns the decoder for a compressed payload entry name. Both
// store and deflate use the plain entry name; zip handles deflate itself.
func codecForEntry(name string) (decoderFunc, bool) {
	for _, info := range codecs {
		if info.entry == name {
			return info.decode, true
		}
	}
	return nil, false
}

func passthroughDecoder(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func passthroughEncoder(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}
