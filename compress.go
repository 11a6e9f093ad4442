package sentry_transport

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// gzip writers are expensive to allocate, reuse them across requests.
var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// gzipBody compresses body into a fresh slice owned by the caller.
func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer

	gz := gzipPool.Get().(*gzip.Writer)
	defer gzipPool.Put(gz)
	gz.Reset(&buf)

	if _, err := gz.Write(body); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
