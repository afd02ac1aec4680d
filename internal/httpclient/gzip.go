package httpclient

import (
	"compress/gzip"
	"io"
)

type gzipBody struct {
	zr   *gzip.Reader
	body io.ReadCloser
}

func newGzipBody(body io.ReadCloser) (*gzipBody, error) {
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return &gzipBody{zr: zr, body: body}, nil
}

func (g *gzipBody) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipBody) Close() error {
	g.zr.Close()
	return g.body.Close()
}
