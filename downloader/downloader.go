// Package downloader writes a selected format to disk: progressive
// HTTP with resume, or HLS aggregated from its segments.
package downloader

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const copyChunkSize = 64 * 1024

// Options tune one download. The zero value means no rate limit, four
// parallel segments and a shared insecure client.
type Options struct {
	OutPath     string
	Headers     map[string]string
	RateLimit   float64 // bytes per second, 0 is unlimited
	Concurrency int64   // parallel hls segment fetches
	Client      *http.Client
}

var defaultClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
}

func (o *Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return defaultClient
}

func (o *Options) concurrency() int64 {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 4
}

func (o *Options) limiter() *rate.Limiter {
	if o.RateLimit <= 0 {
		return nil
	}
	burst := int(o.RateLimit)
	if burst < copyChunkSize {
		burst = copyChunkSize
	}
	return rate.NewLimiter(rate.Limit(o.RateLimit), burst)
}

func mergeHeaders(format extractor.Format, extra map[string]string) map[string]string {
	if len(format.Headers) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(format.Headers)+len(extra))
	for k, v := range format.Headers {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func isHLS(format extractor.Format) bool {
	if format.Protocol == "hls" {
		return true
	}
	trimmed := format.URL
	if idx := strings.IndexAny(trimmed, "?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.HasSuffix(strings.ToLower(trimmed), ".m3u8")
}

// Download fetches the format into opts.OutPath, picking the protocol
// handler from the format shape.
func Download(ctx context.Context, format extractor.Format, opts Options) error {
	if opts.OutPath == "" {
		return errors.New("no output path")
	}
	if format.URL == "" {
		return errors.New("format has no url")
	}
	headers := mergeHeaders(format, opts.Headers)
	if isHLS(format) {
		return downloadHLS(ctx, opts.client(), format.URL, opts.OutPath,
			headers, opts.limiter(), opts.concurrency())
	}
	return downloadProgressive(ctx, opts.client(), format.URL, opts.OutPath,
		headers, opts.limiter())
}

func downloadProgressive(ctx context.Context, client *http.Client, rawurl, output string,
	headers map[string]string, limiter *rate.Limiter) error {
	logger := log.WithField("url", rawurl)

	var start int64
	if fi, err := os.Stat(output); err == nil {
		start = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		if start > 0 {
			logger.Debug("server ignored the range request, restarting")
		}
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		logger.Infof("resuming at byte %d", start)
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		// already complete
		return nil
	default:
		return errors.Errorf("downloader got bad status: %s", resp.Status)
	}

	out, err := os.OpenFile(output, flags, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	began := time.Now()
	written, err := copyRated(ctx, out, resp.Body, limiter)
	if err != nil {
		return errors.Wrap(err, "read stream")
	}
	logger.Infof("wrote %d bytes in %s", written, time.Since(began).Round(time.Millisecond))
	return nil
}

// copyRated copies src to dst, waiting on the limiter before each
// chunk lands on disk.
func copyRated(ctx context.Context, dst io.Writer, src io.Reader, limiter *rate.Limiter) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			if limiter != nil {
				if err := limiter.WaitN(ctx, nr); err != nil {
					return written, err
				}
			}
			nw, ew := dst.Write(buf[:nr])
			written += int64(nw)
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er == io.EOF {
			return written, nil
		}
		if er != nil {
			return written, er
		}
	}
}
