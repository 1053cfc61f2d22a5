package downloader

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	m3u8Parser "github.com/etherlabsio/go-m3u8/m3u8"
	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/utils"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var bufPool bytebufferpool.Pool

const segmentRetries = 3

// resolveSegURL handles the three url shapes found in playlists:
// absolute, host-relative and path-relative.
func resolveSegURL(parsedurl *url.URL, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	hostURL := parsedurl.Scheme + "://" + parsedurl.Host
	if strings.HasPrefix(ref, "/") {
		return hostURL + ref
	}
	return hostURL + path.Dir(parsedurl.Path) + "/" + ref
}

// playlistSegments flattens the manifest into absolute segment urls.
// A master playlist is followed into its highest bandwidth variant, a
// single level deep.
func playlistSegments(client *http.Client, murl string, headers map[string]string, depth int) ([]string, error) {
	body, err := utils.HttpGet(client, murl, headers)
	if err != nil {
		return nil, errors.Wrap(err, "fetch playlist")
	}
	playlist, err := m3u8Parser.ReadString(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse m3u8")
	}
	parsedurl, err := url.Parse(murl)
	if err != nil {
		return nil, err
	}

	segments := make([]string, 0, 16)
	bestURI, bestBandwidth := "", 0
	for _, _item := range playlist.Items {
		switch item := _item.(type) {
		case *m3u8Parser.SegmentItem:
			segments = append(segments, resolveSegURL(parsedurl, item.Segment))
		case *m3u8Parser.PlaylistItem:
			if item.Bandwidth >= bestBandwidth {
				bestURI, bestBandwidth = item.URI, item.Bandwidth
			}
		}
	}
	if len(segments) > 0 {
		return segments, nil
	}
	if bestURI != "" && depth < 1 {
		return playlistSegments(client, resolveSegURL(parsedurl, bestURI), headers, depth+1)
	}
	return nil, errors.Errorf("playlist %s has no segments", murl)
}

func fetchSegmentOnce(ctx context.Context, client *http.Client, segURL string,
	headers map[string]string) (*bytebufferpool.ByteBuffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", utils.DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return nil, &utils.HTTPStatusError{Code: res.StatusCode, Header: res.Header}
	}
	buf := bufPool.Get()
	if _, err := buf.ReadFrom(res.Body); err != nil {
		bufPool.Put(buf)
		return nil, err
	}
	return buf, nil
}

func fetchSegment(ctx context.Context, client *http.Client, segURL string,
	headers map[string]string) (*bytebufferpool.ByteBuffer, error) {
	var lastErr error
	for try := 0; try < segmentRetries; try++ {
		buf, err := fetchSegmentOnce(ctx, client, segURL, headers)
		if err == nil {
			return buf, nil
		}
		lastErr = err
		log.WithField("url", segURL).Debugf("segment fetch %d failed: %v", try+1, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

type segResult struct {
	buf *bytebufferpool.ByteBuffer
	err error
}

// downloadHLS fetches segments with a bounded amount of parallelism
// and appends them to a part file in playlist order, which moves over
// the output once every segment landed.
func downloadHLS(ctx context.Context, client *http.Client, murl, output string,
	headers map[string]string, limiter *rate.Limiter, concurrency int64) error {
	logger := log.WithField("url", murl)

	segments, err := playlistSegments(client, murl, headers, 0)
	if err != nil {
		return err
	}
	logger.Infof("downloading %d segments", len(segments))

	partPath := utils.AddSuffix(output, "part")
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	sem := semaphore.NewWeighted(concurrency)
	results := make([]chan segResult, len(segments))
	for i := range results {
		results[i] = make(chan segResult, 1)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for i, segURL := range segments {
		i, segURL := i, segURL
		go func() {
			if err := sem.Acquire(fetchCtx, 1); err != nil {
				results[i] <- segResult{err: err}
				return
			}
			defer sem.Release(1)
			buf, err := fetchSegment(fetchCtx, client, segURL, headers)
			results[i] <- segResult{buf: buf, err: err}
		}()
	}

	var written int64
	for i := range segments {
		r := <-results[i]
		if r.err != nil {
			cancel()
			drainSegments(results[i+1:])
			return errors.Wrapf(r.err, "segment %d", i)
		}
		data := r.buf.Bytes()
		if limiter != nil {
			if err := waitRated(ctx, limiter, len(data)); err != nil {
				bufPool.Put(r.buf)
				cancel()
				drainSegments(results[i+1:])
				return err
			}
		}
		n, err := out.Write(data)
		written += int64(n)
		bufPool.Put(r.buf)
		if err != nil {
			cancel()
			drainSegments(results[i+1:])
			return errors.Wrapf(err, "write segment %d", i)
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := utils.MoveFile(partPath, output); err != nil {
		return errors.Wrap(err, "finalize download")
	}
	logger.Infof("wrote %d bytes from %d segments", written, len(segments))
	return nil
}

// waitRated splits a large segment into limiter-sized waits so a
// segment bigger than the burst still passes.
func waitRated(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		chunk := utils.Min(n, burst)
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// drainSegments releases the buffers of fetches that were already in
// flight when the download failed.
func drainSegments(pending []chan segResult) {
	go func() {
		for _, ch := range pending {
			r := <-ch
			if r.buf != nil {
				bufPool.Put(r.buf)
			}
		}
	}()
}
