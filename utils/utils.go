package utils

import (
	"bytes"
	"context"
	"fmt"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	emoji "github.com/tmdvs/Go-Emoji-Utils"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/103.0.5060.114 Safari/537.36"

func MapToStruct(mapVal map[string]interface{}, structVal interface{}) error {
	config := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           structVal,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	decoder.Decode(mapVal)
	return nil
}

func HttpGetBuffer(client *http.Client, url string, header map[string]string, buf *bytes.Buffer) (*bytes.Buffer, error) {
	return HttpDoWithBufferEx(context.Background(), client, "GET", url, header, nil, buf)
}

func HttpDoWithBufferEx(ctx context.Context, client *http.Client, meth string, url string, header map[string]string, data []byte, buf *bytes.Buffer) (*bytes.Buffer, error) {
	if client == nil {
		client = &http.Client{}
	}
	var dataReader io.Reader
	if data != nil {
		dataReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, meth, url, dataReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil || res == nil {
		err = fmt.Errorf("HttpGet error %w", err)
		return nil, err
	}

	if res.StatusCode != 200 && res.StatusCode != 206 {
		if res.StatusCode == 404 {
			err = fmt.Errorf("HttpGet status error %d", res.StatusCode)
			return nil, err
		}
		return nil, &HTTPStatusError{Code: res.StatusCode, Header: res.Header}
	}

	if res.ContentLength >= 0 {
		if buf == nil {
			buf = bytes.NewBuffer(make([]byte, res.ContentLength))
		}
		buf.Reset()
		if int64(buf.Cap()) < res.ContentLength {
			buf.Grow(int(res.ContentLength) - buf.Cap())
		}
		n, err := io.Copy(buf, res.Body)
		if err != nil {
			return nil, err
		}
		if n != res.ContentLength {
			return nil, fmt.Errorf("Got unexpected payload: expected: %v, got %v", res.ContentLength, n)
		}
	} else {
		if buf == nil {
			buf = bytes.NewBuffer(make([]byte, 2048))
		}
		buf.Reset()
		_, err := io.Copy(buf, res.Body)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// HTTPStatusError keeps the status code around so callers can react to
// throttling (429) or geo blocks without string matching.
type HTTPStatusError struct {
	Code   int
	Header http.Header
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HttpGet status error %d", e.Code)
}

// RetryAfter returns the server supplied wait hint in seconds, 0 if absent.
func (e *HTTPStatusError) RetryAfter() int {
	if e.Header == nil {
		return 0
	}
	sec, _ := strconv.Atoi(e.Header.Get("Retry-After"))
	return sec
}

func HttpGet(client *http.Client, url string, header map[string]string) ([]byte, error) {
	buf, err := HttpGetBuffer(client, url, header, nil)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func HttpPost(client *http.Client, url string, header map[string]string, data []byte) ([]byte, error) {
	buf, err := HttpDoWithBufferEx(context.Background(), client, "POST", url, header, data, nil)
	if buf == nil {
		return nil, err
	}
	return buf.Bytes(), err
}

// HttpHead issues a bare HEAD request, callers inspect the header themselves.
func HttpHead(client *http.Client, url string, header map[string]string) (*http.Response, error) {
	if client == nil {
		client = &http.Client{}
	}
	req, err := http.NewRequest("HEAD", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	res.Body.Close()
	return res, nil
}

func IsFileExist(aFilepath string) bool {
	if _, err := os.Stat(aFilepath); err == nil {
		return true
	}
	return false
}

func MakeDir(dirPath string) (string, error) {
	err := os.MkdirAll(dirPath, 0755)
	if err != nil {
		log.Errorf("mkdir error: %s, err: %s", dirPath, err)
		return "", err
	}
	return dirPath, nil
}

func AddSuffix(aFilepath string, suffix string) string {
	dir, file := filepath.Split(aFilepath)
	ext := path.Ext(file)
	filename := strings.TrimSuffix(path.Base(file), ext)
	filename += "_"
	filename += suffix
	return dir + filename + ext
}

func GetTimeNow() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// SanitizeFilename strips emoji and characters that break common filesystems.
func SanitizeFilename(title string) string {
	title = emoji.RemoveAll(title)
	illegalChars := []string{"|", "/", "\\", ":", "?", "*", "\"", "<", ">"}
	for _, char := range illegalChars {
		title = strings.ReplaceAll(title, char, "#")
	}
	return strings.TrimSpace(title)
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func RPartition(s string, sep string) (string, string, string) {
	parts := strings.SplitAfter(s, sep)
	if len(parts) == 1 {
		return "", "", parts[0]
	}
	return strings.Join(parts[0:len(parts)-1], ""), sep, parts[len(parts)-1]
}
