package extractor

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bitly/go-simplejson"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/utils"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.uber.org/ratelimit"
)

// Ctx is the per-site request context: one http client, the site's
// extra config block and a request pacer shared by every call the
// extractor makes.
type Ctx struct {
	Client      *http.Client
	ExtraConfig map[string]interface{}

	rl    ratelimit.Limiter
	cache *cache.Cache
}

type HeadersConfig struct {
	HttpHeaders map[string]string
}

func (c *Ctx) GetHeaders() map[string]string {
	headerConfig := HeadersConfig{}
	_ = utils.MapToStruct(c.ExtraConfig, &headerConfig)
	return headerConfig.HttpHeaders
}

func (c *Ctx) GetProxy() (string, bool) {
	enableProxy, ok1 := c.ExtraConfig["EnableProxy"]
	proxy, ok2 := c.ExtraConfig["Proxy"]
	if ok1 && ok2 && enableProxy == true {
		return proxy.(string), true
	}
	return "", false
}

// NewCtx builds the context from a site's extra config block. Proxy,
// headers and request pacing all come from there.
func NewCtx(extra map[string]interface{}) *Ctx {
	if extra == nil {
		extra = map[string]interface{}{}
	}
	ctx := &Ctx{ExtraConfig: extra}
	var client *http.Client
	proxy, ok := ctx.GetProxy()
	if ok && proxy != "" {
		proxyUrl, _ := url.Parse("socks5://" + proxy)
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			Proxy:           http.ProxyURL(proxyUrl),
		}
		client = &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		}
	} else {
		client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			Timeout: 60 * time.Second,
		}
	}
	if jar, err := cookiejar.New(nil); err == nil {
		client.Jar = jar
	}
	ctx.Client = client

	rps := 10
	if v, ok := extra["RequestPerSec"]; ok {
		switch n := v.(type) {
		case int:
			rps = n
		case float64:
			rps = int(n)
		}
	}
	if rps <= 0 {
		rps = 1
	}
	ctx.rl = ratelimit.New(rps)
	ctx.cache = cache.New(5*time.Minute, 10*time.Minute)
	return ctx
}

// HttpGet wraps the raw HttpGet with the site's global header
func (c *Ctx) HttpGet(url string, header map[string]string) ([]byte, error) {
	c.rl.Take()
	finalHeaders := make(map[string]string, 10)
	for k, v := range c.GetHeaders() {
		finalHeaders[k] = v
	}
	for k, v := range header {
		finalHeaders[k] = v
	}
	return utils.HttpGet(c.Client, url, finalHeaders)
}

func (c *Ctx) HttpPost(url string, header map[string]string, data []byte) ([]byte, error) {
	c.rl.Take()
	finalHeaders := make(map[string]string, 10)
	for k, v := range c.GetHeaders() {
		finalHeaders[k] = v
	}
	for k, v := range header {
		finalHeaders[k] = v
	}
	return utils.HttpPost(c.Client, url, finalHeaders, data)
}

func (c *Ctx) HttpHead(url string, header map[string]string) (*http.Response, error) {
	c.rl.Take()
	finalHeaders := make(map[string]string, 10)
	for k, v := range c.GetHeaders() {
		finalHeaders[k] = v
	}
	for k, v := range header {
		finalHeaders[k] = v
	}
	return utils.HttpHead(c.Client, url, finalHeaders)
}

// CachedGet keeps hot API responses (category trees, schedules) out of
// the request budget for the duration of a run.
func (c *Ctx) CachedGet(url string, header map[string]string) ([]byte, error) {
	if data, ok := c.cache.Get(url); ok {
		return data.([]byte), nil
	}
	data, err := c.HttpGet(url, header)
	if err != nil {
		return nil, err
	}
	c.cache.Set(url, data, cache.DefaultExpiration)
	return data, nil
}

func (c *Ctx) GetJSON(url string, header map[string]string) (gjson.Result, error) {
	data, err := c.HttpGet(url, header)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, errors.Errorf("invalid json from %s", url)
	}
	return gjson.ParseBytes(data), nil
}

// GetJSONRetry retries throttled (429) API calls, honoring the server's
// Retry-After when one is sent.
func (c *Ctx) GetJSONRetry(url string, header map[string]string, tries int) (gjson.Result, error) {
	var lastErr error
	for i := 0; i < tries; i++ {
		res, err := c.GetJSON(url, header)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var statusErr *utils.HTTPStatusError
		if !errors.As(err, &statusErr) || statusErr.Code != 429 {
			return gjson.Result{}, err
		}
		wait := statusErr.RetryAfter()
		if wait <= 0 || wait > 30 {
			wait = 2 * (i + 1)
		}
		log.WithField("url", url).Debugf("throttled, retry %d/%d in %ds", i+1, tries, wait)
		time.Sleep(time.Duration(wait) * time.Second)
	}
	return gjson.Result{}, lastErr
}

func (c *Ctx) PostJSON(url string, header map[string]string, body interface{}) (gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, err
	}
	finalHeaders := map[string]string{"Content-Type": "application/json"}
	for k, v := range header {
		finalHeaders[k] = v
	}
	data, err := c.HttpPost(url, finalHeaders, payload)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, errors.Errorf("invalid json from %s", url)
	}
	return gjson.ParseBytes(data), nil
}

func (c *Ctx) GetSimpleJSON(url string, header map[string]string) (*simplejson.Json, error) {
	data, err := c.HttpGet(url, header)
	if err != nil {
		return nil, err
	}
	return simplejson.NewJson(data)
}

func (c *Ctx) GetDocument(rawurl string, header map[string]string) (*goquery.Document, error) {
	data, err := c.HttpGet(rawurl, header)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	doc.Url, _ = url.Parse(rawurl)
	return doc, nil
}

// GetAPIHost lets a site's config redirect its API endpoint, the same
// escape hatch the http headers use.
func (c *Ctx) GetAPIHost(fallback string) string {
	if v, ok := c.ExtraConfig["ApiHostUrl"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return strings.TrimSuffix(s, "/")
		}
	}
	return fallback
}

// MaxPages caps how deep paged playlists go, overridable per site.
func MaxPages(c *Ctx, fallback int) int {
	if v, ok := c.ExtraConfig["MaxPages"]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return fallback
}
