// Package host runs the per-url pipeline behind the cli: dispatch,
// extract, format selection, download, post-processing, notify.
package host

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/config"
	"github.com/plugdl/plugdl/downloader"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/postprocessor"
	"github.com/plugdl/plugdl/registry"
	"github.com/plugdl/plugdl/utils"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"
)

// ErrUnsupported marks a url no descriptor claims.
var ErrUnsupported = errors.New("no extractor claims the url")

// url results can hand off to other sites, but not forever
const maxExtractionHops = 5

// Options tune one pipeline run, unset fields fall back to config.
type Options struct {
	Format         string
	OutputTemplate string
	DumpJSON       bool
	PostProcessors []string
}

type Pipeline struct {
	reg       *registry.Registry
	pps       *postprocessor.Registry
	infoCache *lru.Cache
	siteCtxs  map[string]*extractor.Ctx
	opts      Options
	jsonOut   io.Writer
}

func New(reg *registry.Registry, opts Options) *Pipeline {
	infoCache, _ := lru.New(128)
	return &Pipeline{
		reg:       reg,
		pps:       postprocessor.Builtin(),
		infoCache: infoCache,
		siteCtxs:  make(map[string]*extractor.Ctx, 8),
		opts:      opts,
		jsonOut:   os.Stdout,
	}
}

// siteCtx returns the site's request context, built on first use and
// reused after that so cookies, request pacing and the response cache
// span all of a site's extractions in one run.
func (p *Pipeline) siteCtx(name string) *extractor.Ctx {
	if ctx, ok := p.siteCtxs[name]; ok {
		return ctx
	}
	extra := make(map[string]interface{}, 4)
	if cfg := config.Config; cfg != nil {
		if cfg.RequestPerSec > 0 {
			extra["RequestPerSec"] = cfg.RequestPerSec
		}
		for k, v := range cfg.ExtraConfig {
			extra[k] = v
		}
	}
	if site := config.GetSite(name); site != nil {
		for k, v := range site.ExtraConfig {
			extra[k] = v
		}
	}
	ctx := extractor.NewCtx(extra)
	p.siteCtxs[name] = ctx
	return ctx
}

// Extract resolves rawurl into an info tree, re-entering dispatch for
// url results with a loop guard.
func (p *Pipeline) Extract(rawurl string) (*extractor.Info, error) {
	return p.extract(rawurl, make(map[string]bool, 2))
}

func (p *Pipeline) extract(rawurl string, seen map[string]bool) (*extractor.Info, error) {
	if seen[rawurl] {
		return nil, errors.Errorf("extraction loop on %s", rawurl)
	}
	if len(seen) >= maxExtractionHops {
		return nil, errors.Errorf("%s is handed off too many times", rawurl)
	}
	seen[rawurl] = true

	if cached, ok := p.infoCache.Get(rawurl); ok {
		return cached.(*extractor.Info), nil
	}
	d, ok := p.reg.Dispatch(rawurl)
	if !ok {
		return nil, errors.Wrap(ErrUnsupported, rawurl)
	}
	if site := config.GetSite(d.Name); site != nil && site.Disabled {
		return nil, errors.Errorf("site %s is disabled", d.Name)
	}
	logger := log.WithField("site", d.Name)
	logger.Debugf("extracting %s", rawurl)
	info, err := d.Factory().Extract(p.siteCtx(d.Name), rawurl)
	if err != nil {
		return nil, errors.Wrap(err, d.Name)
	}
	if info.Extractor == "" {
		info.Extractor = d.Name
	}
	if info.Kind() == extractor.TypeURL {
		title := info.Title
		inner, err := p.extract(info.URL, seen)
		if err != nil {
			return nil, err
		}
		if inner.Title == "" {
			inner.Title = title
		}
		return inner, nil
	}
	p.infoCache.Add(rawurl, info)
	return info, nil
}

// SelectFormat picks from the worst-first sorted format list: the
// best, the worst, the best audio-only rendition, or an exact id.
func SelectFormat(formats []extractor.Format, selector string) (extractor.Format, error) {
	if len(formats) == 0 {
		return extractor.Format{}, errors.New("no formats to select from")
	}
	switch selector {
	case "", "best":
		return formats[len(formats)-1], nil
	case "worst":
		return formats[0], nil
	case "bestaudio":
		for i := len(formats) - 1; i >= 0; i-- {
			if formats[i].VCodec == "none" {
				return formats[i], nil
			}
		}
		return extractor.Format{}, errors.New("no audio only format")
	default:
		for _, f := range formats {
			if f.FormatID == selector {
				return f, nil
			}
		}
		return extractor.Format{}, errors.Errorf("requested format %s not available", selector)
	}
}

// Run processes every url, returning how many failed.
func (p *Pipeline) Run(urls []string) int {
	failed := 0
	for _, rawurl := range urls {
		if err := p.ProcessURL(rawurl); err != nil {
			log.WithField("url", rawurl).Errorf("failed: %v", err)
			failed++
		}
	}
	return failed
}

func (p *Pipeline) ProcessURL(rawurl string) error {
	info, err := p.Extract(rawurl)
	if err != nil {
		return err
	}
	if p.opts.DumpJSON {
		return p.dumpJSON(info)
	}
	return p.process(info)
}

func (p *Pipeline) dumpJSON(info *extractor.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = p.jsonOut.Write(pretty.Pretty(data))
	return err
}

func (p *Pipeline) process(info *extractor.Info) error {
	if info.Kind() != extractor.TypePlaylist {
		return p.downloadOne(info)
	}
	logger := log.WithField("playlist", info.ID)
	logger.Infof("processing %d entries", len(info.Entries))
	var firstErr error
	for _, entry := range info.Entries {
		var err error
		if entry.Kind() == extractor.TypeURL {
			var resolved *extractor.Info
			if resolved, err = p.Extract(entry.URL); err == nil {
				err = p.process(resolved)
			}
		} else {
			err = p.process(entry)
		}
		if err != nil {
			logger.Errorf("entry failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *Pipeline) outputPath(info *extractor.Info, format extractor.Format) string {
	template := p.opts.OutputTemplate
	if template == "" && config.Config != nil {
		template = config.Config.OutputTemplate
	}
	if template == "" {
		template = "%(title)s [%(id)s].%(ext)s"
	}
	name := downloader.ExpandOutput(template, info, format)
	if filepath.IsAbs(name) {
		return name
	}
	dir := "."
	if config.Config != nil && config.Config.DownloadDir != "" {
		dir = config.Config.DownloadDir
	}
	return filepath.Join(dir, name)
}

func (p *Pipeline) downloadOne(info *extractor.Info) error {
	selector := p.opts.Format
	if selector == "" && config.Config != nil {
		selector = config.Config.DownloadQuality
	}
	format, err := SelectFormat(info.Formats, selector)
	if err != nil {
		return err
	}
	outPath := p.outputPath(info, format)
	if _, err := utils.MakeDir(filepath.Dir(outPath)); err != nil {
		return err
	}
	logger := log.WithField("id", info.ID)
	logger.Infof("downloading format %s to %s", format.FormatID, outPath)

	opts := downloader.Options{OutPath: outPath}
	if config.Config != nil {
		opts.RateLimit = float64(config.Config.RateLimitKBps) * 1024
		opts.Concurrency = int64(config.Config.HLSWorkers)
	}
	if err := downloader.Download(context.Background(), format, opts); err != nil {
		return err
	}
	info.Filepath = outPath

	updated, err := postprocessor.RunChain(p.pps, p.opts.PostProcessors, info)
	if err != nil {
		return err
	}
	p.notify(updated)
	return nil
}

// notify publishes the finished download, a noop without redis.
func (p *Pipeline) notify(info *extractor.Info) {
	channel := "plugdl:finished"
	if config.Config != nil && config.Config.NotifyChannel != "" {
		channel = config.Config.NotifyChannel
	}
	payload, err := json.Marshal(map[string]string{
		"id":       info.ID,
		"title":    info.Title,
		"filepath": info.Filepath,
		"date":     utils.GetTimeNow(),
	})
	if err != nil {
		return
	}
	utils.Publish(channel, payload)
}
