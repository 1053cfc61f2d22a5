package postprocessor

import (
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/utils"
)

// Remux rewraps the downloaded file into TargetExt with a stream copy,
// mp4 when unset. Files already in the target container pass through.
type Remux struct {
	TargetExt string
}

func (r *Remux) Run(info *extractor.Info) ([]string, *extractor.Info, error) {
	if info.Filepath == "" {
		return nil, info, errors.New("nothing downloaded to remux")
	}
	target := r.TargetExt
	if target == "" {
		target = "mp4"
	}
	ext := strings.TrimPrefix(path.Ext(info.Filepath), ".")
	if ext == target {
		return nil, info, nil
	}
	outPath := strings.TrimSuffix(info.Filepath, path.Ext(info.Filepath)) + "." + target
	utils.ExecShell("ffmpeg", "-y", "-i", info.Filepath, "-c", "copy", "-f", target, outPath)
	if !utils.IsFileExist(outPath) {
		return nil, info, errors.Errorf("ffmpeg produced no output for %s", info.Filepath)
	}
	old := info.Filepath
	info.Filepath = outPath
	return []string{old}, info, nil
}
