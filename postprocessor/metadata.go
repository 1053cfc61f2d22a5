package postprocessor

import (
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/plugdl/plugdl/extractor"
	"github.com/tidwall/pretty"
)

// MetadataDump writes the item's metadata as indented JSON next to the
// media file.
type MetadataDump struct{}

// InfoJSONPath maps a media path to its sidecar, video.mp4 to
// video.info.json.
func InfoJSONPath(mediaPath string) string {
	return strings.TrimSuffix(mediaPath, path.Ext(mediaPath)) + ".info.json"
}

func (*MetadataDump) Run(info *extractor.Info) ([]string, *extractor.Info, error) {
	target := InfoJSONPath(info.Filepath)
	if info.Filepath == "" {
		target = info.ID + ".info.json"
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, info, err
	}
	if err := os.WriteFile(target, pretty.Pretty(data), 0644); err != nil {
		return nil, info, errors.Wrap(err, "write info json")
	}
	return nil, info, nil
}
