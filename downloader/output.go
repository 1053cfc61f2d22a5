package downloader

import (
	"regexp"
	"time"

	"github.com/plugdl/plugdl/extractor"
	"github.com/plugdl/plugdl/utils"
)

var outputFieldPattern = regexp.MustCompile(`%\((\w+)\)s`)

// ExpandOutput renders a "%(title)s-%(id)s.%(ext)s" style template
// against the extracted metadata. Field values are sanitized for the
// filesystem, unknown or empty fields become NA.
func ExpandOutput(template string, info *extractor.Info, format extractor.Format) string {
	field := func(name string) string {
		switch name {
		case "id":
			return info.ID
		case "title":
			return info.Title
		case "ext":
			return format.Ext
		case "format_id":
			return format.FormatID
		case "uploader":
			return info.Uploader
		case "uploader_id":
			return info.UploaderID
		case "channel":
			return info.Channel
		case "upload_date":
			if info.Timestamp > 0 {
				return time.Unix(info.Timestamp, 0).UTC().Format("20060102")
			}
			return ""
		}
		return ""
	}
	return outputFieldPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := outputFieldPattern.FindStringSubmatch(m)[1]
		value := field(name)
		if value == "" {
			value = "NA"
		}
		return utils.SanitizeFilename(value)
	})
}
