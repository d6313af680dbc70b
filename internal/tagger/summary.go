package tagger

import (
	"fmt"
	"os"
)

// Summary is a human-friendly view of a file's current metadata, used
// for reporting after a workflow completes.
type Summary struct {
	Artist      string
	Title       string
	Album       string
	TrackNumber string
	FileSize    string
	Duration    string
}

// Summarize is best-effort: fields that cannot be determined are left
// empty rather than failing the call.
func (service *Service) Summarize(path string) Summary {
	var summary Summary

	if fields, err := service.ReadFields(path); err == nil {
		summary.Artist = fields[FrameArtist]
		summary.Title = fields[FrameTitle]
		summary.Album = fields[FrameAlbum]
		summary.TrackNumber = fields[FrameTrack]
	}

	if info, err := os.Stat(path); err == nil {
		summary.FileSize = fmt.Sprintf("%.1f MB", float64(info.Size())/(1024*1024))
	}

	if duration := audioDuration(path); duration > 0 {
		total := int(duration.Seconds())
		summary.Duration = fmt.Sprintf("%d:%02d", total/60, total%60)
	}

	return summary
}
