package playlist

import (
	"strings"

	"github.com/grafov/m3u8"
)

// Kind tells master playlists from media playlists.
type Kind string

const (
	KindMaster Kind = "master"
	KindMedia  Kind = "media"
)

// Info summarises a playlist for logging and response headers.
type Info struct {
	Kind     Kind
	Variants int
	Segments int
	// Decoded is false when the decoder rejected the document and Kind was
	// derived from the #EXT-X-STREAM-INF probe alone.
	Decoded bool
}

// Classify returns the playlist kind of document.
func Classify(document string) Kind {
	return Inspect(document).Kind
}

// Inspect decodes document leniently and reports its kind and size. Players
// accept playlists the decoder is strict about, so a decode failure only
// downgrades the report to the textual probe.
func Inspect(document string) Info {
	p, listType, err := m3u8.DecodeFrom(strings.NewReader(document), false)
	if err != nil || p == nil {
		info := Info{Kind: KindMedia}
		if IsMaster(document) {
			info.Kind = KindMaster
			info.Variants = strings.Count(document, streamInfTag+":")
		}
		return info
	}

	switch listType {
	case m3u8.MASTER:
		master := p.(*m3u8.MasterPlaylist)
		return Info{Kind: KindMaster, Variants: len(master.Variants), Decoded: true}
	default:
		media := p.(*m3u8.MediaPlaylist)
		return Info{Kind: KindMedia, Segments: int(media.Count()), Decoded: true}
	}
}
