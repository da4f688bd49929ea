package recorder

import (
	"context"
	"strings"

	"github.com/grafov/m3u8"
)

// inspect decodes manifest text once, returning its playlist type and, for
// media playlists, its segments in manifest order. Unparseable input returns
// a non-nil error so callers can tell "bad manifest" from "ended stream".
func inspect(manifest string) (PlaylistType, []Segment, error) {
	pl, kind, err := m3u8.DecodeFrom(strings.NewReader(manifest), false)
	if err != nil {
		return Closed, nil, err
	}

	switch kind {
	case m3u8.MASTER:
		return Master, nil, nil
	case m3u8.MEDIA:
		media, ok := pl.(*m3u8.MediaPlaylist)
		if !ok {
			return Closed, nil, nil
		}
		segments := make([]Segment, 0, len(media.Segments))
		for _, seg := range media.Segments {
			// The decoder's segment slice is ring-buffer backed and may
			// hold trailing nils.
			if seg == nil || seg.URI == "" {
				continue
			}
			segments = append(segments, Segment{URI: seg.URI})
		}
		if media.Closed || media.MediaType == m3u8.VOD {
			return Closed, segments, nil
		}
		return Live, segments, nil
	default:
		return Closed, nil, nil
	}
}

// Classify inspects manifest text and decides whether it is a master playlist,
// a live media playlist, or a closed (VOD / ended) media playlist. Unparseable
// input classifies as Closed so callers degrade to "not recordable" instead of
// failing.
func Classify(manifest string) PlaylistType {
	t, _, err := inspect(manifest)
	if err != nil {
		return Closed
	}
	return t
}

// CheckLive fetches the manifest at rawURL and reports whether it describes a
// recordable live stream. Master playlists are not live streams themselves;
// they only point at variants. Fetch errors degrade to (Closed, false) and are
// never propagated.
func CheckLive(ctx context.Context, fetcher ManifestFetcher, rawURL string) (PlaylistType, bool) {
	manifest, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return Closed, false
	}
	t := Classify(manifest)
	return t, t == Live
}
