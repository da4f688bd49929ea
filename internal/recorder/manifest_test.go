package recorder

import (
	"fmt"
	"strings"
)

// buildMediaPlaylist produces a valid HLS media playlist over the given
// segment URIs. If ended is true, #EXT-X-ENDLIST is appended.
func buildMediaPlaylist(uris []string, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-TARGETDURATION:4\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	for _, uri := range uris {
		b.WriteString("#EXTINF:4.0,\n")
		b.WriteString(uri)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// buildVODPlaylist is buildMediaPlaylist with #EXT-X-PLAYLIST-TYPE:VOD and no
// end marker.
func buildVODPlaylist(uris []string) string {
	pl := buildMediaPlaylist(uris, false)
	return strings.Replace(pl, "#EXT-X-VERSION:3\n", "#EXT-X-VERSION:3\n#EXT-X-PLAYLIST-TYPE:VOD\n", 1)
}

type testVariant struct {
	bandwidth  int
	resolution string
	uri        string
}

// buildMasterPlaylist produces a valid HLS master playlist over the given
// variants.
func buildMasterPlaylist(variants []testVariant) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d", v.bandwidth))
		if v.resolution != "" {
			b.WriteString(",RESOLUTION=" + v.resolution)
		}
		b.WriteString("\n")
		b.WriteString(v.uri)
		b.WriteString("\n")
	}
	return b.String()
}

// segmentURIs returns n sequential segment names "seg<from>.ts"..., handy for
// building growing playlists.
func segmentURIs(from, n int) []string {
	uris := make([]string, 0, n)
	for i := 0; i < n; i++ {
		uris = append(uris, fmt.Sprintf("seg%d.ts", from+i))
	}
	return uris
}
