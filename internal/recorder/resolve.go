package recorder

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// ParseVariants extracts the variant entries of a master playlist, resolving
// each URI against base. It returns nil when the manifest is not a master
// playlist; that is a classification result, not an error.
func ParseVariants(manifest string, base *url.URL) []Variant {
	pl, kind, err := m3u8.DecodeFrom(strings.NewReader(manifest), false)
	if err != nil || kind != m3u8.MASTER {
		return nil
	}
	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return nil
	}

	variants := make([]Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		resolved := v.URI
		if base != nil {
			if u, err := base.Parse(v.URI); err == nil {
				resolved = u.String()
			}
		}
		width, height := parseResolution(v.Resolution)
		variants = append(variants, Variant{
			URL:       resolved,
			Bandwidth: v.Bandwidth,
			Width:     width,
			Height:    height,
		})
	}
	return variants
}

// BestVariant returns the highest-quality variant: greatest vertical
// resolution first, bandwidth as the tie-break. It returns nil for an empty
// list. The input slice is not modified.
func BestVariant(variants []Variant) *Variant {
	if len(variants) == 0 {
		return nil
	}
	ranked := make([]Variant, len(variants))
	copy(ranked, variants)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Height != ranked[j].Height {
			return ranked[i].Height > ranked[j].Height
		}
		return ranked[i].Bandwidth > ranked[j].Bandwidth
	})
	best := ranked[0]
	return &best
}

// ResolveBest fetches rawURL and, if it is a master playlist, returns the URL
// of its best media playlist. It returns ("", nil) when the manifest is not a
// master playlist; callers fall back to treating rawURL as a media playlist.
// Resolution is read-only and idempotent for an unchanged manifest.
func ResolveBest(ctx context.Context, fetcher ManifestFetcher, rawURL string) (string, error) {
	manifest, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	best := BestVariant(ParseVariants(manifest, base))
	if best == nil {
		return "", nil
	}
	return best.URL, nil
}

// parseResolution splits a "1920x1080" attribute value. Unparseable values
// yield zeros, which rank below any declared resolution.
func parseResolution(res string) (width, height int) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0
	}
	return w, h
}
