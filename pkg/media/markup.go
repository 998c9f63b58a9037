package media

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/entrhq/capture/pkg/types"
)

// ScanMarkup applies the in-page selection rules to serialized HTML. Sources
// are resolved against pageURL (or a <base href>); natural dimensions are not
// available here, so the width and height attributes are reported instead.
func ScanMarkup(html, pageURL string, maxImages, maxVideos int) (types.MediaInventory, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.MediaInventory{}, fmt.Errorf("parse document: %w", err)
	}

	base, _ := url.Parse(pageURL)
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := resolveAgainst(base, href); err == nil {
			base = b
		}
	}
	resolve := func(ref string) string {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return ""
		}
		u, err := resolveAgainst(base, ref)
		if err != nil {
			return ""
		}
		s, ok := sanitizeURL(u.String())
		if !ok {
			return ""
		}
		return s
	}

	inv := types.MediaInventory{
		Images: []types.MediaEntry{},
		Videos: []types.MediaEntry{},
		Source: "markup",
	}

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(inv.Images) >= maxImages {
			return false
		}
		var alternates []string
		for _, attr := range []string{"srcset", "data-srcset"} {
			for _, ref := range srcsetURLs(s.AttrOr(attr, "")) {
				if u := resolve(ref); u != "" {
					alternates = appendUnique(alternates, u)
				}
			}
		}
		src := resolve(s.AttrOr("src", ""))
		if src == "" {
			// Lazy loaders keep the real source aside.
			src = resolve(s.AttrOr("data-src", ""))
		}
		if src == "" && len(alternates) > 0 {
			src = alternates[0]
		}
		if src == "" {
			return true
		}
		inv.Images = append(inv.Images, types.MediaEntry{
			Kind:             types.MediaKindImage,
			SourceURL:        src,
			AlternateSources: without(alternates, src),
			Width:            attrInt(s, "width"),
			Height:           attrInt(s, "height"),
			AltText:          truncate(strings.TrimSpace(s.AttrOr("alt", "")), maxAltText),
		})
		return true
	})

	doc.Find("video").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(inv.Videos) >= maxVideos {
			return false
		}
		var sources []string
		mimeType := ""
		s.Find("source[src]").Each(func(_ int, src *goquery.Selection) {
			if u := resolve(src.AttrOr("src", "")); u != "" {
				sources = appendUnique(sources, u)
			}
			if t := src.AttrOr("type", ""); t != "" && mimeType == "" {
				mimeType = t
			}
		})
		src := resolve(s.AttrOr("src", ""))
		if src == "" {
			src = resolve(s.AttrOr("data-src", ""))
		}
		if src == "" && len(sources) > 0 {
			src = sources[0]
		}
		if src == "" {
			return true
		}
		inv.Videos = append(inv.Videos, types.MediaEntry{
			Kind:             types.MediaKindVideo,
			SourceURL:        src,
			AlternateSources: without(sources, src),
			Width:            attrInt(s, "width"),
			Height:           attrInt(s, "height"),
			AltText:          mimeType,
		})
		return true
	})

	return inv, nil
}

func resolveAgainst(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return u, nil
	}
	return base.ResolveReference(u), nil
}

func srcsetURLs(srcset string) []string {
	var out []string
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

func attrInt(s *goquery.Selection, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s.AttrOr(name, "")))
	if err != nil {
		return 0
	}
	return dimension(float64(n))
}

func without(list []string, v string) []string {
	var out []string
	for _, x := range list {
		if x != v && len(out) < maxAlternates {
			out = append(out, x)
		}
	}
	return out
}
