// Package m3u8 lists the renditions of HLS manifests so the formats endpoint
// can answer for .m3u8 URLs.
package m3u8

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/grafov/m3u8"
)

type PlaylistType int

const (
	Master PlaylistType = iota
	Variant
	Unknown
)

// Format describes one playable rendition, keyed like yt-dlp format entries.
type Format struct {
	FormatID       string  `json:"format_id"`
	URL            string  `json:"url"`
	Protocol       string  `json:"protocol"`
	Tbr            float64 `json:"tbr,omitempty"`
	Resolution     string  `json:"resolution,omitempty"`
	Codecs         string  `json:"codecs,omitempty"`
	FPS            float64 `json:"fps,omitempty"`
	Name           string  `json:"format_note,omitempty"`
	Segments       int     `json:"fragments,omitempty"`
	TargetDuration float64 `json:"target_duration,omitempty"`
}

// IsPlaylistURL reports whether raw points at an HLS manifest.
func IsPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}

// Parse decodes content and reports whether it is a master or media playlist.
func Parse(content io.Reader) (m3u8.Playlist, PlaylistType, error) {
	p, listType, err := m3u8.DecodeFrom(content, true)
	if err != nil {
		return nil, Unknown, err
	}

	switch listType {
	case m3u8.MASTER:
		return p, Master, nil
	case m3u8.MEDIA:
		return p, Variant, nil
	default:
		return nil, Unknown, fmt.Errorf("unknown playlist type")
	}
}

// ResolveURL resolves a relative reference against a base URL
func ResolveURL(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// Formats lists the renditions of a parsed playlist. A media playlist is a
// single rendition.
func Formats(p m3u8.Playlist, listType PlaylistType, base *url.URL) []Format {
	switch listType {
	case Master:
		master := p.(*m3u8.MasterPlaylist)
		formats := make([]Format, 0, len(master.Variants))
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			f := Format{
				FormatID:   fmt.Sprintf("hls-%d", v.Bandwidth/1000),
				URL:        ResolveURL(base, v.URI),
				Protocol:   "m3u8",
				Tbr:        float64(v.Bandwidth) / 1000,
				Resolution: v.Resolution,
				Codecs:     v.Codecs,
				FPS:        v.FrameRate,
				Name:       v.Name,
			}
			if v.Iframe {
				f.FormatID += "-iframe"
			}
			formats = append(formats, f)
		}
		return formats
	case Variant:
		media := p.(*m3u8.MediaPlaylist)
		segments := 0
		for _, seg := range media.Segments {
			if seg != nil && seg.URI != "" {
				segments++
			}
		}
		return []Format{{
			FormatID:       "hls",
			URL:            base.String(),
			Protocol:       "m3u8",
			Segments:       segments,
			TargetDuration: media.TargetDuration,
		}}
	}
	return nil
}

// Prober fetches manifests with a fixed set of request headers.
type Prober struct {
	client  *http.Client
	headers map[string]string
}

func NewProber(client *http.Client, headers map[string]string) *Prober {
	return &Prober{client: client, headers: headers}
}

// Probe downloads and parses the manifest at rawURL.
func (p *Prober) Probe(ctx context.Context, rawURL string) ([]Format, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}

	pl, listType, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	return Formats(pl, listType, base), nil
}
