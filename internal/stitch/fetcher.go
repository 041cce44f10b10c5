// Package stitch downloads screenshot blobs and composes them into a single
// labeled grid image.
package stitch

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"time"

	// Decoders for the formats screenshots arrive in.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog"

	"github.com/supervsr/supervsr/internal/log"
)

// Source is one screenshot to place in the grid.
type Source struct {
	URL   string
	Label string
}

// labeled pairs a fetched image with its header text.
type labeled struct {
	img   image.Image
	label string
}

// Fetcher downloads and decodes screenshot images.
type Fetcher struct {
	http   *http.Client
	logger zerolog.Logger
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: log.WithComponent("stitch"),
	}
}

// Fetch downloads and decodes one image.
func (f *Fetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("stitch: build request: %w", err)
	}
	res, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stitch: fetch %s: %w", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stitch: fetch %s: HTTP %d", url, res.StatusCode)
	}
	img, _, err := image.Decode(res.Body)
	if err != nil {
		return nil, fmt.Errorf("stitch: decode %s: %w", url, err)
	}
	return img, nil
}

// fetchAll downloads every source, skipping the ones that fail. A grid with
// a missing pane is still worth analyzing; an empty one is not, which the
// caller enforces.
func (f *Fetcher) fetchAll(ctx context.Context, sources []Source) []labeled {
	out := make([]labeled, 0, len(sources))
	for _, src := range sources {
		img, err := f.Fetch(ctx, src.URL)
		if err != nil {
			f.logger.Warn().Err(err).Str(log.FieldURL, src.URL).Msg("skipping unfetchable screenshot")
			continue
		}
		out = append(out, labeled{img: img, label: src.Label})
	}
	return out
}
