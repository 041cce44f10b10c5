package stitch

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/supervsr/supervsr/internal/log"
)

const (
	// labelMargin is the height of the black header bar above each pane.
	labelMargin = 60
	// borderSize separates panes and frames the grid.
	borderSize = 10
)

// Stitcher composes labeled screenshots into a rows x cols grid.
type Stitcher struct {
	rows    int
	cols    int
	fetcher *Fetcher
	logger  zerolog.Logger
}

func New(rows, cols int) (*Stitcher, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("stitch: invalid grid %dx%d", rows, cols)
	}
	return &Stitcher{
		rows:    rows,
		cols:    cols,
		fetcher: NewFetcher(),
		logger:  log.WithComponent("stitch"),
	}, nil
}

// Compose fetches the sources, lays them out row-major in capture order and
// returns the grid as PNG bytes. When outPath is non-empty the grid is also
// written there atomically, so a concurrent name collision resolves to the
// last complete writer.
func (s *Stitcher) Compose(ctx context.Context, sources []Source, outPath string) ([]byte, error) {
	panes := s.fetcher.fetchAll(ctx, sources)
	if len(panes) == 0 {
		return nil, fmt.Errorf("stitch: none of %d screenshots could be fetched", len(sources))
	}

	// The first pane fixes the cell geometry; stragglers are resized to it.
	cellW := panes[0].img.Bounds().Dx()
	cellH := panes[0].img.Bounds().Dy()
	paneH := cellH + labelMargin

	gridW := borderSize + s.cols*(cellW+borderSize)
	gridH := borderSize + s.rows*(paneH+borderSize)
	canvas := imaging.New(gridW, gridH, color.Black)

	for i, pane := range panes {
		if i >= s.rows*s.cols {
			s.logger.Warn().Int("panes", len(panes)).Msg("more screenshots than grid cells, truncating")
			break
		}
		img := pane.img
		if img.Bounds().Dx() != cellW || img.Bounds().Dy() != cellH {
			img = imaging.Resize(img, cellW, cellH, imaging.Lanczos)
		}
		x := borderSize + (i%s.cols)*(cellW+borderSize)
		y := borderSize + (i/s.cols)*(paneH+borderSize)
		canvas = imaging.Paste(canvas, annotate(img, pane.label, cellW, cellH), image.Pt(x, y))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("stitch: encode grid: %w", err)
	}

	if outPath != "" {
		if err := renameio.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("stitch: write grid: %w", err)
		}
		s.logger.Debug().Str(log.FieldPath, outPath).Int("panes", len(panes)).Msg("grid written")
	}
	return buf.Bytes(), nil
}

// annotate draws the pane: a black header bar with the centered label, the
// screenshot below it.
func annotate(img image.Image, label string, cellW, cellH int) image.Image {
	dc := gg.NewContext(cellW, cellH+labelMargin)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.DrawImage(img, 0, labelMargin)
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(label, float64(cellW)/2, float64(labelMargin)/2, 0.5, 0.5)
	return dc.Image()
}
