// Package objectstore persists screenshots and composed grids in a GCS
// bucket and answers "most recent N screenshots" queries over it.
package objectstore

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	// ScreenshotPrefix groups per-stream frame captures.
	ScreenshotPrefix = "screenshots/"
	// GridPrefix groups composed grids.
	GridPrefix = "grids/"

	// keyTimeLayout is the capture timestamp embedded in screenshot keys.
	// Lexicographic order matches chronological order within a century.
	keyTimeLayout = "06-01-02--15--04--05"
)

// Object is one stored blob with its public URL and the capture time encoded
// in its key.
type Object struct {
	Key   string
	URL   string
	Taken time.Time
}

// sanitizeName makes a stream name safe for use inside an object key.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ReplaceAll(name, "/", "_")
}

// ScreenshotKey builds the blob key for a frame captured at the given time.
func ScreenshotKey(streamID, streamName string, taken time.Time) string {
	return fmt.Sprintf("%s%s-%s-%s.jpg", ScreenshotPrefix, streamID, sanitizeName(streamName), taken.Format(keyTimeLayout))
}

// GridKeyFor derives the grid key from the oldest screenshot in the batch,
// so a grid is named after the capture window it covers.
func GridKeyFor(oldestScreenshotKey string) string {
	base := path.Base(oldestScreenshotKey)
	base = strings.TrimSuffix(base, path.Ext(base))
	return GridPrefix + base + ".png"
}

// takenAt extracts the capture timestamp embedded in a screenshot key. The
// second return is false for keys that do not carry one.
func takenAt(key string) (time.Time, bool) {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	if len(base) < len(keyTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(keyTimeLayout, base[len(base)-len(keyTimeLayout):])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// selectRecent picks the n most recent objects by embedded capture time and
// returns them oldest first. Equal timestamps fall back to key order so the
// selection is deterministic.
func selectRecent(objects []Object, n int) []Object {
	sorted := make([]Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Taken.Equal(sorted[j].Taken) {
			return sorted[i].Taken.After(sorted[j].Taken)
		}
		return sorted[i].Key > sorted[j].Key
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].Taken.Equal(sorted[j].Taken) {
			return sorted[i].Taken.Before(sorted[j].Taken)
		}
		return sorted[i].Key < sorted[j].Key
	})
	return sorted
}
