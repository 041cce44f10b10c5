package objectstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/supervsr/supervsr/internal/log"
)

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "supervsr_objectstore_uploads_total",
	Help: "Total number of blob uploads",
}, []string{"kind", "result"})

// GCS stores blobs in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	logger zerolog.Logger
}

// NewGCS opens a client against the configured bucket. An empty credsPath
// falls back to application default credentials.
func NewGCS(ctx context.Context, credsPath, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket name not set")
	}
	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open client: %w", err)
	}
	return &GCS{
		client: client,
		bucket: bucket,
		logger: log.WithComponent("objectstore"),
	}, nil
}

// Upload writes one blob. Upload errors mostly surface on Close, so both
// paths are checked.
func (g *GCS) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	kind := "screenshot"
	if len(key) >= len(GridPrefix) && key[:len(GridPrefix)] == GridPrefix {
		kind = "grid"
	}

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		uploadsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("objectstore: upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		uploadsTotal.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("objectstore: upload %s: %w", key, err)
	}

	uploadsTotal.WithLabelValues(kind, "ok").Inc()
	url := g.PublicURL(key)
	g.logger.Debug().
		Str(log.FieldBlobKey, key).
		Int("bytes", len(data)).
		Msg("blob uploaded")
	return url, nil
}

// Recent returns the n most recent screenshots of one stream, oldest first.
// Objects without an embedded capture time fall back to their creation time.
func (g *GCS) Recent(ctx context.Context, streamID string, n int) ([]Object, error) {
	prefix := ScreenshotPrefix + streamID + "-"
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
		}
		taken, ok := takenAt(attrs.Name)
		if !ok {
			taken = attrs.Created
		}
		objects = append(objects, Object{
			Key:   attrs.Name,
			URL:   g.PublicURL(attrs.Name),
			Taken: taken,
		})
	}
	return selectRecent(objects, n), nil
}

// PublicURL renders the canonical public URL of a key in the bucket.
func (g *GCS) PublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
