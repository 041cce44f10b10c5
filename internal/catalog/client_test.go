package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamsPayload = `{
	"success": true,
	"streams": [
		{
			"id": 7,
			"name": "Loading Dock",
			"rtsp_url": "rtsp://cam-7.local:554/main",
			"sops": [{"id": "3", "name": "Forklift Safety"}]
		},
		{
			"id": "8",
			"name": "Front Gate",
			"rtsp_url": "rtsp://cam-8.local:554/main",
			"sops": []
		}
	]
}`

func TestClientStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/streams", r.URL.Path)
		_, _ = w.Write([]byte(streamsPayload))
	}))
	defer srv.Close()

	streams, err := NewClient(srv.URL).Streams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)

	// Numeric and string ids decode alike.
	assert.Equal(t, ID("7"), streams[0].ID)
	assert.Equal(t, ID("8"), streams[1].ID)
	assert.Equal(t, "Loading Dock", streams[0].Name)
	assert.Equal(t, "rtsp://cam-7.local:554/main", streams[0].RTSPURL)
	require.Len(t, streams[0].SOPs, 1)
	assert.Equal(t, ID("3"), streams[0].SOPs[0].ID)
}

func TestClientStreamsSuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "streams": []}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Streams(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestClientSOP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sops/3", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"success": true,
			"sop": {
				"id": 3,
				"name": "Forklift Safety",
				"prompt": "Count forklifts without a spotter.",
				"frequency": 6,
				"structured_output": {
					"type": "object",
					"properties": {"count": {"type": "number"}},
					"required": ["count"]
				}
			}
		}`))
	}))
	defer srv.Close()

	sop, err := NewClient(srv.URL).SOP(context.Background(), ID("3"))
	require.NoError(t, err)
	assert.Equal(t, ID("3"), sop.ID)
	assert.NotEmpty(t, sop.Prompt)
	assert.Equal(t, 6, sop.Frequency)
	require.NotNil(t, sop.Schema)
	assert.NoError(t, sop.Schema.Validate())
}

func TestClientSOPSuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SOP(context.Background(), ID("3"))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestClientSOPRejectsUnwrappedBody(t *testing.T) {
	// A bare record without the success envelope must not pass as a
	// zero-value SOP.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 3, "prompt": "Count forklifts.", "frequency": 6}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SOP(context.Background(), ID("3"))
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestClientSOPNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such sop", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SOP(context.Background(), ID("99"))
	require.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "no such sop")
}

func TestClientCreateAnalysis(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analysis", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).CreateAnalysis(context.Background(), Analysis{
		RTSPID: ID("7"),
		SOPID:  ID("3"),
		Output: json.RawMessage(`{"count": 2}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "7", got["rtsp_id"])
	assert.Equal(t, "3", got["sop_id"])
	assert.Equal(t, map[string]any{"count": 2.0}, got["output"])
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Streams(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamError)

	err = NewClient(srv.URL).CreateAnalysis(context.Background(), Analysis{})
	assert.ErrorIs(t, err, ErrUpstreamError)
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL).Streams(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Streams(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestIDUnmarshalRejectsGarbage(t *testing.T) {
	var id ID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &id))
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}
