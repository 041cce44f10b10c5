package stream

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	playlistName   = "playlist.m3u8"
	segmentPattern = "segment_%05d.ts"
)

// TranscoderSpec carries the knobs for one RTSP→HLS transcode.
type TranscoderSpec struct {
	RTSPURL        string
	OutputDir      string
	SegmentSeconds int
	WindowSize     int
	SocketTimeout  time.Duration
}

// PlaylistPath returns the rolling playlist location inside a session dir.
func PlaylistPath(dir string) string {
	return filepath.Join(dir, playlistName)
}

// BuildTranscoderArgs assembles the ffmpeg command line for a rolling HLS
// buffer: TCP transport, bounded socket timeout, short mpegts segments with a
// small window and delete-on-rotate, low-delay flags.
func BuildTranscoderArgs(spec TranscoderSpec) []string {
	segSeconds := spec.SegmentSeconds
	if segSeconds < 1 {
		segSeconds = 2
	}
	window := spec.WindowSize
	if window < 1 {
		window = 5
	}
	sockTimeout := spec.SocketTimeout
	if sockTimeout <= 0 {
		sockTimeout = 5 * time.Second
	}

	return []string{
		"-rtsp_transport", "tcp",
		"-timeout", fmt.Sprintf("%d", sockTimeout.Microseconds()),
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", spec.RTSPURL,
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", segSeconds),
		"-hls_list_size", fmt.Sprintf("%d", window),
		"-hls_flags", "delete_segments",
		"-hls_segment_type", "mpegts",
		"-hls_segment_filename", filepath.Join(spec.OutputDir, segmentPattern),
		"-hls_allow_cache", "0",
		PlaylistPath(spec.OutputDir),
	}
}

// BuildExtractArgs assembles the one-shot ffmpeg command line that pulls a
// single JPEG frame out of a segment at quality 2.
func BuildExtractArgs(segmentPath, framePath string) []string {
	return []string{
		"-i", segmentPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		framePath,
	}
}
