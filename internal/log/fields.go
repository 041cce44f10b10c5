package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldComponent     = "component"
	FieldStreamID      = "stream_id"
	FieldSOPID         = "sop_id"
	FieldDispatchID    = "dispatch_id"
	FieldCorrelationID = "correlation_id"

	// Process / pipeline fields
	FieldEvent    = "event"
	FieldPID      = "pid"
	FieldExitCode = "exit_code"
	FieldAttempt  = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL / key fields
	FieldPath         = "path"
	FieldPlaylistPath = "playlist_path"
	FieldBlobKey      = "blob_key"
	FieldURL          = "url"
	FieldBaseURL      = "base_url"

	// Capture fields
	FieldScreenshotCount = "screenshot_count"
	FieldGridRows        = "grid_rows"
	FieldGridCols        = "grid_cols"
)
