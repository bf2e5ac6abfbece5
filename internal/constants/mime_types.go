package constants

// RecordingMimeTypes maps recording container extensions to their MIME types
var RecordingMimeTypes = map[string]string{
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".ogg":  "video/ogg",
}

// DefaultMimeType is the fallback MIME type for unknown file extensions
const DefaultMimeType = "application/octet-stream"

// DefaultRecordingExtension is used when an upload carries no recognizable extension.
const DefaultRecordingExtension = "webm"

// DefaultRecordingTypes are the containers accepted by upload-recording.
var DefaultRecordingTypes = []string{"webm", "mp4"}
