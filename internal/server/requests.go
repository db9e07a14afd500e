package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Capture control ---

// CaptureStartRequest is the request body for capture/start.
type CaptureStartRequest struct {
	Continuous bool `json:"continuous"`
}

// --- Detection settings ---

// SettingsUpdateRequest is the request body for settings/update. Nil
// fields are left unchanged.
type SettingsUpdateRequest struct {
	Sensitivity      *int   `json:"sensitivity" validate:"omitempty,gte=0,lte=100"`
	SilenceTimeoutMs *int64 `json:"silence_timeout_ms" validate:"omitempty,gte=0,lte=600000"`
	AutoStart        *bool  `json:"auto_start"`
}

// --- Audio settings ---

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
	Codec string `json:"codec" validate:"omitempty,oneof=wav mp3 ogg"`
}

// --- Recordings ---

// RecordingDeleteRequest is the request body for recordings/delete.
type RecordingDeleteRequest struct {
	ID string `json:"id" validate:"required,max=64"`
}

// RecordingUpdateRequest is the request body for recordings/update. Nil
// fields are left unchanged.
type RecordingUpdateRequest struct {
	ID            string  `json:"id" validate:"required,max=64"`
	Transcription *string `json:"transcription" validate:"omitempty,max=1000000"`
	Summary       *string `json:"summary" validate:"omitempty,max=100000"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL          string `json:"url" validate:"omitempty,url,max=2048"`
	TokenURL     string `json:"token_url" validate:"omitempty,url,max=2048"`
	ClientID     string `json:"client_id" validate:"omitempty,max=256"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=512"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}
