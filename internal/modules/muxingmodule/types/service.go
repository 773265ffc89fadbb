package types

// MuxRequest asks the service to mux local media files
type MuxRequest struct {
	// Inputs are the video/audio files in order. An empty entry is an absent slot.
	Inputs      []string            `json:"inputs"`
	Subtitles   []SubtitleRequest   `json:"subtitles,omitempty"`
	Format      string              `json:"format,omitempty"`
	VideoCodec  string              `json:"video_codec,omitempty"`
	AudioCodec  string              `json:"audio_codec,omitempty"`
	CopyTS      bool                `json:"copyts,omitempty"`
	StartAtZero bool                `json:"start_at_zero,omitempty"`
	Maps        []string            `json:"maps,omitempty"`
	Metadata    map[string][]string `json:"metadata,omitempty"`
	OutPath     string              `json:"-"`
}

// SubtitleRequest is one subtitle file tagged with its language
type SubtitleRequest struct {
	Language string `json:"language"`
	Path     string `json:"path"`
}

// Status describes the muxing service
type Status struct {
	Available        bool   `json:"available"`
	Binary           string `json:"binary,omitempty"`
	Version          string `json:"version,omitempty"`
	Validated        bool   `json:"validated"`
	ActiveMuxers     int    `json:"active_muxers"`
	TrackedProcesses int    `json:"tracked_processes"`
	HistoryEnabled   bool   `json:"history_enabled"`
}
