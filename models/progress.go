package models

// Stages reported over the progress stream, in the order a successful job
// emits them. Heartbeat can appear at any point; error is terminal.
const (
	StageWaiting     = "waiting"
	StageStarted     = "started"
	StageFetching    = "fetching"
	StageDownloading = "downloading"
	StageConverting  = "converting"
	StageDone        = "done"
	StageComplete    = "complete"
	StageError       = "error"
	StageHeartbeat   = "heartbeat"
)

// ProgressEvent is one message on the generate-with-progress stream.
type ProgressEvent struct {
	Stage    string `json:"stage"`
	Current  int    `json:"current,omitempty"`
	Total    int    `json:"total,omitempty"`
	Percent  int    `json:"percent,omitempty"`
	Message  string `json:"message,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size,omitempty"`
}
