// Package worker runs the embedding model in a separate process. The host writes one JSON
// request per line to the worker's stdin and reads one JSON message per line from its stdout.
package worker

// MessageType distinguishes messages sent by the worker.
type MessageType string

const (
	// TypeReady is sent once, after the model is loaded.
	TypeReady MessageType = "ready"
	// TypeResult answers one request, carrying either an embedding or an error.
	TypeResult MessageType = "result"
	// TypeProgress reports model download or load progress before ready.
	TypeProgress MessageType = "progress"
	// TypeFatal reports a model load failure; the worker exits after sending it.
	TypeFatal MessageType = "fatal"
)

// StageDownload is the progress stage used while fetching the model file.
const StageDownload = "download"

// Environment variables the client sets for the worker process.
const (
	EnvCacheDir   = "EMBEDKIT_WORKER_CACHE_DIR"
	EnvDimensions = "EMBEDKIT_WORKER_DIMENSIONS"
)

// Request is sent from the host to the worker.
type Request struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Message is sent from the worker to the host.
type Message struct {
	Type       MessageType `json:"type"`
	ID         string      `json:"id,omitempty"`
	Embedding  []float32   `json:"embedding,omitempty"`
	Error      string      `json:"error,omitempty"`
	Dimensions int         `json:"dimensions,omitempty"`
	Model      string      `json:"model,omitempty"`
	Stage      string      `json:"stage,omitempty"`
	Current    int64       `json:"current,omitempty"`
	Total      int64       `json:"total,omitempty"`
}

// Info describes the model a ready worker is serving.
type Info struct {
	Dimensions int    `json:"dimensions"`
	Model      string `json:"model"`
}
