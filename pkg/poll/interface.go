package poll

import (
	"context"
	"time"
)

// Request describes one fetch of a source endpoint.
type Request struct {
	URL     string
	Headers map[string]string
	Proxy   string
	Timeout time.Duration
}

// Response is the raw result of a successful fetch.
type Response struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// Fetcher performs one HTTP GET against a source endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Target tells a Sink where a payload belongs.
type Target struct {
	Source    string
	OutputDir string
	At        time.Time
}

// Sink persists a fetched payload.
type Sink interface {
	Persist(ctx context.Context, target Target, body []byte, contentType string) error
}

// ProgressRecorder receives the last processed timestamp of a source after a
// complete fetch and persist cycle.
type ProgressRecorder interface {
	UpdateLastProcessed(ctx context.Context, name string, at time.Time) error
}

// ErrorHandler receives start failures for a source.
type ErrorHandler func(sourceID int64, err error)

// State of a Poller.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}
