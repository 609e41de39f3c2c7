package poll

import "time"

const (
	// DefaultInterval is used when a source carries no usable interval.
	DefaultInterval = time.Minute
	// DefaultTimeout bounds a single fetch when neither the source nor the caller sets one.
	DefaultTimeout = 30 * time.Second
)

// Source is the configuration snapshot a Poller runs with. It is fixed for
// one Running episode; a change only takes effect through Stop and Start.
type Source struct {
	ID        int64
	Name      string
	Endpoint  string
	Headers   map[string]string
	Proxy     string
	Interval  time.Duration
	Timeout   time.Duration
	OutputDir string
}

// normalized returns a copy with defaults applied and the header map cloned
// so the caller can't mutate a running snapshot.
func (s Source) normalized() Source {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Headers != nil {
		headers := make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			headers[k] = v
		}
		s.Headers = headers
	}
	return s
}
