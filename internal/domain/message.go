package domain

// Message is a single log line travelling through the queue.
type Message struct {
	// Body is the raw line
	Body string

	// Source is the file the line was read from, if known
	Source string

	// Line is the 0-based line index within Source
	Line int64
}
