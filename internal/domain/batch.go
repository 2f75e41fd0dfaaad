package domain

// Batch is a run of consecutive lines read from one file.
// Lines[i] is line number FirstLine+i (0-based) of Source.
type Batch struct {
	// Source is the absolute path of the file the lines came from
	Source string

	// FirstLine is the 0-based index of Lines[0] within Source
	FirstLine int64

	// Lines holds the raw line text without the trailing newline
	Lines []string
}

// NewBatch creates an empty batch for source with room for capacity lines.
func NewBatch(source string, capacity int) *Batch {
	return &Batch{
		Source: source,
		Lines:  make([]string, 0, capacity),
	}
}

// Add appends a line. The first line added fixes FirstLine.
func (b *Batch) Add(lineNo int64, line string) {
	if len(b.Lines) == 0 {
		b.FirstLine = lineNo
	}
	b.Lines = append(b.Lines, line)
}

// Size returns the number of lines in the batch.
func (b *Batch) Size() int {
	return len(b.Lines)
}

// Empty returns true if the batch has no lines.
func (b *Batch) Empty() bool {
	return len(b.Lines) == 0
}

// Next returns the line index following the last line of the batch.
func (b *Batch) Next() int64 {
	return b.FirstLine + int64(len(b.Lines))
}

// Messages splits the batch into one Message per line.
func (b *Batch) Messages() []Message {
	msgs := make([]Message, len(b.Lines))
	for i, l := range b.Lines {
		msgs[i] = Message{Body: l, Source: b.Source, Line: b.FirstLine + int64(i)}
	}
	return msgs
}
