package splitter

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter chunks report markdown along its heading structure.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

// NewMarkdownSplitter creates a splitter for markdown documents
func NewMarkdownSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	ts := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithHeadingHierarchy(true),
	)
	return &TextSplitter{splitter: ts}
}

// SplitText splits text into chunks
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	return ts.splitter.SplitText(text)
}
