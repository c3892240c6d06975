package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownSplitterKeepsSections(t *testing.T) {
	report := "# Report\n\n## Alpha\n\n" + strings.Repeat("alpha findings. ", 20) +
		"\n\n## Beta\n\n" + strings.Repeat("beta findings. ", 20)

	chunks, err := NewMarkdownSplitter(200, 0).SplitText(report)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	joined := strings.Join(chunks, "\n")
	assert.Contains(t, joined, "alpha findings")
	assert.Contains(t, joined, "beta findings")
}
