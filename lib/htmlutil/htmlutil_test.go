package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollapseWhitespace(t *testing.T) {
	require.Equal(t, "GOOD HEALTH CHEMIST", CollapseWhitespace("  GOOD   HEALTH \t CHEMIST  "))
	require.Equal(t, "", CollapseWhitespace(" \t "))
}

func TestComments(t *testing.T) {
	body := `<div>visible</div>
<!-- first comment -->
<p>more</p>
<!-- second
spans lines -->`

	comments := Comments(body)
	require.Len(t, comments, 2)
	require.Equal(t, " first comment ", comments[0])
	require.Contains(t, comments[1], "spans lines")

	require.Nil(t, Comments("<div>no comments here</div>"))
}
