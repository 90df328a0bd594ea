package foundation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type color string

const (
	colorRed  color = "red"
	colorBlue color = "blue"
)

func TestNormalizeIsCaseAndWhitespaceTolerant(t *testing.T) {
	n := NewNormalizer(map[string]color{
		string(colorRed):  colorRed,
		string(colorBlue): colorBlue,
	}, colorRed)

	assert.Equal(t, colorBlue, n.Normalize("  Blue "))
	assert.Equal(t, colorRed, n.Normalize("RED"))
	assert.Equal(t, colorRed, n.Normalize("chartreuse"))
}

func TestNormalizeWithErrorRejectsUnknownInput(t *testing.T) {
	n := NewNormalizer(map[string]color{string(colorRed): colorRed}, colorRed)

	v, err := n.NormalizeWithError("red")
	require.NoError(t, err)
	assert.Equal(t, colorRed, v)

	_, err = n.NormalizeWithError("green")
	require.Error(t, err)
}
