package confirm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticAnswers(t *testing.T) {
	ok, err := Static(false).Confirm(context.Background(), Prompt{Action: "cancel"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Always.Confirm(context.Background(), Prompt{Action: "cancel"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFuncSeesPrompt(t *testing.T) {
	var seen Prompt
	c := Func(func(_ context.Context, p Prompt) (bool, error) {
		seen = p
		return false, errors.New("operator went away")
	})

	ok, err := c.Confirm(context.Background(), Prompt{Action: "delete", Message: "Delete order?"})
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Delete order?", seen.Message)
}
