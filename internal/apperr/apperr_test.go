package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionErrorUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("staff update: %w", TransitionError{From: "Delivered", To: "Packed"})
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te TransitionError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "Delivered", te.From)
}

func TestValidationErrorDetection(t *testing.T) {
	err := fmt.Errorf("begin: %w", Invalid("cart", "cart is empty"))
	assert.True(t, IsValidation(err))
	assert.Equal(t, "begin: cart: cart is empty", err.Error())
	assert.False(t, IsValidation(ErrNotFound))
}

func TestConfirmationRequiredIsNotConfirmed(t *testing.T) {
	err := ConfirmationRequired{Prompt: "Cancel order?"}
	assert.True(t, errors.Is(err, ErrNotConfirmed))
}
