package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("%w: quest q1", ErrNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("%w: busy", ErrConflict)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrInvalid))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("disk")))
}

func TestIsDomain(t *testing.T) {
	assert.True(t, IsDomain(fmt.Errorf("wrap: %w", ErrConflict)))
	assert.False(t, IsDomain(errors.New("db locked")))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "you are already busy", Message(fmt.Errorf("%w: you are already busy", ErrConflict)))
	assert.Equal(t, "no Oak Tree here", Message(fmt.Errorf("start: %w", fmt.Errorf("%w: no Oak Tree here", ErrNotFound))))
	assert.Equal(t, "invalid", Message(ErrInvalid))
	assert.Empty(t, Message(nil))
}
