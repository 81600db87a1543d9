package soerror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	t.Run("kind sentinel matches any type and id", func(t *testing.T) {
		err := NewNotFound("dashboard", "d1")
		assert.True(t, errors.Is(err, NotFound))
		assert.False(t, errors.Is(err, Conflict))
	})
	t.Run("specific error matches exact type and id", func(t *testing.T) {
		err := NewConflict("dashboard", "d1")
		assert.True(t, errors.Is(err, NewConflict("dashboard", "d1")))
		assert.False(t, errors.Is(err, NewConflict("dashboard", "d2")))
		assert.False(t, errors.Is(err, NewConflict("index-pattern", "d1")))
	})
	t.Run("wrapped errors match", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NewBadRequest("nope"))
		assert.True(t, IsBadRequest(err))
	})
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewUnsupportedType("x").StatusCode())
	assert.Equal(t, http.StatusBadRequest, NewBadRequest("x").StatusCode())
	assert.Equal(t, http.StatusBadRequest, NewInvalidID("t", "i", "x").StatusCode())
	assert.Equal(t, http.StatusNotFound, NewNotFound("t", "i").StatusCode())
	assert.Equal(t, http.StatusConflict, NewConflict("t", "i").StatusCode())
	assert.Equal(t, http.StatusInternalServerError, NewInternal("x", nil).StatusCode())
}

func TestAliasConflict(t *testing.T) {
	err := NewAliasConflict("dashboard", "d1")
	assert.True(t, IsConflict(err))
	assert.True(t, err.IsNotOverwritable)
	assert.False(t, NewConflict("dashboard", "d1").IsNotOverwritable)
}

func TestInternalUnwrap(t *testing.T) {
	cause := errors.New("io timeout")
	err := NewInternal("store request failed", cause)
	assert.True(t, errors.Is(err, Internal))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "io timeout")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "not found [dashboard/d1]", NewNotFound("dashboard", "d1").Error())
	assert.Equal(t, "unsupported type [wat]", NewUnsupportedType("wat").Error())
}
