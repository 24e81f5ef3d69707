package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInternal, http.StatusTeapot, "x"), http.StatusTeapot},
		{"portfolio not found", fmt.Errorf("loading: %w", ErrPortfolioNotFound), http.StatusNotFound},
		{"project list missing", ErrProjectListMissing, http.StatusBadRequest},
		{"forbidden", Forbidden("not yours"), http.StatusForbidden},
		{"store down", fmt.Errorf("warm: %w", ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NotFound(ErrPortfolioNotFound, "portfolio %d", 7)
	assert.True(t, errors.Is(err, ErrPortfolioNotFound))
	assert.Equal(t, "portfolio not found: portfolio 7", err.Error())
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "title is required", PublicMessage(Invalid("title is required")))
	assert.Equal(t, "user not found", PublicMessage(fmt.Errorf("x: %w", ErrUserNotFound)))
	assert.Equal(t, "internal error", PublicMessage(errors.New("driver: connection reset")))
}
