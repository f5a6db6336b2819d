package camera

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryUnknown},
		{"refused", errors.New("dial tcp 10.0.0.9:554: connection refused"), ErrCategoryNetwork},
		{"deadline", fmt.Errorf("open: %w", context.DeadlineExceeded), ErrCategoryNetwork},
		{"auth", &TransportError{URI: "rtsp://x", Op: "open", Err: errors.New("401 Unauthorized")}, ErrCategoryAuth},
		{"codec", &ReadError{Err: errors.New("h264 decoder error")}, ErrCategoryCodec},
		{"empty frame", &ReadError{Err: ErrEmptyFrame}, ErrCategoryCodec},
		{"other", errors.New("something odd"), ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorCategoryString(t *testing.T) {
	assert.Equal(t, "network", ErrCategoryNetwork.String())
	assert.Equal(t, "codec", ErrCategoryCodec.String())
	assert.Equal(t, "auth", ErrCategoryAuth.String())
	assert.Equal(t, "unknown", ErrorCategory(42).String())
}
