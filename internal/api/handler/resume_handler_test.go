package handler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"

	"resumind/internal/pipeline"
)

func TestStatusCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{pipeline.ErrNotAuthenticated, consts.StatusUnauthorized},
		{pipeline.ErrNotReady, consts.StatusServiceUnavailable},
		{pipeline.ErrInvalidRequest, consts.StatusBadRequest},
		{pipeline.ErrConversionFailed, consts.StatusUnprocessableEntity},
		{pipeline.ErrUploadFailed, consts.StatusBadGateway},
		{pipeline.ErrImageUploadFailed, consts.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", pipeline.ErrRecordWriteFailed), consts.StatusBadGateway},
		{errors.New("boom"), consts.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusCodeFor(tt.err))
		})
	}
}
