package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	svc := NewService(NewInMemorySessionStore(), map[string]string{"secret": "alice"}, time.Hour)
	session, err := svc.SignIn(context.Background(), "secret")
	require.NoError(t, err)

	h := server.Default()
	h.GET("/private", Middleware(svc), func(ctx context.Context, c *app.RequestContext) {
		s, ok := FromContext(Context(ctx, c))
		if !ok {
			c.String(http.StatusInternalServerError, "no session")
			return
		}
		c.String(http.StatusOK, s.Subject)
	})

	w := ut.PerformRequest(h.Engine, http.MethodGet, "/private", nil,
		ut.Header{Key: "Authorization", Value: "Bearer " + session.Token})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/private", nil,
		ut.Header{Key: "Authorization", Value: "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ut.PerformRequest(h.Engine, http.MethodGet, "/private", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
