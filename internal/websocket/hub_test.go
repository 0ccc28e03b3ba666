package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"snapclaim/internal/events"
	"snapclaim/internal/model"
	"snapclaim/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifier(token string) (string, string, error) {
	switch token {
	case "good":
		return "u-1", model.RoleSupervisor, nil
	case "odd-role":
		return "u-2", "guest", nil
	default:
		return "", "", errors.New("bad token")
	}
}

func newServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c, verifier) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHub_PublishReachesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(logger.Nop())
	go hub.Run(ctx)
	srv := newServer(t, hub)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=good"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, events.New(events.RouteSaved, "r-1", "u-1", nil)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt events.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, events.RouteSaved, evt.Type)
	assert.Equal(t, "r-1", evt.EntityID)
}

func TestServeWs_Rejections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(logger.Nop())
	go hub.Run(ctx)
	srv := newServer(t, hub)

	tests := map[string]int{
		"":         http.StatusUnauthorized,
		"bad":      http.StatusUnauthorized,
		"odd-role": http.StatusForbidden,
	}
	for token, want := range tests {
		resp, err := http.Get(srv.URL + "/ws?token=" + token)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, "token %q", token)
	}
}

func TestHub_PublishAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(logger.Nop())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.NoError(t, hub.Publish(context.Background(), events.New(events.RouteDeleted, "r-1", "", nil)))
}
