package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMock_Render(t *testing.T) {
	ok := SetupRouter(NewMock(Settings{RenderSuccessRate: 1, VideoBaseURL: "https://v"}))

	w := post(t, ok, "/api/v1/render", RenderRequest{TemplateRef: "tpl", RecipientName: "Ali"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["video_url"], "https://v/tpl/")

	w = post(t, ok, "/api/v1/render", RenderRequest{RecipientName: "Ali"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	failing := SetupRouter(NewMock(Settings{RenderSuccessRate: 0}))
	w = post(t, failing, "/api/v1/render", RenderRequest{TemplateRef: "tpl"})
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "render engine error", resp["error"])
}

func TestMock_SendAndCallback(t *testing.T) {
	callbacks := make(chan DeliveryCallback, 1)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cb DeliveryCallback
		_ = json.NewDecoder(r.Body).Decode(&cb)
		callbacks <- cb
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	mock := NewMock(Settings{SendSuccessRate: 1, DeliveryRate: 1, CallbackURL: api.URL})
	router := SetupRouter(mock)

	w := post(t, router, "/api/v1/messages/send", SendRequest{To: "+1", Message: "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ACCEPTED", resp.Status)
	assert.NotEmpty(t, resp.DeliveryID)

	select {
	case cb := <-callbacks:
		assert.Equal(t, resp.DeliveryID, cb.DeliveryID)
		assert.Equal(t, "DELIVERED", cb.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery callback")
	}
	mock.Wait()
}

func TestMock_SendRejected(t *testing.T) {
	router := SetupRouter(NewMock(Settings{SendSuccessRate: 0}))

	w := post(t, router, "/api/v1/messages/send", SendRequest{To: "+1", Message: "hi"})
	var resp SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "REJECTED", resp.Status)
	assert.Empty(t, resp.DeliveryID)

	w = post(t, router, "/api/v1/messages/send", map[string]string{"to": "+1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
