package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramTransportSend(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottest-token/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	}))
	defer srv.Close()

	tr, err := NewTelegramTransport("test-token")
	require.NoError(t, err)
	tr.baseURL = srv.URL

	require.NoError(t, tr.Send(context.Background(), 101, "hello"))
	assert.Equal(t, int64(101), got.ChatID)
	assert.Equal(t, "hello", got.Text)
}

func TestTelegramTransportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(sendMessageResponse{
			OK: false, ErrorCode: 403, Description: "bot was blocked by the user",
		})
	}))
	defer srv.Close()

	tr, err := NewTelegramTransport("test-token")
	require.NoError(t, err)
	tr.baseURL = srv.URL

	err = tr.Send(context.Background(), 101, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestNewTelegramTransportRequiresToken(t *testing.T) {
	_, err := NewTelegramTransport("")
	assert.Error(t, err)
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Amsterdam", titleCase("amsterdam"))
	assert.Equal(t, "Den-Haag", titleCase("den-haag"))
	assert.Equal(t, "Den Haag", titleCase("den haag"))
	assert.Equal(t, "", titleCase(""))
}
