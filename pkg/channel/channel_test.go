package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Send(ctx context.Context, msg Message) (string, error) {
	return "id", nil
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(&stubAdapter{name: "whatsapp"}, &stubAdapter{name: "email"})

	a, err := r.Get("whatsapp")
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", a.Name())

	_, err = r.Get("sms")
	assert.Error(t, err)

	assert.ElementsMatch(t, []string{"whatsapp", "email"}, r.Names())
}

func TestWhatsAppAdapter_Send(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("apikey")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"key": map[string]string{"id": "wamid.123"},
		})
	}))
	defer srv.Close()

	a := NewWhatsAppAdapter(WhatsAppConfig{BaseURL: srv.URL, Instance: "main", APIKey: "k"})

	id, err := a.Send(context.Background(), Message{Recipient: "5511999998888", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.123", id)
	assert.Equal(t, "/message/sendText/main", gotPath)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "5511999998888", gotBody["number"])
}

func TestWhatsAppAdapter_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewWhatsAppAdapter(WhatsAppConfig{BaseURL: srv.URL, Instance: "main"})

	_, err := a.Send(context.Background(), Message{Recipient: "x", Text: "hi"})
	assert.ErrorContains(t, err, "503")
}

func TestInstagramAdapter_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message_id": "mid.77"})
	}))
	defer srv.Close()

	a := NewInstagramAdapter(InstagramConfig{BaseURL: srv.URL, AccessToken: "tok"})

	id, err := a.Send(context.Background(), Message{Recipient: "ig-user", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "mid.77", id)
}
