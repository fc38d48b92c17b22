package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bob-1/message", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "what should I buy?", r.FormValue("text"))
		assert.Equal(t, DefaultUser, r.FormValue("user"))
		assert.Equal(t, "Wallet111", r.FormValue("wallet"))
		assert.Equal(t, "room-7", r.FormValue("roomId"))
		_, hasUserID := r.MultipartForm.Value["userId"]
		assert.False(t, hasUserID)

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "label.png", hdr.Filename)
		assert.Equal(t, "png-bytes", string(data))

		_ = json.NewEncoder(w).Encode([]Reply{
			{User: "BOB", Text: "first"},
			{User: "BOB", Text: ""},
			{User: "BOB", Text: "second", Action: "NONE"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	replies, err := c.SendMessage(context.Background(), "bob-1", MessageRequest{
		Text:     "what should I buy?",
		Wallet:   "Wallet111",
		RoomID:   "room-7",
		File:     strings.NewReader("png-bytes"),
		FileName: "label.png",
	})
	require.NoError(t, err)
	require.Len(t, replies, 3)
	assert.Equal(t, "NONE", replies[2].Action)
}

func TestBackendAgent_RespondJoinsReplies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Reply{{Text: "first"}, {Text: ""}, {Text: "second"}})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).Agent("bob").Respond(context.Background(), MessageRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", got)
}

func TestClient_SendMessageRequiresText(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.SendMessage(context.Background(), "bob", MessageRequest{Text: "   "})
	assert.Error(t, err)
}

func TestClient_APIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json message", http.StatusBadRequest, `{"message":"bad wallet"}`, "bad wallet"},
		{"json without message", http.StatusInternalServerError, `{"error":true}`, defaultErrorMessage},
		{"plain text", http.StatusBadGateway, "upstream down\n", "upstream down"},
		{"empty body", http.StatusServiceUnavailable, "", defaultErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).GetAgents(context.Background())
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestClient_Endpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agents":[{"id":"a1","name":"BOB","clients":["direct"]}]}`))
	})
	mux.HandleFunc("/agents/a1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"a1","character":{"name":"BOB"}}`))
	})
	mux.HandleFunc("/rooms/a1/Wallet111", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"r1","name":"first"},{"id":"r2"}]`))
	})
	mux.HandleFunc("/agents/a1/r1/memories", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"memories":[{"id":"m1","userId":"u","agentId":"a1","roomId":"r1","createdAt":1700,"content":{"text":"hello","source":"direct"}}]}`))
	})
	mux.HandleFunc("/a1/tts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cheers", body["text"])
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xff, 0xfb, 0x90})
	})
	mux.HandleFunc("/a1/whisper", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "recording.wav", hdr.Filename)
		_, _ = w.Write([]byte(`{"text":"a peaty scotch please"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	agents, err := c.GetAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "BOB", agents[0].Name)

	detail, err := c.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"BOB"}`, string(detail.Character))

	rooms, err := c.GetRooms(ctx, "a1", "Wallet111")
	require.NoError(t, err)
	assert.Equal(t, []Room{{ID: "r1", Name: "first"}, {ID: "r2"}}, rooms)

	memories, err := c.GetRoomMemories(ctx, "a1", "r1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "hello", memories[0].Content.Text)
	assert.Equal(t, int64(1700), memories[0].CreatedAt)

	audio, err := c.TTS(ctx, "a1", "cheers")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb, 0x90}, audio)

	text, err := c.Whisper(ctx, "a1", strings.NewReader("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "a peaty scotch please", text)
}

func TestClient_CreateRoom(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  string
		wantErr bool
	}{
		{"id field", `{"id":"r1","name":"bar talk"}`, "r1", false},
		{"roomId field", `{"roomId":"r2"}`, "r2", false},
		{"missing id", `{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/room/create/a1", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			room, err := NewClient(srv.URL).CreateRoom(context.Background(), "a1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, room.ID)
		})
	}
}

func TestClient_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetAgents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode agents response")
}
