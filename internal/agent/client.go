// Package agent talks to the Drunk BOB agent backend and provides a direct
// LLM responder that answers in the same recommendation format.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"drunk-bob/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL = "http://bob:8080"
	DefaultTimeout = 60 * time.Second
	DefaultUser    = "user"
)

// defaultErrorMessage is used when a failed response has no body.
const defaultErrorMessage = "An error occurred."

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("agent API error %d: %s", e.StatusCode, e.Message)
}

// Client calls the agent backend HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a backend client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AgentInfo is one entry of GET /agents.
type AgentInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Clients []string `json:"clients,omitempty"`
}

// AgentDetail is the response of GET /agents/{id}.
type AgentDetail struct {
	ID        string          `json:"id"`
	Character json.RawMessage `json:"character"`
}

// Reply is one message the agent sent back.
type Reply struct {
	User   string `json:"user"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
}

// Room is a conversation between a wallet and an agent.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Memory is one stored message of a room.
type Memory struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	AgentID   string        `json:"agentId"`
	RoomID    string        `json:"roomId"`
	CreatedAt int64         `json:"createdAt"`
	Content   MemoryContent `json:"content"`
}

// MemoryContent is the payload of a Memory.
type MemoryContent struct {
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
	Source string `json:"source,omitempty"`
}

// MessageRequest is a user message to an agent.
type MessageRequest struct {
	Text   string
	User   string // defaults to DefaultUser
	Wallet string
	UserID string
	RoomID string

	// File is attached when non-nil.
	File     io.Reader
	FileName string

	// Collection lists bottles the user owns. The backend looks the
	// collection up by wallet itself, so only local responders use it.
	Collection []string
}

// SendMessage posts a message to agentID and returns its replies.
func (c *Client) SendMessage(ctx context.Context, agentID string, req MessageRequest) ([]Reply, error) {
	if strings.TrimSpace(req.Text) == "" && req.File == nil {
		return nil, errors.New("message text is required")
	}
	user := req.User
	if user == "" {
		user = DefaultUser
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := []struct{ name, value string }{
		{"text", req.Text},
		{"user", user},
		{"wallet", req.Wallet},
		{"userId", req.UserID},
		{"roomId", req.RoomID},
	}
	for _, f := range fields {
		if f.value == "" && f.name != "text" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f.name, err)
		}
	}
	if req.File != nil {
		name := req.FileName
		if name == "" {
			name = "upload"
		}
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(fw, req.File); err != nil {
			return nil, fmt.Errorf("copy file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var replies []Reply
	err := c.do(ctx, "message", http.MethodPost, "/"+url.PathEscape(agentID)+"/message",
		&body, mw.FormDataContentType(), &replies)
	if err != nil {
		return nil, err
	}
	return replies, nil
}

// Responder produces an agent reply for a user message.
type Responder interface {
	Respond(ctx context.Context, req MessageRequest) (string, error)
}

// BackendAgent is a Responder backed by one agent of the backend.
type BackendAgent struct {
	client  *Client
	agentID string
}

var (
	_ Responder = (*BackendAgent)(nil)
	_ Responder = (*OpenAIAgent)(nil)
)

// Agent returns a Responder for agentID.
func (c *Client) Agent(agentID string) *BackendAgent {
	return &BackendAgent{client: c, agentID: agentID}
}

// Respond sends req and joins the reply texts.
func (a *BackendAgent) Respond(ctx context.Context, req MessageRequest) (string, error) {
	replies, err := a.client.SendMessage(ctx, a.agentID, req)
	if err != nil {
		return "", err
	}
	texts := make([]string, 0, len(replies))
	for _, r := range replies {
		if r.Text != "" {
			texts = append(texts, r.Text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

// GetAgents lists the agents the backend runs.
func (c *Client) GetAgents(ctx context.Context) ([]AgentInfo, error) {
	var resp struct {
		Agents []AgentInfo `json:"agents"`
	}
	if err := c.getJSON(ctx, "agents", "/agents", &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GetAgent returns one agent and its character definition.
func (c *Client) GetAgent(ctx context.Context, agentID string) (*AgentDetail, error) {
	var resp AgentDetail
	if err := c.getJSON(ctx, "agent", "/agents/"+url.PathEscape(agentID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRooms lists the rooms wallet has with agentID.
func (c *Client) GetRooms(ctx context.Context, agentID, wallet string) ([]Room, error) {
	var rooms []Room
	path := "/rooms/" + url.PathEscape(agentID) + "/" + url.PathEscape(wallet)
	if err := c.getJSON(ctx, "rooms", path, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateRoom opens a new room with agentID.
func (c *Client) CreateRoom(ctx context.Context, agentID string) (*Room, error) {
	var resp struct {
		ID     string `json:"id"`
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
	}
	err := c.do(ctx, "room_create", http.MethodPost, "/room/create/"+url.PathEscape(agentID), nil, "", &resp)
	if err != nil {
		return nil, err
	}
	room := &Room{ID: resp.ID, Name: resp.Name}
	if room.ID == "" {
		room.ID = resp.RoomID
	}
	if room.ID == "" {
		return nil, errors.New("create room: response has no room id")
	}
	return room, nil
}

// GetRoomMemories returns the stored messages of a room.
func (c *Client) GetRoomMemories(ctx context.Context, agentID, roomID string) ([]Memory, error) {
	var resp struct {
		Memories []Memory `json:"memories"`
	}
	path := "/agents/" + url.PathEscape(agentID) + "/" + url.PathEscape(roomID) + "/memories"
	if err := c.getJSON(ctx, "memories", path, &resp); err != nil {
		return nil, err
	}
	return resp.Memories, nil
}

// TTS renders text to speech and returns the audio/mpeg bytes.
func (c *Client) TTS(ctx context.Context, agentID, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	var audio []byte
	err = c.do(ctx, "tts", http.MethodPost, "/"+url.PathEscape(agentID)+"/tts",
		bytes.NewReader(payload), "application/json", &audio)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// Whisper transcribes a recording.
func (c *Client) Whisper(ctx context.Context, agentID string, audio io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "recording.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	err = c.do(ctx, "whisper", http.MethodPost, "/"+url.PathEscape(agentID)+"/whisper",
		&body, mw.FormDataContentType(), &resp)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, result interface{}) error {
	return c.do(ctx, endpoint, http.MethodGet, path, nil, "", result)
}

// do performs one request. A *[]byte result receives the raw body,
// anything else is decoded as JSON.
func (c *Client) do(ctx context.Context, endpoint, method, path string, body io.Reader, contentType string, result interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordAgentLatency(endpoint, time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if _, raw := result.(*[]byte); raw {
		req.Header.Set("Accept", "audio/mpeg")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if raw, ok := result.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// errorMessage prefers a JSON "message" field, then the raw body.
func errorMessage(body []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return defaultErrorMessage
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return defaultErrorMessage
}
