package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uaroundserver/chatcore/internal/auth"
	"github.com/uaroundserver/chatcore/internal/config"
	"github.com/uaroundserver/chatcore/internal/models"
	"github.com/uaroundserver/chatcore/internal/store"
)

func newRESTEnv(t *testing.T) (*Server, *store.Store, *models.Room) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	room, err := st.GetOrCreateRoom("global", "General chat")
	require.NoError(t, err)

	hub := NewHub()
	go hub.Run()

	cfg := &config.Config{
		RoomKey:   "global",
		RoomTitle: "General chat",
		UploadDir: t.TempDir(),
		RateRPS:   1000,
		RateBurst: 1000,
	}
	return NewServer(hub, st, auth.NewVerifier("secret"), cfg), st, room
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": userID})
	raw, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return "Bearer " + raw
}

func doGET(t *testing.T, h http.Handler, path, authz string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		r.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeMessages(t *testing.T, w *httptest.ResponseRecorder) []models.Message {
	t.Helper()
	var out []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAPIRequiresAuth(t *testing.T) {
	s, _, _ := newRESTEnv(t)
	h := s.Routes()

	for _, path := range []string{
		"/api/chat/chats",
		"/api/chat/messages?chatId=x",
		"/api/chat/message/x",
		"/api/chat/search?chatId=x",
	} {
		w := doGET(t, h, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestListRooms(t *testing.T) {
	s, st, room := newRESTEnv(t)
	h := s.Routes()

	require.NoError(t, st.UpsertUser("alice", "alice", ""))
	require.NoError(t, st.UpsertUser("bob", "bob", ""))
	alice, err := st.GetUser("alice")
	require.NoError(t, err)
	_, err = st.AppendMessage(room.ID, alice, "hi bob", nil, "", nil)
	require.NoError(t, err)

	w := doGET(t, h, "/api/chat/chats", bearerToken(t, "bob"))
	require.Equal(t, http.StatusOK, w.Code)

	var rooms []models.RoomSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)
	assert.Equal(t, 1, rooms[0].Unread)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "hi bob", rooms[0].LastMessage.Text)
}

func TestListMessagesPagination(t *testing.T) {
	s, st, room := newRESTEnv(t)
	h := s.Routes()

	require.NoError(t, st.UpsertUser("alice", "alice", ""))
	alice, err := st.GetUser("alice")
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 6; i++ {
		m, err := st.AppendMessage(room.ID, alice, "m", nil, "", nil)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	w := doGET(t, h, "/api/chat/messages?chatId="+room.ID+"&limit=4", bearerToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	page := decodeMessages(t, w)
	require.Len(t, page, 4)
	// Chronologically ascending, newest four.
	assert.Equal(t, ids[2:], []string{page[0].ID, page[1].ID, page[2].ID, page[3].ID})

	// Cursor by message id returns strictly older messages.
	w = doGET(t, h, "/api/chat/messages?chatId="+room.ID+"&limit=4&before="+page[0].ID, bearerToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	older := decodeMessages(t, w)
	require.Len(t, older, 2)
	assert.Equal(t, ids[:2], []string{older[0].ID, older[1].ID})

	// Cursor by RFC 3339 timestamp.
	cursor := page[0].CreatedAt.UTC().Format(time.RFC3339Nano)
	w = doGET(t, h, "/api/chat/messages?chatId="+room.ID+"&before="+cursor, bearerToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	byTime := decodeMessages(t, w)
	require.Len(t, byTime, 2)
	assert.Equal(t, ids[:2], []string{byTime[0].ID, byTime[1].ID})

	// Missing chatId is a validation error.
	w = doGET(t, h, "/api/chat/messages", bearerToken(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessage(t *testing.T) {
	s, st, room := newRESTEnv(t)
	h := s.Routes()

	require.NoError(t, st.UpsertUser("alice", "alice", ""))
	alice, err := st.GetUser("alice")
	require.NoError(t, err)
	msg, err := st.AppendMessage(room.ID, alice, "hello", nil, "", nil)
	require.NoError(t, err)

	w := doGET(t, h, "/api/chat/message/"+msg.ID, bearerToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, msg.ID, got.ID)

	w = doGET(t, h, "/api/chat/message/nope", bearerToken(t, "alice"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchEndpoint(t *testing.T) {
	s, st, room := newRESTEnv(t)
	h := s.Routes()

	require.NoError(t, st.UpsertUser("alice", "alice", ""))
	require.NoError(t, st.UpsertUser("bob", "bob", ""))
	alice, err := st.GetUser("alice")
	require.NoError(t, err)
	bob, err := st.GetUser("bob")
	require.NoError(t, err)
	_, err = st.AppendMessage(room.ID, alice, "release notes", nil, "", nil)
	require.NoError(t, err)
	_, err = st.AppendMessage(room.ID, bob, "released yesterday", nil, "", nil)
	require.NoError(t, err)

	w := doGET(t, h, "/api/chat/search?chatId="+room.ID+"&q=release", bearerToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeMessages(t, w), 2)

	w = doGET(t, h, "/api/chat/search?chatId="+room.ID+"&q=release&userId=bob", bearerToken(t, "alice"))
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeMessages(t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].SenderID)
}

func TestUploadAndServeAttachment(t *testing.T) {
	s, _, _ := newRESTEnv(t)
	h := s.Routes()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("attachment payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/chat/attachments", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("Authorization", bearerToken(t, "alice"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files []models.Attachment `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "notes.txt", resp.Files[0].OriginalName)
	assert.EqualValues(t, len("attachment payload"), resp.Files[0].Size)

	// The returned URL must be servable straight back.
	got := doGET(t, h, resp.Files[0].URL, "")
	require.Equal(t, http.StatusOK, got.Code)
	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "attachment payload", string(data))
}

func TestRateLimit(t *testing.T) {
	s, _, _ := newRESTEnv(t)
	s.cfg.RateRPS = 0
	s.cfg.RateBurst = 0
	h := s.Routes()

	w := doGET(t, h, "/api/chat/chats", bearerToken(t, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
