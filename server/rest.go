package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/uaroundserver/chatcore/internal/auth"
	"github.com/uaroundserver/chatcore/internal/chaterr"
	"github.com/uaroundserver/chatcore/internal/models"
)

// maxUploadBytes caps one attachment upload request.
const maxUploadBytes = 25 << 20

// Routes builds the synchronous retrieval surface consumed by
// non-connected callers: room list, paginated history, single message
// lookups, search, attachment upload, plus the metrics endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(s.rateLimit)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.HandleWebSocket)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(s.cfg.UploadDir))))

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Get("/api/chat/chats", s.handleListRooms)
		r.Get("/api/chat/messages", s.handleListMessages)
		r.Get("/api/chat/message/{id}", s.handleGetMessage)
		r.Get("/api/chat/search", s.handleSearch)
		r.Post("/api/chat/attachments", s.handleUpload)
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

// rateLimit applies a per-IP token bucket to the REST surface.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiterFor(host).Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.cfg.RateRPS), s.cfg.RateBurst)
	s.limiters[key] = l
	return l
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeChatError(w http.ResponseWriter, err error) {
	status := chaterr.StatusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeError(w, status, chaterr.UserMessage(err))
}

// handleListRooms returns every room with its last message snapshot
// and a live unread count for the caller.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())

	// The flat registry always contains the default room.
	if _, err := s.store.GetOrCreateRoom(s.cfg.RoomKey, s.cfg.RoomTitle); err != nil {
		writeChatError(w, err)
		return
	}

	summaries, err := s.store.ListRoomSummaries(identity.UserID)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, summaries)
}

// handleListMessages pages a room's history. The before parameter is
// either the id of the oldest message already loaded or an RFC 3339
// timestamp; strictly older messages come back, chronologically
// ascending.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("chatId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "chatId required")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 30, 100)
	before := r.URL.Query().Get("before")

	var messages []models.Message
	var err error
	switch {
	case before == "":
		messages, err = s.store.ListMessages(roomID, limit, "")
	case isTimestamp(before):
		var t time.Time
		t, err = time.Parse(time.RFC3339, before)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		messages, err = s.store.ListMessagesBefore(roomID, limit, t)
	default:
		messages, err = s.store.ListMessages(roomID, limit, before)
	}
	if err != nil {
		writeChatError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, messages)
}

// handleGetMessage returns a single message by id regardless of its
// deletion state, for reply-jump navigation and owner lookups.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	msg, err := s.store.GetMessage(id)
	if err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("chatId")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "chatId required")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 200)

	messages, err := s.store.SearchMessages(roomID,
		r.URL.Query().Get("q"), r.URL.Query().Get("userId"), limit)
	if err != nil {
		writeChatError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, messages)
}

// handleUpload stores uploaded files on disk and returns opaque
// descriptors. File contents are never interpreted; the chat core
// only carries the descriptors as message metadata.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	var files []models.Attachment
	for _, header := range r.MultipartForm.File["files"] {
		desc, err := s.saveUpload(header)
		if err != nil {
			slog.Error("upload failed", "name", header.Filename, "err", err)
			writeError(w, http.StatusInternalServerError, "upload failed")
			return
		}
		files = append(files, *desc)
	}
	if files == nil {
		files = []models.Attachment{}
	}
	writeJSON(w, map[string]interface{}{"files": files})
}

func (s *Server) saveUpload(header *multipart.FileHeader) (*models.Attachment, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	dst, err := os.Create(filepath.Join(s.cfg.UploadDir, id))
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		return nil, err
	}
	return &models.Attachment{
		URL:          "/uploads/" + id,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         size,
		OriginalName: header.Filename,
	}, nil
}

func parseLimit(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

// isTimestamp reports whether a before cursor looks like an RFC 3339
// timestamp rather than a message id.
func isTimestamp(v string) bool {
	_, err := time.Parse(time.RFC3339, v)
	return err == nil
}
