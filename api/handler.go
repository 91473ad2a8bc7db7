package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"ytdlapi/config"
	"ytdlapi/fetch"
	"ytdlapi/quality"
	"ytdlapi/task"
)

const playlistNotSupported = "Playlist download is not supported. Please provide a single video URL."

var requiredFields = []string{"video_link", "format", "quality", "folder"}

var youtubeHosts = []string{"youtube.com", "youtu.be"}

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	mediaSource string
}

func NewHandler(tm *task.Manager, cfg *config.Config, mediaSource string) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
		mediaSource: mediaSource,
	}
}

// validationError is the 400 body for a rejected request.
type validationError struct {
	Error         string       `json:"error"`
	MissingFields []string     `json:"missing_fields,omitempty"`
	VideoErrors   []videoError `json:"video_errors,omitempty"`
}

type videoError struct {
	Index         int      `json:"index"`
	Error         string   `json:"error"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// handleCreateDownload validates the request and queues it as one task.
func (h *Handler) handleCreateDownload(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, validationError{Error: "Request body must be valid JSON."})
		return
	}

	payload, verr := parsePayload(body)
	if verr != nil {
		c.JSON(http.StatusBadRequest, verr)
		return
	}

	t, err := h.taskManager.Submit(payload)
	if err != nil {
		if errors.Is(err, task.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "The download queue is full. Try again later."})
			return
		}
		log.Printf("Failed to create task: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	resp := gin.H{"task_id": t.ID, "status": t.Status}
	if payload.IsBatch() {
		resp["video_count"] = len(payload.Videos)
	}
	c.JSON(http.StatusAccepted, resp)
}

// handleGetDownload reports the state of one task.
func (h *Handler) handleGetDownload(c *gin.Context) {
	taskID := c.Param("task_id")
	t, err := h.taskManager.Get(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found."})
		return
	}

	resp := gin.H{"task_id": t.ID, "status": t.Status}
	switch t.Status {
	case task.StatusCompleted:
		if outcome := t.Outcome(); outcome != nil {
			resp["result"] = outcome
		} else {
			resp["result"] = gin.H{}
		}
	case task.StatusFailed:
		msg := t.Error
		if msg == "" {
			msg = "Unknown error"
		}
		resp["error"] = msg
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                        "ok",
		"bind":                          h.cfg.Host,
		"port":                          h.cfg.Port,
		"mode":                          h.cfg.AuthMode,
		"task_counts":                   h.taskManager.Counts(),
		"task_retention_minutes":        h.cfg.TaskRetentionMinutes,
		"task_cleanup_interval_seconds": h.cfg.TaskCleanupIntervalSeconds,
		"media_source":                  h.mediaSource,
		"max_concurrency":               h.cfg.MaxConcurrency,
	})
}

// parsePayload accepts either a single video object or {"videos": [...]}.
func parsePayload(body map[string]interface{}) (task.Payload, *validationError) {
	rawVideos, isBatch := body["videos"]
	if !isBatch || rawVideos == nil {
		req, verr := parseVideo(body)
		if verr != nil {
			return task.Payload{}, &validationError{Error: verr.Error, MissingFields: verr.MissingFields}
		}
		return task.Payload{Video: req}, nil
	}

	items, ok := rawVideos.([]interface{})
	if !ok || len(items) == 0 {
		return task.Payload{}, &validationError{Error: "videos must be a non-empty array."}
	}

	var errs []videoError
	videos := make([]fetch.Request, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			errs = append(errs, videoError{Index: i, Error: "Each video item must be a JSON object."})
			continue
		}
		req, verr := parseVideo(obj)
		if verr != nil {
			verr.Index = i
			errs = append(errs, *verr)
			continue
		}
		videos = append(videos, req)
	}
	if len(errs) > 0 {
		return task.Payload{}, &validationError{Error: "Invalid videos payload.", VideoErrors: errs}
	}
	return task.Payload{Videos: videos}, nil
}

func parseVideo(obj map[string]interface{}) (fetch.Request, *videoError) {
	var missing []string
	for _, field := range requiredFields {
		if fieldString(obj, field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fetch.Request{}, &videoError{Error: "Missing required fields.", MissingFields: missing}
	}

	format := strings.ToLower(fieldString(obj, "format"))
	if format != quality.FormatMP4 && format != quality.FormatMP3 {
		return fetch.Request{}, &videoError{Error: "format must be either 'mp4' or 'mp3'"}
	}

	link := fieldString(obj, "video_link")
	if !isYouTubeURL(link) {
		return fetch.Request{}, &videoError{Error: "video_link must be a valid YouTube URL (youtube.com or youtu.be)."}
	}
	if isPlaylistURL(link) {
		return fetch.Request{}, &videoError{Error: playlistNotSupported}
	}

	name := fieldString(obj, "name")
	if name == "" {
		name = fieldString(obj, "file_name")
	}
	return fetch.Request{
		VideoLink: link,
		Format:    format,
		Quality:   fieldString(obj, "quality"),
		Folder:    fieldString(obj, "folder"),
		Name:      name,
	}, nil
}

// fieldString renders a JSON value as trimmed text. Missing and null
// values are empty.
func fieldString(obj map[string]interface{}, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// isYouTubeURL accepts youtube.com, youtu.be and their subdomains, as long
// as the URL names something beyond the bare host.
func isYouTubeURL(link string) bool {
	u, err := url.Parse(strings.ToLower(strings.TrimSpace(link)))
	if err != nil {
		return false
	}
	host := u.Hostname()
	matched := false
	for _, h := range youtubeHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	return strings.Trim(u.Path, "/") != "" || u.RawQuery != ""
}

func isPlaylistURL(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return false
	}
	if u.Query().Has("list") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(u.Path), "/playlist")
}
