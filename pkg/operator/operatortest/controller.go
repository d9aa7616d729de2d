// Package operatortest provides an in-memory controller that serves the
// operator API for tests.
package operatortest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"jailer/pkg/operator"
)

// SubmittedTask records one add_task call received by the Controller.
type SubmittedTask struct {
	ImplantID uint32
	Body      []byte
	RequestID string
}

type cannedResponse struct {
	status int
	body   string
}

// Controller is a fake operator API backed by fixtures.
type Controller struct {
	mu        sync.Mutex
	inmates   []operator.Inmate
	recent    map[uint32]operator.PostRequest
	overrides map[string]cannedResponse
	tasks     []SubmittedTask

	// TaskReply decides the status and body returned for add_task. The
	// default accepts tasks for known inmates and rejects the rest.
	TaskReply func(id uint32, known bool) (int, string)
}

// New returns an empty Controller.
func New() *Controller {
	return &Controller{
		recent:    map[uint32]operator.PostRequest{},
		overrides: map[string]cannedResponse{},
	}
}

// AddInmate registers an inmate; listing preserves registration order.
func (c *Controller) AddInmate(inmate operator.Inmate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inmates = append(c.inmates, inmate)
}

// SetRecent stores the task result returned by the recent endpoint.
func (c *Controller) SetRecent(id uint32, result operator.PostRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent[id] = result
}

// Override makes path answer GET and POST requests with a fixed status and body.
func (c *Controller) Override(path string, status int, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[path] = cannedResponse{status: status, body: body}
}

// Tasks returns the add_task calls received so far.
func (c *Controller) Tasks() []SubmittedTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SubmittedTask, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Start serves the Controller on a test server closed at test cleanup.
func (c *Controller) Start(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(c.Routes())
	t.Cleanup(srv.Close)
	return srv
}

// Routes constructs the chi router serving the operator endpoints.
func (c *Controller) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(c.overrideMiddleware)

	r.Route("/operator", func(r chi.Router) {
		r.Get("/", c.handleList)
		r.Get("/{id}", c.handleGet)
		r.Get("/{id}/recent", c.handleRecent)
		r.Post("/{id}/add_task", c.handleAddTask)
	})
	return r
}

func (c *Controller) overrideMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		canned, ok := c.overrides[r.URL.Path]
		c.mu.Unlock()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if r.Body != nil {
			_, _ = io.Copy(io.Discard, r.Body)
		}
		w.WriteHeader(canned.status)
		_, _ = io.WriteString(w, canned.body)
	})
}

func (c *Controller) handleList(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	inmates := make([]operator.Inmate, len(c.inmates))
	copy(inmates, c.inmates)
	c.mu.Unlock()
	respondJSON(w, http.StatusOK, inmates)
}

func (c *Controller) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	inmate, ok := c.lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("inmate not found"))
		return
	}
	respondJSON(w, http.StatusOK, inmate)
}

func (c *Controller) handleRecent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	c.mu.Lock()
	result, ok := c.recent[id]
	c.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("no task result"))
		return
	}
	respondJSON(w, http.StatusOK, toWire(result))
}

func (c *Controller) handleAddTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	c.mu.Lock()
	c.tasks = append(c.tasks, SubmittedTask{
		ImplantID: id,
		Body:      body,
		RequestID: r.Header.Get("X-Request-ID"),
	})
	reply := c.TaskReply
	c.mu.Unlock()

	_, known := c.lookup(id)
	if reply == nil {
		reply = defaultTaskReply
	}
	status, text := reply(id, known)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}

func defaultTaskReply(id uint32, known bool) (int, string) {
	if !known {
		return http.StatusNotFound, "Inmate " + strconv.FormatUint(uint64(id), 10) + " not found"
	}
	return http.StatusOK, "Task added"
}

func (c *Controller) lookup(id uint32) (operator.Inmate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inmate := range c.inmates {
		if inmate.ID == id {
			return inmate, true
		}
	}
	return operator.Inmate{}, false
}

func parseID(r *http.Request) (uint32, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// wirePostRequest mirrors the controller's serialization, which encodes
// content as an array of byte values.
type wirePostRequest struct {
	Timestamp        int64  `json:"timestamp"`
	ActionType       string `json:"action_type"`
	ActionParameters string `json:"action_parameters"`
	Content          []int  `json:"content"`
}

func toWire(p operator.PostRequest) wirePostRequest {
	content := make([]int, len(p.Content))
	for i, b := range p.Content {
		content[i] = int(b)
	}
	return wirePostRequest{
		Timestamp:        p.Timestamp,
		ActionType:       string(p.ActionType),
		ActionParameters: p.ActionParameters,
		Content:          content,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
