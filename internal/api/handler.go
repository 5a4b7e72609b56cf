// Package api implements the REST interface over the user store.
//
// The same handler runs in every process. Only the storage.Users accessor
// differs: worker processes reach the coordinator's store over the store
// access protocol, a standalone process uses its own store directly.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dreamware/usercluster/internal/idgenerator"
	"github.com/dreamware/usercluster/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxBodyBytes limits the size of POST and PUT bodies.
const MaxBodyBytes = 1 << 20

const (
	msgInvalidUserID     = "Invalid userId format. Expected UUID."
	msgInvalidJSON       = "Invalid JSON in request body"
	msgInvalidCreateBody = "Request body does not contain required fields or has invalid format"
	msgInvalidUpdateBody = "Request body has invalid format"
	msgBodyTooLarge      = "Request body too large"
	msgEndpointNotFound  = "Endpoint not found"
	msgInternalError     = "Internal server error"
)

type handler struct {
	users    storage.Users
	logger   *zap.SugaredLogger
	validate *validator.Validate
}

// NewHandler returns the HTTP handler of the user API backed by users.
func NewHandler(users storage.Users, logger *zap.SugaredLogger) http.Handler {
	h := &handler{
		users:    users,
		logger:   logger.Named("api"),
		validate: newValidator(),
	}

	r := mux.NewRouter()
	r.SkipClean(true)
	r.Use(h.logRequests)
	r.HandleFunc("/api/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users", h.createUser).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{userId}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{userId}", h.updateUser).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{userId}", h.deleteUser).Methods(http.MethodDelete)
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.notFound)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		req.URL.Path = normalizePath(req.URL.Path)
		req.URL.RawPath = ""
		r.ServeHTTP(w, req)
	})
}

// normalizePath drops empty segments, so "/api/users/" and "//api/users"
// both route like "/api/users".
func normalizePath(p string) string {
	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	return "/" + strings.Join(segments, "/")
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.logger.Debugf("%s %s", req.Method, req.URL.RequestURI())
		next.ServeHTTP(w, req)
	})
}

func (h *handler) listUsers(w http.ResponseWriter, req *http.Request) {
	users, err := h.users.List(req.Context())
	if err != nil {
		h.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handler) getUser(w http.ResponseWriter, req *http.Request) {
	id, ok := userID(w, req)
	if !ok {
		return
	}

	user, err := h.users.Get(req.Context(), id)
	if err != nil {
		h.storeError(w, req, id, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) createUser(w http.ResponseWriter, req *http.Request) {
	body, ok := h.readBody(w, req)
	if !ok {
		return
	}

	user, err := parseCreateUser(h.validate, body)
	if err != nil {
		h.logger.Debugf("invalid create body: %s", err)
		writeError(w, http.StatusBadRequest, msgInvalidCreateBody)
		return
	}
	user.ID = idgenerator.UserID()

	created, err := h.users.Create(req.Context(), user)
	if err != nil {
		h.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) updateUser(w http.ResponseWriter, req *http.Request) {
	body, ok := h.readBody(w, req)
	if !ok {
		return
	}
	id, ok := userID(w, req)
	if !ok {
		return
	}

	patch, err := parseUpdateUser(h.validate, body)
	if err != nil {
		h.logger.Debugf("invalid update body: %s", err)
		writeError(w, http.StatusBadRequest, msgInvalidUpdateBody)
		return
	}

	user, err := h.users.Update(req.Context(), id, patch)
	if err != nil {
		h.storeError(w, req, id, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) deleteUser(w http.ResponseWriter, req *http.Request) {
	id, ok := userID(w, req)
	if !ok {
		return
	}

	if err := h.users.Delete(req.Context(), id); err != nil {
		h.storeError(w, req, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, msgEndpointNotFound)
}

// userID extracts the path id and rejects anything but a UUID.
func userID(w http.ResponseWriter, req *http.Request) (string, bool) {
	id := mux.Vars(req)["userId"]
	if !idgenerator.IsValidUUID(id) {
		writeError(w, http.StatusBadRequest, msgInvalidUserID)
		return "", false
	}
	return id, true
}

// readBody returns the request body as JSON. An empty body reads as {}.
func (h *handler) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return nil, false
		}
		h.internalError(w, req, fmt.Errorf("cannot read body: %w", err))
		return nil, false
	}

	if len(body) == 0 {
		return []byte("{}"), true
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return nil, false
	}
	return body, true
}

func (h *handler) storeError(w http.ResponseWriter, req *http.Request, id string, err error) {
	if errors.Is(err, storage.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("User with id %s not found", id))
		return
	}
	h.internalError(w, req, err)
}

func (h *handler) internalError(w http.ResponseWriter, req *http.Request, err error) {
	h.logger.Errorf("%s %s failed: %s", req.Method, req.URL.RequestURI(), err)
	writeError(w, http.StatusInternalServerError, msgInternalError)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"` + msgInternalError + `"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
