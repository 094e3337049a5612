package backend

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/gt3pedia/backend/core/access"
	"github.com/gt3pedia/backend/core/csql"
	"github.com/gt3pedia/backend/core/logger"
)

// Backend is the generic rest backend for the catalog
type Backend struct {
	config           Configuration
	db               *csql.DB
	router           *mux.Router
	tokens           *access.TokenService
	collectionHelper map[string]*collectionHelper
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all catalog resources. This is mandatory.
	Config string
	// DB is the sqlite database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Tokens issues and verifies bearer tokens. This is mandatory.
	Tokens *access.TokenService
}

// routes the backend claims for itself; no collection may shadow them
var reservedResources = map[string]bool{
	"auth":   true,
	"users":  true,
	"search": true,
	"health": true,
}

// New realizes the actual backend. It creates the sql tables (if they
// do not exist) and adds the actual routes to the router.
func New(bb *Builder) *Backend {

	if err := validateConfiguration(bb.Config); err != nil {
		panic(fmt.Errorf("backend configuration: %w", err))
	}

	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}

	if bb.DB == nil {
		panic("DB is missing")
	}

	if bb.Router == nil {
		panic("Router is missing")
	}

	if bb.Tokens == nil {
		panic("Tokens is missing")
	}

	b := &Backend{
		config:           config,
		db:               bb.DB,
		router:           bb.Router,
		tokens:           bb.Tokens,
		collectionHelper: make(map[string]*collectionHelper),
	}

	b.createUserResource()
	b.handleAuthRoutes()

	for _, rc := range b.config.Collections {
		if reservedResources[rc.Resource] {
			panic(fmt.Errorf("resource name %s is reserved", rc.Resource))
		}
		if err := rc.validate(); err != nil {
			panic(fmt.Errorf("backend configuration: %w", err))
		}
		b.createCollectionResource(rc)
	}

	b.handleSearchRoute()
	return b
}

// public wraps a handler with optional authentication: anonymous requests
// pass through, a valid bearer token attaches a session.
func (b *Backend) public(h http.HandlerFunc) http.Handler {
	return access.Authenticate(b.tokens, false)(h)
}

// guarded wraps a handler with mandatory authentication followed by the
// administrator role gate, in that order.
func (b *Backend) guarded(h http.HandlerFunc) http.Handler {
	return access.Authenticate(b.tokens, true)(access.RequireAdmin(h))
}

func writeJSON(w http.ResponseWriter, status int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot marshal response")
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonData)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeValidation renders field-level validation failures
func writeValidation(w http.ResponseWriter, errors map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"message": "validation failed",
		"errors":  errors,
	})
}

// writeInternalError answers with an opaque numbered error; the cause goes
// to the log only, storage internals never leak to clients.
func writeInternalError(w http.ResponseWriter, r *http.Request, number int, err error) {
	logger.FromContext(r.Context()).WithError(err).Errorf("Error %d", number)
	writeMessage(w, http.StatusInternalServerError, fmt.Sprintf("Error %d", number))
}

// decodeBody reads the request body as a generic JSON object. A body that
// is not a JSON object answers 400.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return body, true
}

// decodeBodyInto reads the request body into the given request struct.
func decodeBodyInto(w http.ResponseWriter, r *http.Request, request interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(request); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// idFromRequest parses the {id} route variable. Identifiers are base-10
// integers; anything else answers 400 before any store access.
func idFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid identifier")
		return 0, false
	}
	return id, true
}

// parsePagination reads limit and offset from the query. Non-numeric or
// non-positive values count as absent, not as errors.
func parsePagination(query url.Values) (limit, offset int) {
	if n, err := strconv.Atoi(query.Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if n, err := strconv.Atoi(query.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	return
}

// returns ?,...,? n times
func parameterString(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
