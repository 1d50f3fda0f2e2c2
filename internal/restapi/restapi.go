// Package restapi implements the optional client-facing REST surface: a
// small gorilla/mux router in front of the aggregator, for remote clients
// that can't shell out to nsictl.
package restapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/itchyny/gojq"
	"golang.org/x/crypto/bcrypt"

	"github.com/newtron-network/nsi-gateway/pkg/aggregator"
	"github.com/newtron-network/nsi-gateway/pkg/config"
	"github.com/newtron-network/nsi-gateway/pkg/connection"
	"github.com/newtron-network/nsi-gateway/pkg/nsa"
	"github.com/newtron-network/nsi-gateway/pkg/util"
)

// Server wires the aggregator behind an HTTP handler.
type Server struct {
	Aggregator *aggregator.Aggregator
	Auth       config.RESTConfig
	router     *mux.Router
}

// New builds a Server and registers every connection-lifecycle route.
func New(agg *aggregator.Aggregator, auth config.RESTConfig) *Server {
	s := &Server{Aggregator: agg, Auth: auth}
	r := mux.NewRouter()
	r.Use(s.authenticate)
	r.HandleFunc("/connections", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/connections", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/connections/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/connections/{id}/{action}", s.handleAction).Methods(http.MethodPost)
	s.router = r
	return s
}

// ServeHTTP lets Server stand in directly for http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// authenticate enforces HTTP basic auth against the bcrypt hash
// configured in pkg/config, when REST basic auth is configured at all —
// an empty BasicAuthHash leaves the surface open, gated only by
// "rest.enabled".
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Auth.BasicAuthHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(s.Auth.BasicAuthUser)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="nsi-gateway"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.Auth.BasicAuthHash), []byte(pass)); err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="nsi-gateway"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserveRequest is the JSON body for POST /connections.
type reserveRequest struct {
	RequesterURN string `json:"requesterUrn"`
	GlobalID     string `json:"globalId"`
	SourceNet    string `json:"sourceNetwork"`
	SourcePort   string `json:"sourcePort"`
	DestNet      string `json:"destNetwork"`
	DestPort     string `json:"destPort"`
	VLANType     string `json:"labelType"`
	VLANValues   string `json:"labelValues"`
	Bandwidth    int    `json:"bandwidth"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	labelType := req.VLANType
	if labelType == "" {
		labelType = nsa.EthernetVLAN
	}
	label, err := nsa.NewLabel(labelType, req.VLANValues)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	src := nsa.NewSTP(req.SourceNet, req.SourcePort, label)
	dst := nsa.NewSTP(req.DestNet, req.DestPort, label)

	conn, err := s.Aggregator.Reserve(r.Context(), req.RequesterURN, req.GlobalID, src, dst, req.Bandwidth)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn.Snapshot())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.Aggregator.List()
	if filter := r.URL.Query().Get("filter"); filter != "" {
		filtered, err := applyFilter(filter, snaps)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, filtered)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// applyFilter runs a gojq expression over the JSON-serialized snapshots,
// e.g. "?filter=.[] | select(.State==\"RESERVE_HELD\")".
func applyFilter(expr string, snaps []connection.Snapshot) ([]connection.Snapshot, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(snaps)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	iter := query.Run(input)
	var out []connection.Snapshot
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		reencoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var snap connection.Snapshot
		if err := json.Unmarshal(reencoded, &snap); err != nil {
			// The expression may project to something that isn't a
			// snapshot (e.g. ".[].ID"); skip values that don't decode.
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.Aggregator.Query(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, action := vars["id"], vars["action"]

	var (
		conn *connection.Connection
		err  error
	)
	switch action {
	case "commit":
		conn, err = s.Aggregator.ReserveCommit(r.Context(), id)
	case "abort":
		conn, err = s.Aggregator.ReserveAbort(r.Context(), id)
	case "provision":
		conn, err = s.Aggregator.Provision(r.Context(), id)
	case "release":
		conn, err = s.Aggregator.Release(r.Context(), id)
	case "terminate":
		conn, err = s.Aggregator.Terminate(r.Context(), id)
	default:
		writeError(w, http.StatusNotFound, errors.New("restapi: unknown action "+action))
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, conn.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warnf("restapi: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
