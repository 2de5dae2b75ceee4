// Package monitor serves a live JSON view of a running cluster.
//
// The endpoint is observational only: it reads machine snapshots built
// from atomics and the inbox length, so it never perturbs a machine's
// tick loop. Intended for watching a long sweep without tailing log
// files.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/daviddao/clocksim/pkg/model"
)

const requestTimeout = 5 * time.Second

// Source is anything that can snapshot the cluster; *sim.Cluster
// satisfies it.
type Source interface {
	Snapshot() []model.MachineStatus
}

// Server serves cluster status over HTTP.
type Server struct {
	src Source
	srv *http.Server
}

// New builds a server listening on addr.
func New(addr string, src Source) *Server {
	s := &Server{src: src}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/machines/{id:[0-9]+}", s.handleMachine).Methods(http.MethodGet)
	s.srv = &http.Server{
		Handler:      r,
		Addr:         addr,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("monitor: %v", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Snapshot())
}

func (s *Server) handleMachine(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "bad machine id", http.StatusBadRequest)
		return
	}
	for _, st := range s.src.Snapshot() {
		if st.ID == id {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	http.Error(w, "no such machine", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("monitor: encode response: %v", err)
	}
}
