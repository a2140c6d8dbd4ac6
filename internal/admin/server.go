// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sweeper is the subset of wakeup.Controller the admin server needs: a
// way to trigger one pass on demand instead of waiting for the next tick.
type Sweeper interface {
	Run(ctx context.Context) (SweepResult, error)
}

// SweepResult is the admin-facing projection of a Wakeup pass outcome.
type SweepResult struct {
	ReapedRunners  int `json:"reaped_runners"`
	ReleasedLeases int `json:"released_leases"`
	ProjectsSwept  int `json:"projects_swept"`
}

// Config wires a Server to its collaborators.
type Config struct {
	Issuer  *TokenIssuer
	Sweeper Sweeper
	Logger  *slog.Logger
}

// Server is steroidsd's admin HTTP surface. /healthz is public; /admin/sweep
// requires a valid bearer token minted by Issuer.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Server. cfg.Issuer may be nil, in which case /admin/sweep
// always responds 503 (admin auth not configured) while /healthz still
// works — a daemon can run with admin disabled and still be health-checked.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger.With(slog.String("component", "admin"))}
}

// Handler returns the server's http.Handler, mountable directly or wrapped
// by an http.Server in cmd/steroidsd.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/admin/sweep", s.handleSweep)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Issuer == nil {
		http.Error(w, "admin auth not configured", http.StatusServiceUnavailable)
		return
	}
	token := bearerToken(r.Header.Get("Authorization"))
	claims, err := s.cfg.Issuer.Verify(token)
	if err != nil {
		s.logger.Warn("rejected admin sweep request", slog.Any("error", err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	result, err := s.cfg.Sweeper.Run(ctx)
	if err != nil {
		s.logger.Error("admin-triggered sweep failed", slog.String("subject", claims.Subject), slog.Any("error", err))
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("admin-triggered sweep complete", slog.String("subject", claims.Subject))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
