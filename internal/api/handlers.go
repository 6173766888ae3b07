package api

import (
	"context"
	"net/http"
	"time"

	"github.com/user/rowwatch/pkg/poller"
)

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) startPoller(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(s.baseCtx, s.opts.Interval); err != nil {
		s.jsonError(w, err.Error(), lifecycleStatus(err))
		return
	}
	s.logger.Info("Poller started via API", "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) stopPoller(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Stop(); err != nil {
		s.jsonError(w, err.Error(), lifecycleStatus(err))
		return
	}
	s.logger.Info("Poller stopped via API", "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) forceCycle(w http.ResponseWriter, r *http.Request) {
	// The cycle must not be cut short by a client disconnect.
	ctx := context.WithoutCancel(r.Context())
	if err := s.controller.ForceCycle(ctx); err != nil {
		s.jsonError(w, err.Error(), lifecycleStatus(err))
		return
	}
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ok := true
	checks := make(map[string]any, len(s.opts.Ready)+1)

	st := s.controller.Status()
	running := st.State == poller.StateRunning
	checks["poller"] = map[string]any{"ok": running, "state": st.State, "retries": st.Retries}
	setReadiness("poller", running)
	if !running {
		ok = false
	}

	for name, p := range s.opts.Ready {
		start := time.Now()
		err := p.Ping(ctx)
		ReadinessLatencySeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
		setReadiness(name, err == nil)
		check := map[string]any{"ok": err == nil}
		if err != nil {
			ok = false
			check["error"] = err.Error()
		}
		checks[name] = check
	}

	code := http.StatusOK
	status := "ready"
	if !ok {
		code = http.StatusServiceUnavailable
		status = "not_ready"
	}
	s.writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func setReadiness(component string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	ReadinessStatus.WithLabelValues(component).Set(v)
}
