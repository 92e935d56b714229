package api

import (
	stderrors "errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleetwatch/internal/daemon"
	"fleetwatch/internal/errors"
	"fleetwatch/internal/fleet"
)

// errorResponse is the JSON shape of every non-2xx response.
type errorResponse struct {
	Error      string    `json:"error"`
	Suggestion string    `json:"suggestion,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// writeError renders a structured error, flattening the code/message/
// suggestion form when the error carries one.
func writeError(c *gin.Context, status int, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
	var fwErr *errors.Error
	if stderrors.As(err, &fwErr) {
		resp.Error = fwErr.Message
		resp.Suggestion = fwErr.Suggestion
	}
	c.JSON(status, resp)
}

// currentSnapshot returns the latest snapshot, or an empty one before the
// first cycle completes.
func (s *Server) currentSnapshot() *fleet.Snapshot {
	if state := s.hub.Current(); state != nil {
		return state.Snapshot
	}
	return &fleet.Snapshot{Hosts: []fleet.Host{}}
}

func (s *Server) listHosts(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentSnapshot())
}

func (s *Server) getHost(c *gin.Context) {
	name := c.Param("host")
	host := s.currentSnapshot().FindHost(name)
	if host == nil {
		writeError(c, http.StatusNotFound,
			errors.New(errors.ErrRequest, "No host named '"+name+"'", "Check /api/hosts for known hosts."))
		return
	}
	c.JSON(http.StatusOK, host)
}

func (s *Server) listSessions(c *gin.Context) {
	statusFilter := c.Query("status")
	if statusFilter != "" &&
		statusFilter != string(fleet.SessionActive) &&
		statusFilter != string(fleet.SessionLegacy) {
		writeError(c, http.StatusBadRequest,
			errors.New(errors.ErrRequest, "Unknown session status '"+statusFilter+"'",
				"Valid values are 'active' and 'legacy'."))
		return
	}

	hostFilter := c.Query("host")
	sessions := make([]fleet.Session, 0)
	for _, host := range s.currentSnapshot().Hosts {
		if hostFilter != "" && host.Hostname != hostFilter {
			continue
		}
		for _, sess := range host.Sessions {
			if statusFilter != "" && string(sess.Status) != statusFilter {
				continue
			}
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) getSession(c *gin.Context) {
	id := c.Param("id")
	sess := s.currentSnapshot().FindSession(id)
	if sess == nil {
		writeError(c, http.StatusNotFound,
			errors.New(errors.ErrRequest, "No session '"+id+"'",
				"Session ids are '<host>:<name>'; see /api/sessions."))
		return
	}
	c.JSON(http.StatusOK, sess)
}

// killRequest is the body of POST /api/sessions/:id/kill. Confirm must repeat
// the session id exactly; a kill is not something to trigger by accident.
type killRequest struct {
	Confirm string `json:"confirm"`
}

func (s *Server) killSession(c *gin.Context) {
	id := c.Param("id")

	// The confirmation token comes from the JSON body, or the confirm
	// query parameter for clients that can't send one.
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirm == "" {
		req.Confirm = c.Query("confirm")
	}
	if req.Confirm == "" {
		writeError(c, http.StatusBadRequest,
			errors.New(errors.ErrRequest, "Missing confirmation token",
				`Send {"confirm": "<session id>"} or ?confirm=<session id>.`))
		return
	}

	err := s.control.KillSession(c.Request.Context(), id, req.Confirm)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"killed": id})
	case stderrors.Is(err, daemon.ErrUnknownSession):
		writeError(c, http.StatusNotFound, err)
	case errors.IsCode(err, errors.ErrRequest):
		writeError(c, http.StatusBadRequest, err)
	default:
		writeError(c, http.StatusBadGateway, err)
	}
}

func (s *Server) listAlerts(c *gin.Context) {
	unackedOnly := c.Query("unacked") == "true"
	active := s.engine.Active(unackedOnly)
	c.JSON(http.StatusOK, gin.H{"alerts": active, "count": len(active)})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	alert, err := s.engine.Acknowledge(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) postRefresh(c *gin.Context) {
	s.control.Refresh()
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
}

func (s *Server) getStatus(c *gin.Context) {
	snap := s.currentSnapshot()

	var online, degraded, offline int
	for _, h := range snap.Hosts {
		switch h.Status {
		case fleet.HostOnline:
			online++
		case fleet.HostDegraded:
			degraded++
		case fleet.HostOffline:
			offline++
		}
	}

	total, unacked, critical := s.engine.Counts()

	status := gin.H{
		"version":        s.version,
		"started":        s.control.Started(),
		"uptime_seconds": int(time.Since(s.control.Started()).Seconds()),
		"subscribers":    s.hub.SubscriberCount(),
		"hosts": gin.H{
			"total":    len(snap.Hosts),
			"online":   online,
			"degraded": degraded,
			"offline":  offline,
		},
		"sessions": snap.SessionCount(),
		"alerts": gin.H{
			"total":    total,
			"unacked":  unacked,
			"critical": critical,
		},
	}
	if snap.Seq > 0 {
		status["last_poll"] = gin.H{"seq": snap.Seq, "taken": snap.Taken}
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getHostHistory(c *gin.Context) {
	host := c.Param("host")

	since, err := parseSince(c.Query("since"), time.Now().UTC())
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	samples, err := s.store.HostSamples(c.Request.Context(), host, since)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"host": host, "samples": samples, "count": len(samples)})
}

func (s *Server) getTransitions(c *gin.Context) {
	host := c.Query("host")

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(c, http.StatusBadRequest,
				errors.New(errors.ErrRequest, "Invalid limit '"+raw+"'", "Pass a positive integer."))
			return
		}
		limit = parsed
	}

	transitions, err := s.store.RecentTransitions(c.Request.Context(), host, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions, "count": len(transitions)})
}

// parseSince accepts a relative duration ("2h") or an RFC3339 timestamp.
// Empty means no lower bound.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, errors.New(errors.ErrRequest,
		"Invalid since value '"+raw+"'",
		"Pass a duration like '2h' or an RFC3339 timestamp.")
}
