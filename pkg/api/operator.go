package api

import (
	"net/http"
	"time"

	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/reorder"
	"github.com/txn2/karaoke-live/pkg/session"
)

// sessionRequest is the body of session create and update.
type sessionRequest struct {
	SetlistID int64     `json:"setlist_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (req sessionRequest) session() *session.Session {
	return &session.Session{
		SetlistID: req.SetlistID,
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
}

// moveRequest is the body of PUT /api/v1/lips. to_index is the final
// position of the lip in the destination lane after the move, not the
// insertion slot counted before the lip leaves its old position. A client
// dragging a lip forward within one lane sends the slot it lands on.
type moveRequest struct {
	LipID      int64  `json:"lip_id"`
	FromStatus string `json:"from_status"`
	FromIndex  int    `json:"from_index"`
	ToStatus   string `json:"to_status"`
	ToIndex    int    `json:"to_index"`
	Message    string `json:"message"`
}

// deleteRequest is the optional body of DELETE /api/v1/lips/{id}.
type deleteRequest struct {
	Message string `json:"message"`
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeData(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, pathParamID)
	if !ok {
		h.badRequest(w, r, "invalid session id")
		return
	}
	sess, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusOK, sess)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	sess := req.session()
	if err := h.svc.CreateSession(r.Context(), sess); err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusCreated, sess)
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, pathParamID)
	if !ok {
		h.badRequest(w, r, "invalid session id")
		return
	}
	var req sessionRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	sess := req.session()
	sess.ID = id
	if err := h.svc.UpdateSession(r.Context(), sess); err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusOK, sess)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, pathParamID)
	if !ok {
		h.badRequest(w, r, "invalid session id")
		return
	}
	if err := h.svc.DeleteSession(r.Context(), id); err != nil {
		h.writeError(w, r, err, true)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionLips(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, pathParamID)
	if !ok {
		h.badRequest(w, r, "invalid session id")
		return
	}
	lips, err := h.svc.ListLips(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	if lips == nil {
		lips = []session.Lip{}
	}
	writeData(w, http.StatusOK, lips)
}

func (h *Handler) createLip(w http.ResponseWriter, r *http.Request) {
	var in live.LipInput
	if err := decode(w, r, &in); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	lip, err := h.svc.CreateLip(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusCreated, lip)
}

func (h *Handler) moveLip(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if req.LipID <= 0 {
		h.badRequest(w, r, "lip_id is required")
		return
	}

	res, err := h.svc.Move(r.Context(), reorder.Move{
		LipID:      req.LipID,
		FromStatus: session.Status(req.FromStatus),
		FromIndex:  req.FromIndex,
		ToStatus:   session.Status(req.ToStatus),
		ToIndex:    req.ToIndex,
		Message:    req.Message,
	})
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusOK, res.Lip)
}

func (h *Handler) deleteLip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, pathParamID)
	if !ok {
		h.badRequest(w, r, "invalid lip id")
		return
	}
	var req deleteRequest
	if r.ContentLength > 0 {
		if err := decode(w, r, &req); err != nil {
			h.badRequest(w, r, "invalid request body")
			return
		}
	}
	lip, err := h.svc.DeleteLip(r.Context(), id, req.Message)
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusOK, lip)
}

func (h *Handler) liveStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, h.svc.Status())
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	h.setRunning(w, r, true)
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.setRunning(w, r, false)
}

func (h *Handler) setRunning(w http.ResponseWriter, r *http.Request, running bool) {
	v, err := h.svc.SetRunning(r.Context(), running)
	if err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusOK, v)
}
