package api

import (
	"net/http"

	khttp "github.com/txn2/karaoke-live/pkg/http"
	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/session"
)

// submitRequest is the body of a guest submission.
type submitRequest struct {
	SongID    int64  `json:"song_id"`
	GuestName string `json:"guest_name"`
}

func (h *Handler) guestJoin(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GuestJoin(r.Context(), r.PathValue(pathParamSessionGUID), r.PathValue(pathParamGuestID))
	if err != nil {
		h.writeError(w, r, err, false)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (h *Handler) guestSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	lip, err := h.svc.GuestSubmit(r.Context(), live.Submission{
		SessionGUID: r.PathValue(pathParamSessionGUID),
		GuestID:     r.PathValue(pathParamGuestID),
		SongID:      req.SongID,
		GuestName:   req.GuestName,
		ClientIP:    khttp.ClientIP(r),
	})
	if err != nil {
		h.writeError(w, r, err, false)
		return
	}
	writeData(w, http.StatusCreated, lip)
}

func (h *Handler) guestWithdraw(w http.ResponseWriter, r *http.Request) {
	lipID, ok := pathID(r, pathParamLipID)
	if !ok {
		h.badRequest(w, r, "invalid lip id")
		return
	}

	lip, err := h.svc.GuestWithdraw(r.Context(), live.Withdrawal{
		SessionGUID: r.PathValue(pathParamSessionGUID),
		GuestID:     r.PathValue(pathParamGuestID),
		LipID:       lipID,
		ClientIP:    khttp.ClientIP(r),
	})
	if err != nil {
		h.writeError(w, r, err, false)
		return
	}
	writeData(w, http.StatusOK, lip)
}

func (h *Handler) activeLips(w http.ResponseWriter, r *http.Request) {
	lips, err := h.svc.ActiveLips()
	if err != nil {
		h.writeError(w, r, err, false)
		return
	}
	if lips == nil {
		lips = []session.Lip{}
	}
	writeData(w, http.StatusOK, lips)
}

func (h *Handler) getLip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, pathParamID)
	if !ok {
		h.badRequest(w, r, "invalid lip id")
		return
	}
	lip, err := h.svc.GetLip(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, false)
		return
	}
	writeData(w, http.StatusOK, lip)
}
