package api

import "net/http"

type addressBody struct {
	Address string `json:"address"`
}

type advanceResponse struct {
	Delivered int `json:"delivered"`
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, advanceResponse{Delivered: h.svc.Advance(r.Context())})
}

func (h *Handler) toolAddress(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, addressBody{Address: h.svc.ToolAddress()})
}

func (h *Handler) setToolAddress(w http.ResponseWriter, r *http.Request) {
	var req addressBody
	if err := decode(w, r, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}
	if err := h.svc.SetToolAddress(r.Context(), req.Address); err != nil {
		h.writeError(w, r, err, true)
		return
	}
	writeData(w, http.StatusOK, req)
}
