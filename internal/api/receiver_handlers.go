package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/bulkpost/internal/mailing"
)

// GetReceivers lists the receivers of a mailing.
func (h *Handlers) GetReceivers(w http.ResponseWriter, r *http.Request) {
	id := mailingID(r)
	if id == 0 {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return
	}
	receivers, err := h.mailings.GetReceivers(r.Context(), id, 0, -1)
	if err != nil {
		h.log.Errorf("failed to load receivers of #%d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	list := make([]receiverPayload, 0, len(receivers))
	for _, rcv := range receivers {
		list = append(list, receiverPayload{Email: rcv.Email, Name: rcv.Name})
	}
	respondSuccess(w, list)
}

// DeleteReceiver removes one receiver by email. Rejected while the
// mailing runs because removal shifts list positions under the resume
// cursor.
func (h *Handlers) DeleteReceiver(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	if m.State == mailing.StateRunning {
		respondError(w, http.StatusBadRequest, "Cannot delete a receiver from running mailing")
		return
	}

	email := chi.URLParam(r, "email")
	ctx := r.Context()
	receivers, err := h.mailings.GetReceivers(ctx, m.ID, 0, -1)
	if err != nil {
		h.log.Errorf("failed to load receivers of #%d: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	var found *mailing.Receiver
	for i := range receivers {
		if receivers[i].Email == email {
			found = &receivers[i]
			break
		}
	}
	if found == nil {
		respondError(w, http.StatusNotFound, "Receiver not found")
		return
	}

	removed, err := h.mailings.RemoveReceiver(ctx, m.ID, *found)
	if err != nil || !removed {
		h.log.Errorf("failed to remove receiver %s from #%d: %v", email, m.ID, err)
		respondError(w, http.StatusInternalServerError, "Cannot remove receiver")
		return
	}
	h.log.Infof("deleted receiver %s from mailing #%d", email, m.ID)
	respondSuccess(w, nil)
}

// GetFailedReceivers reports the receivers whose most recent delivery
// attempt after the mailing was created ended in a failure status.
func (h *Handlers) GetFailedReceivers(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	failed, err := h.failures.GetFailedReceivers(r.Context(), m, -1)
	if err != nil {
		h.log.Errorf("failed to collect failed receivers of #%d: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	respondSuccess(w, failed)
}

type sendTestEmailRequest struct {
	Email string `json:"email"`
}

// SendTestEmail renders the mailing for a single address and sends it
// immediately, outside the normal execution flow.
func (h *Handlers) SendTestEmail(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	var req sendTestEmailRequest
	if err := decodeBody(r, &req); err != nil || !mailing.ValidEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if err := h.executor.SendTestEmail(r.Context(), m, req.Email); err != nil {
		h.log.Errorf("test email for #%d failed: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to send test email")
		return
	}
	respondSuccess(w, nil)
}
