package api

import (
	"net/http"
	"time"

	"github.com/ignite/bulkpost/internal/mailing"
)

type receiverPayload struct {
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PeriodicDate string `json:"periodicDate,omitempty"`
}

type createMailingRequest struct {
	SourceID            int64             `json:"sourceId,omitempty"`
	Name                string            `json:"name,omitempty"`
	Subject             string            `json:"subject,omitempty"`
	HTML                string            `json:"html,omitempty"`
	ReplyTo             string            `json:"replyTo,omitempty"`
	OpenForSubscription bool              `json:"openForSubscription,omitempty"`
	Receivers           []receiverPayload `json:"receivers,omitempty"`
}

type mailingListItem struct {
	ID                  int64  `json:"id"`
	ListID              string `json:"listId,omitempty"`
	Name                string `json:"name"`
	OpenForSubscription bool   `json:"openForSubscription"`
	ReplyTo             string `json:"replyTo,omitempty"`
	SentCount           int64  `json:"sentCount"`
	State               string `json:"state"`
	UndeliveredCount    int64  `json:"undeliveredCount"`
}

// ListMailings returns the condensed listing without HTML bodies.
func (h *Handlers) ListMailings(w http.ResponseWriter, r *http.Request) {
	all, err := h.mailings.GetAll(r.Context())
	if err != nil {
		h.log.Errorf("failed to list mailings: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	list := make([]mailingListItem, 0, len(all))
	for _, m := range all {
		list = append(list, mailingListItem{
			ID:                  m.ID,
			ListID:              m.ListID,
			Name:                m.Name,
			OpenForSubscription: m.OpenForSubscription,
			ReplyTo:             m.ReplyTo,
			SentCount:           m.SentCount,
			State:               m.State.String(),
			UndeliveredCount:    m.UndeliveredCount,
		})
	}
	respondSuccess(w, list)
}

// GetMailing returns the full record of one mailing.
func (h *Handlers) GetMailing(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	respondSuccess(w, map[string]interface{}{
		"id":                  m.ID,
		"listId":              m.ListID,
		"name":                m.Name,
		"subject":             m.Subject,
		"html":                m.HTML,
		"replyTo":             m.ReplyTo,
		"openForSubscription": m.OpenForSubscription,
		"sentCount":           m.SentCount,
		"state":               m.State.String(),
		"undeliveredCount":    m.UndeliveredCount,
	})
}

// CreateMailing creates a mailing from an inline receiver payload, or
// clones an existing one when sourceId is given. Invalid addresses are
// reported back as rejected; those and addresses with a recorded hard
// bounce are dropped from the stored list.
func (h *Handlers) CreateMailing(w http.ResponseWriter, r *http.Request) {
	var req createMailingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	var props mailing.Mailing
	var receivers []mailing.Receiver

	if req.SourceID > 0 {
		source, err := h.mailings.GetByID(ctx, req.SourceID)
		if err != nil {
			h.log.Errorf("failed to load source mailing: %v", err)
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		if source == nil {
			respondError(w, http.StatusNotFound, "Source mailing not found")
			return
		}
		receivers, err = h.mailings.GetReceivers(ctx, source.ID, 0, -1)
		if err != nil {
			h.log.Errorf("failed to load source receivers: %v", err)
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		props = mailing.Mailing{
			Name:                source.Name + " (copy)",
			Subject:             source.Subject,
			HTML:                source.HTML,
			ReplyTo:             source.ReplyTo,
			OpenForSubscription: source.OpenForSubscription,
		}
	} else {
		if req.Name == "" || req.Subject == "" || req.HTML == "" || len(req.Receivers) == 0 {
			respondError(w, http.StatusBadRequest, "name, subject, html and receivers are required")
			return
		}
		for _, rcv := range req.Receivers {
			receivers = append(receivers, mailing.Receiver{
				Email:        rcv.Email,
				Name:         rcv.Name,
				PeriodicDate: rcv.PeriodicDate,
			})
		}
		props = mailing.Mailing{
			Name:                req.Name,
			Subject:             req.Subject,
			HTML:                req.HTML,
			ReplyTo:             req.ReplyTo,
			OpenForSubscription: req.OpenForSubscription,
		}
	}

	rejected := make([]receiverPayload, 0)
	for _, rcv := range receivers {
		if !mailing.ValidEmail(rcv.Email) {
			rejected = append(rejected, receiverPayload{Email: rcv.Email, Name: rcv.Name})
		}
	}

	receivers, err := h.filter.GetValidReceivers(ctx, receivers)
	if err != nil {
		h.log.Errorf("failed to filter receiver list: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	created, err := h.mailings.Create(ctx, props, receivers)
	if err != nil {
		h.log.Errorf("failed to create mailing: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.log.Infof("created mailing %s with ID #%d", created.Name, created.ID)

	listID, err := h.assignListID(r, created.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondSuccess(w, map[string]interface{}{
		"id":                created.ID,
		"listId":            listID,
		"rejectedReceivers": rejected,
	})
}

type updateMailingRequest struct {
	Name  *string `json:"name,omitempty"`
	HTML  *string `json:"html,omitempty"`
	State *string `json:"state,omitempty"`
}

// UpdateMailing edits the mutable fields and optionally requests a
// state transition. An illegal transition is rejected after the field
// edits are already saved, matching the order clients rely on.
func (h *Handlers) UpdateMailing(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	var req updateMailingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.HTML != nil {
		m.HTML = *req.HTML
	}
	if _, err := h.mailings.Update(ctx, m); err != nil {
		h.log.Errorf("failed to update mailing #%d: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if req.State != nil {
		toState, ok := mailing.ParseState(*req.State)
		if !ok {
			respondError(w, http.StatusBadRequest, "Unknown state")
			return
		}
		valid, err := h.manager.ChangeState(ctx, m, toState)
		if err != nil {
			h.log.Errorf("failed to change state of mailing #%d: %v", m.ID, err)
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		if !valid {
			respondError(w, http.StatusBadRequest, "Invalid state transition")
			return
		}
	}

	respondSuccess(w, nil)
}

// DeleteMailing removes a mailing and its receiver list. Running
// mailings must be paused first.
func (h *Handlers) DeleteMailing(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	if m.State == mailing.StateRunning {
		respondError(w, http.StatusBadRequest, "Cannot delete a running mailing")
		return
	}
	if _, err := h.mailings.Remove(r.Context(), m.ID); err != nil {
		h.log.Errorf("failed to delete mailing #%d: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.log.Infof("deleted mailing #%d", m.ID)
	respondSuccess(w, nil)
}

type retryMailingRequest struct {
	SourceID int64 `json:"sourceId"`
}

// CreateRetryMailing builds a new mailing addressed only to the
// receivers whose last delivery from the source mailing failed.
func (h *Handlers) CreateRetryMailing(w http.ResponseWriter, r *http.Request) {
	var req retryMailingRequest
	if err := decodeBody(r, &req); err != nil || req.SourceID <= 0 {
		respondError(w, http.StatusBadRequest, "sourceId is required")
		return
	}

	ctx := r.Context()
	source, err := h.mailings.GetByID(ctx, req.SourceID)
	if err != nil {
		h.log.Errorf("failed to load source mailing: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if source == nil {
		respondError(w, http.StatusNotFound, "Source mailing not found")
		return
	}

	failed, err := h.failures.GetFailedReceivers(ctx, source, -1)
	if err != nil {
		h.log.Errorf("failed to collect failed receivers of #%d: %v", source.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	receivers := make([]mailing.Receiver, 0, len(failed))
	for _, f := range failed {
		receivers = append(receivers, mailing.Receiver{Email: f.Email})
	}

	props := mailing.Mailing{
		Name:    source.Name + ": delivery failure retry",
		Subject: source.Subject,
		HTML:    source.HTML,
		ReplyTo: source.ReplyTo,
	}
	created, err := h.mailings.Create(ctx, props, receivers)
	if err != nil {
		h.log.Errorf("failed to create retry mailing: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.log.Infof("created retry mailing %s with ID #%d", created.Name, created.ID)

	listID, err := h.assignListID(r, created.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	respondSuccess(w, map[string]interface{}{
		"id":     created.ID,
		"listId": listID,
	})
}

// assignListID stamps the List-Id header value onto a freshly created
// mailing.
func (h *Handlers) assignListID(r *http.Request, id int64) (string, error) {
	listID := mailing.ListIDValue(h.mailCfg.ListIDPrefix, id, time.Now())
	if _, err := h.mailings.UpdateInTransaction(r.Context(), id, func(m *mailing.Mailing) {
		m.ListID = listID
	}); err != nil {
		h.log.Errorf("failed to assign List-Id to #%d: %v", id, err)
		return "", err
	}
	h.log.Verbosef("#%d: assigned List-Id = %s", id, listID)
	return listID, nil
}
