package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/bulkpost/internal/mailing"
)

type subscriptionRequestBody struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// RequestSubscription starts the double-opt-in flow: store a pending
// request under a TTL and mail a confirmation link. A repeated request
// for the same address reuses the previously issued code so older
// confirmation emails stay valid.
func (h *Handlers) RequestSubscription(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	var req subscriptionRequestBody
	if err := decodeBody(r, &req); err != nil || !mailing.ValidEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	if !m.OpenForSubscription {
		respondErrorCode(w, http.StatusBadRequest,
			"Mailing is closed for subscription.", "CLOSED_FOR_SUBSCRIPTION")
		return
	}
	if !mailing.ValidateSchedule(req.Schedule) {
		respondErrorCode(w, http.StatusBadRequest, "Invalid schedule.", "INVALID_SCHEDULE")
		return
	}

	ctx := r.Context()
	alreadySubscribed, err := h.hasReceiver(r, m.ID, req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	code := uuid.NewString()
	if existing, err := h.subs.Get(ctx, m.ID, req.Email); err != nil {
		h.log.Errorf("failed to load subscription request: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	} else if existing != nil {
		code = existing.Code
	}

	subReq := &mailing.SubscriptionRequest{
		Email:        req.Email,
		MailingID:    m.ID,
		Code:         code,
		Name:         req.Name,
		PeriodicDate: req.Schedule,
	}
	if err := h.subs.Create(ctx, subReq); err != nil {
		h.log.Errorf("failed to store subscription request: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.log.Infof("requested subscription: mailing #%d, %s, schedule: %s",
		m.ID, req.Email, req.Schedule)

	html, err := h.renderer.Render(h.subCfg.Template, map[string]interface{}{
		"alreadySubscribed": alreadySubscribed,
		"code":              code,
		"email":             req.Email,
		"mailingId":         m.ID,
		"mailingName":       m.Name,
		"name":              req.Name,
		"schedule":          req.Schedule,
	})
	if err != nil {
		h.log.Errorf("failed to render confirmation email: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	email := &mailing.Email{
		Subject:   h.subCfg.Subject,
		HTML:      html,
		ReplyTo:   h.subCfg.ReplyTo,
		Receivers: []mailing.Receiver{{Email: req.Email, Name: req.Name}},
	}
	if err := h.sender.SendEmail(ctx, email); err != nil {
		h.log.Warnf("caught send error, rolling back subscription request: %v", err)
		if rmErr := h.subs.Remove(ctx, m.ID, req.Email); rmErr != nil {
			h.log.Errorf("rollback of subscription request failed: %v", rmErr)
		}
		respondError(w, http.StatusInternalServerError, "Failed to send confirmation email")
		return
	}

	respondSuccess(w, nil)
}

type confirmationBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Subscribe confirms a pending request. The receiver is appended to the
// end of the list; an existing entry for the same address is removed
// first so the list holds one entry per email.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	var req confirmationBody
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	ctx := r.Context()
	pending, err := h.subs.Get(ctx, m.ID, req.Email)
	if err != nil {
		h.log.Errorf("failed to load subscription request: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if pending == nil {
		respondError(w, http.StatusBadRequest, "No subscription request found.")
		return
	}
	if pending.Code != req.Code {
		h.log.Infof("subscription attempt: code mismatch. Email %s", req.Email)
		respondError(w, http.StatusBadRequest, "Code mismatch.")
		return
	}

	receivers, err := h.mailings.GetReceivers(ctx, m.ID, 0, -1)
	if err != nil {
		h.log.Errorf("failed to load receivers of #%d: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	for _, rcv := range receivers {
		if rcv.Email == pending.Email {
			if _, err := h.mailings.RemoveReceiver(ctx, m.ID, rcv); err != nil {
				h.log.Errorf("failed to replace receiver %s in #%d: %v", rcv.Email, m.ID, err)
				respondError(w, http.StatusInternalServerError, "Internal error")
				return
			}
			break
		}
	}

	if err := h.mailings.AddReceiver(ctx, m.ID, pending.Receiver()); err != nil {
		h.log.Errorf("failed to add receiver %s to #%d: %v", pending.Email, m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	if err := h.subs.Remove(ctx, m.ID, req.Email); err != nil {
		h.log.Errorf("failed to remove subscription request: %v", err)
	}

	h.log.Infof("subscribed to mailing #%d. Email %s", m.ID, req.Email)
	respondSuccess(w, nil)
}

// Unsubscribe removes a receiver when the presented code matches. For
// an address that only has a pending request, the request itself is
// withdrawn.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	m := h.lookupMailing(w, r)
	if m == nil {
		return
	}
	var req confirmationBody
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	ctx := r.Context()
	receivers, err := h.mailings.GetReceivers(ctx, m.ID, 0, -1)
	if err != nil {
		h.log.Errorf("failed to load receivers of #%d: %v", m.ID, err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	var found *mailing.Receiver
	for i := range receivers {
		if receivers[i].Email == req.Email {
			found = &receivers[i]
			break
		}
	}

	if found == nil {
		h.log.Verbosef("no email %s in mailing #%d", req.Email, m.ID)
		pending, err := h.subs.Get(ctx, m.ID, req.Email)
		if err != nil {
			h.log.Errorf("failed to load subscription request: %v", err)
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		if pending == nil {
			respondError(w, http.StatusBadRequest, "Not subscribed.")
			return
		}
		if pending.Code != req.Code {
			respondError(w, http.StatusBadRequest, "Code mismatch.")
			return
		}
		if err := h.subs.Remove(ctx, m.ID, req.Email); err != nil {
			h.log.Errorf("failed to remove subscription request: %v", err)
			respondError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		h.log.Infof("removed subscription request: mailing #%d, email %s", m.ID, req.Email)
		respondSuccess(w, nil)
		return
	}

	if found.Code != req.Code {
		respondError(w, http.StatusBadRequest, "Code mismatch.")
		return
	}

	removed, err := h.mailings.RemoveReceiver(ctx, m.ID, *found)
	if err != nil || !removed {
		h.log.Errorf("failed to unsubscribe %s from #%d: %v", req.Email, m.ID, err)
		respondError(w, http.StatusInternalServerError, "Cannot remove receiver. Internal error.")
		return
	}

	h.log.Infof("unsubscribed: mailing #%d, email %s", m.ID, req.Email)
	respondSuccess(w, nil)
}

func (h *Handlers) hasReceiver(r *http.Request, id int64, email string) (bool, error) {
	receivers, err := h.mailings.GetReceivers(r.Context(), id, 0, -1)
	if err != nil {
		h.log.Errorf("failed to load receivers of #%d: %v", id, err)
		return false, err
	}
	for _, rcv := range receivers {
		if rcv.Email == email {
			return true, nil
		}
	}
	return false, nil
}
