// Package api exposes the mailing server over HTTP: CRUD on mailings,
// lifecycle control, failure reports and the double-opt-in subscription
// flow.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/bulkpost/internal/config"
	"github.com/ignite/bulkpost/internal/executor"
	"github.com/ignite/bulkpost/internal/mailing"
	"github.com/ignite/bulkpost/internal/pkg/logger"
	"github.com/ignite/bulkpost/internal/sender"
	"github.com/ignite/bulkpost/internal/state"
	"github.com/ignite/bulkpost/internal/store"
	"github.com/ignite/bulkpost/internal/template"
)

// Handlers bundles the dependencies shared by all endpoint handlers.
type Handlers struct {
	mailings *store.MailingRepository
	stats    *store.AddressStatsRepository
	subs     *store.SubscriptionRequestRepository
	manager  *state.Manager
	executor *executor.Executor
	failures *mailing.FailureCounter
	filter   *mailing.ReceiverListFilter
	sender   sender.MailSender
	renderer template.Renderer
	log      *logger.Logger

	mailCfg config.MailConfig
	subCfg  config.SubscriptionConfig
}

// NewHandlers creates the handler set.
func NewHandlers(
	mailings *store.MailingRepository,
	stats *store.AddressStatsRepository,
	subs *store.SubscriptionRequestRepository,
	manager *state.Manager,
	exec *executor.Executor,
	failures *mailing.FailureCounter,
	filter *mailing.ReceiverListFilter,
	mailSender sender.MailSender,
	renderer template.Renderer,
	log *logger.Logger,
	mailCfg config.MailConfig,
	subCfg config.SubscriptionConfig,
) *Handlers {
	return &Handlers{
		mailings: mailings,
		stats:    stats,
		subs:     subs,
		manager:  manager,
		executor: exec,
		failures: failures,
		filter:   filter,
		sender:   mailSender,
		renderer: renderer,
		log:      log,
		mailCfg:  mailCfg,
		subCfg:   subCfg,
	}
}

// mailingID parses the {id} URL parameter. Zero means invalid.
func mailingID(r *http.Request) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// decodeBody reads a JSON request body into dst, rejecting unknown
// fields the way the previous strict schemas did.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// lookupMailing is the shared 400/404 preamble of the per-mailing
// endpoints. It returns nil after writing the error response.
func (h *Handlers) lookupMailing(w http.ResponseWriter, r *http.Request) *mailing.Mailing {
	id := mailingID(r)
	if id == 0 {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return nil
	}
	m, err := h.mailings.GetByID(r.Context(), id)
	if err != nil {
		h.log.Errorf("failed to load mailing: %v", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return nil
	}
	if m == nil {
		respondError(w, http.StatusNotFound, "Mailing not found")
		return nil
	}
	return m
}
