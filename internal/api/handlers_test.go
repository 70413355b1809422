package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bulkpost/internal/config"
	"github.com/ignite/bulkpost/internal/executor"
	"github.com/ignite/bulkpost/internal/mailing"
	"github.com/ignite/bulkpost/internal/pkg/logger"
	"github.com/ignite/bulkpost/internal/sender"
	"github.com/ignite/bulkpost/internal/state"
	"github.com/ignite/bulkpost/internal/store"
	"github.com/ignite/bulkpost/internal/template"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*mailing.Email
}

func (s *recordingSender) SendEmail(_ context.Context, email *mailing.Email) error {
	s.mu.Lock()
	s.sent = append(s.sent, email)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var _ sender.MailSender = (*recordingSender)(nil)

type apiEnv struct {
	router   *chi.Mux
	mailings *store.MailingRepository
	stats    *store.AddressStatsRepository
	subs     *store.SubscriptionRequestRepository
	sender   *recordingSender
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	keys := store.DefaultKeys()
	log := logger.Nop()
	env := &apiEnv{
		mailings: store.NewMailingRepository(client, keys),
		stats:    store.NewAddressStatsRepository(client, keys),
		subs:     store.NewSubscriptionRequestRepository(client, keys, time.Hour),
		sender:   &recordingSender{},
	}
	renderer := template.NewLiquidRenderer()
	exec := executor.New(env.sender, env.mailings, env.stats, renderer, log, executor.Options{})
	manager := state.NewManager(exec, env.mailings, log, state.Options{})
	manager.Start(context.Background())

	failures := mailing.NewFailureCounter(env.mailings, env.stats)
	filter := mailing.NewReceiverListFilter(env.stats, 0)
	handlers := NewHandlers(
		env.mailings, env.stats, env.subs, manager, exec, failures, filter,
		env.sender, renderer, log,
		config.MailConfig{From: "news@example.com", ListIDPrefix: "list-"},
		config.SubscriptionConfig{
			Subject:  "Confirm your subscription",
			Template: "Hi {{ name }}, confirm with code {{ code }}",
		},
	)
	env.router = SetupRoutes(handlers)
	return env
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestCreateMailing(t *testing.T) {
	env := setupAPI(t)

	rec, resp := env.do(t, http.MethodPost, "/mailings", map[string]interface{}{
		"name":    "march issue",
		"subject": "hello",
		"html":    "<p>hi</p>",
		"receivers": []map[string]string{
			{"email": "a@example.com"},
			{"email": "not-an-email"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	var data struct {
		ID                int64             `json:"id"`
		ListID            string            `json:"listId"`
		RejectedReceivers []receiverPayload `json:"rejectedReceivers"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, int64(1), data.ID)
	assert.Contains(t, data.ListID, "list-1_")
	require.Len(t, data.RejectedReceivers, 1)
	assert.Equal(t, "not-an-email", data.RejectedReceivers[0].Email)

	m, err := env.mailings.GetByID(context.Background(), data.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, mailing.StateNew, m.State)
	assert.Equal(t, data.ListID, m.ListID)

	receivers, err := env.mailings.GetReceivers(context.Background(), data.ID, 0, -1)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	assert.Equal(t, "a@example.com", receivers[0].Email)
}

func TestCreateMailingSuppressesHardBounced(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	require.NoError(t, env.stats.Create(ctx, &mailing.AddressStats{
		Email:      "gone@example.com",
		LastStatus: "550 mailbox does not exist",
	}))

	rec, resp := env.do(t, http.MethodPost, "/mailings", map[string]interface{}{
		"name":    "relaunch",
		"subject": "hello again",
		"html":    "<p>hi</p>",
		"receivers": []map[string]string{
			{"email": "gone@example.com"},
			{"email": "alive@example.com"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	var data struct {
		ID                int64             `json:"id"`
		RejectedReceivers []receiverPayload `json:"rejectedReceivers"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Empty(t, data.RejectedReceivers)

	receivers, err := env.mailings.GetReceivers(ctx, data.ID, 0, -1)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	assert.Equal(t, "alive@example.com", receivers[0].Email)
}

func TestCreateMailingValidation(t *testing.T) {
	env := setupAPI(t)

	rec, resp := env.do(t, http.MethodPost, "/mailings", map[string]interface{}{
		"name": "incomplete",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestCloneMailing(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	src, err := env.mailings.Create(ctx, mailing.Mailing{
		Name:    "original",
		Subject: "s",
		HTML:    "<p>h</p>",
	}, []mailing.Receiver{{Email: "a@example.com"}})
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPost, "/mailings", map[string]interface{}{
		"sourceId": src.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	var data struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))

	clone, err := env.mailings.GetByID(ctx, data.ID)
	require.NoError(t, err)
	assert.Equal(t, "original (copy)", clone.Name)

	receivers, err := env.mailings.GetReceivers(ctx, data.ID, 0, -1)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	assert.Equal(t, "a@example.com", receivers[0].Email)
}

func TestCloneMissingSource(t *testing.T) {
	env := setupAPI(t)

	rec, _ := env.do(t, http.MethodPost, "/mailings", map[string]interface{}{"sourceId": 42})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMailing(t *testing.T) {
	env := setupAPI(t)

	m, err := env.mailings.Create(context.Background(), mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodGet, "/mailings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	var data struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, m.Name, data.Name)
	assert.Equal(t, "NEW", data.State)

	rec, _ = env.do(t, http.MethodGet, "/mailings/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/mailings/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMailings(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two"} {
		_, err := env.mailings.Create(ctx, mailing.Mailing{Name: name, Subject: "s", HTML: "h"}, nil)
		require.NoError(t, err)
	}

	rec, resp := env.do(t, http.MethodGet, "/mailings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data []mailingListItem
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data, 2)
	assert.Equal(t, "one", data[0].Name)
	assert.Equal(t, "NEW", data[0].State)
}

func TestUpdateMailingFields(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	m, err := env.mailings.Create(ctx, mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPut, "/mailings/1", map[string]interface{}{
		"name": "renamed",
		"html": "<p>new</p>",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	got, err := env.mailings.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "<p>new</p>", got.HTML)
}

func TestUpdateMailingInvalidTransition(t *testing.T) {
	env := setupAPI(t)

	_, err := env.mailings.Create(context.Background(), mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPut, "/mailings/1", map[string]interface{}{
		"state": "FINISHED",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid state transition", resp.Error)

	rec, _ = env.do(t, http.MethodPut, "/mailings/1", map[string]interface{}{
		"state": "SOMETHING",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMailing(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	m, err := env.mailings.Create(ctx, mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, nil)
	require.NoError(t, err)

	_, err = env.mailings.UpdateInTransaction(ctx, m.ID, func(mm *mailing.Mailing) {
		mm.State = mailing.StateRunning
	})
	require.NoError(t, err)

	rec, _ := env.do(t, http.MethodDelete, "/mailings/1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err = env.mailings.UpdateInTransaction(ctx, m.ID, func(mm *mailing.Mailing) {
		mm.State = mailing.StatePaused
	})
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodDelete, "/mailings/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	got, err := env.mailings.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReceiversEndpoints(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	_, err := env.mailings.Create(ctx, mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, []mailing.Receiver{
		{Email: "a@example.com", Name: "Anna"},
		{Email: "b@example.com"},
	})
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodGet, "/mailings/1/receivers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var receivers []receiverPayload
	require.NoError(t, json.Unmarshal(resp.Data, &receivers))
	require.Len(t, receivers, 2)
	assert.Equal(t, "a@example.com", receivers[0].Email)
	assert.Equal(t, "Anna", receivers[0].Name)

	rec, _ = env.do(t, http.MethodDelete, "/mailings/1/receivers/b@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	left, err := env.mailings.GetReceivers(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "a@example.com", left[0].Email)

	rec, _ = env.do(t, http.MethodDelete, "/mailings/1/receivers/ghost@example.com", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailedReceivers(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	_, err := env.mailings.Create(ctx, mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, []mailing.Receiver{
		{Email: "ok@example.com"},
		{Email: "bounced@example.com"},
	})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, env.stats.Create(ctx, &mailing.AddressStats{
		Email:          "bounced@example.com",
		LastStatus:     "550 user unknown",
		LastStatusDate: &now,
	}))

	rec, resp := env.do(t, http.MethodGet, "/mailings/1/failed-receivers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var failed []mailing.FailedReceiver
	require.NoError(t, json.Unmarshal(resp.Data, &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, "bounced@example.com", failed[0].Email)
	assert.Equal(t, "550 user unknown", failed[0].Status)
}

func TestSendTestEmail(t *testing.T) {
	env := setupAPI(t)

	_, err := env.mailings.Create(context.Background(), mailing.Mailing{
		Name: "m", Subject: "s", HTML: "<p>for {{ email }}</p>",
	}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPost, "/mailings/1/send-test-email", map[string]string{
		"email": "probe@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	require.Equal(t, 1, env.sender.sentCount())
	assert.Equal(t, "<p>for probe@example.com</p>", env.sender.sent[0].HTML)

	rec, _ = env.do(t, http.MethodPost, "/mailings/1/send-test-email", map[string]string{
		"email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRetryMailing(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	_, err := env.mailings.Create(ctx, mailing.Mailing{Name: "m", Subject: "s", HTML: "h"}, []mailing.Receiver{
		{Email: "ok@example.com"},
		{Email: "bounced@example.com"},
	})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, env.stats.Create(ctx, &mailing.AddressStats{
		Email:          "bounced@example.com",
		LastStatus:     "550 user unknown",
		LastStatusDate: &now,
	}))

	rec, resp := env.do(t, http.MethodPost, "/mailings/retry", map[string]interface{}{
		"sourceId": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	var data struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))

	retry, err := env.mailings.GetByID(ctx, data.ID)
	require.NoError(t, err)
	assert.Equal(t, "m: delivery failure retry", retry.Name)

	receivers, err := env.mailings.GetReceivers(ctx, data.ID, 0, -1)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	assert.Equal(t, "bounced@example.com", receivers[0].Email)
}

func TestSubscriptionFlow(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()

	_, err := env.mailings.Create(ctx, mailing.Mailing{
		Name: "digest", Subject: "s", HTML: "h", OpenForSubscription: true,
	}, nil)
	require.NoError(t, err)

	// Request: stores a pending entry and sends the confirmation email.
	rec, resp := env.do(t, http.MethodPost, "/mailings/1/subscription-requests", map[string]string{
		"email":    "new@example.com",
		"name":     "Newcomer",
		"schedule": "15",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.Equal(t, 1, env.sender.sentCount())
	assert.Contains(t, env.sender.sent[0].HTML, "Hi Newcomer, confirm with code ")

	pending, err := env.subs.Get(ctx, 1, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, pending)

	// A second request reuses the code.
	_, resp = env.do(t, http.MethodPost, "/mailings/1/subscription-requests", map[string]string{
		"email":    "new@example.com",
		"name":     "Newcomer",
		"schedule": "15",
	})
	require.True(t, resp.Success)
	again, err := env.subs.Get(ctx, 1, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, pending.Code, again.Code)

	// Wrong code is rejected.
	rec, _ = env.do(t, http.MethodPost, "/mailings/1/subscribe", map[string]string{
		"email": "new@example.com",
		"code":  "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Confirm.
	rec, resp = env.do(t, http.MethodPost, "/mailings/1/subscribe", map[string]string{
		"email": "new@example.com",
		"code":  pending.Code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	receivers, err := env.mailings.GetReceivers(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Len(t, receivers, 1)
	assert.Equal(t, "new@example.com", receivers[0].Email)
	assert.Equal(t, pending.Code, receivers[0].Code)
	assert.Equal(t, "15", receivers[0].PeriodicDate)

	gone, err := env.subs.Get(ctx, 1, "new@example.com")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Unsubscribe with the same code.
	rec, resp = env.do(t, http.MethodPost, "/mailings/1/unsubscribe", map[string]string{
		"email": "new@example.com",
		"code":  pending.Code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	receivers, err = env.mailings.GetReceivers(ctx, 1, 0, -1)
	require.NoError(t, err)
	assert.Empty(t, receivers)
}

func TestSubscriptionClosedMailing(t *testing.T) {
	env := setupAPI(t)

	_, err := env.mailings.Create(context.Background(), mailing.Mailing{
		Name: "closed", Subject: "s", HTML: "h",
	}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPost, "/mailings/1/subscription-requests", map[string]string{
		"email": "new@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CLOSED_FOR_SUBSCRIPTION", resp.Code)
}

func TestSubscriptionInvalidSchedule(t *testing.T) {
	env := setupAPI(t)

	_, err := env.mailings.Create(context.Background(), mailing.Mailing{
		Name: "digest", Subject: "s", HTML: "h", OpenForSubscription: true,
	}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPost, "/mailings/1/subscription-requests", map[string]string{
		"email":    "new@example.com",
		"schedule": "99",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_SCHEDULE", resp.Code)
}

func TestUnsubscribeNotSubscribed(t *testing.T) {
	env := setupAPI(t)

	_, err := env.mailings.Create(context.Background(), mailing.Mailing{
		Name: "digest", Subject: "s", HTML: "h",
	}, nil)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodPost, "/mailings/1/unsubscribe", map[string]string{
		"email": "ghost@example.com",
		"code":  "whatever",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Not subscribed.", resp.Error)
}
