package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"leadcall/internal/domain"
	"leadcall/internal/usecase"
)

const maxBodyBytes = 1 << 20

// CallService is the orchestrator surface exposed over HTTP.
type CallService interface {
	Trigger(ctx context.Context, req usecase.TriggerRequest) (usecase.Result, error)
	Complete(ctx context.Context, rep usecase.CompletionReport) (usecase.Result, error)
	Cancel(ctx context.Context, contactID string) (usecase.Result, error)
	Get(ctx context.Context, contactID string) (*domain.CallTask, error)
}

type handlers struct {
	calls CallService
}

func newRouter(calls CallService) *chi.Mux {
	h := &handlers{calls: calls}
	r := chi.NewRouter()
	r.Get("/healthz", health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/calls/trigger", h.trigger)
		r.Post("/calls/completed", h.completed)
		r.Post("/calls/cancel", h.cancel)
		r.Get("/calls/{contactId}", h.get)
		r.Post("/webhooks/dialer", h.dialerWebhook)
	})
	return r
}

type triggerReq struct {
	ContactID        string `json:"contactId"`
	PhoneNumber      string `json:"phoneNumber"`
	TimezoneOverride string `json:"timezoneOverride,omitempty"`
}

type completedReq struct {
	ContactID   string `json:"contactId"`
	CallID      string `json:"callId"`
	EndedReason string `json:"endedReason"`
}

type cancelReq struct {
	ContactID string `json:"contactId"`
}

// dialerEnvelope is the voice-AI server message; only end-of-call reports matter.
type dialerEnvelope struct {
	Message struct {
		Type        string `json:"type"`
		EndedReason string `json:"endedReason"`
		Call        struct {
			ID       string         `json:"id"`
			Metadata map[string]any `json:"metadata"`
		} `json:"call"`
	} `json:"message"`
}

const endOfCallReport = "end-of-call-report"

type resultResp struct {
	Status         domain.CallStatus `json:"status"`
	NextEligibleAt *time.Time        `json:"nextEligibleAt,omitempty"`
	Timezone       string            `json:"timezone,omitempty"`
	Attempt        int               `json:"attempt"`
}

func toResp(res usecase.Result) resultResp {
	return resultResp{
		Status:         res.Status,
		NextEligibleAt: res.NextEligibleAt,
		Timezone:       res.Timezone,
		Attempt:        res.Attempt,
	}
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.calls.Trigger(r.Context(), usecase.TriggerRequest{
		ContactID:        req.ContactID,
		PhoneNumber:      req.PhoneNumber,
		TimezoneOverride: req.TimezoneOverride,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(res))
}

func (h *handlers) completed(w http.ResponseWriter, r *http.Request) {
	var req completedReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.calls.Complete(r.Context(), usecase.CompletionReport{
		ContactID:   req.ContactID,
		CallID:      req.CallID,
		EndedReason: req.EndedReason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(res))
}

func (h *handlers) dialerWebhook(w http.ResponseWriter, r *http.Request) {
	var env dialerEnvelope
	if !decode(w, r, &env) {
		return
	}
	if env.Message.Type != endOfCallReport {
		writeJSON(w, http.StatusAccepted, map[string]string{"ignored": env.Message.Type})
		return
	}

	contactID, _ := env.Message.Call.Metadata["contactId"].(string)
	if contactID == "" {
		writeError(w, r, fmt.Errorf("%w: call metadata has no contactId", domain.ErrInvalidRequest))
		return
	}
	res, err := h.calls.Complete(r.Context(), usecase.CompletionReport{
		ContactID:   contactID,
		CallID:      env.Message.Call.ID,
		EndedReason: env.Message.EndedReason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(res))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.calls.Cancel(r.Context(), req.ContactID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(res))
}

func (h *handlers) get(w http.ResponseWriter, r *http.Request) {
	task, err := h.calls.Get(r.Context(), chi.URLParam(r, "contactId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidRequest, err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and a structured body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	level := zerolog.WarnLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	log.Ctx(r.Context()).WithLevel(level).Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	}
	if kind := domain.KindOf(err); kind != "" {
		if kind == domain.KindStorePersistence {
			return http.StatusServiceUnavailable, string(kind)
		}
		return http.StatusInternalServerError, string(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}
