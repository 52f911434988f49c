package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	piperr "github.com/ohcarioca/ai-investor-v2-sub001/internal/errors"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/model"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/quote"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleTool decodes the intent router's tool call and runs it through the
// dispatcher. The HTTP status mirrors the envelope's error code; the body is
// always the full envelope.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var call model.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeErrorEnvelope(w, r, piperr.Wrap(piperr.CodeValidation, "decode tool call", err))
		return
	}
	call.Name = chi.URLParam(r, "name")

	result := s.dispatcher.Dispatch(r.Context(), call)
	status := http.StatusOK
	if !result.Success && result.Error != nil {
		status = piperr.HTTPStatus(piperr.New(piperr.Code(result.Error.Code), result.Error.Message))
	}
	writeJSON(w, status, result)
}

// handleDisplayQuote serves read-side quote lookups for dashboards, cached
// briefly so a chat session redisplaying the same pair does not hammer the
// aggregator.
func (s *Server) handleDisplayQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := strconv.ParseInt(q.Get("chain_id"), 10, 64)
	if err != nil {
		writeErrorEnvelope(w, r, piperr.New(piperr.CodeValidation, "chain_id must be an integer"))
		return
	}
	req := quote.Request{
		ChainID:     chainID,
		FromToken:   q.Get("from"),
		ToToken:     q.Get("to"),
		AmountBase:  q.Get("amount_base"),
		SlippageBps: 50,
	}
	if raw := q.Get("slippage_bps"); raw != "" {
		bps, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeErrorEnvelope(w, r, piperr.New(piperr.CodeValidation, "slippage_bps must be an integer"))
			return
		}
		req.SlippageBps = bps
	}

	key := fmt.Sprintf("display:%d:%s:%s:%s:%d", req.ChainID, req.FromToken, req.ToToken, req.AmountBase, req.SlippageBps)
	if cached, hit, err := s.quoteCache.Get(key); err == nil && hit {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	}

	quoted, err := s.pipe.Quote(r.Context(), req)
	if err != nil {
		writeErrorEnvelope(w, r, err)
		return
	}
	body, err := json.Marshal(quoted)
	if err != nil {
		writeErrorEnvelope(w, r, piperr.Wrap(piperr.CodeInternal, "encode quote", err))
		return
	}
	if err := s.quoteCache.Set(key, body, s.quoteTTL); err != nil {
		s.log.Warn("quote cache write failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorEnvelope wraps transport-level failures in the same envelope the
// dispatcher produces, so clients parse one shape everywhere.
func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, err error) {
	typed, ok := piperr.As(err)
	if !ok {
		typed = piperr.Wrap(piperr.CodeInternal, "internal error", err)
	}
	writeJSON(w, piperr.HTTPStatus(typed), model.ToolResult{
		Version: model.EnvelopeVersion,
		Success: false,
		Error: &model.ErrorBody{
			Code:    int(typed.Code),
			Type:    piperr.TypeOf(typed),
			Message: typed.Message,
		},
		Meta: model.ResultMeta{
			RequestID: requestIDFrom(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}
