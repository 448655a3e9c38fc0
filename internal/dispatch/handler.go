package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	gwerrors "github.com/wudi/llmgateway/internal/errors"
	"github.com/wudi/llmgateway/internal/sse"
)

// messageBody is the parsed request body for both dispatch endpoints.
type messageBody struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	Provider         string `json:"provider,omitempty"`
	Model            string `json:"model,omitempty"`
	Scope            string `json:"scope,omitempty"`
	UseMemory        bool   `json:"use_memory,omitempty"`
	UseQueryRewriter bool   `json:"use_query_rewriter,omitempty"`
}

// parseRequest decodes and validates the common parts of a dispatch
// request shared by both endpoints.
func parseRequest(r *http.Request, ps httprouter.Params) (Request, error) {
	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return Request{}, gwerrors.Wrap(err, gwerrors.KindValidation, "malformed request body")
	}
	if body.Role != "" && body.Role != "user" {
		return Request{}, gwerrors.New(gwerrors.KindValidation, "role must be \"user\"")
	}

	orgID := r.Header.Get("x-org-id")
	requestID := r.Header.Get("x-request-id")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return Request{
		ThreadID:         ps.ByName("thread_id"),
		OrgID:            orgID,
		RequestID:        requestID,
		Content:          body.Content,
		PinnedProvider:   body.Provider,
		PinnedModel:      body.Model,
		Scope:            body.Scope,
		UseMemory:        body.UseMemory,
		UseQueryRewriter: body.UseQueryRewriter,
	}, nil
}

// HandleMessage serves POST /api/threads/:thread_id/messages (non-streaming).
func (p *Pipeline) HandleMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	req, err := parseRequest(r, ps)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	result, err := p.Dispatch(r.Context(), req)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("x-request-id", req.RequestID)
	_ = json.NewEncoder(w).Encode(result)
}

// HandleMessageStream serves POST /api/threads/:thread_id/messages/stream (SSE).
func (p *Pipeline) HandleMessageStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	req, err := parseRequest(r, ps)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	enc, err := sse.NewEncoder(w)
	if err != nil {
		writeJSONError(w, gwerrors.Wrap(err, gwerrors.KindInternal, "streaming unsupported"))
		return
	}

	p.DispatchStream(r.Context(), req, enc)
}

func writeJSONError(w http.ResponseWriter, err error) {
	if ge, ok := gwerrors.IsGatewayError(err); ok {
		ge.WriteJSON(w)
		return
	}
	gwerrors.ErrInternal.WithDetails(err.Error()).WriteJSON(w)
}
