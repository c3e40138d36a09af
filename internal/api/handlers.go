package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"WChain-Bubbles/internal/agent"
	xerrors "WChain-Bubbles/internal/errors"
	"WChain-Bubbles/internal/holders"
	"WChain-Bubbles/internal/storage"
)

type feedbackRequest struct {
	ConversationID string           `json:"conversation_id"`
	Content        string           `json:"content"`
	Feedback       storage.Feedback `json:"feedback"`
}

type messagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []storage.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.fail(w, r, xerrors.New(xerrors.CodeInitializationFailure, "chat is not configured"))
		return
	}
	var req agent.ChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body must be a JSON chat request"))
		return
	}
	reply, err := s.chat.Chat(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.fail(w, r, xerrors.New(xerrors.CodeInitializationFailure, "chat is not configured"))
		return
	}
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "request body must be a JSON feedback request"))
		return
	}
	if err := s.chat.Feedback(r.Context(), req.ConversationID, req.Content, req.Feedback); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.fail(w, r, xerrors.New(xerrors.CodeInitializationFailure, "chat is not configured"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	limit, err := intParam(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, err := s.chat.History(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{ConversationID: id, Messages: msgs})
}

func (s *Server) handleHolderCount(w http.ResponseWriter, r *http.Request) {
	s.holderQuery(w, r, holders.KindCount, holders.Params{})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	s.holderQuery(w, r, holders.KindDistribution, holders.Params{})
}

func (s *Server) handleTopHolders(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.holderQuery(w, r, holders.KindTopN, holders.Params{Limit: limit, Category: r.URL.Query().Get("category")})
}

func (s *Server) handleLargeHolders(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p := holders.Params{Limit: limit}
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		threshold, err := decimal.NewFromString(raw)
		if err != nil {
			s.fail(w, r, xerrors.New(xerrors.CodeInvalidArgument, "threshold must be a decimal number"))
			return
		}
		p.Threshold = &threshold
	}
	s.holderQuery(w, r, holders.KindLargeHolders, p)
}

func (s *Server) handleCategoryStats(w http.ResponseWriter, r *http.Request) {
	s.holderQuery(w, r, holders.KindCategoryStats, holders.Params{Category: r.PathValue("category")})
}

func (s *Server) holderQuery(w http.ResponseWriter, r *http.Request, kind holders.Kind, p holders.Params) {
	if s.holders == nil {
		s.fail(w, r, xerrors.New(xerrors.CodeInitializationFailure, "holder queries are not configured"))
		return
	}
	res, err := s.holders.Query(r.Context(), kind, p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, name+" must be a non-negative integer")
	}
	return n, nil
}
