package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chatwoot/supportsync/internal/chat"
)

// SupportService groups the support conversation endpoints.
type SupportService struct{ *Client }

// StartConversation opens a conversation for the given visitor.
func (s SupportService) StartConversation(ctx context.Context, req StartConversationRequest) (string, error) {
	return startConversation(ctx, s, req)
}

func startConversation(ctx context.Context, r Requester, req StartConversationRequest) (string, error) {
	var result StartConversationResponse
	if err := r.do(ctx, http.MethodPost, r.supportPath("/conversations"), req, &result); err != nil {
		return "", err
	}
	if result.ConversationID == "" {
		return "", fmt.Errorf("start conversation: response carried no conversationId")
	}
	return string(result.ConversationID), nil
}

// VerifyConversation asks whether a stored conversation id can be resumed.
func (s SupportService) VerifyConversation(ctx context.Context, conversationID string) (Verification, error) {
	return verifyConversation(ctx, s, conversationID)
}

func verifyConversation(ctx context.Context, r Requester, conversationID string) (Verification, error) {
	var result Verification
	path := fmt.Sprintf("/conversations/%s/verify", url.PathEscape(conversationID))
	if err := r.do(ctx, http.MethodGet, r.supportPath(path), nil, &result); err != nil {
		return Verification{}, err
	}
	return result, nil
}

// GetConversationMessages returns the full history.
func (s SupportService) GetConversationMessages(ctx context.Context, conversationID string) (MessageList, error) {
	return getMessages(ctx, s, conversationID, "")
}

// GetNewMessages returns messages newer than since.
func (s SupportService) GetNewMessages(ctx context.Context, conversationID string, since time.Time) (MessageList, error) {
	return getMessages(ctx, s, conversationID, chat.FormatTimestamp(since))
}

func getMessages(ctx context.Context, r Requester, conversationID, since string) (MessageList, error) {
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if since != "" {
		path += "?since=" + url.QueryEscape(since)
	}
	body, err := r.doRaw(ctx, http.MethodGet, r.supportPath(path), nil)
	if err != nil {
		return MessageList{}, err
	}
	now := time.Now()
	return decodeMessageList(body, func(raw []byte) (chat.Message, error) {
		msg, _, err := chat.Normalize(raw, now)
		if err != nil {
			return chat.Message{}, err
		}
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		return msg, nil
	})
}

// SendMessage posts a visitor message. A TempID in the request is also sent as
// the Idempotency-Key header so the client may retry the POST.
func (s SupportService) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (SendMessageResponse, error) {
	return sendMessage(ctx, s, conversationID, req)
}

func sendMessage(ctx context.Context, r Requester, conversationID string, req SendMessageRequest) (SendMessageResponse, error) {
	if req.TempID != "" && IdempotencyKeyFromContext(ctx) == "" {
		ctx = WithIdempotencyKey(ctx, req.TempID)
	}
	var result SendMessageResponse
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if err := r.do(ctx, http.MethodPost, r.supportPath(path), req, &result); err != nil {
		return SendMessageResponse{}, err
	}
	return result, nil
}
