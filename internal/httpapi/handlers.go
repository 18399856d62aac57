package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"saytruth/internal/domain"
	"saytruth/internal/service"
)

// LinkResponse is a link as returned to its creator.
type LinkResponse struct {
	ID           string    `json:"id"`
	PublicToken  string    `json:"public_token"`
	PrivateToken string    `json:"private_token"`
	DisplayName  string    `json:"display_name"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       string    `json:"status"`
}

func linkResponse(l domain.Link) LinkResponse {
	return LinkResponse{
		ID:           l.ID,
		PublicToken:  l.PublicToken,
		PrivateToken: l.PrivateToken,
		DisplayName:  l.DisplayName,
		CreatedAt:    l.CreatedAt,
		ExpiresAt:    l.ExpiresAt,
		Status:       string(l.Status),
	}
}

// MessageResponse is one decrypted message. Content is omitted on submit.
type MessageResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLinkRequest is the body of POST /api/links.
type CreateLinkRequest struct {
	DisplayName string `json:"display_name"`
	Duration    string `json:"duration" binding:"required"`
}

// CreateLink creates a link owned by the caller, or a guest link.
func (s *Server) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		APIError(c, errBadRequest{err})
		return
	}

	link, err := s.registry.CreateLink(c.Request.Context(), injectIdentity(c), req.DisplayName, req.Duration, rateKey(c))
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusCreated, linkResponse(link))
}

// ListOwnedLinks lists the caller's links.
func (s *Server) ListOwnedLinks(c *gin.Context) {
	owner, _ := injectIdentity(c).Get()
	links, err := s.registry.ListOwned(c.Request.Context(), owner)
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, lo.Map(links, func(l domain.Link, _ int) LinkResponse {
		return linkResponse(l)
	}))
}

// DeleteLink deletes one of the caller's links.
func (s *Server) DeleteLink(c *gin.Context) {
	if err := s.registry.DeleteLink(c.Request.Context(), injectIdentity(c), c.Param("id")); err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, nil)
}

// GetLinkInfo returns what a submitter may see about a link.
func (s *Server) GetLinkInfo(c *gin.Context) {
	info, err := s.registry.LinkInfo(c.Request.Context(), c.Param("token"))
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, info)
}

// SubmitMessageRequest is the body of an anonymous submission.
type SubmitMessageRequest struct {
	Content string `json:"content"`
}

// SubmitMessage stores an anonymous message for the link behind the public token.
func (s *Server) SubmitMessage(c *gin.Context) {
	var req SubmitMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		APIError(c, errBadRequest{err})
		return
	}

	msg, err := s.messages.Submit(c.Request.Context(), c.Param("token"), req.Content, rateKey(c))
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusCreated, MessageResponse{ID: msg.ID, CreatedAt: msg.CreatedAt})
}

// ListInboxRequest holds the paging query of inbox listings.
type ListInboxRequest struct {
	Offset int `form:"offset" binding:"min=0"`
	Limit  int `form:"limit" binding:"min=0"`
}

// InboxResponse is one page of a link's inbox.
type InboxResponse struct {
	DisplayName string            `json:"display_name"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Messages    []MessageResponse `json:"messages"`
	Total       int               `json:"total"`
	Offset      int               `json:"offset"`
	Limit       int               `json:"limit"`
	HasMore     bool              `json:"has_more"`
}

// ListInbox pages the inbox behind the private token.
func (s *Server) ListInbox(c *gin.Context) {
	var req ListInboxRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		APIError(c, errBadRequest{err})
		return
	}

	page, err := s.messages.ListPage(c.Request.Context(), c.Param("token"), req.Offset, req.Limit)
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, InboxResponse{
		DisplayName: page.Link.DisplayName,
		ExpiresAt:   page.Link.ExpiresAt,
		Messages: lo.Map(page.Messages, func(m domain.Message, _ int) MessageResponse {
			return MessageResponse{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt}
		}),
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
		HasMore: page.HasMore,
	})
}

// PromoteMessage marks an inbox message public.
func (s *Server) PromoteMessage(c *gin.Context) {
	s.changeStatus(c, s.messages.Promote)
}

// DemoteMessage returns a public message to the inbox.
func (s *Server) DemoteMessage(c *gin.Context) {
	s.changeStatus(c, s.messages.Demote)
}

func (s *Server) changeStatus(c *gin.Context, op func(ctx context.Context, token, id string) error) {
	if err := op(c.Request.Context(), c.Param("token"), c.Param("id")); err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, nil)
}

// DeleteMessage deletes one inbox message.
func (s *Server) DeleteMessage(c *gin.Context) {
	if err := s.messages.Delete(c.Request.Context(), c.Param("token"), c.Param("id")); err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, nil)
}

// SendDirectRequest is the body of POST /api/direct.
type SendDirectRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Content   string `json:"content"`
}

// SendDirect delivers a direct message to a registered handle.
func (s *Server) SendDirect(c *gin.Context) {
	var req SendDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		APIError(c, errBadRequest{err})
		return
	}

	msg, err := s.messages.SendDirect(c.Request.Context(), injectIdentity(c), req.Recipient, req.Content, rateKey(c))
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusCreated, MessageResponse{ID: msg.ID, CreatedAt: msg.CreatedAt})
}

// DirectPageResponse is one page of a direct-message section.
type DirectPageResponse struct {
	Section  string            `json:"section"`
	Messages []MessageResponse `json:"messages"`
	Total    int               `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
	HasMore  bool              `json:"has_more"`
}

// DirectSectionsResponse pages every direct-message section at once.
type DirectSectionsResponse struct {
	Inbox    DirectPageResponse `json:"inbox"`
	Public   DirectPageResponse `json:"public"`
	Favorite DirectPageResponse `json:"favorite"`
}

// DeletedResponse reports how many messages a bulk delete removed.
type DeletedResponse struct {
	Deleted int `json:"deleted"`
}

func directPageResponse(p service.DirectPage) DirectPageResponse {
	return DirectPageResponse{
		Section: string(p.Section),
		Messages: lo.Map(p.Messages, func(m domain.DirectMessage, _ int) MessageResponse {
			return MessageResponse{ID: m.ID, Content: m.Content, SenderID: m.SenderID, CreatedAt: m.CreatedAt}
		}),
		Total:   p.Total,
		Offset:  p.Offset,
		Limit:   p.Limit,
		HasMore: p.HasMore,
	}
}

// ListDirect pages the caller's inbox, public and favorite sections.
func (s *Server) ListDirect(c *gin.Context) {
	var req ListInboxRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		APIError(c, errBadRequest{err})
		return
	}

	recipient, _ := injectIdentity(c).Get()
	sections, err := s.messages.ListDirectSections(c.Request.Context(), recipient, req.Offset, req.Limit)
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, DirectSectionsResponse{
		Inbox:    directPageResponse(sections.Inbox),
		Public:   directPageResponse(sections.Public),
		Favorite: directPageResponse(sections.Favorite),
	})
}

// ListDirectSection pages one of the caller's direct-message sections.
func (s *Server) ListDirectSection(c *gin.Context) {
	var req ListInboxRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		APIError(c, errBadRequest{err})
		return
	}

	recipient, _ := injectIdentity(c).Get()
	section := domain.MessageStatus(c.Param("section"))
	page, err := s.messages.ListDirectPage(c.Request.Context(), recipient, section, req.Offset, req.Limit)
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, directPageResponse(page))
}

// ClearDirectSection deletes every direct message in one of the caller's
// sections.
func (s *Server) ClearDirectSection(c *gin.Context) {
	recipient, _ := injectIdentity(c).Get()
	section := domain.MessageStatus(c.Param("section"))
	n, err := s.messages.ClearDirectSection(c.Request.Context(), recipient, section)
	if err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, DeletedResponse{Deleted: n})
}

// MoveDirect returns a handler filing the caller's direct message under
// section.
func (s *Server) MoveDirect(section domain.MessageStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		recipient, _ := injectIdentity(c).Get()
		if err := s.messages.MoveDirect(c.Request.Context(), recipient, c.Param("id"), section); err != nil {
			APIError(c, err)
			return
		}
		APISuccess(c, http.StatusOK, nil)
	}
}

// DeleteDirect deletes one of the caller's direct messages.
func (s *Server) DeleteDirect(c *gin.Context) {
	recipient, _ := injectIdentity(c).Get()
	if err := s.messages.DeleteDirect(c.Request.Context(), recipient, c.Param("id")); err != nil {
		APIError(c, err)
		return
	}
	APISuccess(c, http.StatusOK, nil)
}
