package commenthandler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"whiteboardsync/internal/auth"
	"whiteboardsync/internal/comments"
)

type Handler struct {
	svc comments.IService
}

func New(svc comments.IService) *Handler { return &Handler{svc: svc} }

// Register expects r to sit behind auth.Middleware.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/whiteboards/:id/comments", h.list)
	r.POST("/whiteboards/:id/comments", h.create)
	r.PATCH("/whiteboards/:id/comments/:commentId", h.update)
	r.DELETE("/whiteboards/:id/comments/:commentId", h.delete)
}

// @Summary		List comments
// @Description	Returns the comments of a whiteboard, oldest first.
// @Tags			Comments
// @Param			id		path		string	true	"Whiteboard ID"			default(wb-1)
// @Param			limit	query		int		false	"Max results (0‑200)"	minimum(0)	maximum(200)	default(50)
// @Param			offset	query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200		{array}		comments.Comment
// @Failure		400		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/whiteboards/{id}/comments [get]
func (h *Handler) list(ginCtx *gin.Context) {
	var q ListCommentsQuery
	if err := ginCtx.ShouldBindQuery(&q); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	out, err := h.svc.List(ginCtx.Request.Context(), ginCtx.Param("id"), q.Limit, q.Offset)
	if err != nil {
		ginCtx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, out)
}

// @Summary		Add a comment
// @Description	Stores a comment and notifies everyone in the whiteboard room.
// @Tags			Comments
// @Param			id		path		string				true	"Whiteboard ID"	default(wb-1)
// @Param			body	body		CreateCommentBody	true	"Comment payload"
// @Success		201		{object}	comments.Comment
// @Failure		400		{object}	ErrorResponse
// @Router			/whiteboards/{id}/comments [post]
func (h *Handler) create(ginCtx *gin.Context) {
	var body CreateCommentBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	c, err := h.svc.Create(ginCtx.Request.Context(), ginCtx.Param("id"), auth.UserID(ginCtx), body.Body)
	if err != nil {
		ginCtx.JSON(statusFor(err), &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusCreated, c)
}

// @Summary		Edit or resolve a comment
// @Description	Only the author may change a comment.
// @Tags			Comments
// @Param			id			path		string				true	"Whiteboard ID"	default(wb-1)
// @Param			commentId	path		string				true	"Comment ID"
// @Param			body		body		UpdateCommentBody	true	"Fields to change"
// @Success		200			{object}	comments.Comment
// @Failure		400			{object}	ErrorResponse
// @Failure		404			{object}	ErrorResponse
// @Router			/whiteboards/{id}/comments/{commentId} [patch]
func (h *Handler) update(ginCtx *gin.Context) {
	var body UpdateCommentBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	if body.Body == nil && body.Resolved == nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: "nothing to update"})
		return
	}
	c, err := h.svc.Update(ginCtx.Request.Context(),
		ginCtx.Param("id"),
		ginCtx.Param("commentId"),
		auth.UserID(ginCtx),
		comments.Patch{Body: body.Body, Resolved: body.Resolved},
	)
	if err != nil {
		ginCtx.JSON(statusFor(err), &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.JSON(http.StatusOK, c)
}

// @Summary		Delete a comment
// @Tags			Comments
// @Param			id			path	string	true	"Whiteboard ID"	default(wb-1)
// @Param			commentId	path	string	true	"Comment ID"
// @Success		204
// @Failure		404	{object}	ErrorResponse
// @Router			/whiteboards/{id}/comments/{commentId} [delete]
func (h *Handler) delete(ginCtx *gin.Context) {
	err := h.svc.Delete(ginCtx.Request.Context(), ginCtx.Param("id"), ginCtx.Param("commentId"), auth.UserID(ginCtx))
	if err != nil {
		ginCtx.JSON(statusFor(err), &ErrorResponse{Error: err.Error()})
		return
	}
	ginCtx.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, comments.ErrEmptyBody):
		return http.StatusBadRequest
	case errors.Is(err, comments.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
