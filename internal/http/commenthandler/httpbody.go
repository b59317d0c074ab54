package commenthandler

type CreateCommentBody struct {
	Body string `json:"body" binding:"required,max=4000" example:"Can we align these boxes?"`
} // @name CreateCommentRequest

// UpdateCommentBody changes only the fields present in the request.
type UpdateCommentBody struct {
	Body     *string `json:"body"     binding:"omitempty,max=4000" example:"Aligned, thanks"`
	Resolved *bool   `json:"resolved" example:"true"`
} // @name UpdateCommentRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListCommentsQuery struct {
	Limit  int `form:"limit,default=50" binding:"gte=0,lte=200"`
	Offset int `form:"offset,default=0" binding:"gte=0"`
} // @name ListCommentsQuery
