package api

import "github.com/gin-gonic/gin"

// All endpoints share one envelope: {success, message?, data?} on the
// happy path, {success:false, error:{code,message}} otherwise. Internal
// detail never leaks through the generic failure message.

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

type paginatedEnvelope struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func respondOK(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorEnvelope{Success: false, Error: errorBody{Code: code, Message: message}})
}

func respondPaginated(c *gin.Context, status int, data any, p pagination) {
	c.JSON(status, paginatedEnvelope{Success: true, Data: data, Pagination: p})
}

type tokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type extractRequest struct {
	TaskID     string `json:"task_id" binding:"required"`
	PageNumber int    `json:"page_number"`
}

type taskSummary struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	Filename  string `json:"filename"`
	Language  string `json:"language"`
	CreatedAt string `json:"created_at"`
}
