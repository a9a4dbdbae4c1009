package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope for every JSON body the API returns
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// ErrorData describes a failed request
type ErrorData struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// PageMeta is attached to list responses
type PageMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// Success writes 200 with data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// Created writes 201 with data
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// List writes 200 with data and paging metadata
func List(c *gin.Context, data interface{}, meta PageMeta) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

// Body builds an error envelope, for use with AbortWithStatusJSON
func Body(code, message string, details interface{}) Response {
	return Response{
		Success: false,
		Error:   &ErrorData{Code: code, Message: message, Details: details},
	}
}

// Error writes an error envelope
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, Body(code, message, details))
}

// Abort writes an error envelope and stops the handler chain
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Body(code, message, nil))
}

// InternalError hides err from the caller
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil)
}

// BadRequest writes 400
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

// NotFound writes 404
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", message, nil)
}
