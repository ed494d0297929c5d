package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope for every JSON reply.
type APIResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// DataResponse writes data under statusCode.
func DataResponse(c echo.Context, statusCode int, data any) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// SuccessResponse writes a 200 reply.
func SuccessResponse(c echo.Context, data any) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse writes a 400 reply.
func BadRequestResponse(c echo.Context, data any) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// ErrorResponse writes statusCode with the error text.
func ErrorResponse(c echo.Context, statusCode int, err error) error {
	return DataResponse(c, statusCode, err.Error())
}
