package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCase pairs a sentinel error with the status and message the client
// should see when a handler hits it.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

func (cs ErrorCase) matches(err error) bool {
	return cs.Err != nil && errors.Is(err, cs.Err)
}

// RespondWithMappedError writes the response for the first matching case,
// or the fallback when the error is not one the handler anticipates.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	status, message := fallbackStatus, fallbackMessage
	for _, cs := range cases {
		if cs.matches(err) {
			status, message = cs.Status, cs.Message
			break
		}
	}

	c.JSON(status, NewErrorResponse(c, message))
}
