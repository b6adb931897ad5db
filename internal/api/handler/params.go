package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// pathID parses the :id path parameter, answering 400 when it is not a UUID.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid resource ID")
		return uuid.Nil, false
	}
	return id, true
}

// bindDocument decodes a JSON:API request body and checks its resource type.
func bindDocument(c *gin.Context, doc interface{}, resourceType func() string, want string) bool {
	if err := c.ShouldBindJSON(doc); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return false
	}
	if got := resourceType(); got != "" && got != want {
		RespondBadRequest(c, "Expected resource of type "+want+", got "+got)
		return false
	}
	return true
}
