package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/komunitin/komunitin-sub000/internal/federation"
)

// abort ends the request with a JSON:API error document.
func abort(c *gin.Context, status int, code, title string) {
	body := gin.H{
		"errors": []gin.H{{
			"status": strconv.Itoa(status),
			"code":   code,
			"title":  title,
		}},
	}
	if id := GetCorrelationID(c); id != "" {
		body["meta"] = gin.H{"correlationId": id}
	}
	c.Header("Content-Type", federation.MediaType)
	c.AbortWithStatusJSON(status, body)
}
