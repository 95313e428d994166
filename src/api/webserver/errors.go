package webserver

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
)

// fail writes err as {"error": ...} with the status of its kind. Internal
// detail only reaches the log.
func fail(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= 500 {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", kind.String()),
			zap.String("collaborator", apperr.CollaboratorOf(err)),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.PublicMessage(err)})
}
