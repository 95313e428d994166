package webserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/moderation"
)

type Moderation struct {
	moderator Moderator
	log       *zap.Logger
}

func NewModeration(m Moderator, log *zap.Logger) Moderation {
	return Moderation{moderator: m, log: log}
}

func (m Moderation) Approve(c *gin.Context) {
	m.act(c, m.moderator.Approve)
}

func (m Moderation) Disapprove(c *gin.Context) {
	m.act(c, m.moderator.Reject)
}

func (m Moderation) act(c *gin.Context, action func(context.Context, string) (moderation.Result, error)) {
	// a moderator's click is not cancelled by closing the tab
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := action(ctx, c.Param("token"))
	if err != nil {
		fail(c, m.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": res.Message()})
}
