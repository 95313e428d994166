package webserver

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/types"
)

type photo struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	PandalName  string            `json:"pandalName,omitempty"`
	ImageType   string            `json:"imageType"`
	PhotoURL    string            `json:"photoUrl"`
	Coordinates types.Coordinates `json:"coordinates"`
}

type GalleryHandler struct {
	gallery Gallery
	log     *zap.Logger
}

func NewGalleryHandler(g Gallery, log *zap.Logger) GalleryHandler {
	return GalleryHandler{gallery: g, log: log}
}

// List returns the approved photos of a location, newest first.
func (g GalleryHandler) List(c *gin.Context) {
	loc := c.Param("pandalId")
	if loc == "" {
		fail(c, g.log, apperr.Validation("pandalId is required"))
		return
	}
	ctx := c.Request.Context()
	ids, err := g.gallery.ApprovedIDs(ctx, loc)
	if err != nil {
		fail(c, g.log, err)
		return
	}
	subs, err := g.gallery.GetMany(ctx, ids)
	if err != nil {
		fail(c, g.log, err)
		return
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })

	out := make([]photo, 0, len(subs))
	for _, s := range subs {
		if !s.IsApproved() {
			continue
		}
		out = append(out, photo{
			ID:          s.ID,
			Username:    s.Username,
			PandalName:  s.PandalName,
			ImageType:   string(s.ImageType),
			PhotoURL:    s.PhotoURL,
			Coordinates: s.Coordinates,
		})
	}
	c.JSON(http.StatusOK, gin.H{"pandalId": loc, "photos": out})
}

func healthz(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			if err := p.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "redis unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
