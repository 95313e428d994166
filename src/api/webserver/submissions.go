package webserver

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/ingest"
	"github.com/bigpicture/pujo-pictures/src/api/media"
)

// multipartSlack covers the text fields and part headers around the photo.
const multipartSlack = 1 << 20

type Submissions struct {
	submitter Submitter
	log       *zap.Logger
}

func NewSubmissions(s Submitter, log *zap.Logger) Submissions {
	return Submissions{submitter: s, log: log}
}

func (s Submissions) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, media.MaxUploadBytes+multipartSlack)

	fh, err := c.FormFile("photo")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, s.log, apperr.Validation("file is too large"))
			return
		}
		fail(c, s.log, apperr.Validation("photo is required"))
		return
	}

	req := ingest.Request{
		ContentType:    fh.Header.Get("Content-Type"),
		Size:           fh.Size,
		Username:       c.PostForm("username"),
		Email:          c.PostForm("email"),
		RedditUsername: c.PostForm("redditUsername"),
		Location:       c.PostForm("location"),
		PandalID:       c.PostForm("pandalId"),
		PandalName:     c.PostForm("pandalName"),
		Coordinates:    c.PostForm("coordinates"),
		ImageType:      c.PostForm("imageType"),
	}
	// reject before reading the body into memory
	if err := media.CheckPhoto(req.ContentType, req.Size); err != nil {
		fail(c, s.log, err)
		return
	}
	req.Photo, err = readPart(fh)
	if err != nil {
		fail(c, s.log, apperr.Validation("could not read photo"))
		return
	}

	id, err := s.submitter.Submit(c.Request.Context(), req)
	if err != nil {
		fail(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissionId": id})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, media.MaxUploadBytes+1))
}
