package media

import (
	"encoding/json"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/types"
)

// MaxUploadBytes is the largest photo accepted.
const MaxUploadBytes = 6 << 20

const (
	maxNicknameLen = 20
	maxHandleLen   = 20
	maxTextLen     = 200
)

var (
	nicknameRe = regexp.MustCompile(`^[A-Za-z0-9 _]+$`)
	handleRe   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	sanitizer  = bluemonday.StrictPolicy()
)

// CheckPhoto validates the declared content type and size of an upload.
func CheckPhoto(contentType string, size int64) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(ct, "image/") {
		return apperr.Validation("invalid file type")
	}
	if size <= 0 {
		return apperr.Validation("photo is empty")
	}
	if size > MaxUploadBytes {
		return apperr.Validation("file is too large")
	}
	return nil
}

func CheckNickname(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("username is required")
	}
	if utf8.RuneCountInString(name) > maxNicknameLen {
		return "", apperr.Validation("username must be at most %d characters", maxNicknameLen)
	}
	if !nicknameRe.MatchString(name) {
		return "", apperr.Validation("username may only contain letters, digits, spaces and underscores")
	}
	return name, nil
}

func CheckEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("invalid email")
	}
	return email, nil
}

// CheckHandle validates an optional external (reddit) handle; a leading
// "u/" is dropped.
func CheckHandle(handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(strings.TrimPrefix(handle, "/"), "u/")
	if handle == "" {
		return "", nil
	}
	if len(handle) > maxHandleLen || !handleRe.MatchString(handle) {
		return "", apperr.Validation("invalid reddit username")
	}
	return handle, nil
}

func CheckCategory(raw string) (types.ImageCategory, error) {
	c, ok := types.ParseImageCategory(raw)
	if !ok {
		return "", apperr.Validation("invalid image type")
	}
	return c, nil
}

// ParseCoordinates reads a JSON [lat,lng] pair.
func ParseCoordinates(raw string) (types.Coordinates, error) {
	var pair []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &pair); err != nil || len(pair) != 2 {
		return types.Coordinates{}, apperr.Validation("coordinates must be a JSON [lat,lng] array")
	}
	c := types.Coordinates{pair[0], pair[1]}
	if !c.Valid() {
		return types.Coordinates{}, apperr.Validation("coordinates out of range")
	}
	return c, nil
}

// CleanText strips markup from free text and bounds its length.
func CleanText(s string) string {
	s = strings.TrimSpace(sanitizer.Sanitize(s))
	if utf8.RuneCountInString(s) > maxTextLen {
		s = string([]rune(s)[:maxTextLen])
	}
	return s
}
