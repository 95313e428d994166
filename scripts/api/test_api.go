// Minimal end-to-end smoke test against a running Pujo Pictures API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bigpicture/pujo-pictures/src/api/data"
	"github.com/bigpicture/pujo-pictures/src/api/token"
)

var (
	baseURL   = getenv("API_URL", "http://localhost:8080")
	redisURL  = getenv("REDIS_URL", "redis://localhost:6379/0")
	jwtSecret = os.Getenv("JWT_SECRET")
	pandalID  = getenv("SMOKE_PANDAL_ID", "smoke-test")
	mysqlDSN  = os.Getenv("MYSQL_DSN")
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must match the API's secret")
	}
	ctx := context.Background()
	rdb := mustRedis()
	defer rdb.Close()
	tokens := token.NewManager(jwtSecret, token.DefaultTTL)

	approved := submit()
	expectStatus(ctx, rdb, approved, "pending")
	doGet("/approve/"+mint(tokens, approved), http.StatusOK)
	doGet("/approve/"+mint(tokens, approved), http.StatusOK)
	expectStatus(ctx, rdb, approved, "approved")
	if ok, _ := rdb.SIsMember(ctx, "pandal:"+pandalID+":photos", approved).Result(); !ok {
		log.Fatal("approve: id missing from approved set")
	}

	rejected := submit()
	doGet("/disapprove/"+mint(tokens, rejected), http.StatusOK)
	if n, _ := rdb.Exists(ctx, "submission:"+rejected).Result(); n != 0 {
		log.Fatal("disapprove: record still present")
	}
	doGet("/disapprove/"+mint(tokens, rejected), http.StatusNotFound)
	doGet("/approve/not-a-token", http.StatusUnauthorized)

	if mysqlDSN != "" {
		db, err := data.ConnectMySQL(mysqlDSN)
		if err != nil {
			log.Fatalf("mysql: %v", err)
		}
		defer data.CloseMySQL(db)
		audit := data.NewAuditLog(db)
		expectAudit(ctx, audit, approved, "approve:noop", "approve:applied")
		expectAudit(ctx, audit, rejected, "reject:not_found", "reject:applied")
	}

	fmt.Println("✓ all endpoints passed")
}

// ----------------------------- submit

func submit() string {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	nick := "smoke_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	fields := map[string]string{
		"username":    nick,
		"location":    "smoke test",
		"pandalId":    pandalID,
		"pandalName":  "Smoke Test",
		"coordinates": "[22.5726,88.3639]",
		"imageType":   "pandal",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			log.Fatalf("form: %v", err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="smoke.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		log.Fatalf("form: %v", err)
	}
	if err := jpeg.Encode(part, testImage(), nil); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if err := mw.Close(); err != nil {
		log.Fatalf("form: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/submit", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var resp struct {
		SubmissionID string `json:"submissionId"`
	}
	do(req, http.StatusOK, &resp)
	if resp.SubmissionID == "" {
		log.Fatal("submit: empty submission id")
	}
	return resp.SubmissionID
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x / 3), G: uint8(y / 2), B: 160, A: 255})
		}
	}
	return img
}

// ----------------------------- helpers

func mint(m *token.Manager, id string) string {
	tok, _, err := m.Issue(id)
	if err != nil {
		log.Fatalf("token: %v", err)
	}
	return tok
}

func expectStatus(ctx context.Context, rdb *redis.Client, id, want string) {
	raw, err := rdb.Get(ctx, "submission:"+id).Bytes()
	if err != nil {
		log.Fatalf("redis get %s: %v", id, err)
	}
	var rec struct{ Status string }
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Fatalf("decode %s: %v", id, err)
	}
	if rec.Status != want {
		log.Fatalf("%s: want status %s got %s", id, want, rec.Status)
	}
}

// expectAudit checks the newest audit rows for id, newest first.
func expectAudit(ctx context.Context, audit *data.AuditLog, id string, want ...string) {
	events, err := audit.Recent(ctx, id, len(want))
	if err != nil {
		log.Fatalf("audit %s: %v", id, err)
	}
	got := make([]string, len(events))
	for i, ev := range events {
		got[i] = ev.Action + ":" + ev.Outcome
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		log.Fatalf("audit %s: want %v got %v", id, want, got)
	}
}

func mustRedis() *redis.Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	return redis.NewClient(opt)
}

func doGet(path string, want int) {
	req, _ := http.NewRequest(http.MethodGet, baseURL+path, nil)
	do(req, want, nil)
}

func do(req *http.Request, want int, out any) {
	client := &http.Client{Timeout: 30 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: want %d got %d", req.Method, req.URL.Path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", req.Method, req.URL.Path, err)
		}
	}
}
