package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"faceattend/internal/api/handlers"
	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/checkin"
	"faceattend/internal/clock"
	"faceattend/internal/faceclient"
	"faceattend/internal/gallery"
	"faceattend/internal/queue"
	"faceattend/internal/recognition"
	"faceattend/internal/spool"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	svc    *checkin.Service
	queue  *queue.InMemory
	jobs   *checkin.MemoryJobs
	spool  *spool.Dir
	token  string
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestServer(t *testing.T, checks map[string]handlers.Check) *testServer {
	t.Helper()
	clk := clock.Fake(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))

	faces, err := gallery.OpenDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	csv, err := attendance.OpenCSV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	schedule, err := attendance.NewSchedule("08:30", "17:00")
	if err != nil {
		t.Fatal(err)
	}
	cache := gallery.NewCache(faces, clk, time.Hour)
	ledger := attendance.NewLedger(csv, clk, time.Hour, schedule, attendance.WithLocation(time.UTC))
	engine := recognition.NewEngine(cache, faceclient.New("", true), recognition.Options{ProbeDir: t.TempDir()})

	q := queue.NewInMemory(16)
	jobs := checkin.NewMemoryJobs(clk, time.Hour)
	sp, err := spool.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := checkin.NewService(checkin.Deps{
		Recognizer: engine,
		Ledger:     ledger,
		Faces:      faces,
		Cache:      cache,
		Publisher:  q,
		Clock:      clk,
	})

	ts := &testServer{svc: svc, queue: q, jobs: jobs, spool: sp}
	ts.router = NewRouter(RouterConfig{
		Issuer:          auth.NewIssuer("faceattend", "test-key", time.Hour, 24*time.Hour),
		ProvisioningKey: "provision",
		Service:         svc,
		Dispatcher:      checkin.NewDispatcher(sp, q, jobs, clk),
		Jobs:            jobs,
		Reports:         ledger,
		Checks:          checks,
		Now:             clk.Now,
	})
	ts.token = ts.register(t)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	if ts.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) register(t *testing.T) string {
	t.Helper()
	body := bytes.NewBufferString(`{"device_id":"gate-1","provisioning_key":"provision"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/devices/register", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	var tokens auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &tokens); err != nil {
		t.Fatal(err)
	}
	return tokens.AccessToken
}

func (ts *testServer) enroll(t *testing.T, name, service string, img []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", name)
	mw.WriteField("service", service)
	fw, err := mw.CreateFormFile("image", "face.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(img)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/faces", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := ts.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("enroll: %d %s", w.Code, w.Body.String())
	}
}

func jsonRequest(method, path string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t, map[string]handlers.Check{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w := ts.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "not ready" || body.Checks["store"] != "ok" || body.Checks["redis"] != "connection refused" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestRegisterRejectsBadProvisioningKey(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(jsonRequest(http.MethodPost, "/v1/devices/register", map[string]string{
		"device_id":        "gate-2",
		"provisioning_key": "wrong",
	}))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	if w := ts.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestEnrollThenCheckInAndReports(t *testing.T) {
	ts := newTestServer(t, nil)
	img := testImage(t)
	ts.enroll(t, "alice", "HR", img)

	w := ts.do(jsonRequest(http.MethodPost, "/v1/checkins", map[string]string{
		"type":  "arrival",
		"image": "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("checkin: %d %s", w.Code, w.Body.String())
	}
	var res checkin.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Identity != "alice" || res.LatenessMinutes != 30 {
		t.Fatalf("unexpected result %+v", res)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/v1/attendance?name=alice&date=2024-03-04", nil))
	var history struct {
		Rows  []attendance.AttendanceEvent `json:"rows"`
		Count int                          `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &history)
	if w.Code != http.StatusOK || history.Count != 1 || history.Rows[0].Status != "Late by 30 min" {
		t.Fatalf("unexpected history %d %s", w.Code, w.Body.String())
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/v1/lateness?type=arrival&service=HR", nil))
	var report attendance.LatenessReport
	json.Unmarshal(w.Body.Bytes(), &report)
	if w.Code != http.StatusOK || len(report.Rows) != 1 || report.Stats.MaxMinutes != 30 {
		t.Fatalf("unexpected lateness report %d %s", w.Code, w.Body.String())
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/v1/hours?name=alice&service=HR", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("hours: %d %s", w.Code, w.Body.String())
	}
}

func TestCheckInUnknownFace(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(jsonRequest(http.MethodPost, "/v1/checkins", map[string]string{
		"type":  "departure",
		"image": base64.StdEncoding.EncodeToString(testImage(t)),
	}))
	var res checkin.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || res.OK || res.Code != checkin.CodeNotRecognized {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestCheckInValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := map[string]map[string]string{
		"bad type":   {"type": "lunch", "image": base64.StdEncoding.EncodeToString(testImage(t))},
		"no image":   {"type": "arrival"},
		"not base64": {"type": "arrival", "image": "%%%"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := ts.do(jsonRequest(http.MethodPost, "/v1/checkins", body)); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestReportValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{
		"/v1/attendance?date=04/03/2024",
		"/v1/lateness?type=lunch",
		"/v1/hours?name=alice",
	} {
		if w := ts.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestAsyncCheckIn(t *testing.T) {
	ts := newTestServer(t, nil)
	img := testImage(t)
	ts.enroll(t, "bob", "IT", img)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := checkin.NewWorker(ts.svc, ts.spool, ts.jobs, ts.queue, 1)
	go worker.Run(ctx)

	w := ts.do(jsonRequest(http.MethodPost, "/v1/checkins?async=true", map[string]string{
		"type":  "arrival",
		"image": base64.StdEncoding.EncodeToString(img),
	}))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", w.Code, w.Body.String())
	}
	var job checkin.Job
	json.Unmarshal(w.Body.Bytes(), &job)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = ts.do(httptest.NewRequest(http.MethodGet, "/v1/checkins/jobs/"+job.ID, nil))
		json.Unmarshal(w.Body.Bytes(), &job)
		if job.State == checkin.JobDone {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.State != checkin.JobDone || job.Result == nil || !job.Result.OK || job.Result.Identity != "bob" {
		t.Fatalf("unexpected job %+v", job)
	}

	if w := ts.do(httptest.NewRequest(http.MethodGet, "/v1/checkins/jobs/missing", nil)); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
}
