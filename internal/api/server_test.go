package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reportmailer/internal/auth"
	"github.com/reportmailer/internal/database"
	"github.com/reportmailer/internal/logger"
	"github.com/reportmailer/internal/models"
	"github.com/reportmailer/internal/queue"
	"github.com/reportmailer/internal/report"
	"github.com/reportmailer/internal/schedule"
	"github.com/reportmailer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	artifact *report.Artifact
	err      error
}

func (f *fakeDownloader) Download(context.Context, uint) (*report.Artifact, error) {
	return f.artifact, f.err
}

type fakeTester struct{ err error }

func (f *fakeTester) TestConnection(context.Context, models.DatabaseConnection) error { return f.err }

type fakeMetrics struct{}

func (fakeMetrics) GetMetrics() map[string]interface{} {
	return map[string]interface{}{"processed": 7}
}

type env struct {
	server     *Server
	store      *store.Store
	queue      *queue.Queue
	downloader *fakeDownloader
	tester     *fakeTester
}

func newEnv(t *testing.T, secret string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	st := store.New(db, store.Options{})
	q := queue.New(db)
	sched := schedule.New(st, q, queue.DefaultRetryPolicy(), time.UTC, logger.Discard())

	e := &env{
		store:      st,
		queue:      q,
		downloader: &fakeDownloader{},
		tester:     &fakeTester{},
	}
	e.server = NewServer(Options{
		Store:     st,
		Scheduler: sched,
		Reports:   e.downloader,
		Tester:    e.tester,
		Worker:    fakeMetrics{},
		JWTSecret: secret,
		Logger:    logger.Discard(),
	})
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *env) seedQuery(t *testing.T) uint {
	t.Helper()
	conn := &models.DatabaseConnection{Name: "wh", Backend: models.BackendMySQL, Host: "db", Password: "pw"}
	require.NoError(t, e.store.CreateConnection(context.Background(), conn))
	q := &models.SqlQuery{Name: "Sales", DatabaseID: conn.ID, SQLText: "SELECT 1"}
	require.NoError(t, e.store.CreateQuery(context.Background(), q))
	return q.ID
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, "s3cret")
	w := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(7), body["worker"].(map[string]any)["processed"])
}

func TestCreateReport_WithRecurringSchedule(t *testing.T) {
	e := newEnv(t, "")
	qid := e.seedQuery(t)

	w := e.do(t, http.MethodPost, "/api/v1/reports", gin.H{
		"name":      "Daily",
		"query_ids": []uint{qid},
		"emails":    []gin.H{{"email": "to@example.com", "type": "to"}},
		"schedule":  gin.H{"is_periodic": true, "periodic_type": "daily", "periodic_time": "08:30"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[reportResponse](t, w)
	assert.Equal(t, "RPT00001", resp.Report.Code)
	require.NotNil(t, resp.Schedule)
	assert.Equal(t, models.ScheduleKindRecurring, resp.Schedule.Kind)
	assert.Equal(t, "30 8 * * *", resp.Schedule.CronExpr)
	assert.NotContains(t, w.Body.String(), `"password"`)
}

func TestCreateReport_InvalidScheduleRejected(t *testing.T) {
	e := newEnv(t, "")

	w := e.do(t, http.MethodPost, "/api/v1/reports", gin.H{
		"name":     "Bad",
		"schedule": gin.H{"is_periodic": true, "periodic_type": "daily", "periodic_time": "25:00"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "periodic_time", decode[map[string]any](t, w)["field"])

	_, err := e.store.GetReport(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateReport_NameRequired(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(t, http.MethodPost, "/api/v1/reports", gin.H{"subject": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateReport_ClearsSchedule(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(t, http.MethodPost, "/api/v1/reports", gin.H{
		"name":     "R",
		"schedule": gin.H{"is_periodic": true, "periodic_type": "weekly", "periodic_time": "07:00", "periodic_weekday": "mon"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[reportResponse](t, w).Report.ID

	w = e.do(t, http.MethodPut, fmt.Sprintf("/api/v1/reports/%d", id), gin.H{"name": "R2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[reportResponse](t, w)
	assert.Equal(t, "R2", resp.Report.Name)
	assert.Nil(t, resp.Schedule)

	_, err := e.store.RegistrationForReport(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScheduleAndUnschedule(t *testing.T) {
	e := newEnv(t, "")
	r, err := e.store.CreateReport(context.Background(), store.ReportInput{Name: "R"})
	require.NoError(t, err)

	when := time.Now().Add(2 * time.Hour).UTC()
	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/schedule", r.ID), gin.H{"execute_at": when})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reg := decode[models.ScheduleRegistration](t, w)
	assert.Equal(t, models.ScheduleKindOnce, reg.Kind)

	task, err := e.queue.Get(context.Background(), reg.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	w = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/schedules/%d", reg.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err = e.queue.Get(context.Background(), reg.TaskID)
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)

	w = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/schedules/%d", reg.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleReport_PersistsSpecOnReport(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(t, http.MethodPost, "/api/v1/reports", gin.H{
		"name":     "R",
		"schedule": gin.H{"is_periodic": true, "periodic_type": "daily", "periodic_time": "08:30"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[reportResponse](t, w).Report.ID

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/schedule", id),
		gin.H{"is_periodic": true, "periodic_type": "monthly", "periodic_time": "06:15", "periodic_monthday": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reg := decode[models.ScheduleRegistration](t, w)
	assert.Equal(t, "15 6 3 * *", reg.CronExpr)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Report](t, w)
	assert.Equal(t, models.ScheduleSpec{Periodic: true, Type: models.PeriodicityMonthly, Time: "06:15", Monthday: 3}, got.Schedule)

	w = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/schedules/%d", reg.ID), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Report](t, w).Schedule.IsZero())
}

func TestScheduleReport_UnknownReport(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(t, http.MethodPost, "/api/v1/reports/99/schedule", gin.H{"is_periodic": true, "periodic_type": "daily", "periodic_time": "08:00"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunReport_Enqueues(t *testing.T) {
	e := newEnv(t, "")
	qid := e.seedQuery(t)
	r, err := e.store.CreateReport(context.Background(), store.ReportInput{Name: "R", QueryIDs: []uint{qid}})
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/run", r.ID), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	taskID := decode[map[string]string](t, w)["task_id"]
	task, err := e.queue.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskKindReportRun, task.Kind)

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/run?query_id=%d", r.ID, qid), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	task, err = e.queue.Get(context.Background(), decode[map[string]string](t, w)["task_id"])
	require.NoError(t, err)
	assert.Equal(t, models.TaskKindQueryRun, task.Kind)

	w = e.do(t, http.MethodPost, "/api/v1/reports/404/run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodPost, "/api/v1/reports/abc/run", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadReport(t *testing.T) {
	e := newEnv(t, "")
	e.downloader.artifact = &report.Artifact{Filename: "RPT00001_R_20240101000000.xlsx", MimeType: "application/x-test", Data: []byte("xlsx")}

	w := e.do(t, http.MethodGet, "/api/v1/reports/1/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-test", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="RPT00001_R_20240101000000.xlsx"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "xlsx", w.Body.String())

	e.downloader.err = fmt.Errorf("%w: RPT00001", report.ErrNoQueries)
	w = e.do(t, http.MethodGet, "/api/v1/reports/1/download", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReportLogs(t *testing.T) {
	e := newEnv(t, "")
	r, err := e.store.CreateReport(context.Background(), store.ReportInput{Name: "R"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.store.Record(context.Background(), r.ID, nil, "run", models.LogStatusSuccess, fmt.Sprintf("entry %d", i)))
	}

	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d/logs?limit=2", r.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]models.ReportExecutionLog](t, w)
	require.Len(t, logs, 2)
	assert.Equal(t, "entry 2", logs[0].Message)
}

func TestSQLParameters(t *testing.T) {
	e := newEnv(t, "")
	w := e.do(t, http.MethodPost, "/api/v1/sql/parameters", gin.H{"sql": "SELECT * FROM t WHERE a = :a AND b = :b AND c = :a"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"parameters":["a","b"]}`, w.Body.String())
}

func TestConnections(t *testing.T) {
	e := newEnv(t, "")

	w := e.do(t, http.MethodPost, "/api/v1/connections", gin.H{"name": "wh", "backend": "sqlserver", "host": "db"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/connections", gin.H{"name": "wh", "backend": "postgres", "host": "db", "password": "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "pw")
	conn := decode[models.DatabaseConnection](t, w)

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/connections/%d/test", conn.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	e.tester.err = errors.New("connect to postgres: connection refused")
	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/connections/%d/test", conn.ID), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestQueries_DeleteInUse(t *testing.T) {
	e := newEnv(t, "")
	qid := e.seedQuery(t)
	r, err := e.store.CreateReport(context.Background(), store.ReportInput{Name: "R", QueryIDs: []uint{qid}})
	require.NoError(t, err)
	require.NoError(t, e.store.Record(context.Background(), r.ID, &qid, "run", models.LogStatusSuccess, "ok"))

	w := e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/queries/%d", qid), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/queries", gin.H{"name": "Q", "sql_text": "SELECT 2", "database_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteReport(t *testing.T) {
	e := newEnv(t, "")
	r, err := e.store.CreateReport(context.Background(), store.ReportInput{Name: "R"})
	require.NoError(t, err)

	w := e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/reports/%d", r.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d", r.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t, "s3cret")

	w := e.do(t, http.MethodPost, "/api/v1/sql/parameters", gin.H{"sql": "SELECT 1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := auth.GenerateToken("s3cret", "cli", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sql/parameters", bytes.NewBufferString(`{"sql":"SELECT :x"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
