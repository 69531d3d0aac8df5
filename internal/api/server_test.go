package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtriage/internal/conversation"
	"github.com/mailtriage/internal/jobqueue"
	"github.com/mailtriage/pkg/models"
)

type fakeJobs struct {
	fetch, handleOne int
	replies          [][2]string
	err              error
}

func (f *fakeJobs) EnqueueFetch(context.Context) error { f.fetch++; return f.err }
func (f *fakeJobs) EnqueueHandleOne(context.Context) error {
	f.handleOne++
	return f.err
}
func (f *fakeJobs) EnqueueReply(_ context.Context, thread, text string) error {
	f.replies = append(f.replies, [2]string{thread, text})
	return f.err
}

type fakeTranscripts map[models.ItemKey]*conversation.Transcript

func (f fakeTranscripts) Transcript(_ context.Context, key models.ItemKey) (*conversation.Transcript, error) {
	t, ok := f[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", conversation.ErrNotFound, key)
	}
	return t, nil
}

const secret = "s3cret"

func newTestServer(jobs *fakeJobs, items fakeTranscripts) *Server {
	return NewServer(Options{Port: 0, SigningSecret: secret}, jobs, items, zerolog.Nop())
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeJobs{}, nil), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestEnqueueEndpoints(t *testing.T) {
	jobs := &fakeJobs{}
	s := newTestServer(jobs, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/v1/fetch", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job":"fetch_mail"`)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/v1/handle-one", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads/1700000000.000100/reply", strings.NewReader(`{"text":"noon works"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = do(t, s, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/threads/1.1/reply", strings.NewReader(`{"text":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	rec = do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1, jobs.fetch)
	assert.Equal(t, 1, jobs.handleOne)
	assert.Equal(t, [][2]string{{"1700000000.000100", "noon works"}}, jobs.replies)
}

func TestEnqueueFullQueue(t *testing.T) {
	s := newTestServer(&fakeJobs{err: fmt.Errorf("%w: cannot queue fetch_mail", jobqueue.ErrQueueFull)}, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/v1/fetch", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetTranscript(t *testing.T) {
	key := models.ItemKey{Type: models.ItemTypeGmail, ID: "m1"}
	items := fakeTranscripts{key: {
		Item:  &models.Item{Type: key.Type, ID: key.ID, Content: "hello"},
		State: conversation.StateAwaitingUserReply,
		Lines: []*models.ChatLine{{Seq: 1, Type: key.Type, ID: key.ID, Role: models.RoleAssistant, Content: "{}"}},
	}}
	s := newTestServer(&fakeJobs{}, items)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/items/gmail/m1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got transcriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "awaiting_user_reply", got.State)
	assert.Equal(t, "hello", got.Item.Content)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, models.RoleAssistant, got.Lines[0].Role)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/items/gmail/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/items/fax/m1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func slackRequest(body string, signWith string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(signWith))
	mac.Write([]byte("v0:" + ts + ":" + body))
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestSlackEvents(t *testing.T) {
	jobs := &fakeJobs{}
	s := newTestServer(jobs, nil)

	rec := do(t, s, slackRequest(`{"type":"url_verification","challenge":"abc"}`, secret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	msg := `{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U1","text":"noon works","ts":"1.2","thread_ts":"1.1"}}`
	rec = do(t, s, slackRequest(msg, secret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][2]string{{"1.1", "noon works"}}, jobs.replies)

	rec = do(t, s, slackRequest(msg, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, jobs.replies, 1)
}

func TestSlackEventsDisabledWithoutSecret(t *testing.T) {
	s := NewServer(Options{}, &fakeJobs{}, nil, zerolog.Nop())
	rec := do(t, s, slackRequest(`{"type":"url_verification","challenge":"abc"}`, ""))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
