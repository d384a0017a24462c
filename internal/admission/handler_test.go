package admission

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/internal/identity"
	"github.com/voxlane/voxlane/internal/ratelimit"
)

func submitViaHTTP(t *testing.T, p *testPipeline, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := identity.Middleware(identity.NewResolver(""))(http.HandlerFunc(NewHandler(p.svc).Submit))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSubmit_Success(t *testing.T) {
	p := newTestPipeline()

	rec := submitViaHTTP(t, p, `{
		"media_url": "https://cdn.example.com/audio.mp3",
		"media_id": "media-1",
		"model": "standard",
		"estimated_minutes": 3
	}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			JobID         string  `json:"job_id"`
			Duration      float64 `json:"duration_seconds"`
			BilledMinutes float64 `json:"billed_minutes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.JobID)
	assert.Equal(t, 150.0, resp.Data.Duration)
	assert.Equal(t, 2.5, resp.Data.BilledMinutes)
}

func TestHandlerSubmit_MalformedJSON(t *testing.T) {
	p := newTestPipeline()
	rec := submitViaHTTP(t, p, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSubmit_ValidationFailures(t *testing.T) {
	p := newTestPipeline()

	tests := []struct {
		name string
		body string
	}{
		{"missing media_url", `{"media_id": "m", "estimated_minutes": 3}`},
		{"bad media_url", `{"media_url": "not a url", "media_id": "m", "estimated_minutes": 3}`},
		{"missing media_id", `{"media_url": "https://x.example/a.mp3", "estimated_minutes": 3}`},
		{"zero estimate", `{"media_url": "https://x.example/a.mp3", "media_id": "m", "estimated_minutes": 0}`},
		{"estimate too large", `{"media_url": "https://x.example/a.mp3", "media_id": "m", "estimated_minutes": 601}`},
		{"unknown model", `{"media_url": "https://x.example/a.mp3", "media_id": "m", "model": "turbo", "estimated_minutes": 3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := submitViaHTTP(t, p, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandlerSubmit_DenialStatusCodes(t *testing.T) {
	body := `{"media_url": "https://x.example/a.mp3", "media_id": "m", "estimated_minutes": 3}`

	t.Run("rate limited answers 429 with details", func(t *testing.T) {
		p := newTestPipeline()
		p.limiter.res = ratelimit.Result{Allowed: false}

		rec := submitViaHTTP(t, p, body)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		var resp struct {
			Error   string `json:"error"`
			Details struct {
				Reason string `json:"reason"`
			} `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, string(DeniedRateLimit), resp.Details.Reason)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("blocked answers 429", func(t *testing.T) {
		p := newTestPipeline()
		p.detector.blockedSeq = []bool{true}

		rec := submitViaHTTP(t, p, body)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("queue timeout answers 503", func(t *testing.T) {
		p := newTestPipeline()
		p.queue.picked = false

		rec := submitViaHTTP(t, p, body)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestWriteDenial_QuotaAnswers402(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDenial(rec, &Denial{Reason: DeniedQuota})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}
