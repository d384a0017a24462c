//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/internal/usage"
)

var mediaSeq atomic.Int64

func uniqueMediaID() string {
	return fmt.Sprintf("media-%d-%d", time.Now().UnixNano(), mediaSeq.Add(1))
}

func TestAdmission_AuthenticatedSubmitBillsMeasuredMinutes(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := SessionToken(t, userID, "pro")

	resp := DoRequest(t, env, "POST", "/api/v1/transcriptions", SubmitBody(uniqueMediaID(), 3), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	assert.Equal(t, 150.0, data["duration_seconds"])
	assert.Equal(t, 2.5, data["billed_minutes"])

	// The measured minutes land in the ledger, not the estimate.
	summary, err := env.UsageRepo.Summarize(context.Background(), userID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RequestsToday)
	assert.Equal(t, usage.MinutesFromFloat(2.5), summary.MonthMinutes)
}

func TestAdmission_PackFundedMinutesDoNotHitPlanUsage(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	token := SessionToken(t, userID, "pro")

	_, err := env.PackRepo.Grant(ctx, userID, usage.WholeMinutes(30), time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	resp := DoRequest(t, env, "POST", "/api/v1/transcriptions", SubmitBody(uniqueMediaID(), 3), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ParseResponse(t, resp)

	// 2.5 measured minutes came out of the pack.
	avail, err := env.PackRepo.Available(ctx, userID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, usage.MinutesFromFloat(27.5), avail)

	summary, err := env.UsageRepo.Summarize(ctx, userID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, usage.Minutes(0), summary.MonthMinutes)
}

func TestAdmission_AnonymousSubmitIsRateLimited(t *testing.T) {
	env := SetupTestEnv(t)

	// The anonymous policy allows 3 per window; the fourth answers 429.
	var lastStatus int
	for i := 0; i < 4; i++ {
		resp := DoRequest(t, env, "POST", "/api/v1/transcriptions", SubmitBody(uniqueMediaID(), 1), "")
		lastStatus = resp.StatusCode
		if i < 3 {
			require.Equal(t, http.StatusOK, resp.StatusCode, "request %d should pass", i+1)
		}
		resp.Body.Close()
	}
	assert.Equal(t, http.StatusTooManyRequests, lastStatus)
}

func TestAdmission_FreeTierQuotaDenialAnswers402(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	token := SessionToken(t, userID, "free")

	// Exhaust the free monthly allowance directly in the ledger.
	require.NoError(t, env.UsageRepo.Insert(ctx, usage.Record{
		UserID:           userID,
		Minutes:          usage.WholeMinutes(60),
		ModelType:        usage.ModelStandard,
		SubscriptionType: "free",
	}))

	resp := DoRequest(t, env, "POST", "/api/v1/transcriptions", SubmitBody(uniqueMediaID(), 5), token)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	result := ParseResponse(t, resp)
	details := result["details"].(map[string]any)
	assert.Equal(t, "quota_exceeded", details["reason"])
}

func TestAdmission_QuotaStatusEndpoint(t *testing.T) {
	env := SetupTestEnv(t)
	userID := uuid.New()
	token := SessionToken(t, userID, "basic")

	resp := DoRequest(t, env, "GET", "/api/v1/quota", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	assert.Equal(t, "basic", data["tier"])

	remaining := data["remaining"].(map[string]any)
	assert.Equal(t, float64(50), remaining["daily_requests"])
	assert.Equal(t, float64(300), remaining["monthly_minutes"])
}

func TestAdmission_QuotaStatusUnauthenticated(t *testing.T) {
	env := SetupTestEnv(t)

	resp := DoRequest(t, env, "GET", "/api/v1/quota", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestAdmission_PacksEndpoint(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()
	token := SessionToken(t, userID, "pro")

	_, err := env.PackRepo.Grant(ctx, userID, usage.WholeMinutes(15), time.Now().Add(24*time.Hour))
	require.NoError(t, err)

	resp := DoRequest(t, env, "GET", "/api/v1/packs", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := ParseResponse(t, resp)
	packs := result["data"].([]any)
	require.Len(t, packs, 1)
	pack := packs[0].(map[string]any)
	assert.Equal(t, float64(15), pack["minutes_left"])
	assert.Equal(t, true, pack["active"])
}

func TestAdmission_HealthAndMetrics(t *testing.T) {
	env := SetupTestEnv(t)

	resp := DoRequest(t, env, "GET", "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = DoRequest(t, env, "GET", "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
