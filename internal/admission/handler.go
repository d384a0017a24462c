package admission

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/voxlane/voxlane/internal/api"
	"github.com/voxlane/voxlane/internal/identity"
	"github.com/voxlane/voxlane/internal/usage"
)

var validate = validator.New()

// SubmitRequest is the HTTP body for a transcription submission.
type SubmitRequest struct {
	MediaURL         string  `json:"media_url" validate:"required,url"`
	MediaID          string  `json:"media_id" validate:"required,max=128"`
	Language         string  `json:"language" validate:"omitempty,bcp47_language_tag"`
	Model            string  `json:"model" validate:"omitempty,oneof=standard high_accuracy"`
	EstimatedMinutes float64 `json:"estimated_minutes" validate:"required,gt=0,lte=600"`
}

// Handler exposes the admission pipeline over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Submit runs one transcription request through the pipeline.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := validate.Struct(body); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	model := usage.ModelStandard
	if body.Model == string(usage.ModelHighAccuracy) {
		model = usage.ModelHighAccuracy
	}

	resp, denial, err := h.svc.Submit(r.Context(), Request{
		Caller:           identity.GetCaller(r.Context()),
		MediaURL:         body.MediaURL,
		MediaID:          body.MediaID,
		Language:         body.Language,
		Model:            model,
		EstimatedMinutes: usage.MinutesFromFloat(body.EstimatedMinutes),
	})
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if denial != nil {
		writeDenial(w, denial)
		return
	}

	api.JSON(w, http.StatusOK, resp)
}

func writeDenial(w http.ResponseWriter, denial *Denial) {
	var appErr *api.AppError
	switch denial.Reason {
	case DeniedRateLimit:
		appErr = api.ErrRateLimited
	case DeniedBlocked:
		appErr = api.ErrBlocked
	case DeniedQuota:
		appErr = api.ErrQuotaExceeded
	case DeniedQueueTimeout:
		appErr = api.ErrQueueTimeout
	default:
		appErr = api.ErrInternalServer
	}
	api.JSONDenial(w, appErr.Code, appErr.Message, denial)
}
