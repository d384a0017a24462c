package quota

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/voxlane/voxlane/internal/api"
	"github.com/voxlane/voxlane/internal/identity"
	"github.com/voxlane/voxlane/internal/usage"
)

type packLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]usage.MinutePack, error)
}

// Handler exposes quota status and minute packs over HTTP.
type Handler struct {
	svc   *Service
	packs packLister
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, packs packLister) *Handler {
	return &Handler{svc: svc, packs: packs}
}

// Status returns the caller's remaining balances for every quota dimension,
// computed as a zero-minute check.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	caller := identity.GetCaller(r.Context())
	if caller.Anonymous() {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	dec, err := h.svc.Check(r.Context(), *caller.UserID, caller.Tier, 0, usage.ModelStandard)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, struct {
		Tier      usage.Tier    `json:"tier"`
		Limits    Limits        `json:"limits"`
		Remaining Remaining     `json:"remaining"`
		Usage     usage.Summary `json:"usage"`
	}{
		Tier:      caller.Tier,
		Limits:    LimitsFor(caller.Tier),
		Remaining: dec.Remaining,
		Usage:     dec.Usage,
	})
}

// Packs lists the caller's minute packs, active and drained alike.
func (h *Handler) Packs(w http.ResponseWriter, r *http.Request) {
	caller := identity.GetCaller(r.Context())
	if caller.Anonymous() {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	packs, err := h.packs.ListByUser(r.Context(), *caller.UserID)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if packs == nil {
		packs = []usage.MinutePack{}
	}

	now := time.Now()
	type packView struct {
		usage.MinutePack
		Active bool `json:"active"`
	}
	views := make([]packView, 0, len(packs))
	for _, p := range packs {
		views = append(views, packView{MinutePack: p, Active: p.Active(now)})
	}
	api.JSON(w, http.StatusOK, views)
}
