/*
scenarios.go - Demo data loaders for testing and demonstrations

PURPOSE:

	Provides pre-built data sets that populate a fresh program with a
	realistic catalog and voucher batches for demos and manual testing.

AVAILABLE SCENARIOS:

	starter-catalog:  Four rewards across price points, one out of stock
	launch-batch:     100 vouchers on the standard 50/40/10 tiers
	promo-split:      20 vouchers, 70% worth 10 points and 30% worth 100

HOW SCENARIOS WORK:
 1. Look up the scenario by id
 2. Create its rewards and batches through the engine
 3. Return what was created

USAGE VIA API:

	POST /api/admin/scenarios/load
	{"scenario_id": "starter-catalog"}

NOTE:

	Scenarios only add data. Loading one twice creates a second copy.

SEE ALSO:
  - handlers.go: Endpoint list
  - loyalty/tiers.go: Tier presets
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/points-engine/loyalty"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-catalog",
		Name:        "Starter Catalog",
		Description: "Coffee, cinema, headphones and an out-of-stock gift card",
	},
	{
		ID:          "launch-batch",
		Name:        "Launch Batch",
		Description: "100 vouchers on the standard 50/40/10 tiers",
	},
	{
		ID:          "promo-split",
		Name:        "Promo Split",
		Description: "20 vouchers, 70% worth 10 points and 30% worth 100",
	},
}

var starterCatalog = []loyalty.RewardInput{
	{Name: "Coffee Voucher", Description: "One coffee at any partner cafe", Cost: 500, Stock: 100, Active: true},
	{Name: "Movie Ticket", Description: "Standard 2D screening", Cost: 1500, Stock: 50, Active: true},
	{Name: "Wireless Headphones", Description: "Over-ear, noise cancelling", Cost: 5000, Stock: 10, Active: true},
	{Name: "Gift Card", Description: "Restocked monthly", Cost: 2000, Stock: 0, Active: true},
}

type scenarioLoader func(ctx context.Context, e *loyalty.Engine) (LoadScenarioResponse, error)

var scenarioLoaders = map[string]scenarioLoader{
	"starter-catalog": loadStarterCatalog,
	"launch-batch": func(ctx context.Context, e *loyalty.Engine) (LoadScenarioResponse, error) {
		return loadBatch(ctx, e, loyalty.BatchSpec{Name: "Launch Campaign", Count: 100, Tiers: loyalty.StandardTiers()})
	},
	"promo-split": func(ctx context.Context, e *loyalty.Engine) (LoadScenarioResponse, error) {
		return loadBatch(ctx, e, loyalty.BatchSpec{Name: "Promo Split", Count: 20, Tiers: loyalty.SplitTiers(70, 10, 100)})
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	resp, err := load(r.Context(), h.Engine)
	if err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	resp.Scenario = req.ScenarioID

	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// LOADERS
// =============================================================================

func loadStarterCatalog(ctx context.Context, e *loyalty.Engine) (LoadScenarioResponse, error) {
	var resp LoadScenarioResponse
	for _, in := range starterCatalog {
		reward, err := e.Redemptions.CreateReward(ctx, in)
		if err != nil {
			return resp, err
		}
		resp.Rewards = append(resp.Rewards, toRewardDTO(reward))
	}
	return resp, nil
}

func loadBatch(ctx context.Context, e *loyalty.Engine, spec loyalty.BatchSpec) (LoadScenarioResponse, error) {
	batch, _, err := e.Vouchers.GenerateBatch(ctx, spec)
	if err != nil {
		return LoadScenarioResponse{}, err
	}
	dto := toBatchDTO(loyalty.BatchSummary{Batch: batch, Available: batch.TotalCount})
	return LoadScenarioResponse{Batch: &dto}, nil
}
