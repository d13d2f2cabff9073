package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/catalog"
)

const (
	resolveCacheTTL    = 30 * time.Second
	resolveCacheMaxLen = 1_000
)

// ResolvedModel is the model router stage's verdict: the model the
// upstream call should actually use, whether it differs from what the
// client requested, and the role it was resolved against.
type ResolvedModel struct {
	Model         string
	Downgraded    bool
	EffectiveRole string
}

// modelRouter caches (role, requested model) -> ResolvedModel against the
// static catalog, the same role+model keying the teacher's app/router.go
// used for its alias->targets cache, just driven by the in-memory
// catalog instead of a route-store lookup.
type modelRouter struct {
	catalog      *catalog.Catalog
	defaultModel string
	cache        *otter.Cache[string, ResolvedModel]
}

func newModelRouter(cat *catalog.Catalog, defaultModel string) (*modelRouter, error) {
	c, err := otter.New(&otter.Options[string, ResolvedModel]{
		MaximumSize:      resolveCacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, ResolvedModel](resolveCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("router: create cache: %w", err)
	}
	return &modelRouter{catalog: cat, defaultModel: defaultModel, cache: c}, nil
}

func (mr *modelRouter) resolveModel(requested, role string) ResolvedModel {
	key := role + "\x00" + requested
	if rm, ok := mr.cache.GetIfPresent(key); ok {
		return rm
	}
	rm := mr.computeResolution(requested, role)
	mr.cache.Set(key, rm)
	return rm
}

func (mr *modelRouter) computeResolution(requested, role string) ResolvedModel {
	// catalog.Role falls back to the default role for unknown names, and
	// carries its own resolved Name, so effectiveRole always reflects what
	// was actually applied.
	roleCat := mr.catalog.Role(role)

	if roleCat.Name == "admin" {
		return ResolvedModel{Model: requested, EffectiveRole: roleCat.Name}
	}

	for _, permitted := range roleCat.PermittedModels {
		if permitted == requested {
			return ResolvedModel{Model: requested, EffectiveRole: roleCat.Name}
		}
	}

	if best, ok := mr.catalog.HighestTierPermitted(roleCat); ok {
		return ResolvedModel{Model: best, Downgraded: true, EffectiveRole: roleCat.Name}
	}

	return ResolvedModel{Model: mr.defaultModel, Downgraded: true, EffectiveRole: roleCat.Name}
}

var modelDowngradedVal = []string{"true"}

// routerStage resolves the effective model for the request and writes it
// back onto the decoded body (so the proxy handler issues the upstream
// call with the resolved model, not the client's), setting
// X-Model-Downgraded when the client's choice was overridden. Runs after
// the sensitive-data stage, which is the one that first decodes the
// body into the request context.
func (s *server) routerStage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := gateway.RequestContextFrom(r.Context())
		req := decodedRequestFromContext(r.Context())

		requested := req.Model
		rm := s.router.resolveModel(req.Model, rc.Role)
		req.Model = rm.Model
		if rm.Downgraded {
			w.Header()["X-Model-Downgraded"] = modelDowngradedVal
			s.deps.Metrics.ModelDowngrades.WithLabelValues(requested, rm.Model).Inc()
		}

		next.ServeHTTP(w, r)
	})
}
