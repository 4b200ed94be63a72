package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/warpstreamlabs/cdcengine/internal/configstore"
	"github.com/warpstreamlabs/cdcengine/internal/errs"
	"github.com/warpstreamlabs/cdcengine/internal/event"
	"github.com/warpstreamlabs/cdcengine/internal/orchestrator"
	"github.com/warpstreamlabs/cdcengine/internal/registry"
)

// testProbeTimeout bounds connector/destination Test() calls issued from the
// control plane (spec §5): a probe against a dead host must not hang the
// request indefinitely.
const testProbeTimeout = 10 * time.Second

type handlers struct {
	orch  *orchestrator.Orchestrator
	store configstore.Store
	reg   *registry.Registry
	log   zerolog.Logger
}

func (h *handlers) register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/stats", h.stats)
	r.POST("/api/stats/reset", h.statsReset)

	r.GET("/api/connectors", h.listConnectors)
	r.POST("/api/connectors", h.createConnector)
	r.GET("/api/connectors/:name", h.getConnector)
	r.PUT("/api/connectors/:name", h.putConnector)
	r.DELETE("/api/connectors/:name", h.deleteConnector)
	r.POST("/api/connectors/:name/test", h.testConnector)
	r.POST("/api/connectors/test-config", h.testConnectorConfig)

	r.GET("/api/destinations", h.listDestinations)
	r.POST("/api/destinations", h.createDestination)
	r.GET("/api/destinations/:name", h.getDestination)
	r.PUT("/api/destinations/:name", h.putDestination)
	r.DELETE("/api/destinations/:name", h.deleteDestination)
	r.POST("/api/destinations/:name/test", h.testDestination)
	r.POST("/api/destinations/test-config", h.testDestinationConfig)

	r.GET("/api/flows", h.listFlows)
	r.POST("/api/flows", h.createFlow)
	r.GET("/api/flows/:name", h.getFlow)
	r.DELETE("/api/flows/:name", h.deleteFlow)
	r.PUT("/api/flows/:name/start", h.startFlow)
	r.PUT("/api/flows/:name/stop", h.stopFlow)
	r.PUT("/api/flows/:name/restart", h.restartFlow)
	r.PUT("/api/flows/:name/pause", h.pauseFlow)
	r.PUT("/api/flows/:name/resume", h.resumeFlow)
	r.GET("/api/flows/:name/metrics", h.flowMetrics)
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, ok(data))
}

func respondErr(c *gin.Context, err error) {
	status, env := fail(err)
	c.JSON(status, env)
}

// --- health & stats ---------------------------------------------------

func (h *handlers) health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (h *handlers) stats(c *gin.Context) {
	statuses := h.orch.List()
	out := make([]gin.H, 0, len(statuses))
	for _, st := range statuses {
		metrics, err := h.orch.Metrics(st.FlowName)
		if err != nil {
			continue
		}
		out = append(out, gin.H{"status": st, "metrics": metrics})
	}
	respond(c, http.StatusOK, out)
}

// statsReset answers the endpoint shape of spec §6 with a fixed message and
// zeroes no counters; per-flow metrics are cleared only by a flow restart
// (spec §4.4).
func (h *handlers) statsReset(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"message": "metrics are cleared by restarting the owning flow"})
}

// --- connectors ---------------------------------------------------------

func (h *handlers) listConnectors(c *gin.Context) {
	specs, err := h.store.ListConnectors(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, specs)
}

func (h *handlers) getConnector(c *gin.Context) {
	spec, err := h.store.GetConnector(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, spec)
}

func (h *handlers) createConnector(c *gin.Context) {
	var spec event.ConnectorSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	if err := h.validateConnectorConfig(spec); err != nil {
		respondErr(c, err)
		return
	}
	saved, err := h.store.PutConnector(c.Request.Context(), spec, time.Time{})
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusCreated, saved)
}

func (h *handlers) putConnector(c *gin.Context) {
	var body struct {
		event.ConnectorSpec `json:",inline"`
		ExpectedUpdatedAt   time.Time `json:"expected_updated_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	body.Name = c.Param("name")
	if err := h.validateConnectorConfig(body.ConnectorSpec); err != nil {
		respondErr(c, err)
		return
	}
	saved, err := h.store.PutConnector(c.Request.Context(), body.ConnectorSpec, body.ExpectedUpdatedAt)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, saved)
}

func (h *handlers) deleteConnector(c *gin.Context) {
	if err := h.store.DeleteConnector(c.Request.Context(), c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("deleted"))
}

func (h *handlers) testConnector(c *gin.Context) {
	spec, err := h.store.GetConnector(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.testConnectorSpec(c, spec); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("ok"))
}

func (h *handlers) testConnectorConfig(c *gin.Context) {
	var spec event.ConnectorSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	if err := h.testConnectorSpec(c, spec); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("ok"))
}

func (h *handlers) validateConnectorConfig(spec event.ConnectorSpec) error {
	factory, err := h.reg.Connector(spec.Kind)
	if err != nil {
		return err
	}
	return factory.Validate(spec.Config)
}

func (h *handlers) testConnectorSpec(c *gin.Context, spec event.ConnectorSpec) error {
	factory, err := h.reg.Connector(spec.Kind)
	if err != nil {
		return err
	}
	if err := factory.Validate(spec.Config); err != nil {
		return err
	}
	conn, err := factory.Create(spec.Config, h.log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), testProbeTimeout)
	defer cancel()
	return conn.Test(ctx)
}

// --- destinations --------------------------------------------------------

func (h *handlers) listDestinations(c *gin.Context) {
	specs, err := h.store.ListDestinations(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, specs)
}

func (h *handlers) getDestination(c *gin.Context) {
	spec, err := h.store.GetDestination(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, spec)
}

func (h *handlers) createDestination(c *gin.Context) {
	var spec event.DestinationSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	if err := h.validateDestinationConfig(spec); err != nil {
		respondErr(c, err)
		return
	}
	saved, err := h.store.PutDestination(c.Request.Context(), spec, time.Time{})
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusCreated, saved)
}

func (h *handlers) putDestination(c *gin.Context) {
	var body struct {
		event.DestinationSpec `json:",inline"`
		ExpectedUpdatedAt     time.Time `json:"expected_updated_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	body.Name = c.Param("name")
	if err := h.validateDestinationConfig(body.DestinationSpec); err != nil {
		respondErr(c, err)
		return
	}
	saved, err := h.store.PutDestination(c.Request.Context(), body.DestinationSpec, body.ExpectedUpdatedAt)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, saved)
}

func (h *handlers) deleteDestination(c *gin.Context) {
	if err := h.store.DeleteDestination(c.Request.Context(), c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("deleted"))
}

func (h *handlers) testDestination(c *gin.Context) {
	spec, err := h.store.GetDestination(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.testDestinationSpec(c, spec); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("ok"))
}

func (h *handlers) testDestinationConfig(c *gin.Context) {
	var spec event.DestinationSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	if err := h.testDestinationSpec(c, spec); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("ok"))
}

func (h *handlers) validateDestinationConfig(spec event.DestinationSpec) error {
	factory, err := h.reg.Destination(spec.Kind)
	if err != nil {
		return err
	}
	return factory.Validate(spec.Config)
}

func (h *handlers) testDestinationSpec(c *gin.Context, spec event.DestinationSpec) error {
	factory, err := h.reg.Destination(spec.Kind)
	if err != nil {
		return err
	}
	if err := factory.Validate(spec.Config); err != nil {
		return err
	}
	dest, err := factory.Create(spec.Config, h.log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), testProbeTimeout)
	defer cancel()
	return dest.Test(ctx)
}

// --- flows -----------------------------------------------------------------

func (h *handlers) listFlows(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.List())
}

func (h *handlers) getFlow(c *gin.Context) {
	status, err := h.orch.Get(c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (h *handlers) createFlow(c *gin.Context) {
	var spec event.FlowSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondErr(c, errs.Validation("invalid request body: %v", err))
		return
	}
	status, err := h.orch.Create(c.Request.Context(), spec)
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusCreated, status)
}

func (h *handlers) deleteFlow(c *gin.Context) {
	if err := h.orch.Delete(c.Request.Context(), c.Param("name")); err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, okMessage("deleted"))
}

func (h *handlers) startFlow(c *gin.Context) {
	status, err := h.orch.Start(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (h *handlers) stopFlow(c *gin.Context) {
	status, err := h.orch.Stop(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (h *handlers) restartFlow(c *gin.Context) {
	status, err := h.orch.Restart(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (h *handlers) pauseFlow(c *gin.Context) {
	status, err := h.orch.Pause(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (h *handlers) resumeFlow(c *gin.Context) {
	status, err := h.orch.Resume(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

func (h *handlers) flowMetrics(c *gin.Context) {
	metrics, err := h.orch.Metrics(c.Param("name"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respond(c, http.StatusOK, metrics)
}
