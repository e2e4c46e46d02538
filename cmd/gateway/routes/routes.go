// Package routes maps the gateway's HTTP surface onto handlers.
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/flowgrid/flowgrid/cmd/gateway/handlers"
	"github.com/flowgrid/flowgrid/cmd/gateway/middleware"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Workflows  *handlers.WorkflowHandler
	Triggers   *handlers.TriggerHandler
	Executions *handlers.ExecutionHandler
	Scheduler  *handlers.SchedulerHandler
	Webhooks   *handlers.WebhookHandler
}

// Register wires every route. Workflow, node, and execution routes read the
// tenant from X-Tenant-ID; scheduler and webhook routes carry it in the
// path because external callers cannot set custom headers.
func Register(e *echo.Echo, h *Handlers) {
	wf := e.Group("/workflows", middleware.RequireTenant())
	{
		wf.POST("", h.Workflows.Create)
		wf.GET("", h.Workflows.List)
		wf.GET("/:id", h.Workflows.Get)
		wf.PUT("/:id", h.Workflows.Update)
		wf.POST("/:id/publish", h.Workflows.Publish)
		wf.GET("/:id/executions", h.Executions.ListByWorkflow)
	}

	nodes := e.Group("/nodes", middleware.RequireTenant())
	{
		nodes.POST("/:nodeId/trigger", h.Triggers.TriggerNode)
		nodes.GET("/:nodeId/executions", h.Executions.ListByNode)
	}

	execs := e.Group("/executions", middleware.RequireTenant())
	{
		execs.GET("/:id", h.Executions.Get)
	}

	sched := e.Group("/scheduler/:tenant/events")
	{
		sched.POST("", h.Scheduler.Upsert)
		sched.GET("", h.Scheduler.List)
		sched.PATCH("/:id/status", h.Scheduler.UpdateStatus)
		sched.POST("/:id/trigger", h.Scheduler.FireNow)
	}

	hooks := e.Group("/webhooks")
	{
		hooks.POST("/:provider/:tenant/:workflow", h.Webhooks.Handle)
		hooks.GET("/:provider/:tenant/:workflow", h.Webhooks.Handle)
	}
}
