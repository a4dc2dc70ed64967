package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arclight-ai/dispatch/internal/agent"
	"github.com/arclight-ai/dispatch/internal/modelrouter"
	"github.com/arclight-ai/dispatch/internal/orchestrator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch     *orchestrator.Orchestrator
	engine   *agent.Engine
	router   *modelrouter.Router
	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *orchestrator.Orchestrator, engine *agent.Engine, router *modelrouter.Router, registry *prometheus.Registry, logger *zap.Logger) *Handler {
	return &Handler{
		orch:     orch,
		engine:   engine,
		router:   router,
		registry: registry,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/orchestrator", h.orchestratorGet)
		r.Post("/orchestrator", h.orchestratorPost)
		r.Put("/orchestrator", h.orchestratorPut)
		r.Delete("/orchestrator", h.orchestratorDelete)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)

		r.Post("/models/select", h.selectModel)
		r.Post("/models/feedback", h.recordFeedback)
		r.Get("/models/preferences", h.userPreferences)
	})

	if h.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "dispatch"})
}

// envelope is the uniform orchestrator response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// failErr maps sentinel errors onto HTTP status codes.
func (h *Handler) failErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrWorkflowNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrAgentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotTaskOwner),
		errors.Is(err, orchestrator.ErrTaskTypeRequired),
		errors.Is(err, orchestrator.ErrNameRequired),
		errors.Is(err, orchestrator.ErrEmptyWorkflow):
		status = http.StatusBadRequest
	}
	h.fail(w, status, err.Error())
}

func (h *Handler) orchestratorGet(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "", "metrics":
		h.ok(w, h.orch.Metrics())
	case "workflows":
		h.ok(w, h.orch.Workflows())
	case "executions":
		h.ok(w, h.orch.Executions())
	case "handoffs":
		h.ok(w, h.orch.Handoffs())
	case "collaborations":
		h.ok(w, h.orch.Collaborations())
	case "tasks":
		h.ok(w, h.orch.Tasks())
	case "agents":
		h.ok(w, h.engine.List())
	default:
		h.fail(w, http.StatusBadRequest, "unknown action: "+action)
	}
}

// orchestratorRequest is the discriminated POST/PUT body. Only the fields
// relevant to the named action are read.
type orchestratorRequest struct {
	Action string `json:"action"`

	// execute_workflow, test_workflow, update_workflow
	WorkflowID  string                 `json:"workflowId,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	TriggeredBy string                 `json:"triggeredBy,omitempty"`

	// create_workflow, update_workflow
	Workflow *workflowPayload `json:"workflow,omitempty"`

	// request_handoff
	FromAgent string `json:"fromAgent,omitempty"`
	ToAgent   string `json:"toAgent,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// request_collaboration
	RequestingAgent string `json:"requestingAgent,omitempty"`
	TargetAgent     string `json:"targetAgent,omitempty"`
	Type            string `json:"type,omitempty"`
	Description     string `json:"description,omitempty"`

	// register_agent
	Agent *agent.Agent `json:"agent,omitempty"`

	// enqueue_task
	Task *orchestrator.Task `json:"task,omitempty"`
}

type workflowPayload struct {
	Name     *string              `json:"name,omitempty"`
	Steps    *[]orchestrator.Step `json:"steps,omitempty"`
	Triggers *[]string            `json:"triggers,omitempty"`
}

func (h *Handler) orchestratorPost(w http.ResponseWriter, r *http.Request) {
	var req orchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Action {
	case "start":
		h.orch.Start()
		h.ok(w, map[string]bool{"running": true})

	case "stop":
		h.orch.Stop()
		h.ok(w, map[string]bool{"running": false})

	case "execute_workflow":
		exec, err := h.orch.ExecuteWorkflow(r.Context(), req.WorkflowID, req.Context, req.TriggeredBy)
		if err != nil {
			h.failErr(w, err)
			return
		}
		if exec.Status == orchestrator.ExecutionFailed {
			// A step failure is a handled outcome, not a transport error:
			// the execution record still ships, the envelope flags it.
			writeJSON(w, http.StatusOK, envelope{Success: false, Data: exec, Error: exec.Error})
			return
		}
		h.ok(w, exec)

	case "create_workflow":
		if req.Workflow == nil {
			h.fail(w, http.StatusBadRequest, "workflow is required")
			return
		}
		wf := &orchestrator.Workflow{}
		if req.Workflow.Name != nil {
			wf.Name = *req.Workflow.Name
		}
		if req.Workflow.Steps != nil {
			wf.Steps = *req.Workflow.Steps
		}
		if req.Workflow.Triggers != nil {
			wf.Triggers = *req.Workflow.Triggers
		}
		id, err := h.orch.CreateWorkflow(wf)
		if err != nil {
			h.failErr(w, err)
			return
		}
		h.ok(w, map[string]string{"workflowId": id})

	case "test_workflow":
		report, err := h.orch.TestWorkflow(req.WorkflowID)
		if err != nil {
			h.failErr(w, err)
			return
		}
		h.ok(w, report)

	case "request_handoff":
		handoff, err := h.orch.RequestHandoff(req.FromAgent, req.ToAgent, req.TaskID, req.Context, req.Reason)
		if err != nil {
			h.failErr(w, err)
			return
		}
		h.ok(w, handoff)

	case "request_collaboration":
		collab, err := h.orch.RequestCollaboration(req.RequestingAgent, req.TargetAgent, req.Type, req.Description, req.Context)
		if err != nil {
			h.failErr(w, err)
			return
		}
		h.ok(w, collab)

	case "register_agent":
		if req.Agent == nil {
			h.fail(w, http.StatusBadRequest, "agent is required")
			return
		}
		h.orch.RegisterAgent(req.Agent)
		h.ok(w, req.Agent)

	case "enqueue_task":
		if req.Task == nil {
			h.fail(w, http.StatusBadRequest, "task is required")
			return
		}
		id, err := h.orch.Enqueue(req.Task)
		if err != nil {
			h.failErr(w, err)
			return
		}
		h.ok(w, map[string]string{"taskId": id})

	default:
		h.fail(w, http.StatusBadRequest, "unknown action: "+req.Action)
	}
}

func (h *Handler) orchestratorPut(w http.ResponseWriter, r *http.Request) {
	var req orchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action != "" && req.Action != "update_workflow" {
		h.fail(w, http.StatusBadRequest, "unknown action: "+req.Action)
		return
	}
	if req.WorkflowID == "" {
		h.fail(w, http.StatusBadRequest, "workflowId is required")
		return
	}

	patch := orchestrator.WorkflowPatch{}
	if req.Workflow != nil {
		patch.Name = req.Workflow.Name
		patch.Steps = req.Workflow.Steps
		patch.Triggers = req.Workflow.Triggers
	}
	if !h.orch.UpdateWorkflow(req.WorkflowID, patch) {
		h.fail(w, http.StatusNotFound, "workflow not found")
		return
	}
	wf, _ := h.orch.GetWorkflow(req.WorkflowID)
	h.ok(w, wf)
}

func (h *Handler) orchestratorDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("workflowId")
	if id == "" {
		h.fail(w, http.StatusBadRequest, "workflowId is required")
		return
	}
	if !h.orch.DeleteWorkflow(id) {
		h.fail(w, http.StatusNotFound, "workflow not found")
		return
	}
	h.ok(w, map[string]string{"workflowId": id})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.List())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.engine.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type selectModelRequest struct {
	UserID     string `json:"userId,omitempty"`
	TaskType   string `json:"taskType"`
	Complexity string `json:"complexity,omitempty"`
}

func (h *Handler) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	model := h.router.Select(r.Context(), req.UserID, req.TaskType, modelrouter.ParseComplexity(req.Complexity))
	h.ok(w, map[string]string{"model": model})
}

type feedbackRequest struct {
	ModelID        string `json:"modelId"`
	TaskType       string `json:"taskType"`
	Complexity     string `json:"complexity,omitempty"`
	Success        bool   `json:"success"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Rating         int    `json:"rating"`
	UserID         string `json:"userId,omitempty"`
}

// recordFeedback accepts a performance record and returns immediately;
// persistence happens in the background.
func (h *Handler) recordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ModelID == "" {
		h.fail(w, http.StatusBadRequest, "modelId is required")
		return
	}
	h.router.RecordAsync(&modelrouter.PerformanceRecord{
		ModelID:        req.ModelID,
		TaskType:       req.TaskType,
		Complexity:     modelrouter.ParseComplexity(req.Complexity),
		Success:        req.Success,
		ResponseTimeMs: req.ResponseTimeMs,
		Rating:         req.Rating,
		UserID:         req.UserID,
	})
	h.ok(w, map[string]string{"status": "accepted"})
}

func (h *Handler) userPreferences(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	taskType := r.URL.Query().Get("taskType")
	models := h.router.UserPreferredModels(r.Context(), userID, taskType)
	h.ok(w, map[string]interface{}{"userId": userID, "models": models})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
