package gateway

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/khive-ai/khive-gateway/internal/auth"
	"github.com/khive-ai/khive-gateway/internal/config"
	"github.com/khive-ai/khive-gateway/internal/coordination"
	"github.com/khive-ai/khive-gateway/internal/dispatch"
	"github.com/khive-ai/khive-gateway/internal/ingest"
	"github.com/khive-ai/khive-gateway/internal/models"
	"github.com/khive-ai/khive-gateway/internal/transport"
)

// Handler serves the gateway REST API: operator login, reads over the
// reconciled daemon state, and command submission. It holds no state of its
// own; every read delegates to the coordination client.
type Handler struct {
	coord      coordination.ClientInterface
	jwtManager *auth.JWTManager
	authCfg    config.AuthConfig
	logger     *log.Logger
}

// NewHandler creates a gateway handler over the coordination client.
func NewHandler(coord coordination.ClientInterface, jwtManager *auth.JWTManager, authCfg config.AuthConfig, logger *log.Logger) *Handler {
	return &Handler{
		coord:      coord,
		jwtManager: jwtManager,
		authCfg:    authCfg,
		logger:     logger,
	}
}

// CommandRequest is the body of POST /api/commands.
type CommandRequest struct {
	Command  string          `json:"command" binding:"required"`
	Args     []string        `json:"args"`
	Priority models.Priority `json:"priority"`
}

// ConnectionResponse reports the daemon link health plus the sync-path
// diagnostic counters.
type ConnectionResponse struct {
	transport.Health
	PendingCommands int          `json:"pendingCommands"`
	Ingest          ingest.Stats `json:"ingest"`
}

// Login godoc
// @Summary Operator login
// @Description Authenticate a configured operator and return a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid request", Code: models.ErrCodeInvalidRequest,
		})
		return
	}

	op, ok := h.findOperator(req.Email)
	if !ok {
		h.logger.Warn("login for unknown operator", "email", req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "Invalid email or password", Code: models.ErrCodeUnauthorized,
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.Warn("login with invalid password", "email", req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error: "Invalid email or password", Code: models.ErrCodeUnauthorized,
		})
		return
	}

	operator := operatorRecord(op)
	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		operator.ID,
		operator.Email,
		operator.Roles,
		h.authCfg.TokenTTL,
	)
	if err != nil {
		h.logger.Error("failed to generate token", "email", req.Email, "error", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "Failed to generate token", Code: models.ErrCodeInternalError,
		})
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.authCfg.TokenTTL),
		Operator:  operator.ToOperatorInfo(),
	})
}

// GetState godoc
// @Summary Full coordination state
// @Description Current reconciled snapshot of sessions, agents, tasks, and daemon status
// @Tags state
// @Produce json
// @Success 200 {object} models.StateSnapshot
// @Security BearerAuth
// @Router /state [get]
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.State())
}

// ListSessions godoc
// @Summary List sessions
// @Description All known orchestration sessions, oldest first
// @Tags state
// @Produce json
// @Success 200 {array} models.Session
// @Security BearerAuth
// @Router /sessions [get]
func (h *Handler) ListSessions(c *gin.Context) {
	snap := h.coord.State()
	sessions := make([]models.Session, 0, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	c.JSON(http.StatusOK, sessions)
}

// GetSession godoc
// @Summary Get one session
// @Tags state
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.Session
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /sessions/{id} [get]
func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.coord.State().Sessions[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "Session not found", Code: models.ErrCodeNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ListAgents godoc
// @Summary List agents
// @Description All known agents, oldest spawn first
// @Tags state
// @Produce json
// @Success 200 {array} models.Agent
// @Security BearerAuth
// @Router /agents [get]
func (h *Handler) ListAgents(c *gin.Context) {
	snap := h.coord.State()
	agents := make([]models.Agent, 0, len(snap.Agents))
	for _, agent := range snap.Agents {
		agents = append(agents, agent)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].SpawnedAt.Equal(agents[j].SpawnedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].SpawnedAt.Before(agents[j].SpawnedAt)
	})
	c.JSON(http.StatusOK, agents)
}

// GetAgent godoc
// @Summary Get one agent
// @Tags state
// @Produce json
// @Param id path string true "Agent ID"
// @Success 200 {object} models.Agent
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /agents/{id} [get]
func (h *Handler) GetAgent(c *gin.Context) {
	agent, ok := h.coord.State().Agents[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "Agent not found", Code: models.ErrCodeNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, agent)
}

// ListTasks godoc
// @Summary List tasks
// @Description All known tasks, oldest first; filterable by session
// @Tags state
// @Produce json
// @Param session query string false "Only tasks belonging to this session"
// @Success 200 {array} models.Task
// @Security BearerAuth
// @Router /tasks [get]
func (h *Handler) ListTasks(c *gin.Context) {
	sessionID := c.Query("session")
	snap := h.coord.State()
	tasks := make([]models.Task, 0, len(snap.Tasks))
	for _, task := range snap.Tasks {
		if sessionID != "" && task.SessionID != sessionID {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].StartedAt.Equal(tasks[j].StartedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].StartedAt.Before(tasks[j].StartedAt)
	})
	c.JSON(http.StatusOK, tasks)
}

// GetDaemon godoc
// @Summary Daemon status
// @Description Last daemon self-report received over the event stream
// @Tags state
// @Produce json
// @Success 200 {object} models.DaemonStatus
// @Security BearerAuth
// @Router /daemon [get]
func (h *Handler) GetDaemon(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.State().Daemon)
}

// GetConnection godoc
// @Summary Daemon link health
// @Description Connection state, failure counters, and sync-path diagnostics
// @Tags state
// @Produce json
// @Success 200 {object} gateway.ConnectionResponse
// @Security BearerAuth
// @Router /connection [get]
func (h *Handler) GetConnection(c *gin.Context) {
	c.JSON(http.StatusOK, ConnectionResponse{
		Health:          h.coord.ConnectionHealth(),
		PendingCommands: h.coord.PendingCommands(),
		Ingest:          h.coord.IngestStats(),
	})
}

// SubmitCommand godoc
// @Summary Submit a daemon command
// @Description Dispatch one command to the daemon and wait for its result
// @Tags commands
// @Accept json
// @Produce json
// @Param request body gateway.CommandRequest true "Command to dispatch"
// @Success 200 {object} models.CommandResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Failure 504 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /commands [post]
func (h *Handler) SubmitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid request", Code: models.ErrCodeInvalidRequest,
		})
		return
	}
	if req.Priority != "" && !req.Priority.Valid() {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "Invalid priority", Code: models.ErrCodeInvalidRequest,
			Details: map[string]string{"priority": string(req.Priority)},
		})
		return
	}

	operatorID, _ := c.Get("operator_id")
	h.logger.Info("dispatching operator command",
		"command", req.Command, "priority", req.Priority, "operator_id", operatorID)

	res, err := h.coord.SendCommand(c.Request.Context(), req.Command, req.Args, req.Priority)
	if err != nil {
		h.respondCommandError(c, req.Command, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// respondCommandError maps dispatcher failures onto the API error taxonomy.
func (h *Handler) respondCommandError(c *gin.Context, command string, err error) {
	var rejected *dispatch.RejectedError
	var lost *dispatch.ConnectionLostError

	switch {
	case errors.As(err, &rejected):
		// The daemon executed the command and said no: the caller gets the
		// daemon's own result payload.
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error: rejected.Reason, Code: models.ErrCodeCommandRejected,
			Details: map[string]string{"correlationId": rejected.CorrelationID},
		})
	case errors.Is(err, dispatch.ErrCommandTimeout):
		c.JSON(http.StatusGatewayTimeout, models.ErrorResponse{
			Error: "Command timed out waiting for the daemon", Code: models.ErrCodeCommandTimeout,
		})
	case errors.As(err, &lost):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error: "Connection to the daemon was lost before the command resolved; resubmit if the effect did not apply",
			Code:  models.ErrCodeConnectionLost,
			Details: map[string]string{"correlationId": lost.CorrelationID},
		})
	default:
		h.logger.Error("command dispatch failed", "command", command, "error", err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error: "Daemon unavailable", Code: models.ErrCodeDaemonUnavailable,
		})
	}
}

func (h *Handler) findOperator(email string) (config.Operator, bool) {
	for _, op := range h.authCfg.Operators {
		if strings.EqualFold(op.Email, email) {
			return op, true
		}
	}
	return config.Operator{}, false
}

// operatorRecord turns a configured operator into the model record. IDs
// derive deterministically from the email so issued tokens stay valid across
// gateway restarts.
func operatorRecord(op config.Operator) models.Operator {
	return models.Operator{
		ID:             uuid.NewSHA1(uuid.NameSpaceURL, []byte("khive-gateway/operators/"+strings.ToLower(op.Email))).String(),
		Email:          strings.ToLower(op.Email),
		HashedPassword: op.PasswordHash,
		Roles:          op.Roles,
	}
}
