package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nutricare/intake/internal/record"
)

// Handler is the HTTP surface of the session controller.
type Handler struct {
	ctl *Controller
}

func NewHandler(ctl *Controller) *Handler {
	return &Handler{ctl: ctl}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.OpenSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.ClearSession)
	api.POST("/sessions/:id/resolve", h.ResolveMode)
	api.POST("/sessions/:id/steps/:step/enter", h.EnterStep)
	api.PATCH("/sessions/:id/form", h.UpdateForm)
	api.POST("/sessions/:id/steps/:step/save", h.SaveStep)
	api.POST("/sessions/:id/submit", h.FinalSubmit)
	api.POST("/sessions/:id/followups/:followUpID/revise", h.BeginFollowUpRevision)

	api.GET("/clients/:clientID/followups", h.ListFollowUps)
	api.PUT("/clients/:clientID/followups/:followUpID", h.UpdateFollowUp)
	api.DELETE("/clients/:clientID/followups/:followUpID", h.DeleteFollowUp)
}

func (h *Handler) OpenSession(c echo.Context) error {
	id, err := h.ctl.Open(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"session_id": id.String()})
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	st, err := h.ctl.State(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ClearSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := h.ctl.ClearSession(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// resolveRequest is the wire shape of a mode resolution: an optional
// explicit intent and the URL-style query signals.
type resolveRequest struct {
	Intent *struct {
		Mode              string     `json:"mode"`
		ClientID          *int64     `json:"client_id"`
		EditingFollowUpID *int64     `json:"editing_follow_up_id"`
		FollowUpData      *FormState `json:"follow_up_data"`
	} `json:"intent"`
	QueryMode     string `json:"query_mode"`
	QueryClientID *int64 `json:"query_client_id"`
}

func (h *Handler) ResolveMode(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var intent *Intent
	if req.Intent != nil {
		intent = &Intent{
			Mode:              ParseMode(req.Intent.Mode),
			ClientID:          req.Intent.ClientID,
			EditingFollowUpID: req.Intent.EditingFollowUpID,
			FollowUpData:      req.Intent.FollowUpData,
		}
	}
	q := Query{Mode: req.QueryMode, ClientID: req.QueryClientID}

	res, err := h.ctl.Resolve(c.Request().Context(), id, intent, q)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"mode":        res.Mode.String(),
		"client_id":   res.ClientID,
		"invalidated": res.Invalidated,
	})
}

func (h *Handler) EnterStep(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	step, err := stepIndex(c)
	if err != nil {
		return err
	}

	form, err := h.ctl.EnterStep(c.Request().Context(), id, step)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, form)
}

// updateFormRequest carries one reducer action. Section picks the action
// type; the matching field supplies its payload.
type updateFormRequest struct {
	Section     string              `json:"section"`
	Assessment  map[string]string   `json:"assessment,omitempty"`
	LabResults  []record.LabResult  `json:"lab_results,omitempty"`
	Medications []record.Medication `json:"medications,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	Complete    *bool               `json:"complete,omitempty"`
}

func (h *Handler) UpdateForm(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req updateFormRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var action Action
	switch req.Section {
	case "assessment":
		action = UpdateAssessment{Fields: req.Assessment}
	case "biochemical":
		// Rows staged in the wizard arrive without ids; stamp them so the
		// reconciler classifies them as locally added.
		for i := range req.LabResults {
			if req.LabResults[i].ID == 0 {
				req.LabResults[i].ID = NewLocalID()
			}
		}
		action = UpdateBiochemical{LabResults: req.LabResults}
	case "medication":
		for i := range req.Medications {
			if req.Medications[i].ID == 0 {
				req.Medications[i].ID = NewLocalID()
			}
		}
		action = UpdateMedication{Medications: req.Medications}
	case "meal_plan":
		action = UpdateMealPlan{Notes: req.Notes}
	case "complete":
		if req.Complete == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "complete flag missing")
		}
		action = MarkComplete{Value: *req.Complete}
	case "reset":
		action = ResetForm{}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown section "+req.Section)
	}

	form, err := h.ctl.UpdateSection(c.Request().Context(), id, action)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, form)
}

type saveStepRequest struct {
	MarkComplete bool `json:"mark_complete"`
}

func (h *Handler) SaveStep(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	step, err := stepIndex(c)
	if err != nil {
		return err
	}

	var req saveStepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.ctl.SaveStep(c.Request().Context(), id, step, req.MarkComplete)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type finalSubmitRequest struct {
	Step int `json:"step"`
}

func (h *Handler) FinalSubmit(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}

	var req finalSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.ctl.FinalSubmit(c.Request().Context(), id, req.Step)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) BeginFollowUpRevision(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	followUpID, err := int64Param(c, "followUpID")
	if err != nil {
		return err
	}
	clientID, err := strconv.ParseInt(c.QueryParam("client_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id query parameter required")
	}

	form, err := h.ctl.BeginFollowUpRevision(c.Request().Context(), id, clientID, followUpID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, form)
}

func (h *Handler) ListFollowUps(c echo.Context) error {
	clientID, err := int64Param(c, "clientID")
	if err != nil {
		return err
	}
	items, err := h.ctl.ListFollowUps(c.Request().Context(), clientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateFollowUp(c echo.Context) error {
	clientID, err := int64Param(c, "clientID")
	if err != nil {
		return err
	}
	followUpID, err := int64Param(c, "followUpID")
	if err != nil {
		return err
	}

	var payload record.FollowUpPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	fu, err := h.ctl.UpdateFollowUpEntry(c.Request().Context(), clientID, followUpID, &payload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, fu)
}

func (h *Handler) DeleteFollowUp(c echo.Context) error {
	clientID, err := int64Param(c, "clientID")
	if err != nil {
		return err
	}
	followUpID, err := int64Param(c, "followUpID")
	if err != nil {
		return err
	}
	if err := h.ctl.DeleteFollowUpEntry(c.Request().Context(), clientID, followUpID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func sessionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

func stepIndex(c echo.Context) (int, error) {
	step, err := strconv.Atoi(c.Param("step"))
	if err != nil || step < StepAssessment || step > StepMealPlan {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid step index")
	}
	return step, nil
}

func int64Param(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}

// httpError maps the error taxonomy onto status codes. Every submission
// error becomes a single JSON body; validation additionally carries the
// field map.
func httpError(err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
			"error":  vErr.Error(),
			"fields": vErr.Fields,
		})
	}

	var idErr *MissingIdentifierError
	if errors.As(err, &idErr) {
		return echo.NewHTTPError(http.StatusConflict, idErr.Error())
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		msg := netErr.Message
		if msg == "" {
			msg = "the records service could not be reached, please try again"
		}
		return echo.NewHTTPError(http.StatusBadGateway, msg)
	}

	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, ErrSaveInFlight) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
