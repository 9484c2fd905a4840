package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apierr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.CreatePatient, auth.RequireRole(auth.RoleStaff, auth.RolePatient))
	api.GET("/patients", h.ListPatients, auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	api.GET("/patients/:id", h.GetPatient, auth.RequireRole(auth.RoleStaff, auth.RoleDoctor, auth.RolePatient))
	api.PUT("/patients/:id", h.UpdatePatient, auth.RequireRole(auth.RoleStaff, auth.RolePatient))

	api.POST("/staff", h.CreateStaff, auth.RequireRole(auth.RoleAdmin))
	api.GET("/staff", h.ListStaff, auth.RequireRole(auth.RoleStaff))
	api.GET("/staff/:id", h.GetStaff, auth.RequireRole(auth.RoleStaff))
	api.PUT("/staff/:id", h.UpdateStaff, auth.RequireRole(auth.RoleAdmin))
}

var errorRules = []apierr.Rule{
	{Target: ErrValidation, Status: http.StatusBadRequest, Kind: apierr.KindValidation},
	{Target: ErrNotFound, Status: http.StatusNotFound, Kind: apierr.KindNotFound},
	{Target: ErrConflict, Status: http.StatusConflict, Kind: apierr.KindConflict},
}

type patientRequest struct {
	FirstName   string  `json:"firstName" validate:"required,max=50"`
	LastName    string  `json:"lastName" validate:"required,max=50"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,date"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=M F O"`
	Email       string  `json:"email" validate:"required,email"`
	Phone       *string `json:"phone" validate:"omitempty,max=20"`
	Address     *string `json:"address"`
}

func (r patientRequest) toModel() *Patient {
	return &Patient{
		FirstName: r.FirstName, LastName: r.LastName, DateOfBirth: r.DateOfBirth,
		Gender: r.Gender, Email: r.Email, Phone: r.Phone, Address: r.Address,
	}
}

type staffRequest struct {
	FirstName      string  `json:"firstName" validate:"required,max=50"`
	LastName       string  `json:"lastName" validate:"required,max=50"`
	Role           string  `json:"role" validate:"required,oneof=doctor nurse pharmacist lab_technician admin receptionist"`
	Specialization *string `json:"specialization" validate:"omitempty,max=100"`
	Email          string  `json:"email" validate:"required,email"`
	Phone          *string `json:"phone" validate:"omitempty,max=20"`
	Status         string  `json:"status" validate:"omitempty,oneof=active inactive on_leave"`
}

func (r staffRequest) toModel() *Staff {
	return &Staff{
		FirstName: r.FirstName, LastName: r.LastName, Role: r.Role,
		Specialization: r.Specialization, Email: r.Email, Phone: r.Phone, Status: r.Status,
	}
}

func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apierr.Validation("malformed request body")
	}
	if err := c.Validate(req); err != nil {
		return apierr.Validation(err.Error())
	}
	return nil
}

// selfOnly forbids a patient-only caller from touching another patient's record.
func selfOnly(c echo.Context, id uuid.UUID) error {
	ctx := c.Request().Context()
	if auth.OnlyPatient(ctx) && auth.UserIDFromContext(ctx) != id.String() {
		return apierr.New(http.StatusForbidden, apierr.KindForbidden, "patients may only access their own record")
	}
	return nil
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var req patientRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p := req.toModel()
	if err := h.svc.CreatePatient(c.Request().Context(), p); err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.InvalidID("id")
	}
	if err := selfOnly(c, id); err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.InvalidID("id")
	}
	if err := selfOnly(c, id); err != nil {
		return err
	}
	var req patientRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p := req.toModel()
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), p); err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Staff Handlers --

func (h *Handler) CreateStaff(c echo.Context) error {
	var req staffRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	st := req.toModel()
	if err := h.svc.CreateStaff(c.Request().Context(), st); err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.InvalidID("id")
	}
	st, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := StaffFilter{Role: c.QueryParam("role"), Status: c.QueryParam("status")}
	items, total, err := h.svc.ListStaff(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierr.InvalidID("id")
	}
	var req staffRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	st := req.toModel()
	st.ID = id
	if err := h.svc.UpdateStaff(c.Request().Context(), st); err != nil {
		return apierr.Map(err, errorRules...)
	}
	return c.JSON(http.StatusOK, st)
}
