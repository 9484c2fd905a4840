package scheduling

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
	anyone := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleStaff)
	staff := auth.RequireRole(auth.RoleStaff)
	doctor := auth.RequireRole(auth.RoleDoctor)

	api.GET("/slots", h.ListSlots, anyone)
	api.GET("/slots/:id", h.GetSlot, anyone)
	api.POST("/slots", h.CreateSlot, staff)

	api.POST("/schedules", h.CreateSchedule, staff)
	api.GET("/schedules", h.ListSchedules, auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	api.DELETE("/schedules/:id", h.DeleteSchedule, staff)
	api.POST("/schedules/generate", h.GenerateSlots, staff)

	api.POST("/appointments", h.Book, auth.RequireRole(auth.RolePatient, auth.RoleStaff))
	api.GET("/appointments", h.ListAppointments, anyone)
	api.GET("/appointments/:id", h.GetAppointment, anyone)
	api.GET("/appointments/:id/history", h.History, anyone)
	api.POST("/appointments/:id/confirm", h.Confirm, staff)
	api.POST("/appointments/:id/start", h.Start, doctor)
	api.POST("/appointments/:id/complete", h.Complete, doctor)
	api.POST("/appointments/:id/cancel", h.Cancel, auth.RequireRole(auth.RolePatient, auth.RoleStaff))
	api.POST("/appointments/:id/no-show", h.MarkNoShow, auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	api.POST("/appointments/:id/addenda", h.AddAddendum, doctor)
	api.GET("/appointments/:id/addenda", h.ListAddenda, auth.RequireRole(auth.RoleDoctor, auth.RoleStaff))
}

var errorRules = []apierr.Rule{
	{Target: ErrValidation, Status: http.StatusBadRequest, Kind: apierr.KindValidation},
	{Target: ErrNotFound, Status: http.StatusNotFound, Kind: apierr.KindNotFound},
	{Target: ErrSlotUnavailable, Status: http.StatusConflict, Kind: apierr.KindSlotUnavailable},
	{Target: ErrInvalidTransition, Status: http.StatusConflict, Kind: apierr.KindInvalidTransition},
	{Target: ErrInvalidState, Status: http.StatusConflict, Kind: apierr.KindInvalidState},
	{Target: ErrConflict, Status: http.StatusConflict, Kind: apierr.KindConflict},
}

func fail(err error) error { return apierr.Map(err, errorRules...) }

// -- Request bodies --

type slotRequest struct {
	DoctorID        string `json:"doctorId" validate:"required,uuid"`
	Date            string `json:"date" validate:"required,date"`
	Time            string `json:"time" validate:"required,clock"`
	DurationMinutes int    `json:"durationMinutes" validate:"omitempty,min=1,max=480"`
}

type scheduleRequest struct {
	DoctorID    string `json:"doctorId" validate:"required,uuid"`
	DayOfWeek   string `json:"dayOfWeek" validate:"required,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime   string `json:"startTime" validate:"required,clock"`
	EndTime     string `json:"endTime" validate:"required,clock"`
	SlotMinutes int    `json:"slotMinutes" validate:"omitempty,min=5,max=480"`
	Active      *bool  `json:"active"`
}

type generateRequest struct {
	DoctorID string `json:"doctorId" validate:"required,uuid"`
	From     string `json:"from" validate:"required,date"`
	To       string `json:"to" validate:"required,date"`
}

type bookRequest struct {
	PatientID            string `json:"patientId" validate:"required,uuid"`
	DoctorID             string `json:"doctorId" validate:"required,uuid"`
	SlotID               string `json:"slotId" validate:"required,uuid"`
	Reason               string `json:"reason" validate:"max=1000"`
	Type                 string `json:"type" validate:"omitempty,oneof=initial_visit follow_up consultation procedure"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
}

type completeRequest struct {
	ChiefComplaint string  `json:"chiefComplaint"`
	Notes          string  `json:"notes"`
	Diagnosis      string  `json:"diagnosis"`
	Prescription   string  `json:"prescription"`
	FollowUpNeeded bool    `json:"followUpNeeded"`
	FollowUpDate   *string `json:"followUpDate" validate:"omitempty,date"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type addendumRequest struct {
	Text string `json:"text" validate:"required,max=5000"`
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

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apierr.InvalidID("id")
	}
	return id, nil
}

func queryID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apierr.InvalidID(name)
	}
	return &id, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

var errForbidden = apierr.New(http.StatusForbidden, apierr.KindForbidden, "appointment belongs to someone else")

// onlyDoctor reports whether the caller acts purely as a doctor.
func onlyDoctor(c echo.Context) bool {
	ctx := c.Request().Context()
	return auth.HasRole(ctx, auth.RoleDoctor) && !auth.HasRole(ctx, auth.RoleStaff)
}

// authorize loads the appointment and checks that a patient-only caller is
// its patient and a doctor-only caller its doctor.
func (h *Handler) authorize(c echo.Context, id uuid.UUID) (*Appointment, error) {
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return nil, fail(err)
	}
	sub := actor(c)
	if auth.OnlyPatient(c.Request().Context()) && a.PatientID.String() != sub {
		return nil, errForbidden
	}
	if onlyDoctor(c) && a.DoctorID.String() != sub {
		return nil, errForbidden
	}
	return a, nil
}

// -- Slot Handlers --

func (h *Handler) CreateSlot(c echo.Context) error {
	var req slotRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	sl := &Slot{
		DoctorID:        uuid.MustParse(req.DoctorID),
		Date:            req.Date,
		Time:            req.Time,
		DurationMinutes: req.DurationMinutes,
	}
	if err := h.svc.CreateSlot(c.Request().Context(), sl); err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sl, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) ListSlots(c echo.Context) error {
	doctorID, err := queryID(c, "doctorId")
	if err != nil {
		return err
	}
	q := SlotQuery{
		DoctorID: doctorID,
		Date:     c.QueryParam("date"),
		From:     c.QueryParam("from"),
		To:       c.QueryParam("to"),
	}
	items, err := h.svc.ListAvailableSlots(c.Request().Context(), q)
	if err != nil {
		return fail(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Window(items, pg), len(items), pg.Limit, pg.Offset))
}

// -- Schedule Handlers --

func (h *Handler) CreateSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	sc := &Schedule{
		DoctorID:    uuid.MustParse(req.DoctorID),
		DayOfWeek:   req.DayOfWeek,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		SlotMinutes: req.SlotMinutes,
		Active:      req.Active == nil || *req.Active,
	}
	if err := h.svc.CreateSchedule(c.Request().Context(), sc); err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	doctorID, err := queryID(c, "doctorId")
	if err != nil {
		return err
	}
	if doctorID == nil {
		return apierr.Validation("doctorId is required")
	}
	items, err := h.svc.ListSchedules(c.Request().Context(), *doctorID)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, len(items), len(items), 0))
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), id); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GenerateSlots(c echo.Context) error {
	var req generateRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	n, err := h.svc.GenerateSlots(c.Request().Context(), uuid.MustParse(req.DoctorID), req.From, req.To)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"created": n})
}

// -- Appointment Handlers --

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if auth.OnlyPatient(ctx) && req.PatientID != actor(c) {
		return apierr.New(http.StatusForbidden, apierr.KindForbidden, "patients may only book for themselves")
	}
	appt, err := h.svc.Book(ctx, BookingRequest{
		PatientID:            uuid.MustParse(req.PatientID),
		DoctorID:             uuid.MustParse(req.DoctorID),
		SlotID:               uuid.MustParse(req.SlotID),
		Reason:               req.Reason,
		Type:                 req.Type,
		RequiresConfirmation: req.RequiresConfirmation,
	}, actor(c))
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	doctorID, err := queryID(c, "doctorId")
	if err != nil {
		return err
	}
	patientID, err := queryID(c, "patientId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if auth.OnlyPatient(ctx) {
		self, err := uuid.Parse(actor(c))
		if err != nil {
			return errForbidden
		}
		patientID = &self
	} else if onlyDoctor(c) {
		self, err := uuid.Parse(actor(c))
		if err != nil {
			return errForbidden
		}
		doctorID = &self
	}

	pg := pagination.FromContext(c)
	f := AppointmentFilter{
		Status:    Status(c.QueryParam("status")),
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      c.QueryParam("date"),
	}
	items, total, err := h.svc.ListAppointments(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.authorize(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) History(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := h.authorize(c, id); err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, items)
}

// lifecycle wraps a transition that takes no body.
func (h *Handler) lifecycle(c echo.Context, do func(id uuid.UUID) (*Appointment, error)) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := h.authorize(c, id); err != nil {
		return err
	}
	a, err := do(id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.lifecycle(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.Confirm(c.Request().Context(), id, actor(c))
	})
}

func (h *Handler) Start(c echo.Context) error {
	return h.lifecycle(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.Start(c.Request().Context(), id, actor(c))
	})
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	return h.lifecycle(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.MarkNoShow(c.Request().Context(), id, actor(c))
	})
}

func (h *Handler) Complete(c echo.Context) error {
	var req completeRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	return h.lifecycle(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.Complete(c.Request().Context(), id, actor(c), Consultation{
			ChiefComplaint: req.ChiefComplaint,
			Notes:          req.Notes,
			Diagnosis:      req.Diagnosis,
			Prescription:   req.Prescription,
			FollowUpNeeded: req.FollowUpNeeded,
			FollowUpDate:   req.FollowUpDate,
		})
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	var req cancelRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	return h.lifecycle(c, func(id uuid.UUID) (*Appointment, error) {
		return h.svc.Cancel(c.Request().Context(), id, actor(c), req.Reason)
	})
}

func (h *Handler) AddAddendum(c echo.Context) error {
	var req addendumRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := h.authorize(c, id); err != nil {
		return err
	}
	add, err := h.svc.AddAddendum(c.Request().Context(), id, actor(c), req.Text)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, add)
}

func (h *Handler) ListAddenda(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := h.authorize(c, id); err != nil {
		return err
	}
	items, err := h.svc.Addenda(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, items)
}
