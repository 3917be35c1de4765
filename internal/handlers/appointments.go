package handlers

import (
	"github.com/gin-gonic/gin"

	"sphere-health-server/internal/models"
	"sphere-health-server/internal/records"
	"sphere-health-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	Records *records.Service
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(svc *records.Service) *AppointmentHandler {
	return &AppointmentHandler{Records: svc}
}

// CreateAppointmentRequest represents the request body for booking an
// appointment. The patient is always the caller.
type CreateAppointmentRequest struct {
	DoctorID string `json:"doctor_id" binding:"required,uuid"`
	Date     string `json:"appointment_date" binding:"required,datetime=2006-01-02"`
	Time     string `json:"appointment_time" binding:"required,datetime=15:04"`
	Reason   string `json:"reason" binding:"required,max=1000"`
}

// CreateAppointment handles booking by a patient.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req CreateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	view, err := h.Records.CreateAppointment(c.Request.Context(), sess, records.NewAppointment{
		DoctorID: req.DoctorID,
		Date:     req.Date,
		Time:     req.Time,
		Reason:   req.Reason,
	})
	if err != nil {
		respondError(c, err, "create appointment")
		return
	}
	utils.Created(c, "Appointment created successfully", view)
}

// GetAppointmentsForUser lists the caller's appointments, or all of them for
// an admin.
func (h *AppointmentHandler) GetAppointmentsForUser(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	list, err := h.Records.ListAppointments(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err, "fetch appointments")
		return
	}
	utils.Success(c, "Appointments fetched successfully", list)
}

// GetAppointmentByID returns one appointment to a party or an admin.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "appointment")
	if !ok {
		return
	}

	view, err := h.Records.GetAppointment(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err, "fetch appointment")
		return
	}
	utils.Success(c, "Appointment fetched successfully", view)
}

// UpdateAppointmentRequest carries the optional changes to an appointment.
type UpdateAppointmentRequest struct {
	Status *string `json:"status" binding:"omitempty,oneof=pending confirmed cancelled completed"`
	Notes  *string `json:"notes" binding:"omitempty,max=2000"`
	Date   *string `json:"appointment_date" binding:"omitempty,datetime=2006-01-02"`
	Time   *string `json:"appointment_time" binding:"omitempty,datetime=15:04"`
}

// UpdateAppointment changes status, notes or the slot of an appointment.
func (h *AppointmentHandler) UpdateAppointment(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "appointment")
	if !ok {
		return
	}
	var req UpdateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	in := records.AppointmentUpdate{Notes: req.Notes, Date: req.Date, Time: req.Time}
	if req.Status != nil {
		status := models.AppointmentStatus(*req.Status)
		in.Status = &status
	}
	view, err := h.Records.UpdateAppointment(c.Request.Context(), sess, id, in)
	if err != nil {
		respondError(c, err, "update appointment")
		return
	}
	utils.Success(c, "Appointment updated successfully", view)
}

// DeleteAppointment deletes for admins and cancels for the patient.
func (h *AppointmentHandler) DeleteAppointment(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "appointment")
	if !ok {
		return
	}

	deleted, err := h.Records.DeleteAppointment(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err, "delete appointment")
		return
	}
	if deleted {
		utils.Success(c, "Appointment deleted successfully", nil)
		return
	}
	utils.Success(c, "Appointment cancelled successfully", nil)
}
