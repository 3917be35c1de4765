package handlers

import (
	"github.com/gin-gonic/gin"

	"sphere-health-server/internal/records"
	"sphere-health-server/internal/utils"
)

// DiagnosisHandler handles diagnosis records.
type DiagnosisHandler struct {
	Records *records.Service
}

// NewDiagnosisHandler creates a new DiagnosisHandler.
func NewDiagnosisHandler(svc *records.Service) *DiagnosisHandler {
	return &DiagnosisHandler{Records: svc}
}

// CreateDiagnosisRequest is a doctor's new diagnosis.
type CreateDiagnosisRequest struct {
	PatientID         string  `json:"patient_id" binding:"required,uuid"`
	AppointmentID     *string `json:"appointment_id" binding:"omitempty,uuid"`
	Diagnosis         string  `json:"diagnosis" binding:"required"`
	Prescription      string  `json:"prescription"`
	Symptoms          string  `json:"symptoms"`
	Notes             string  `json:"notes"`
	ConfidentialNotes string  `json:"confidential_notes"`
}

// CreateDiagnosis records a diagnosis by the calling doctor.
func (h *DiagnosisHandler) CreateDiagnosis(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req CreateDiagnosisRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	view, err := h.Records.CreateDiagnosis(c.Request.Context(), sess, records.NewDiagnosis{
		PatientID:         req.PatientID,
		AppointmentID:     req.AppointmentID,
		Diagnosis:         req.Diagnosis,
		Prescription:      req.Prescription,
		Symptoms:          req.Symptoms,
		Notes:             req.Notes,
		ConfidentialNotes: req.ConfidentialNotes,
	})
	if err != nil {
		respondError(c, err, "create diagnosis")
		return
	}
	utils.Created(c, "Diagnosis created successfully", view)
}

// GetDiagnoses lists the diagnoses visible to the caller.
func (h *DiagnosisHandler) GetDiagnoses(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	list, err := h.Records.ListDiagnoses(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err, "fetch diagnoses")
		return
	}
	utils.Success(c, "Diagnoses fetched successfully", list)
}

// GetDiagnosesForPatient lists one patient's diagnoses.
func (h *DiagnosisHandler) GetDiagnosesForPatient(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	patientID, ok := pathID(c, "patientId", "patient")
	if !ok {
		return
	}

	list, err := h.Records.ListPatientDiagnoses(c.Request.Context(), sess, patientID)
	if err != nil {
		respondError(c, err, "fetch diagnoses")
		return
	}
	utils.Success(c, "Diagnoses fetched successfully", list)
}

// GetPatients lists the active patients a doctor can write for.
func (h *DiagnosisHandler) GetPatients(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	list, err := h.Records.ListPatients(c.Request.Context(), sess)
	if err != nil {
		respondError(c, err, "fetch patients")
		return
	}
	utils.Success(c, "Patients fetched successfully", list)
}

// GetDiagnosisByID returns one diagnosis.
func (h *DiagnosisHandler) GetDiagnosisByID(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "diagnosis")
	if !ok {
		return
	}

	view, err := h.Records.GetDiagnosis(c.Request.Context(), sess, id)
	if err != nil {
		respondError(c, err, "fetch diagnosis")
		return
	}
	utils.Success(c, "Diagnosis fetched successfully", view)
}

// UpdateDiagnosisRequest carries the fields to change. Absent fields stay.
type UpdateDiagnosisRequest struct {
	Diagnosis         *string `json:"diagnosis"`
	Prescription      *string `json:"prescription"`
	Symptoms          *string `json:"symptoms"`
	Notes             *string `json:"notes"`
	ConfidentialNotes *string `json:"confidential_notes"`
}

// UpdateDiagnosis lets the author or an admin amend a diagnosis.
func (h *DiagnosisHandler) UpdateDiagnosis(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "diagnosis")
	if !ok {
		return
	}
	var req UpdateDiagnosisRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	view, err := h.Records.UpdateDiagnosis(c.Request.Context(), sess, id, records.DiagnosisUpdate{
		Diagnosis:         req.Diagnosis,
		Prescription:      req.Prescription,
		Symptoms:          req.Symptoms,
		Notes:             req.Notes,
		ConfidentialNotes: req.ConfidentialNotes,
	})
	if err != nil {
		respondError(c, err, "update diagnosis")
		return
	}
	utils.Success(c, "Diagnosis updated successfully", view)
}

// DeleteDiagnosis removes a diagnosis. Admin only.
func (h *DiagnosisHandler) DeleteDiagnosis(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id", "diagnosis")
	if !ok {
		return
	}

	if err := h.Records.DeleteDiagnosis(c.Request.Context(), sess, id); err != nil {
		respondError(c, err, "delete diagnosis")
		return
	}
	utils.Success(c, "Diagnosis deleted successfully", nil)
}
