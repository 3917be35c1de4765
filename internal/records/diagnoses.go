package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/users"
)

// NewDiagnosis is written by a doctor for one of their patients.
type NewDiagnosis struct {
	PatientID         string
	AppointmentID     *string
	Diagnosis         string
	Prescription      string
	Symptoms          string
	Notes             string
	ConfidentialNotes string
}

// DiagnosisUpdate holds the optional changes to a diagnosis.
type DiagnosisUpdate struct {
	Diagnosis         *string
	Prescription      *string
	Symptoms          *string
	Notes             *string
	ConfidentialNotes *string
}

// DiagnosisView is a diagnosis as returned to callers. ConfidentialNotes is
// only ever set for roles allowed to read it.
type DiagnosisView struct {
	ID                string    `json:"id"`
	DoctorID          string    `json:"doctor_id"`
	PatientID         string    `json:"patient_id"`
	AppointmentID     *string   `json:"appointment_id"`
	DoctorName        *string   `json:"doctor_name"`
	PatientName       *string   `json:"patient_name"`
	Diagnosis         *string   `json:"diagnosis"`
	Prescription      *string   `json:"prescription"`
	Symptoms          *string   `json:"symptoms"`
	Notes             *string   `json:"notes"`
	ConfidentialNotes *string   `json:"confidential_notes"`
	IntegrityVerified bool      `json:"integrity_verified"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PatientListItem is what a doctor sees when picking a patient.
type PatientListItem struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
	Age  *int    `json:"age"`
	Sex  *string `json:"sex"`
}

// CreateDiagnosis records a diagnosis by the calling doctor. The patient must
// be active, and a linked appointment must be between the same two people.
func (s *Service) CreateDiagnosis(ctx context.Context, sess *session.Session, in NewDiagnosis) (*DiagnosisView, error) {
	if !sess.Role.CanWriteDiagnosis() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.users.FindActive(ctx, in.PatientID, models.RolePatient); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	if in.AppointmentID != nil && *in.AppointmentID == "" {
		in.AppointmentID = nil
	}
	if in.AppointmentID != nil {
		var n int64
		err := s.db.WithContext(ctx).Model(&models.Appointment{}).
			Where("id = ? AND doctor_id = ? AND patient_id = ?", *in.AppointmentID, sess.UserID, in.PatientID).
			Count(&n).Error
		if err != nil {
			return nil, fmt.Errorf("failed to check appointment: %w", err)
		}
		if n == 0 {
			return nil, ErrAppointmentMismatch
		}
	}

	sealed, err := s.engine.EncryptFields(map[string]string{
		fieldcrypt.FieldDiagnosis:         in.Diagnosis,
		fieldcrypt.FieldPrescription:      in.Prescription,
		fieldcrypt.FieldSymptoms:          in.Symptoms,
		fieldcrypt.FieldNotes:             in.Notes,
		fieldcrypt.FieldConfidentialNotes: in.ConfidentialNotes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal diagnosis: %w", err)
	}
	d := &models.Diagnosis{
		PatientID:            in.PatientID,
		DoctorID:             sess.UserID,
		AppointmentID:        in.AppointmentID,
		DiagnosisEnc:         sealed[fieldcrypt.FieldDiagnosis],
		PrescriptionEnc:      sealed[fieldcrypt.FieldPrescription],
		SymptomsEnc:          sealed[fieldcrypt.FieldSymptoms],
		NotesEnc:             sealed[fieldcrypt.FieldNotes],
		ConfidentialNotesEnc: sealed[fieldcrypt.FieldConfidentialNotes],
	}
	d.Stamp()
	d.MAC = s.mac.Sign(diagnosisFields(d)...)

	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, fmt.Errorf("failed to create diagnosis: %w", err)
	}
	s.log.Info().Str("diagnosis_id", d.ID).Str("doctor_id", d.DoctorID).Str("patient_id", d.PatientID).Msg("diagnosis recorded")
	return s.diagnosisView(ctx, sess, d)
}

// ListDiagnoses returns every diagnosis for admins, the ones a doctor wrote,
// or a patient's own.
func (s *Service) ListDiagnoses(ctx context.Context, sess *session.Session) ([]DiagnosisView, error) {
	q := s.db.WithContext(ctx)
	switch sess.Role {
	case models.RoleAdmin:
	case models.RoleDoctor:
		q = q.Where("doctor_id = ?", sess.UserID)
	case models.RolePatient:
		q = q.Where("patient_id = ?", sess.UserID)
	default:
		return nil, ErrForbidden
	}
	return s.findDiagnoses(ctx, sess, q.Order("created_at desc"))
}

// ListPatientDiagnoses returns the diagnoses of one patient. Patients may only
// ask for themselves.
func (s *Service) ListPatientDiagnoses(ctx context.Context, sess *session.Session, patientID string) ([]DiagnosisView, error) {
	switch sess.Role {
	case models.RoleAdmin, models.RoleDoctor:
	case models.RolePatient:
		if !sess.Is(patientID) {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	q := s.db.WithContext(ctx).Where("patient_id = ?", patientID).Order("created_at desc")
	return s.findDiagnoses(ctx, sess, q)
}

// GetDiagnosis returns one diagnosis to its patient, its author or an admin.
func (s *Service) GetDiagnosis(ctx context.Context, sess *session.Session, id string) (*DiagnosisView, error) {
	d, err := s.loadDiagnosis(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.RoleAdmin && !sess.Is(d.PatientID) && !sess.Is(d.DoctorID) {
		return nil, ErrForbidden
	}
	return s.diagnosisView(ctx, sess, d)
}

// UpdateDiagnosis changes the fields given. Only the author or an admin may.
func (s *Service) UpdateDiagnosis(ctx context.Context, sess *session.Session, id string, in DiagnosisUpdate) (*DiagnosisView, error) {
	d, err := s.loadDiagnosis(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Role != models.RoleAdmin && !sess.Is(d.DoctorID) {
		return nil, ErrForbidden
	}
	if in.Diagnosis != nil && strings.TrimSpace(*in.Diagnosis) == "" {
		return nil, ErrInvalidInput
	}

	changes := map[string]*string{
		fieldcrypt.FieldDiagnosis:         in.Diagnosis,
		fieldcrypt.FieldPrescription:      in.Prescription,
		fieldcrypt.FieldSymptoms:          in.Symptoms,
		fieldcrypt.FieldNotes:             in.Notes,
		fieldcrypt.FieldConfidentialNotes: in.ConfidentialNotes,
	}
	columns := map[string]*string{
		fieldcrypt.FieldDiagnosis:         &d.DiagnosisEnc,
		fieldcrypt.FieldPrescription:      &d.PrescriptionEnc,
		fieldcrypt.FieldSymptoms:          &d.SymptomsEnc,
		fieldcrypt.FieldNotes:             &d.NotesEnc,
		fieldcrypt.FieldConfidentialNotes: &d.ConfidentialNotesEnc,
	}
	plain := make(map[string]string)
	for field, v := range changes {
		if v != nil {
			plain[field] = *v
		}
	}
	if len(plain) == 0 {
		return s.diagnosisView(ctx, sess, d)
	}
	sealed, err := s.engine.EncryptFields(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal diagnosis: %w", err)
	}
	for field, enc := range sealed {
		*columns[field] = enc
	}

	d.MAC = s.mac.Sign(diagnosisFields(d)...)
	if err := s.db.WithContext(ctx).Save(d).Error; err != nil {
		return nil, fmt.Errorf("failed to update diagnosis: %w", err)
	}
	s.log.Info().Str("diagnosis_id", d.ID).Str("actor_id", sess.UserID).Msg("diagnosis updated")
	return s.diagnosisView(ctx, sess, d)
}

// DeleteDiagnosis removes a diagnosis. Admins only.
func (s *Service) DeleteDiagnosis(ctx context.Context, sess *session.Session, id string) error {
	if sess.Role != models.RoleAdmin {
		return ErrForbidden
	}
	d, err := s.loadDiagnosis(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(d).Error; err != nil {
		return fmt.Errorf("failed to delete diagnosis: %w", err)
	}
	s.log.Info().Str("diagnosis_id", d.ID).Str("actor_id", sess.UserID).Msg("diagnosis deleted")
	return nil
}

// ListPatients returns the active patients a doctor can write for.
func (s *Service) ListPatients(ctx context.Context, sess *session.Session) ([]PatientListItem, error) {
	switch sess.Role {
	case models.RoleAdmin, models.RoleDoctor:
	default:
		return nil, ErrForbidden
	}
	list, err := s.users.List(ctx, models.RolePatient)
	if err != nil {
		return nil, err
	}
	out := make([]PatientListItem, 0, len(list))
	for i := range list {
		if !list[i].IsActive {
			continue
		}
		p := s.users.View(&list[i])
		out = append(out, PatientListItem{ID: p.ID, Name: p.Name, Age: p.Age, Sex: p.Sex})
	}
	return out, nil
}

func (s *Service) loadDiagnosis(ctx context.Context, id string) (*models.Diagnosis, error) {
	var d models.Diagnosis
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *Service) findDiagnoses(ctx context.Context, sess *session.Session, q *gorm.DB) ([]DiagnosisView, error) {
	var list []models.Diagnosis
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch diagnoses: %w", err)
	}
	return s.diagnosisViews(ctx, sess, list)
}

func (s *Service) diagnosisView(ctx context.Context, sess *session.Session, d *models.Diagnosis) (*DiagnosisView, error) {
	views, err := s.diagnosisViews(ctx, sess, []models.Diagnosis{*d})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) diagnosisViews(ctx context.Context, sess *session.Session, list []models.Diagnosis) ([]DiagnosisView, error) {
	ids := make([]string, 0, 2*len(list))
	for i := range list {
		ids = append(ids, list[i].PatientID, list[i].DoctorID)
	}
	people, err := s.people(ctx, ids...)
	if err != nil {
		return nil, err
	}

	confidential := sess.Role.CanViewConfidential()
	out := make([]DiagnosisView, len(list))
	for i := range list {
		d := &list[i]
		o := s.opener("diagnosis", d.ID)
		v := DiagnosisView{
			ID:            d.ID,
			DoctorID:      d.DoctorID,
			PatientID:     d.PatientID,
			AppointmentID: d.AppointmentID,
			DoctorName:    s.name(people, d.DoctorID),
			PatientName:   s.name(people, d.PatientID),
			Diagnosis:     o.open(fieldcrypt.FieldDiagnosis, d.DiagnosisEnc),
			Prescription:  o.open(fieldcrypt.FieldPrescription, d.PrescriptionEnc),
			Symptoms:      o.open(fieldcrypt.FieldSymptoms, d.SymptomsEnc),
			Notes:         o.open(fieldcrypt.FieldNotes, d.NotesEnc),
			CreatedAt:     d.CreatedAt,
			UpdatedAt:     d.UpdatedAt,
		}
		if confidential {
			v.ConfidentialNotes = o.open(fieldcrypt.FieldConfidentialNotes, d.ConfidentialNotesEnc)
		}
		v.IntegrityVerified = s.mac.Verify(d.MAC, diagnosisFields(d)...) && o.ok
		out[i] = v
	}
	return out, nil
}
