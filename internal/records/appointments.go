package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/users"
)

// NewAppointment is a booking request from a patient.
type NewAppointment struct {
	DoctorID string
	Date     string
	Time     string
	Reason   string
}

// AppointmentUpdate holds the optional changes to an appointment.
type AppointmentUpdate struct {
	Status *models.AppointmentStatus
	Notes  *string
	Date   *string
	Time   *string
}

// AppointmentView is an appointment as returned to callers.
type AppointmentView struct {
	ID                   string                   `json:"id"`
	PatientID            string                   `json:"patient_id"`
	DoctorID             string                   `json:"doctor_id"`
	PatientName          *string                  `json:"patient_name"`
	DoctorName           *string                  `json:"doctor_name"`
	DoctorSpecialization *string                  `json:"doctor_specialization"`
	Date                 *string                  `json:"appointment_date"`
	Time                 *string                  `json:"appointment_time"`
	Reason               *string                  `json:"reason"`
	Notes                *string                  `json:"notes"`
	Status               models.AppointmentStatus `json:"status"`
	IntegrityVerified    bool                     `json:"integrity_verified"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

// CreateAppointment books an appointment for the calling patient with an
// active doctor. It starts pending.
func (s *Service) CreateAppointment(ctx context.Context, sess *session.Session, in NewAppointment) (*AppointmentView, error) {
	if !sess.Role.CanBookAppointment() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.Reason) == "" || in.Date == "" || in.Time == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.users.FindActive(ctx, in.DoctorID, models.RoleDoctor); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	sealed, err := s.engine.EncryptFields(map[string]string{
		fieldcrypt.FieldDate:   in.Date,
		fieldcrypt.FieldTime:   in.Time,
		fieldcrypt.FieldReason: in.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal appointment: %w", err)
	}
	a := &models.Appointment{
		PatientID: sess.UserID,
		DoctorID:  in.DoctorID,
		DateEnc:   sealed[fieldcrypt.FieldDate],
		TimeEnc:   sealed[fieldcrypt.FieldTime],
		ReasonEnc: sealed[fieldcrypt.FieldReason],
		Status:    models.StatusPending,
	}
	a.Stamp()
	a.MAC = s.mac.Sign(appointmentFields(a)...)

	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}
	s.log.Info().Str("appointment_id", a.ID).Str("patient_id", a.PatientID).Str("doctor_id", a.DoctorID).Msg("appointment booked")
	return s.appointmentView(ctx, a)
}

// ListAppointments returns every appointment for admins and the caller's own
// for doctors and patients, latest slot first.
func (s *Service) ListAppointments(ctx context.Context, sess *session.Session) ([]AppointmentView, error) {
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

	var list []models.Appointment
	if err := q.Order("created_at desc").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch appointments: %w", err)
	}

	views, err := s.appointmentViews(ctx, list)
	if err != nil {
		return nil, err
	}
	// date and time are sealed so ordering by slot happens after decryption
	sort.SliceStable(views, func(i, j int) bool {
		return slotKey(views[i]) > slotKey(views[j])
	})
	return views, nil
}

func slotKey(v AppointmentView) string {
	if v.Date == nil {
		return ""
	}
	if v.Time == nil {
		return *v.Date
	}
	return *v.Date + " " + *v.Time
}

// GetAppointment returns one appointment to its patient, its doctor or an admin.
func (s *Service) GetAppointment(ctx context.Context, sess *session.Session, id string) (*AppointmentView, error) {
	a, err := s.loadAppointment(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return s.appointmentView(ctx, a)
}

// UpdateAppointment applies a status change, notes or a new slot.
//
// Patients may only cancel. Doctors confirm, complete, cancel and write
// notes. A new date or time comes from the patient or an admin and puts the
// appointment back to pending. Cancelled and completed appointments only
// accept notes.
func (s *Service) UpdateAppointment(ctx context.Context, sess *session.Session, id string, in AppointmentUpdate) (*AppointmentView, error) {
	a, err := s.loadAppointment(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	isPatient := sess.Is(a.PatientID)
	isDoctor := sess.Is(a.DoctorID)
	isAdmin := sess.Role == models.RoleAdmin

	if in.Status != nil && *in.Status != a.Status {
		next := *in.Status
		if !next.Valid() {
			return nil, ErrInvalidInput
		}
		if isPatient && !isAdmin && next != models.StatusCancelled {
			return nil, ErrForbidden
		}
		if !a.Status.CanTransition(next) {
			return nil, ErrInvalidTransition
		}
		a.Status = next
	}

	if in.Notes != nil {
		if !isDoctor && !isAdmin {
			return nil, ErrForbidden
		}
		enc, err := s.engine.EncryptField(fieldcrypt.FieldNotes, *in.Notes)
		if err != nil {
			return nil, err
		}
		a.NotesEnc = enc
	}

	if in.Date != nil || in.Time != nil {
		if !isPatient && !isAdmin {
			return nil, ErrForbidden
		}
		if a.Status.Terminal() {
			return nil, ErrInvalidTransition
		}
		if in.Date != nil {
			enc, err := s.engine.EncryptField(fieldcrypt.FieldDate, *in.Date)
			if err != nil {
				return nil, err
			}
			a.DateEnc = enc
		}
		if in.Time != nil {
			enc, err := s.engine.EncryptField(fieldcrypt.FieldTime, *in.Time)
			if err != nil {
				return nil, err
			}
			a.TimeEnc = enc
		}
		a.Status = models.StatusPending
	}

	a.MAC = s.mac.Sign(appointmentFields(a)...)
	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}
	s.log.Info().Str("appointment_id", a.ID).Str("actor_id", sess.UserID).Str("status", string(a.Status)).Msg("appointment updated")
	return s.appointmentView(ctx, a)
}

// DeleteAppointment removes an appointment when an admin asks. A patient's
// delete cancels instead; deleted reports which happened.
func (s *Service) DeleteAppointment(ctx context.Context, sess *session.Session, id string) (deleted bool, err error) {
	a, err := s.loadAppointment(ctx, sess, id)
	if err != nil {
		return false, err
	}

	if sess.Role != models.RoleAdmin {
		if !sess.Is(a.PatientID) {
			return false, ErrForbidden
		}
		if a.Status == models.StatusCancelled {
			return false, nil
		}
		if !a.Status.CanTransition(models.StatusCancelled) {
			return false, ErrInvalidTransition
		}
		if err := s.db.WithContext(ctx).Model(a).Update("status", models.StatusCancelled).Error; err != nil {
			return false, fmt.Errorf("failed to cancel appointment: %w", err)
		}
		s.log.Info().Str("appointment_id", a.ID).Str("actor_id", sess.UserID).Msg("appointment cancelled")
		return false, nil
	}

	// diagnoses keep their appointment reference, it is part of their signature
	if err := s.db.WithContext(ctx).Delete(a).Error; err != nil {
		return false, fmt.Errorf("failed to delete appointment: %w", err)
	}
	s.log.Info().Str("appointment_id", a.ID).Str("actor_id", sess.UserID).Msg("appointment deleted")
	return true, nil
}

// loadAppointment fetches id and checks the caller is a party or an admin.
func (s *Service) loadAppointment(ctx context.Context, sess *session.Session, id string) (*models.Appointment, error) {
	var a models.Appointment
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	if sess.Role != models.RoleAdmin && !sess.Is(a.PatientID) && !sess.Is(a.DoctorID) {
		return nil, ErrForbidden
	}
	return &a, nil
}

func (s *Service) appointmentView(ctx context.Context, a *models.Appointment) (*AppointmentView, error) {
	views, err := s.appointmentViews(ctx, []models.Appointment{*a})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) appointmentViews(ctx context.Context, list []models.Appointment) ([]AppointmentView, error) {
	ids := make([]string, 0, 2*len(list))
	for i := range list {
		ids = append(ids, list[i].PatientID, list[i].DoctorID)
	}
	people, err := s.people(ctx, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]AppointmentView, len(list))
	for i := range list {
		a := &list[i]
		o := s.opener("appointment", a.ID)
		v := AppointmentView{
			ID:          a.ID,
			PatientID:   a.PatientID,
			DoctorID:    a.DoctorID,
			PatientName: s.name(people, a.PatientID),
			DoctorName:  s.name(people, a.DoctorID),
			Date:        o.open(fieldcrypt.FieldDate, a.DateEnc),
			Time:        o.open(fieldcrypt.FieldTime, a.TimeEnc),
			Reason:      o.open(fieldcrypt.FieldReason, a.ReasonEnc),
			Notes:       o.open(fieldcrypt.FieldNotes, a.NotesEnc),
			Status:      a.Status,
			CreatedAt:   a.CreatedAt,
			UpdatedAt:   a.UpdatedAt,
		}
		if doc := s.summary(people, a.DoctorID); doc != nil {
			v.DoctorSpecialization = doc.Specialization
		}
		v.IntegrityVerified = s.mac.Verify(a.MAC, appointmentFields(a)...) && o.ok
		out[i] = v
	}
	return out, nil
}
