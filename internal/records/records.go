// Package records stores appointments, diagnoses and messages with every
// clinical field sealed and every row signed.
package records

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/integrity"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/users"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrForbidden           = errors.New("not allowed")
	ErrInvalidTransition   = errors.New("status change not allowed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrRecipientNotFound   = errors.New("recipient not found")
	ErrAppointmentMismatch = errors.New("appointment not found or doesn't match doctor/patient")
)

// Service serves the three record kinds.
type Service struct {
	db     *gorm.DB
	engine *fieldcrypt.Engine
	mac    *integrity.Verifier
	users  *users.Directory
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates a Service.
func NewService(db *gorm.DB, engine *fieldcrypt.Engine, mac *integrity.Verifier, dir *users.Directory, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		engine: engine,
		mac:    mac,
		users:  dir,
		log:    log.With().Str("component", "records").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func stamp(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

// The signed tuple of each kind: ids, creation time and every sealed column.

func appointmentFields(a *models.Appointment) []string {
	return []string{"appointment", a.ID, a.PatientID, a.DoctorID, stamp(a.CreatedAt),
		a.DateEnc, a.TimeEnc, a.ReasonEnc, a.NotesEnc}
}

func diagnosisFields(d *models.Diagnosis) []string {
	appointmentID := ""
	if d.AppointmentID != nil {
		appointmentID = *d.AppointmentID
	}
	return []string{"diagnosis", d.ID, d.PatientID, d.DoctorID, appointmentID, stamp(d.CreatedAt),
		d.DiagnosisEnc, d.PrescriptionEnc, d.SymptomsEnc, d.NotesEnc, d.ConfidentialNotesEnc}
}

func messageFields(m *models.Message) []string {
	return []string{"message", m.ID, m.SenderID, m.ReceiverID, m.ParentID, stamp(m.CreatedAt),
		m.SubjectEnc, m.ContentEnc}
}

// opener decrypts the fields of one record and remembers whether any failed.
type opener struct {
	engine *fieldcrypt.Engine
	log    zerolog.Logger
	ok     bool
}

func (s *Service) opener(kind, id string) *opener {
	return &opener{
		engine: s.engine,
		log:    s.log.With().Str("kind", kind).Str("record_id", id).Logger(),
		ok:     true,
	}
}

func (o *opener) open(field, stored string) *string {
	if stored == "" {
		return nil
	}
	plain, err := o.engine.DecryptField(field, stored)
	if err != nil {
		o.ok = false
		o.log.Warn().Err(err).Str("field", field).Msg("failed to decrypt field")
		return nil
	}
	return &plain
}

// people loads the accounts referenced by a page of records.
func (s *Service) people(ctx context.Context, ids ...string) (map[string]*models.User, error) {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return s.users.FindMany(ctx, unique)
}

// name returns the decrypted name of id, or nil when the account is gone.
func (s *Service) name(people map[string]*models.User, id string) *string {
	u, ok := people[id]
	if !ok {
		return nil
	}
	return s.users.Summarize(u).Name
}

func (s *Service) summary(people map[string]*models.User, id string) *users.Summary {
	u, ok := people[id]
	if !ok {
		return nil
	}
	sum := s.users.Summarize(u)
	return &sum
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
