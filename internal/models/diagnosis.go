package models

// Diagnosis is a doctor's record for a patient. Each clinical field is sealed
// independently.
type Diagnosis struct {
	BaseModel
	PatientID            string  `gorm:"size:36;index;not null"`
	DoctorID             string  `gorm:"size:36;index;not null"`
	AppointmentID        *string `gorm:"size:36;index"`
	DiagnosisEnc         string  `gorm:"type:text;not null"`
	PrescriptionEnc      string  `gorm:"type:text"`
	SymptomsEnc          string  `gorm:"type:text"`
	NotesEnc             string  `gorm:"type:text"`
	ConfidentialNotesEnc string  `gorm:"type:text"`
	MAC                  string  `gorm:"size:64;not null"`
}

// TableName keeps the plural form stable across dialects.
func (Diagnosis) TableName() string {
	return "diagnoses"
}
