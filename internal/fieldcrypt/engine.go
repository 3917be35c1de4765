package fieldcrypt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hengadev/errsx"
)

const envelopeVersion = "v1"

// Field names known to the default policy.
const (
	FieldDiagnosis         = "diagnosis"
	FieldPrescription      = "prescription"
	FieldSymptoms          = "symptoms"
	FieldNotes             = "notes"
	FieldConfidentialNotes = "confidential_notes"
	FieldReason            = "reason"
	FieldDate              = "date"
	FieldTime              = "time"
	FieldUsername          = "username"
	FieldEmail             = "email"
	FieldName              = "name"
	FieldContactNo         = "contact_no"
	FieldSpecialization    = "specialization"
	FieldAge               = "age"
	FieldSex               = "sex"
	FieldSubject           = "subject"
	FieldContent           = "content"
)

// Policy maps a field name to the schemes applied to it, innermost first.
type Policy map[string][]string

// DefaultPolicy splits fields between the two schemes and double-seals
// confidential notes so neither key alone discloses them.
func DefaultPolicy() Policy {
	rsaOnly := []string{SchemeRSA}
	eccOnly := []string{SchemeECC}
	return Policy{
		FieldDiagnosis:         rsaOnly,
		FieldPrescription:      rsaOnly,
		FieldReason:            rsaOnly,
		FieldUsername:          rsaOnly,
		FieldEmail:             rsaOnly,
		FieldName:              rsaOnly,
		FieldContactNo:         rsaOnly,
		FieldSubject:           rsaOnly,
		FieldSymptoms:          eccOnly,
		FieldNotes:             eccOnly,
		FieldDate:              eccOnly,
		FieldTime:              eccOnly,
		FieldSpecialization:    eccOnly,
		FieldAge:               eccOnly,
		FieldSex:               eccOnly,
		FieldContent:           eccOnly,
		FieldConfidentialNotes: {SchemeRSA, SchemeECC},
	}
}

// Engine applies a Policy using a set of schemes.
type Engine struct {
	policy  Policy
	schemes map[string]Scheme
}

// NewEngine checks that every scheme the policy names is available.
func NewEngine(policy Policy, schemes ...Scheme) (*Engine, error) {
	byName := make(map[string]Scheme, len(schemes))
	for _, s := range schemes {
		byName[s.Name()] = s
	}
	for field, names := range policy {
		if len(names) == 0 {
			return nil, fmt.Errorf("field %q has an empty scheme list", field)
		}
		for _, name := range names {
			if _, ok := byName[name]; !ok {
				return nil, fmt.Errorf("%w: %q for field %q", ErrUnknownScheme, name, field)
			}
		}
	}
	return &Engine{policy: policy, schemes: byName}, nil
}

// EncryptField seals value for field. The result has the form
// v1:<scheme>[,<scheme>]:<base64>. An empty value stays empty.
func (e *Engine) EncryptField(field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	names, ok := e.policy[field]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	aad := []byte(field)
	data := []byte(value)
	for _, name := range names {
		sealed, err := e.schemes[name].Seal(aad, data)
		if err != nil {
			return "", fmt.Errorf("%s layer for %q: %w", name, field, err)
		}
		data = sealed
	}

	return envelopeVersion + ":" + strings.Join(names, ",") + ":" + base64.StdEncoding.EncodeToString(data), nil
}

// DecryptField reverses EncryptField. The envelope header, not the current
// policy, decides which layers to peel, so values written under an older
// policy stay readable.
func (e *Engine) DecryptField(field, stored string) (string, error) {
	if stored == "" {
		return "", nil
	}

	parts := strings.SplitN(stored, ":", 3)
	if len(parts) != 3 || parts[0] != envelopeVersion || parts[1] == "" {
		return "", ErrMalformedEnvelope
	}
	data, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	names := strings.Split(parts[1], ",")
	aad := []byte(field)
	for i := len(names) - 1; i >= 0; i-- {
		scheme, ok := e.schemes[names[i]]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownScheme, names[i])
		}
		data, err = scheme.Open(aad, data)
		if err != nil {
			return "", fmt.Errorf("%s layer for %q: %w", names[i], field, err)
		}
	}
	return string(data), nil
}

// EncryptFields seals every entry of values keyed by field name. Failures are
// collected per field.
func (e *Engine) EncryptFields(values map[string]string) (map[string]string, error) {
	errs := make(errsx.Map)
	out := make(map[string]string, len(values))
	for field, value := range values {
		sealed, err := e.EncryptField(field, value)
		if err != nil {
			errs.Set(field, err)
			continue
		}
		out[field] = sealed
	}
	if !errs.IsEmpty() {
		return nil, errs.AsError()
	}
	return out, nil
}

// DecryptFields opens every entry of stored. Fields that fail are left out of
// the result and reported in the returned error.
func (e *Engine) DecryptFields(stored map[string]string) (map[string]string, error) {
	errs := make(errsx.Map)
	out := make(map[string]string, len(stored))
	for field, value := range stored {
		plain, err := e.DecryptField(field, value)
		if err != nil {
			errs.Set(field, err)
			continue
		}
		out[field] = plain
	}
	if !errs.IsEmpty() {
		return out, errs.AsError()
	}
	return out, nil
}
