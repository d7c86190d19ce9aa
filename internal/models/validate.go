package models

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterStructValidation(preferencesRules, Preferences{})
		validate.RegisterStructValidation(messageRules, Message{})
		validate.RegisterStructValidation(sessionRules, ChatSession{})
	})
	return validate
}

// Validate checks v against its struct tags and the variant rules below.
func Validate(v any) error {
	return validatorInstance().Struct(v)
}

// Decode unmarshals a stored document and validates it. Documents that do not
// parse or do not validate never reach business logic.
func Decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	if err := Validate(&v); err != nil {
		return nil, fmt.Errorf("validate %T: %w", v, err)
	}
	return &v, nil
}

func preferencesRules(sl validator.StructLevel) {
	p := sl.Current().Interface().(Preferences)
	if p.AgeRange.IsZero() {
		return
	}
	if p.AgeRange.Min() < 0 || p.AgeRange.Max() > 120 || p.AgeRange.Min() > p.AgeRange.Max() {
		sl.ReportError(p.AgeRange, "AgeRange", "ageRange", "agerange", "")
	}
}

// A system message is sent by "system" and names its lifecycle event; a user
// message never uses the system sender id.
func messageRules(sl validator.StructLevel) {
	m := sl.Current().Interface().(Message)
	switch m.Kind {
	case MessageKindSystem:
		if !m.IsSystem || m.SenderID != SystemSenderID || m.SystemKind == "" {
			sl.ReportError(m.Kind, "Kind", "kind", "systemvariant", "")
		}
	case MessageKindUser:
		if m.IsSystem || m.SenderID == SystemSenderID || m.SystemKind != "" {
			sl.ReportError(m.Kind, "Kind", "kind", "uservariant", "")
		}
	}
}

func sessionRules(sl validator.StructLevel) {
	s := sl.Current().Interface().(ChatSession)
	if s.Ended && s.IsActive {
		sl.ReportError(s.IsActive, "IsActive", "isActive", "endedinactive", "")
	}
}
