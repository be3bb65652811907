package model

import "fmt"

// ValidateMessage checks the structural invariants of a message before it
// reaches a backend.
func ValidateMessage(m *Message) error {
	if m == nil {
		return fmt.Errorf("%w: message is nil", ErrValidation)
	}
	if m.Content == "" {
		return fmt.Errorf("%w: message content is required", ErrValidation)
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleFunction, RoleTool:
	default:
		return fmt.Errorf("%w: unknown message role %q", ErrValidation, m.Role)
	}
	return nil
}

// ValidateMemoryEntry checks the structural invariants of a memory entry.
func ValidateMemoryEntry(e *MemoryEntry) error {
	if e == nil {
		return fmt.Errorf("%w: memory entry is nil", ErrValidation)
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: memory entry user id is required", ErrValidation)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: memory entry content is required", ErrValidation)
	}
	if !containsKind(MemoryKinds, e.Kind) {
		return fmt.Errorf("%w: unknown memory kind %q", ErrValidation, e.Kind)
	}
	if e.Metadata.Confidence < 0 || e.Metadata.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrValidation)
	}
	if e.Metadata.Importance < 0 || e.Metadata.Importance > 1 {
		return fmt.Errorf("%w: importance must be within [0,1]", ErrValidation)
	}
	if e.ExpiresAt != nil && !e.CreatedAt.IsZero() && e.ExpiresAt.Before(e.CreatedAt) {
		return fmt.Errorf("%w: expiry precedes creation time", ErrValidation)
	}
	return nil
}
