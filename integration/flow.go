package integration

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/alepar/wp6003/hub"
)

// Form fields and error codes of the user step.
const (
	FieldMAC       = "mac"
	FieldTransport = "transport"
	FieldTitle     = "title"
	FieldBase      = "base"

	ErrCodeRequired          = "required"
	ErrCodeInvalidMAC        = "invalid_mac"
	ErrCodeInvalidTransport  = "invalid_transport"
	ErrCodeAlreadyConfigured = "already_configured"

	DefaultTitle = "WP6003 BLE Sensor"
)

// ConfigFlow turns user input into config entries. Each device address
// may be configured once.
type ConfigFlow struct {
	mu         sync.Mutex
	configured map[string]string
}

func NewConfigFlow() *ConfigFlow {
	return &ConfigFlow{configured: make(map[string]string)}
}

// StepUser validates input and creates the entry. On failure the entry is
// zero and the returned map holds an error code per offending field.
func (f *ConfigFlow) StepUser(entryID string, input map[string]string) (hub.ConfigEntry, map[string]string) {
	formErrors := make(map[string]string)

	raw := strings.TrimSpace(input[FieldMAC])
	mac, err := hub.NormalizeMAC(raw)
	switch {
	case raw == "":
		formErrors[FieldMAC] = ErrCodeRequired
	case err != nil:
		formErrors[FieldMAC] = ErrCodeInvalidMAC
	}

	transport, err := hub.ParseTransport(input[FieldTransport])
	if err != nil {
		formErrors[FieldTransport] = ErrCodeInvalidTransport
	}
	if entryID == "" {
		formErrors[FieldBase] = ErrCodeRequired
	}
	if len(formErrors) > 0 {
		return hub.ConfigEntry{}, formErrors
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.configured[mac]; ok {
		return hub.ConfigEntry{}, map[string]string{FieldBase: ErrCodeAlreadyConfigured}
	}
	f.configured[mac] = entryID

	title := strings.TrimSpace(input[FieldTitle])
	if title == "" {
		title = DefaultTitle
	}
	return hub.ConfigEntry{
		ID:        entryID,
		Title:     title,
		MAC:       mac,
		Transport: transport,
	}, nil
}

// Remove forgets the entry so its device can be configured again.
func (f *ConfigFlow) Remove(entryID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for mac, id := range f.configured {
		if id == entryID {
			delete(f.configured, mac)
		}
	}
}

// FormError flattens form errors into a single error, or nil.
func FormError(formErrors map[string]string) error {
	if len(formErrors) == 0 {
		return nil
	}
	parts := make([]string, 0, len(formErrors))
	for _, field := range []string{FieldBase, FieldMAC, FieldTransport} {
		if code, ok := formErrors[field]; ok {
			parts = append(parts, field+": "+code)
		}
	}
	return errors.New("invalid entry: " + strings.Join(parts, ", "))
}
