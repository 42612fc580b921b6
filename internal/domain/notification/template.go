package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Built-in template ids.
const (
	TemplateLabResultReady        = "lab-result-ready"
	TemplatePrescriptionPaid      = "prescription-paid"
	TemplatePrescriptionDispensed = "prescription-dispensed"
	TemplateRequestCreated        = "request-created"
	TemplateRequestApproved       = "request-approved"
	TemplateRequestRejected       = "request-rejected"
	TemplateBedAssigned           = "bed-assigned"
	TemplateBedReleased           = "bed-released"
)

// Template is a reusable notification with {{key}} placeholders in its
// title and message.
type Template struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      Type   `json:"type"`
	Category  string `json:"category"`
	Module    string `json:"module"`
	ActionURL string `json:"action_url,omitempty"`
}

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtInTemplates {
		e.templates[t.ID] = t
	}
	return e
}

var builtInTemplates = []Template{
	{
		ID:        TemplateLabResultReady,
		Title:     "Lab Result Ready",
		Message:   "{{test_name}} results for {{patient_name}} are now available.",
		Type:      TypeSuccess,
		Category:  "lab_result",
		Module:    "Laboratory",
		ActionURL: "/laboratory/results/{{result_id}}",
	},
	{
		ID:       TemplatePrescriptionPaid,
		Title:    "Prescription Paid",
		Message:  "Prescription {{prescription_id}} for {{patient_name}} was paid ({{amount}} by {{payment_method}}) and is ready to dispense.",
		Type:     TypeInfo,
		Category: "prescription",
		Module:   "Pharmacy",
	},
	{
		ID:       TemplatePrescriptionDispensed,
		Title:    "Prescription Dispensed",
		Message:  "Prescription {{prescription_id}} for {{patient_name}} was dispensed by {{dispensed_by}}.",
		Type:     TypeSuccess,
		Category: "prescription",
		Module:   "Pharmacy",
	},
	{
		ID:       TemplateRequestCreated,
		Title:    "{{priority}} {{request_type}} Request",
		Message:  "{{requested_by}} submitted a {{request_type}} request for {{patient_name}}.",
		Type:     TypeWarning,
		Category: "request",
		Module:   "{{module}}",
	},
	{
		ID:       TemplateRequestApproved,
		Title:    "{{request_type}} Request Approved",
		Message:  "The {{request_type}} request for {{patient_name}} was approved by {{approved_by}}.",
		Type:     TypeSuccess,
		Category: "request",
		Module:   "{{module}}",
	},
	{
		ID:       TemplateRequestRejected,
		Title:    "{{request_type}} Request Rejected",
		Message:  "The {{request_type}} request for {{patient_name}} was rejected: {{reason}}.",
		Type:     TypeWarning,
		Category: "request",
		Module:   "{{module}}",
	},
	{
		ID:       TemplateBedAssigned,
		Title:    "Bed Assigned",
		Message:  "{{patient_name}} was assigned bed {{bed_number}} in {{ward}}.",
		Type:     TypeInfo,
		Category: "bed",
		Module:   "BedManagement",
	},
	{
		ID:       TemplateBedReleased,
		Title:    "Bed Released",
		Message:  "Bed {{bed_number}} in {{ward}} is available again.",
		Type:     TypeInfo,
		Category: "bed",
		Module:   "BedManagement",
	},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("template %q: invalid type %q", t.ID, t.Type)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
	return nil
}

// Render builds an unsaved Notification from a template.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Notification, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Notification{}, fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)

	return Notification{
		Title:     r.Replace(t.Title),
		Message:   r.Replace(t.Message),
		Type:      t.Type,
		Category:  t.Category,
		Module:    r.Replace(t.Module),
		PatientID: data["patient_id"],
		ActionURL: r.Replace(t.ActionURL),
	}, nil
}

// Templates lists registered templates ordered by id.
func (e *TemplateEngine) Templates() []Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Template, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
