package domain

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// ValidateModule checks m's required fields (hash, name) via the struct's
// validator tags.
func ValidateModule(m *Module) error {
	return validate.Struct(m)
}

// ValidateWorkflow checks w's required fields (name, a non-empty cron list,
// a recognized shift unit) via the struct's validator tags.
func ValidateWorkflow(w *Workflow) error {
	return validate.Struct(w)
}
