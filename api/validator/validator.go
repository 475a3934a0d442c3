package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator is a struct that provides methods for struct validation using the underlying validator library.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a struct field.
type ValidationError struct {
	Field   string
	Message interface{}
}

func (v *Validator) formatError(err error) []ValidationError {
	errors := make([]ValidationError, 0)
	for _, err := range err.(validator.ValidationErrors) {
		errors = append(errors, ValidationError{
			Field:   fieldPath(err.StructNamespace()),
			Message: err.Error(),
		})
	}

	return errors
}

// fieldPath drops the top-level struct name from a namespace such as
// "request.Records[0].Type".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ValidateStruct validates the provided struct using the underlying validator and returns a slice of validation errors.
func (v *Validator) ValidateStruct(s interface{}) []ValidationError {
	err := v.cli.Struct(s)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks the provided value against the specified validation tags and returns a slice of validation errors.
func (v *Validator) Validate(value interface{}, tag string) []ValidationError {
	err := v.cli.Var(value, tag)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// New initializes and returns a new instance of the Validator. Besides the
// built-in tags it knows "jid", which accepts a bare XMPP address such as
// "room@conference.example.org" or "example.org".
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	if err := cli.RegisterValidation("jid", validateJID); err != nil {
		panic(err)
	}
	return &Validator{
		cli: cli,
	}
}

func validateJID(fl validator.FieldLevel) bool {
	return IsBareJID(fl.Field().String())
}

// IsBareJID reports whether s has the form [local@]domain with no resource
// and no whitespace.
func IsBareJID(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\r\n/") {
		return false
	}
	local, domain, found := strings.Cut(s, "@")
	if !found {
		domain, local = local, ""
	} else if local == "" {
		return false
	}
	if domain == "" || strings.Contains(domain, "@") {
		return false
	}
	return !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
