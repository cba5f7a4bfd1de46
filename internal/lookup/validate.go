package lookup

import "strings"

// ValidateOptions checks the required settings without touching the network.
// Every violated rule is reported; an empty slice means the options are valid.
func ValidateOptions(opts Options) []FieldError {
	errs := []FieldError{}

	if strings.HasSuffix(opts.BaseURL, "//") {
		errs = append(errs, FieldError{Field: "url", Message: "Your Url must not end with a //"})
	}
	if opts.BaseURL == "" {
		errs = append(errs, FieldError{Field: "url", Message: "You must provide a valid API URL"})
	}
	if opts.SecurityToken == "" {
		errs = append(errs, FieldError{Field: "securityToken", Message: "You must provide a valid Security Token"})
	}
	return errs
}

// normalizeBaseURL strips a single trailing slash.
func normalizeBaseURL(u string) string {
	return strings.TrimSuffix(u, "/")
}
