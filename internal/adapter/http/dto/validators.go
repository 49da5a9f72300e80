package dto

import (
	"html"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"wallet-service/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)
	expiryRe     = regexp.MustCompile(`^[0-9]+[HDMYhdmy]$`)
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterValidators(v)
	}
}

// RegisterValidators adds the custom tags used by the request types.
func RegisterValidators(v *validator.Validate) {
	_ = v.RegisterValidation("safe_id", validateSafeID)
	_ = v.RegisterValidation("safe_url", validateSafeURL)
	_ = v.RegisterValidation("wallet_number", validateWalletNumber)
	_ = v.RegisterValidation("expiry", validateExpiry)
	_ = v.RegisterValidation("permission", validatePermission)
	_ = v.RegisterValidation("strong_password", validateStrongPassword)
}

// validateSafeID allows alphanumeric, underscore, dash, and dot.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateSafeURL accepts only http/https URLs.
func validateSafeURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true // optional field; use "required" tag to enforce presence
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func validateWalletNumber(fl validator.FieldLevel) bool {
	return domain.IsWalletNumber(fl.Field().String())
}

func validateExpiry(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if !expiryRe.MatchString(s) {
		return false
	}
	_, err := domain.ParseExpiry(s)
	return err == nil
}

func validatePermission(fl validator.FieldLevel) bool {
	_, err := domain.ParsePermissions([]string{fl.Field().String()})
	return err == nil
}

// validateStrongPassword requires an upper, a lower, a digit and a symbol.
func validateStrongPassword(fl validator.FieldLevel) bool {
	var upper, lower, digit, symbol bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer. Fields tagged
// `sanitize:"-"` are left alone.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() || rt.Field(i).Tag.Get("sanitize") == "-" {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				s := sanitize(elem.String())
				elem.SetString(s)
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
