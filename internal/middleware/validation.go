package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"catalog-api/internal/domain"

	"github.com/go-playground/validator/v10"
)

// maxFormMemory is how much of a multipart body is kept in memory; the rest spills to disk
const maxFormMemory = 32 << 20

var ErrInvalidBody = errors.New("invalid request body")

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// report fields under the names clients send
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.RegisterValidation("price", validatePrice); err != nil {
		panic(err)
	}
}

// validatePrice accepts a decimal string between 0 and domain.MaxPrice
func validatePrice(fl validator.FieldLevel) bool {
	price, err := strconv.ParseFloat(fl.Field().String(), 64)
	return err == nil && price >= 0 && price <= domain.MaxPrice
}

// ValidateRequest validates a struct against its validation tags
func ValidateRequest(v interface{}) error {
	return validate.Struct(v)
}

// DecodeAndValidate binds the request body into v and validates it
func DecodeAndValidate(r *http.Request, v interface{}) error {
	if err := Bind(r, v); err != nil {
		return err
	}
	return ValidateRequest(v)
}

// Bind fills the string fields of the struct v, matched by json tag, from a
// JSON object, a urlencoded form or a multipart form. Values are trimmed,
// except password fields.
func Bind(r *http.Request, v interface{}) error {
	values, err := requestValues(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind target must be a struct pointer, got %T", v)
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" || field.Type.Kind() != reflect.String {
			continue
		}
		if value, ok := values[name]; ok {
			if !strings.Contains(name, "password") {
				value = strings.TrimSpace(value)
			}
			rv.Field(i).SetString(value)
		}
	}

	return nil
}

func requestValues(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	values := make(map[string]string)

	switch mediaType {
	case "application/json":
		raw := make(map[string]interface{})
		decoder := json.NewDecoder(r.Body)
		decoder.UseNumber()
		if err := decoder.Decode(&raw); err != nil {
			return nil, err
		}
		for key, value := range raw {
			values[key] = jsonScalar(value)
		}
		return values, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return nil, err
		}

	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
	}

	for key := range r.Form {
		values[key] = r.Form.Get(key)
	}
	return values, nil
}

func jsonScalar(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		// objects and arrays never satisfy a scalar rule
		encoded, _ := json.Marshal(v)
		return string(encoded)
	}
}

// ValidationErrors maps a field name to its messages
type ValidationErrors map[string][]string

// Add appends a message for field
func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

// FormatValidationErrors converts validator errors to field messages. Any
// other error yields nil.
func FormatValidationErrors(err error) ValidationErrors {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	out := make(ValidationErrors)
	for _, e := range validationErrors {
		out.Add(e.Field(), getErrorMessage(e))
	}
	return out
}

func getErrorMessage(e validator.FieldError) string {
	field := strings.ReplaceAll(e.Field(), "_", " ")

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", field)
	case "email":
		return fmt.Sprintf("The %s must be a valid email address.", field)
	case "min":
		return fmt.Sprintf("The %s must be at least %s characters.", field, e.Param())
	case "max":
		return fmt.Sprintf("The %s may not be greater than %s characters.", field, e.Param())
	case "numeric":
		return fmt.Sprintf("The %s must be a number.", field)
	case "price":
		return fmt.Sprintf("The %s must be between 0 and %s.", field, strconv.FormatFloat(domain.MaxPrice, 'f', 2, 64))
	default:
		return fmt.Sprintf("The %s is invalid.", field)
	}
}
