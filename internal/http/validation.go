package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const maxRequestBody = 1 << 20

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if decoder.More() {
		return errors.New("decode body: trailing data")
	}
	return nil
}

// decodeFailure turns a decodeJSON error into field messages so malformed
// bodies surface as validation errors.
func decodeFailure(err error) map[string]string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return map[string]string{typeErr.Field: "値の形式が正しくありません。"}
	}
	var timeErr *time.ParseError
	if errors.As(err, &timeErr) {
		return map[string]string{"body": "日時は RFC 3339 形式で指定してください。"}
	}
	if msg := err.Error(); strings.Contains(msg, "json: unknown field ") {
		_, field, _ := strings.Cut(msg, "json: unknown field ")
		return map[string]string{strings.Trim(field, `"`): "不明な項目です。"}
	}
	return map[string]string{"body": "無効なリクエスト形式です。"}
}

// validateRequest runs struct tag validation and returns field messages keyed
// by JSON name, or nil when the request is valid.
func validateRequest(req any) map[string]string {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"body": err.Error()}
	}

	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = describeFieldError(fe)
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須項目です。"
	case "max":
		return fmt.Sprintf("%s 文字以内で指定してください。", fe.Param())
	case "oneof":
		return fmt.Sprintf("%s のいずれかで指定してください。", strings.ReplaceAll(fe.Param(), " ", "、"))
	default:
		return "値が正しくありません。"
	}
}
