package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

const DefaultImageMaxKB = 2048

var DefaultImageTypes = []string{"jpeg", "png", "jpg", "gif"}

// UserInput is the bound text part of a create or update request.
type UserInput struct {
	Name    string `form:"name" json:"name" validate:"required,max=50"`
	Address string `form:"address" json:"address" validate:"required,max=100"`
}

// Errors maps a field to its failed-rule messages.
type Errors map[string][]string

var fieldOrder = []string{"name", "address", "image"}

func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

func (e Errors) Empty() bool { return len(e) == 0 }

// All flattens the messages, name first, then address, then image.
func (e Errors) All() []string {
	var out []string
	for _, f := range fieldOrder {
		out = append(out, e[f]...)
	}
	return out
}

// Merge replaces e's messages with other's for every field other names.
func (e Errors) Merge(other Errors) Errors {
	if len(other) == 0 {
		return e
	}
	if e == nil {
		e = Errors{}
	}
	for field, msgs := range other {
		e[field] = msgs
	}
	return e
}

// BindErrors turns a body decoding error into field errors. An empty body
// yields none so the required rules report the missing fields. Errors that
// do not name a field are returned unchanged.
func BindErrors(err error) (Errors, error) {
	if err == nil || errors.Is(err, io.EOF) {
		return nil, nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		field := typeErr.Field
		return Errors{field: {fmt.Sprintf("The %s field must be a string.", field)}}, nil
	}
	return nil, err
}

func (e Errors) Error() string {
	return strings.Join(e.All(), " ")
}

// Image describes an accepted upload.
type Image struct {
	Header      *multipart.FileHeader
	Ext         string
	ContentType string
}

type Validator struct {
	validate   *validator.Validate
	markup     *bluemonday.Policy
	maxImageKB int64
	imageTypes []string
}

func New(maxImageKB int) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if maxImageKB <= 0 {
		maxImageKB = DefaultImageMaxKB
	}
	return &Validator{
		validate:   v,
		markup:     bluemonday.StrictPolicy(),
		maxImageKB: int64(maxImageKB),
		imageTypes: DefaultImageTypes,
	}
}

// Normalize trims surrounding whitespace. The text is otherwise stored as sent.
func Normalize(in *UserInput) {
	in.Name = strings.TrimSpace(in.Name)
	in.Address = strings.TrimSpace(in.Address)
}

// HasMarkup reports whether the strict policy would drop anything from s.
// Plain text, including escaped entities and a lone "<", passes.
func (v *Validator) HasMarkup(s string) bool {
	return html.UnescapeString(v.markup.Sanitize(s)) != html.UnescapeString(s)
}

// User normalizes in and checks the text fields and the optional image. The
// returned Image is nil when no file was supplied.
func (v *Validator) User(in *UserInput, header *multipart.FileHeader) (*Image, Errors) {
	errs := Errors{}
	Normalize(in)

	if err := v.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs.Add(fe.Field(), message(fe))
			}
		} else {
			errs.Add("name", err.Error())
		}
	}
	for _, f := range []struct{ field, value string }{{"name", in.Name}, {"address", in.Address}} {
		if len(errs[f.field]) == 0 && v.HasMarkup(f.value) {
			errs.Add(f.field, fmt.Sprintf("The %s field must not contain HTML markup.", f.field))
		}
	}

	var img *Image
	if header != nil {
		var msgs []string
		img, msgs = v.Image(header)
		for _, m := range msgs {
			errs.Add("image", m)
		}
	}

	if errs.Empty() {
		return img, nil
	}
	return nil, errs
}

// Image applies the image, mimes and max rules to an upload.
func (v *Validator) Image(header *multipart.FileHeader) (*Image, []string) {
	var msgs []string

	f, err := header.Open()
	if err != nil {
		return nil, []string{"The image failed to upload."}
	}
	detected, err := mimetype.DetectReader(f)
	_ = f.Close()
	if err != nil {
		return nil, []string{"The image failed to upload."}
	}

	if !strings.HasPrefix(detected.String(), "image/") {
		msgs = append(msgs, "The image field must be an image.")
	}

	sniffedExt := strings.TrimPrefix(detected.Extension(), ".")
	clientExt := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !v.allowedType(sniffedExt) || !v.allowedType(clientExt) {
		msgs = append(msgs, fmt.Sprintf("The image field must be a file of type: %s.", strings.Join(v.imageTypes, ", ")))
	}

	if header.Size > v.maxImageKB*1024 {
		msgs = append(msgs, fmt.Sprintf("The image field must not be greater than %d kilobytes.", v.maxImageKB))
	}

	if len(msgs) > 0 {
		return nil, msgs
	}
	return &Image{Header: header, Ext: clientExt, ContentType: detected.String()}, nil
}

func (v *Validator) allowedType(ext string) bool {
	for _, t := range v.imageTypes {
		if ext == t {
			return true
		}
	}
	return false
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("The %s field is invalid.", fe.Field())
	}
}
