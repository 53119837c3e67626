package attendees

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/witcon/backend/internal/models"
	"github.com/witcon/backend/pkg/storage"
)

// CreateInput is the single typed payload for create and full update, whatever the
// request encoding. Resume and Photo carry opaque caller supplied references; uploaded
// files arrive in Files instead.
type CreateInput struct {
	UserID       string `json:"user_id" form:"user_id" validate:"required,max=150"`
	FirstName    string `json:"first_name" form:"first_name" validate:"required,max=100"`
	LastName     string `json:"last_name" form:"last_name" validate:"required,max=100"`
	Email        string `json:"email" form:"email" validate:"required,email,max=254"`
	School       string `json:"school" form:"school" validate:"max=200"`
	FieldOfStudy string `json:"field_of_study" form:"field_of_study" validate:"max=200"`
	LevelOfStudy string `json:"level_of_study" form:"level_of_study" validate:"max=200"`
	LinkedIn     string `json:"linkedin" form:"linkedin" validate:"max=200"`
	GitHub       string `json:"github" form:"github" validate:"max=200"`
	Discord      string `json:"discord" form:"discord" validate:"max=200"`
	Resume       string `json:"resume" form:"-" validate:"max=1024"`
	Photo        string `json:"photo" form:"-" validate:"max=1024"`

	Files []Upload `json:"-" form:"-" validate:"-"`
}

// PatchInput is a partial update; nil fields are left untouched.
type PatchInput struct {
	UserID       *string `json:"user_id" form:"user_id"`
	FirstName    *string `json:"first_name" form:"first_name"`
	LastName     *string `json:"last_name" form:"last_name"`
	Email        *string `json:"email" form:"email"`
	School       *string `json:"school" form:"school"`
	FieldOfStudy *string `json:"field_of_study" form:"field_of_study"`
	LevelOfStudy *string `json:"level_of_study" form:"level_of_study"`
	LinkedIn     *string `json:"linkedin" form:"linkedin"`
	GitHub       *string `json:"github" form:"github"`
	Discord      *string `json:"discord" form:"discord"`
	Resume       *string `json:"resume" form:"-"`
	Photo        *string `json:"photo" form:"-"`

	Files []Upload `json:"-" form:"-"`
}

// Form requests share the resume and photo keys between file parts and text
// references, so those two are read by decodeBody instead of the form binder.
type refSetter interface {
	setRef(kind storage.Kind, ref string)
}

func (in *CreateInput) setRef(kind storage.Kind, ref string) {
	switch kind {
	case storage.KindResume:
		in.Resume = ref
	case storage.KindPhoto:
		in.Photo = ref
	}
}

func (p *PatchInput) setRef(kind storage.Kind, ref string) {
	switch kind {
	case storage.KindResume:
		p.Resume = &ref
	case storage.KindPhoto:
		p.Photo = &ref
	}
}

// Upload is a file received in a multipart request.
type Upload struct {
	Kind        storage.Kind
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize trims surrounding whitespace from every text field.
func (in *CreateInput) Normalize() {
	for _, p := range []*string{
		&in.UserID, &in.FirstName, &in.LastName, &in.Email, &in.School, &in.FieldOfStudy,
		&in.LevelOfStudy, &in.LinkedIn, &in.GitHub, &in.Discord, &in.Resume, &in.Photo,
	} {
		*p = strings.TrimSpace(*p)
	}
}

// Validate checks the input against the attendee schema, including uploads.
func (in *CreateInput) Validate(maxUpload int64) error {
	fields := map[string]string{}
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate attendee: %w", err)
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
	}
	for _, f := range in.Files {
		if msg := checkUpload(f, maxUpload); msg != "" {
			fields[string(f.Kind)] = msg
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkUpload(f Upload, maxUpload int64) string {
	if f.Size == 0 {
		return "The submitted file is empty."
	}
	if maxUpload > 0 && f.Size > maxUpload {
		return fmt.Sprintf("Ensure this file is no larger than %d MB.", maxUpload/(1024*1024))
	}
	if !storage.ValidateFileType(f.Kind, f.ContentType, f.Filename) {
		if f.Kind == storage.KindResume {
			return "Upload a PDF or Word document."
		}
		return "Upload a valid image (jpg, png, webp)."
	}
	return ""
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
	default:
		return "Invalid value."
	}
}

// Merge applies the patch on top of the stored attendee, producing the full input
// that is validated exactly like a create.
func (p *PatchInput) Merge(a *models.Attendee) CreateInput {
	pick := func(v *string, current string) string {
		if v != nil {
			return *v
		}
		return current
	}
	return CreateInput{
		UserID:       pick(p.UserID, a.UserID),
		FirstName:    pick(p.FirstName, a.FirstName),
		LastName:     pick(p.LastName, a.LastName),
		Email:        pick(p.Email, a.Email),
		School:       pick(p.School, a.School),
		FieldOfStudy: pick(p.FieldOfStudy, a.FieldOfStudy),
		LevelOfStudy: pick(p.LevelOfStudy, a.LevelOfStudy),
		LinkedIn:     pick(p.LinkedIn, a.LinkedIn),
		GitHub:       pick(p.GitHub, a.GitHub),
		Discord:      pick(p.Discord, a.Discord),
		Resume:       pick(p.Resume, a.ResumeKey),
		Photo:        pick(p.Photo, a.PhotoKey),
		Files:        p.Files,
	}
}

// decodeBody binds the request body into obj with a decoder chosen by content type
// and collects multipart uploads. A file part wins over a text value under the same key.
func decodeBody(c *gin.Context, obj refSetter) ([]Upload, error) {
	var b binding.Binding
	switch c.ContentType() {
	case binding.MIMEJSON, "":
		b = binding.JSON
	case binding.MIMEPOSTForm:
		b = binding.Form
	case binding.MIMEMultipartPOSTForm:
		b = binding.FormMultipart
	default:
		return nil, ErrUnsupportedMediaType
	}
	if err := c.ShouldBindWith(obj, b); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, errRequestTooLarge
		}
		return nil, invalid("non_field_errors", "Malformed request body.")
	}
	if b == binding.JSON {
		return nil, nil
	}
	var uploads []Upload
	for _, kind := range []storage.Kind{storage.KindResume, storage.KindPhoto} {
		if b == binding.FormMultipart {
			fh, err := c.FormFile(string(kind))
			if err == nil {
				uploads = append(uploads, fileUpload(kind, fh))
				continue
			}
			if !errors.Is(err, http.ErrMissingFile) {
				return nil, invalid(string(kind), "The submitted data was not a file.")
			}
		}
		if ref, ok := c.GetPostForm(string(kind)); ok {
			obj.setRef(kind, ref)
		}
	}
	return uploads, nil
}

func fileUpload(kind storage.Kind, fh *multipart.FileHeader) Upload {
	return Upload{
		Kind:        kind,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open:        func() (io.ReadCloser, error) { return fh.Open() },
	}
}
