package attendees

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/witcon/backend/internal/auth"
	"github.com/witcon/backend/internal/middleware"
	"github.com/witcon/backend/internal/models"
	"github.com/witcon/backend/pkg/response"
)

// multipartOverhead is headroom for form fields on top of the file limits.
const multipartOverhead = 1 << 20

// Handler handles attendee HTTP endpoints.
type Handler struct {
	svc    *Service
	policy auth.Policy
	logger *zap.Logger
}

// NewHandler creates an attendees handler.
func NewHandler(svc *Service, policy auth.Policy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, policy: policy, logger: logger}
}

// RegisterRoutes mounts the attendee routes on r, guarding each with the policy.
func RegisterRoutes(r gin.IRouter, h *Handler) {
	g := r.Group("/attendees")
	g.POST("/create/", middleware.Authorize(h.policy, auth.OpCreate), h.Create)
	g.GET("/", middleware.Authorize(h.policy, auth.OpList), h.List)
	g.GET("/:key/", middleware.Authorize(h.policy, auth.OpLookup), h.Get)
	g.PUT("/:key/", middleware.AuthorizeOwner(h.policy, auth.OpUpdate, auth.OpUpdateSelf, "key"), h.Replace)
	g.PATCH("/:key/", middleware.AuthorizeOwner(h.policy, auth.OpUpdate, auth.OpUpdateSelf, "key"), h.Patch)
	g.DELETE("/:key/", middleware.Authorize(h.policy, auth.OpDelete), h.Delete)
}

// Create handles POST /attendees/create/. Public registration.
func (h *Handler) Create(c *gin.Context) {
	h.limitBody(c)
	var in CreateInput
	files, err := decodeBody(c, &in)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	in.Files = files

	a, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	response.Created(c, h.svc.Public(a))
}

// List handles GET /attendees/?search=<text>.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), strings.TrimSpace(c.Query("search")))
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	out := make([]models.AttendeePublic, 0, len(list))
	for i := range list {
		out = append(out, h.svc.Public(&list[i]))
	}
	response.OK(c, out)
}

// Get handles GET /attendees/:key/. Anyone may look up a profile by user_id; callers
// allowed to retrieve may also address a record by its numeric id.
func (h *Handler) Get(c *gin.Context) {
	byID := h.policy.Allowed(auth.OpRetrieve, middleware.CallerFrom(c))
	a, err := h.svc.Resolve(c.Request.Context(), c.Param("key"), byID)
	if err != nil {
		h.writeError(c, err, "Profile not found")
		return
	}
	response.OK(c, h.svc.Public(a))
}

// Replace handles PUT /attendees/:key/.
func (h *Handler) Replace(c *gin.Context) {
	h.limitBody(c)
	var in CreateInput
	files, err := decodeBody(c, &in)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	in.Files = files

	a, err := h.svc.Replace(c.Request.Context(), c.Param("key"), h.updateByID(c), in)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	response.OK(c, h.svc.Public(a))
}

// Patch handles PATCH /attendees/:key/.
func (h *Handler) Patch(c *gin.Context) {
	h.limitBody(c)
	var p PatchInput
	files, err := decodeBody(c, &p)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	p.Files = files

	a, err := h.svc.Patch(c.Request.Context(), c.Param("key"), h.updateByID(c), p)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	response.OK(c, h.svc.Public(a))
}

// Delete handles DELETE /attendees/:key/.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("key")); err != nil {
		h.writeError(c, err, "")
		return
	}
	response.NoContent(c)
}

// updateByID reports whether the caller may address an update by numeric id.
// Owners updating themselves are matched on user_id only.
func (h *Handler) updateByID(c *gin.Context) bool {
	return h.policy.Allowed(auth.OpUpdate, middleware.CallerFrom(c))
}

func (h *Handler) limitBody(c *gin.Context) {
	limit := 2*h.svc.MaxUpload() + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
}

// writeError maps domain errors to responses. Unknown errors are logged and reported
// without detail.
func (h *Handler) writeError(c *gin.Context, err error, notFoundMsg string) {
	var verr *ValidationError
	var cerr *ConflictError
	switch {
	case errors.As(err, &verr):
		response.Invalid(c, "validation failed", verr.Fields)
	case errors.As(err, &cerr):
		response.Conflict(c, cerr.Error(), map[string]string{cerr.Field: cerr.Error()})
	case errors.Is(err, ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = "Not found."
		}
		response.NotFound(c, notFoundMsg)
	case errors.Is(err, errRequestTooLarge):
		response.TooLarge(c, "request body too large")
	case errors.Is(err, ErrUnsupportedMediaType):
		response.UnsupportedMediaType(c, `unsupported media type "`+c.ContentType()+`"`)
	case errors.Is(err, ErrUploadsUnavailable):
		response.ServiceUnavailable(c, "file uploads are temporarily unavailable")
	default:
		_ = c.Error(err)
		h.logger.Error("attendee request failed",
			zap.Error(err),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		response.Internal(c, "internal server error")
	}
}
