package attendees

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/witcon/backend/internal/metrics"
	"github.com/witcon/backend/internal/models"
	"github.com/witcon/backend/pkg/queue"
	"github.com/witcon/backend/pkg/storage"
)

// Store persists attendees. Create and Update return *ConflictError on a duplicate
// user_id or email; lookups return ErrNotFound on a miss.
type Store interface {
	Create(ctx context.Context, a *models.Attendee) error
	List(ctx context.Context, search string) ([]models.Attendee, error)
	GetByUserID(ctx context.Context, userID string) (*models.Attendee, error)
	GetByID(ctx context.Context, id int64) (*models.Attendee, error)
	Update(ctx context.Context, a *models.Attendee) error
	Delete(ctx context.Context, id int64) error
}

// BlobStore holds uploaded files.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	URL(ref string) string
}

// Cache speeds up user_id lookups.
type Cache interface {
	Get(ctx context.Context, userID string) (*models.Attendee, bool, error)
	Set(ctx context.Context, a *models.Attendee) error
	Invalidate(ctx context.Context, userID string) error
}

// BlobCleaner schedules deletion of uploads no attendee references.
type BlobCleaner interface {
	EnqueueBlobDelete(ctx context.Context, payload queue.BlobDeletePayload) error
}

// Options wires the optional collaborators of a Service. Nil fields disable the feature.
type Options struct {
	Blobs     BlobStore
	Cache     Cache
	Cleaner   BlobCleaner
	MaxUpload int64
	Logger    *zap.Logger
}

// Service owns attendee validation, persistence and serialization.
type Service struct {
	store     Store
	blobs     BlobStore
	cache     Cache
	cleaner   BlobCleaner
	maxUpload int64
	logger    *zap.Logger
}

// NewService creates an attendee service.
func NewService(store Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = storage.DefaultMaxUploadSize
	}
	return &Service{
		store:     store,
		blobs:     opts.Blobs,
		cache:     opts.Cache,
		cleaner:   opts.Cleaner,
		maxUpload: opts.MaxUpload,
		logger:    opts.Logger,
	}
}

// MaxUpload returns the per-file upload limit in bytes.
func (s *Service) MaxUpload() int64 { return s.maxUpload }

// Public serializes an attendee, rendering blob references as URLs.
func (s *Service) Public(a *models.Attendee) models.AttendeePublic {
	if s.blobs == nil {
		return a.ToPublic(nil)
	}
	return a.ToPublic(s.blobs.URL)
}

// Create validates in, stores its uploads and inserts exactly one attendee.
// Nothing is persisted when validation fails or user_id/email is taken.
func (s *Service) Create(ctx context.Context, in CreateInput) (a *models.Attendee, err error) {
	defer func() { recordWrite("create", err) }()

	in.Normalize()
	if err := in.Validate(s.maxUpload); err != nil {
		return nil, err
	}
	if err := checkRefs(in, nil); err != nil {
		return nil, err
	}
	a = &models.Attendee{ResumeKey: in.Resume, PhotoKey: in.Photo}
	applyInput(a, in)
	a.UserID = in.UserID

	uploaded, err := s.storeUploads(ctx, a, in.Files)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, a); err != nil {
		s.cleanup(ctx, a.UserID, uploaded, "create_failed")
		return nil, err
	}
	s.logger.Info("attendee created", zap.Int64("id", a.ID), zap.String("user_id", a.UserID))
	return a, nil
}

// List returns every attendee, or those matching search, ordered by id.
func (s *Service) List(ctx context.Context, search string) ([]models.Attendee, error) {
	return s.store.List(ctx, search)
}

// GetByUserID returns the attendee registered under the external user id.
func (s *Service) GetByUserID(ctx context.Context, userID string) (*models.Attendee, error) {
	if s.cache != nil {
		a, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("attendee cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		if ok {
			metrics.LookupCache.WithLabelValues("hit").Inc()
			return a, nil
		}
		metrics.LookupCache.WithLabelValues("miss").Inc()
	}
	a, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, a); err != nil {
			s.logger.Warn("attendee cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return a, nil
}

// Resolve finds an attendee by user_id and, when byID is set and key is numeric,
// falls back to the primary key.
func (s *Service) Resolve(ctx context.Context, key string, byID bool) (*models.Attendee, error) {
	a, err := s.GetByUserID(ctx, key)
	if err == nil || !errors.Is(err, ErrNotFound) || !byID {
		return a, err
	}
	id, convErr := strconv.ParseInt(key, 10, 64)
	if convErr != nil || id <= 0 {
		return nil, ErrNotFound
	}
	return s.store.GetByID(ctx, id)
}

// Replace runs a full update of the attendee identified by key. Blob references left
// empty keep their current value. byID is passed to Resolve.
func (s *Service) Replace(ctx context.Context, key string, byID bool, in CreateInput) (a *models.Attendee, err error) {
	defer func() { recordWrite("update", err) }()

	current, err := s.Resolve(ctx, key, byID)
	if err != nil {
		return nil, err
	}
	if in.Resume == "" {
		in.Resume = current.ResumeKey
	}
	if in.Photo == "" {
		in.Photo = current.PhotoKey
	}
	return s.update(ctx, current, in)
}

// Patch applies a partial update to the attendee identified by key.
func (s *Service) Patch(ctx context.Context, key string, byID bool, p PatchInput) (a *models.Attendee, err error) {
	defer func() { recordWrite("update", err) }()

	current, err := s.Resolve(ctx, key, byID)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, current, p.Merge(current))
}

func (s *Service) update(ctx context.Context, current *models.Attendee, in CreateInput) (*models.Attendee, error) {
	in.Normalize()
	if in.UserID == "" {
		in.UserID = current.UserID
	}
	if err := in.Validate(s.maxUpload); err != nil {
		return nil, err
	}
	if in.UserID != current.UserID {
		return nil, invalid("user_id", "This field cannot be changed.")
	}
	if err := checkRefs(in, current); err != nil {
		return nil, err
	}

	next := *current
	applyInput(&next, in)
	next.ResumeKey, next.PhotoKey = in.Resume, in.Photo

	uploaded, err := s.storeUploads(ctx, &next, in.Files)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, &next); err != nil {
		s.cleanup(ctx, current.UserID, uploaded, "update_failed")
		return nil, err
	}
	s.invalidate(ctx, current.UserID)

	var replaced []string
	if current.ResumeKey != next.ResumeKey {
		replaced = append(replaced, current.ResumeKey)
	}
	if current.PhotoKey != next.PhotoKey {
		replaced = append(replaced, current.PhotoKey)
	}
	s.cleanup(ctx, current.UserID, replaced, "replaced")
	s.logger.Info("attendee updated", zap.Int64("id", next.ID), zap.String("user_id", next.UserID))
	return &next, nil
}

// Delete removes the attendee identified by key along with its uploads.
func (s *Service) Delete(ctx context.Context, key string) (err error) {
	defer func() { recordWrite("delete", err) }()

	a, err := s.Resolve(ctx, key, true)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, a.ID); err != nil {
		return err
	}
	s.invalidate(ctx, a.UserID)
	s.cleanup(ctx, a.UserID, a.BlobRefs(), "deleted")
	s.logger.Info("attendee deleted", zap.Int64("id", a.ID), zap.String("user_id", a.UserID))
	return nil
}

// checkRefs accepts caller supplied blob references only when they are external URLs
// or the key already stored on current. Bucket keys are issued by uploads alone.
func checkRefs(in CreateInput, current *models.Attendee) error {
	var resumeKey, photoKey string
	if current != nil {
		resumeKey, photoKey = current.ResumeKey, current.PhotoKey
	}
	fields := map[string]string{}
	for _, r := range []struct {
		kind      storage.Kind
		ref, kept string
	}{
		{storage.KindResume, in.Resume, resumeKey},
		{storage.KindPhoto, in.Photo, photoKey},
	} {
		if r.ref == "" || r.ref == r.kept || storage.IsExternalRef(r.ref) {
			continue
		}
		fields[string(r.kind)] = "Enter a valid URL."
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func applyInput(a *models.Attendee, in CreateInput) {
	a.FirstName = in.FirstName
	a.LastName = in.LastName
	a.Email = in.Email
	a.School = in.School
	a.FieldOfStudy = in.FieldOfStudy
	a.LevelOfStudy = in.LevelOfStudy
	a.LinkedIn = in.LinkedIn
	a.GitHub = in.GitHub
	a.Discord = in.Discord
}

// storeUploads uploads files and points the matching blob slots of a at them.
// It returns the new keys so a failed write can discard them.
func (s *Service) storeUploads(ctx context.Context, a *models.Attendee, files []Upload) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.blobs == nil {
		return nil, ErrUploadsUnavailable
	}
	var keys []string
	for _, f := range files {
		key := storage.AttendeeKey(a.UserID, f.Kind, f.Filename)
		if err := s.upload(ctx, key, f); err != nil {
			s.cleanup(ctx, a.UserID, keys, "upload_failed")
			return nil, err
		}
		keys = append(keys, key)
		switch f.Kind {
		case storage.KindResume:
			a.ResumeKey = key
		case storage.KindPhoto:
			a.PhotoKey = key
		}
	}
	return keys, nil
}

func (s *Service) upload(ctx context.Context, key string, f Upload) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", f.Kind, err)
	}
	defer rc.Close()
	return s.blobs.Upload(ctx, key, storage.ContentTypeFor(f.Kind, f.ContentType, f.Filename), rc, f.Size)
}

// cleanup schedules deletion of the keys owned by userID through the queue, deleting
// inline when no queue is available. Failures are logged; the attendee write has
// already settled.
func (s *Service) cleanup(ctx context.Context, userID string, keys []string, reason string) {
	var owned []string
	for _, k := range keys {
		if storage.OwnedBy(userID, k) {
			owned = append(owned, k)
		} else if k != "" && !storage.IsExternalRef(k) {
			s.logger.Warn("skipping cleanup of blob outside attendee prefix", zap.String("user_id", userID), zap.String("key", k))
		}
	}
	if len(owned) == 0 || s.blobs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if s.cleaner != nil {
		err := s.cleaner.EnqueueBlobDelete(ctx, queue.BlobDeletePayload{Keys: owned, Reason: reason})
		if err == nil {
			return
		}
		s.logger.Warn("enqueue blob cleanup failed, deleting inline", zap.Error(err), zap.Strings("keys", owned))
	}
	for _, k := range owned {
		if err := s.blobs.Delete(ctx, k); err != nil {
			s.logger.Error("delete orphaned blob failed", zap.String("key", k), zap.Error(err))
		}
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("attendee cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func recordWrite(op string, err error) {
	outcome := "ok"
	var verr *ValidationError
	var cerr *ConflictError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		outcome = "invalid"
	case errors.As(err, &cerr):
		outcome = "conflict"
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	metrics.AttendeeWrites.WithLabelValues(op, outcome).Inc()
}
