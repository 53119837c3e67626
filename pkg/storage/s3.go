package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxUploadSize is the upload limit used when none is configured (10MB).
	DefaultMaxUploadSize = 10 * 1024 * 1024
	// FolderAttendees is the S3 prefix for attendee objects.
	FolderAttendees = "attendees"
)

// Kind names an attendee blob slot.
type Kind string

const (
	KindResume Kind = "resume"
	KindPhoto  Kind = "photo"
)

// Allowed MIME types and extensions per blob kind.
var (
	AllowedTypes = map[Kind]map[string]string{
		KindResume: {
			"application/pdf":    ".pdf",
			"application/msword": ".doc",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
		},
		KindPhoto: {
			"image/jpeg": ".jpg",
			"image/jpg":  ".jpg",
			"image/png":  ".png",
			"image/webp": ".webp",
		},
	}
	AllowedExtensions = map[Kind]map[string]string{
		KindResume: {
			".pdf":  "application/pdf",
			".doc":  "application/msword",
			".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
		KindPhoto: {
			".jpg":  "image/jpeg",
			".jpeg": "image/jpeg",
			".png":  "image/png",
			".webp": "image/webp",
		},
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string
}

// S3 stores attendee uploads in a single bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ValidateFileType reports whether the content type or extension is allowed for kind.
func ValidateFileType(kind Kind, contentType, filename string) bool {
	if contentType != "" {
		if _, ok := AllowedTypes[kind][strings.ToLower(contentType)]; ok {
			return true
		}
	}
	if ext := strings.ToLower(path.Ext(filename)); ext != "" {
		if _, ok := AllowedExtensions[kind][ext]; ok {
			return true
		}
	}
	return false
}

// ContentTypeFor picks the stored MIME type: the declared one when allowed, else by extension.
func ContentTypeFor(kind Kind, contentType, filename string) string {
	if _, ok := AllowedTypes[kind][strings.ToLower(contentType)]; ok {
		return strings.ToLower(contentType)
	}
	if ct, ok := AllowedExtensions[kind][strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// AttendeeKey returns the object key attendees/{user_id}/{kind}/{random}{ext}.
// A random name keeps replaced uploads from overwriting the object still referenced by the row.
func AttendeeKey(userID string, kind Kind, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return attendeePrefix(userID) + string(kind) + "/" + uuid.NewString() + ext
}

// OwnedBy reports whether key was issued by AttendeeKey for userID.
func OwnedBy(userID, key string) bool {
	return userID != "" && strings.HasPrefix(key, attendeePrefix(userID))
}

// attendeePrefix escapes userID into a single path segment. Distinct ids map to
// distinct prefixes, and "." or ".." cannot leave the attendees folder.
func attendeePrefix(userID string) string {
	seg := url.PathEscape(userID)
	if seg == "." || seg == ".." {
		seg = strings.ReplaceAll(seg, ".", "%2E")
	}
	return FolderAttendees + "/" + seg + "/"
}

// IsExternalRef reports whether ref points outside the bucket (a caller supplied URL).
func IsExternalRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Bucket returns the uploads bucket name.
func (s *S3) Bucket() string { return s.cfg.Bucket }

// URL returns the public URL for a stored reference; external references are returned unchanged.
func (s *S3) URL(ref string) string {
	if ref == "" || IsExternalRef(ref) {
		return ref
	}
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + ref
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, ref)
}

// Upload streams body to the uploads bucket under key.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("object uploaded", zap.String("key", key), zap.Int64("size", contentLength))
	return nil
}

// Delete removes an object from the uploads bucket. External references are ignored.
func (s *S3) Delete(ctx context.Context, key string) error {
	if key == "" || IsExternalRef(key) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
