package attendees

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/witcon/backend/internal/models"
	"github.com/witcon/backend/pkg/queue"
	"github.com/witcon/backend/pkg/storage"
)

// memStore is an in-memory Store that enforces the same uniqueness rules as the
// attendees table.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]models.Attendee
	err    error
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]models.Attendee{}}
}

func (m *memStore) conflict(a *models.Attendee) error {
	for _, r := range m.rows {
		if r.ID == a.ID {
			continue
		}
		if r.UserID == a.UserID {
			return &ConflictError{Field: "user_id"}
		}
		if strings.EqualFold(r.Email, a.Email) {
			return &ConflictError{Field: "email"}
		}
	}
	return nil
}

func (m *memStore) Create(_ context.Context, a *models.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if err := m.conflict(a); err != nil {
		return err
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now().UTC()
	m.rows[a.ID] = *a
	return nil
}

func (m *memStore) List(_ context.Context, search string) ([]models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	q := strings.ToLower(search)
	out := []models.Attendee{}
	for _, r := range m.rows {
		if q == "" || strings.Contains(strings.ToLower(r.FirstName), q) || strings.Contains(strings.ToLower(r.LastName), q) ||
			strings.Contains(strings.ToLower(r.Email), q) || strings.Contains(strings.ToLower(r.School), q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetByUserID(_ context.Context, userID string) (*models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.rows {
		if r.UserID == userID {
			a := r
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByID(_ context.Context, id int64) (*models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memStore) Update(_ context.Context, a *models.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.ID]
	if !ok {
		return ErrNotFound
	}
	if err := m.conflict(a); err != nil {
		return err
	}
	a.UserID, a.CreatedAt = cur.UserID, cur.CreatedAt
	m.rows[a.ID] = *a
	return nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memBlobs records uploads and deletions.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Upload(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *memBlobs) URL(ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	return "https://files.test/" + ref
}

// recordingCleaner captures enqueued cleanup jobs.
type recordingCleaner struct {
	mu   sync.Mutex
	jobs []queue.BlobDeletePayload
	err  error
}

func (r *recordingCleaner) EnqueueBlobDelete(_ context.Context, p queue.BlobDeletePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, p)
	return nil
}

var errStoreDown = errors.New("connection refused")

func textUpload(kind, filename, contentType, body string) Upload {
	return Upload{
		Kind:        storage.Kind(kind),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}
