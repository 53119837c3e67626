package attendees

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witcon/backend/internal/models"
)

func adaInput() CreateInput {
	return CreateInput{UserID: "u1", FirstName: "Ada", LastName: "Lovelace", Email: "ada@x.com", School: "X"}
}

func TestService_CreateAssignsUniqueIDs(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{})
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		in := CreateInput{
			UserID:    fmt.Sprintf("u%d", i),
			FirstName: "First",
			LastName:  "Last",
			Email:     fmt.Sprintf("p%d@x.com", i),
		}
		a, err := svc.Create(ctx, in)
		require.NoError(t, err)
		assert.NotZero(t, a.ID)
		assert.False(t, a.CreatedAt.IsZero())
		assert.False(t, seen[a.ID], "id %d reused", a.ID)
		seen[a.ID] = true
	}
	assert.Equal(t, 5, store.count())
}

func TestService_CreateConflicts(t *testing.T) {
	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"same user_id", CreateInput{UserID: "u1", FirstName: "B", LastName: "C", Email: "other@x.com"}, "user_id"},
		{"same email", CreateInput{UserID: "u2", FirstName: "B", LastName: "C", Email: "ada@x.com"}, "email"},
		{"same email different case", CreateInput{UserID: "u3", FirstName: "B", LastName: "C", Email: "ADA@X.COM"}, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := NewService(store, Options{})
			_, err := svc.Create(context.Background(), adaInput())
			require.NoError(t, err)

			_, err = svc.Create(context.Background(), tt.in)
			var cerr *ConflictError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.Equal(t, 1, store.count())
		})
	}
}

func TestService_ConcurrentCreateSameUserID(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := adaInput()
			in.Email = fmt.Sprintf("ada%d@x.com", i)
			_, errs[i] = svc.Create(context.Background(), in)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		var cerr *ConflictError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &cerr):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, store.count())
}

func TestService_CreateValidation(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{})

	_, err := svc.Create(context.Background(), CreateInput{UserID: "u1", FirstName: "   ", Email: "not-an-email"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "This field is required.", verr.Fields["first_name"])
	assert.Equal(t, "This field is required.", verr.Fields["last_name"])
	assert.Equal(t, "Enter a valid email address.", verr.Fields["email"])
	assert.NotContains(t, verr.Fields, "user_id")
	assert.Equal(t, 0, store.count())
}

func TestService_CreateTrimsInput(t *testing.T) {
	svc := NewService(newMemStore(), Options{})

	in := adaInput()
	in.FirstName = "  Ada "
	in.Email = " ada@x.com\n"
	a, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Ada", a.FirstName)
	assert.Equal(t, "ada@x.com", a.Email)
}

func TestService_CreateUploadsAndCleansUpOnConflict(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	cleaner := &recordingCleaner{}
	svc := NewService(store, Options{Blobs: blobs, Cleaner: cleaner})
	ctx := context.Background()

	in := adaInput()
	in.Files = []Upload{textUpload("resume", "cv.pdf", "application/pdf", "%PDF-1.4")}
	a, err := svc.Create(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, a.ResumeKey)
	assert.Contains(t, blobs.objects, a.ResumeKey)
	assert.Equal(t, "https://files.test/"+a.ResumeKey, *svc.Public(a).Resume)
	assert.Nil(t, svc.Public(a).Photo)

	dup := adaInput()
	dup.Email = "someone@x.com"
	dup.Files = []Upload{textUpload("photo", "me.png", "image/png", "png")}
	_, err = svc.Create(ctx, dup)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)

	require.Len(t, cleaner.jobs, 1)
	assert.Equal(t, "create_failed", cleaner.jobs[0].Reason)
	require.Len(t, cleaner.jobs[0].Keys, 1)
	assert.NotEqual(t, a.ResumeKey, cleaner.jobs[0].Keys[0])
}

func TestService_CleanupFallsBackToInlineDelete(t *testing.T) {
	store := newMemStore()
	store.err = errStoreDown
	blobs := newMemBlobs()
	svc := NewService(store, Options{Blobs: blobs, Cleaner: &recordingCleaner{err: errors.New("redis down")}})

	in := adaInput()
	in.Files = []Upload{textUpload("photo", "me.png", "image/png", "png")}
	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, errStoreDown)

	assert.Len(t, blobs.deleted, 1)
	assert.Empty(t, blobs.objects)
}

func TestService_CreateRejectsBadUploads(t *testing.T) {
	svc := NewService(newMemStore(), Options{Blobs: newMemBlobs(), MaxUpload: 4})

	in := adaInput()
	in.Files = []Upload{
		textUpload("resume", "cv.exe", "application/x-msdownload", "MZ"),
		textUpload("photo", "me.png", "image/png", "too large"),
	}
	_, err := svc.Create(context.Background(), in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Upload a PDF or Word document.", verr.Fields["resume"])
	assert.Contains(t, verr.Fields["photo"], "no larger than")
}

func TestService_CreateWithFilesWithoutBlobStore(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, Options{})

	in := adaInput()
	in.Files = []Upload{textUpload("resume", "cv.pdf", "application/pdf", "%PDF")}
	_, err := svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, ErrUploadsUnavailable)
	assert.Equal(t, 0, store.count())
}

func TestService_ListSearch(t *testing.T) {
	svc := NewService(newMemStore(), Options{})
	ctx := context.Background()
	for _, in := range []CreateInput{
		{UserID: "u1", FirstName: "Charlie", LastName: "Brown", Email: "cb@x.com"},
		{UserID: "u2", FirstName: "Ada", LastName: "Lovelace", Email: "ada@brownmail.com"},
		{UserID: "u3", FirstName: "Grace", LastName: "Hopper", Email: "grace@x.com", School: "BROWN University"},
		{UserID: "u4", FirstName: "Alan", LastName: "Turing", Email: "alan@x.com", School: "Cambridge"},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}

	found, err := svc.List(ctx, "brown")
	require.NoError(t, err)
	var ids []string
	for _, a := range found {
		ids = append(ids, a.UserID)
	}
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids)
}

func TestService_Resolve(t *testing.T) {
	svc := NewService(newMemStore(), Options{})
	ctx := context.Background()
	a, err := svc.Create(ctx, adaInput())
	require.NoError(t, err)

	got, err := svc.Resolve(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = svc.Resolve(ctx, fmt.Sprint(a.ID), false)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err = svc.Resolve(ctx, fmt.Sprint(a.ID), true)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = svc.Resolve(ctx, "u2", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_PatchAndReplace(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	cleaner := &recordingCleaner{}
	svc := NewService(store, Options{Blobs: blobs, Cleaner: cleaner})
	ctx := context.Background()

	in := adaInput()
	in.Files = []Upload{textUpload("resume", "cv.pdf", "application/pdf", "v1")}
	created, err := svc.Create(ctx, in)
	require.NoError(t, err)

	school := "Analytical Engine Institute"
	patched, err := svc.Patch(ctx, "u1", true, PatchInput{
		School: &school,
		Files:  []Upload{textUpload("resume", "cv2.pdf", "application/pdf", "v2")},
	})
	require.NoError(t, err)
	assert.Equal(t, school, patched.School)
	assert.Equal(t, "Ada", patched.FirstName)
	assert.Equal(t, created.CreatedAt, patched.CreatedAt)
	assert.NotEqual(t, created.ResumeKey, patched.ResumeKey)
	require.Len(t, cleaner.jobs, 1)
	assert.Equal(t, []string{created.ResumeKey}, cleaner.jobs[0].Keys)

	empty := ""
	_, err = svc.Patch(ctx, "u1", true, PatchInput{FirstName: &empty})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "first_name")

	other := "u9"
	_, err = svc.Patch(ctx, "u1", true, PatchInput{UserID: &other})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "This field cannot be changed.", verr.Fields["user_id"])

	replaced, err := svc.Replace(ctx, fmt.Sprint(created.ID), true, CreateInput{FirstName: "Augusta", LastName: "King", Email: "augusta@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1", replaced.UserID)
	assert.Equal(t, "", replaced.School)
	assert.Equal(t, patched.ResumeKey, replaced.ResumeKey)

	_, err = svc.Patch(ctx, "missing", true, PatchInput{School: &school})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_PatchEmailConflict(t *testing.T) {
	svc := NewService(newMemStore(), Options{})
	ctx := context.Background()
	_, err := svc.Create(ctx, adaInput())
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateInput{UserID: "u2", FirstName: "Grace", LastName: "Hopper", Email: "grace@x.com"})
	require.NoError(t, err)

	email := "ada@x.com"
	_, err = svc.Patch(ctx, "u2", true, PatchInput{Email: &email})
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "email", cerr.Field)
}

func TestService_Delete(t *testing.T) {
	store := newMemStore()
	cleaner := &recordingCleaner{}
	svc := NewService(store, Options{Blobs: newMemBlobs(), Cleaner: cleaner})
	ctx := context.Background()

	in := adaInput()
	in.Photo = "https://avatars.example.com/ada.png"
	in.Files = []Upload{textUpload("resume", "cv.pdf", "application/pdf", "v1")}
	a, err := svc.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "u1"))
	assert.Equal(t, 0, store.count())
	require.Len(t, cleaner.jobs, 1)
	assert.Equal(t, []string{a.ResumeKey}, cleaner.jobs[0].Keys)

	assert.ErrorIs(t, svc.Delete(ctx, "u1"), ErrNotFound)
}

func TestService_LookupCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	svc := NewService(store, Options{Cache: NewRedisCache(client, time.Minute)})
	ctx := context.Background()
	_, err := svc.Create(ctx, adaInput())
	require.NoError(t, err)

	first, err := svc.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("attendee:user:u1"))

	// served from cache while the store is unavailable
	store.err = errStoreDown
	cached, err := svc.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, cached.ID)
	assert.Equal(t, first.Email, cached.Email)
	store.err = nil

	school := "Y"
	_, err = svc.Patch(ctx, "u1", true, PatchInput{School: &school})
	require.NoError(t, err)
	assert.False(t, mr.Exists("attendee:user:u1"))

	_, err = svc.GetByUserID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists("attendee:user:nobody"))
}

func TestService_RefusesForeignBlobKeys(t *testing.T) {
	store := newMemStore()
	blobs := newMemBlobs()
	svc := NewService(store, Options{Blobs: blobs})
	ctx := context.Background()

	in := adaInput()
	in.Files = []Upload{textUpload("resume", "cv.pdf", "application/pdf", "%PDF")}
	victim, err := svc.Create(ctx, in)
	require.NoError(t, err)

	mallory := CreateInput{UserID: "mallory", FirstName: "M", LastName: "X", Email: "m@x.com", Resume: victim.ResumeKey}
	_, err = svc.Create(ctx, mallory)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Enter a valid URL.", verr.Fields["resume"])

	mallory.Resume = "https://cdn.example.com/cv.pdf"
	_, err = svc.Create(ctx, mallory)
	require.NoError(t, err)

	_, err = svc.Patch(ctx, "mallory", true, PatchInput{Photo: &victim.ResumeKey})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "photo")

	// a row already pointing at someone else's object never triggers its deletion
	legacy := &models.Attendee{UserID: "legacy", FirstName: "L", LastName: "Y", Email: "l@x.com", ResumeKey: victim.ResumeKey}
	require.NoError(t, store.Create(ctx, legacy))
	require.NoError(t, svc.Delete(ctx, "legacy"))
	assert.Empty(t, blobs.deleted)
	assert.Contains(t, blobs.objects, victim.ResumeKey)

	// the owner keeps its stored key across a full update
	replaced, err := svc.Replace(ctx, "u1", false, CreateInput{FirstName: "Ada", LastName: "King", Email: "ada@x.com", Resume: victim.ResumeKey})
	require.NoError(t, err)
	assert.Equal(t, victim.ResumeKey, replaced.ResumeKey)
}
