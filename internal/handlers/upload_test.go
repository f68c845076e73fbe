package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBlobStore struct {
	keys []string
	err  error
}

func (s *recordingBlobStore) Put(_ context.Context, key string, _ []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.keys = append(s.keys, key)
	return "/uploads/" + key, nil
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func setupUploadRouter(store *recordingBlobStore, maxBytes int64) *gin.Engine {
	handler := NewUploadHandler(store, maxBytes)
	r := newTestRouter()
	r.POST("/uploads", handler.Upload)
	return r
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "upload.bin")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadStoresImage(t *testing.T) {
	store := &recordingBlobStore{}
	router := setupUploadRouter(store, 5<<20)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", pngHeader))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.keys, 1)
	assert.True(t, strings.HasPrefix(store.keys[0], testUserID.String()+"/"))
	assert.True(t, strings.HasSuffix(store.keys[0], ".png"))
	assert.Contains(t, rec.Body.String(), "/uploads/"+store.keys[0])
}

func TestUploadRejectsNonImages(t *testing.T) {
	store := &recordingBlobStore{}
	router := setupUploadRouter(store, 5<<20)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", []byte("just some text")))

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, store.keys)
}

func TestUploadRejectsLargeFiles(t *testing.T) {
	store := &recordingBlobStore{}
	router := setupUploadRouter(store, 16)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", pngHeader))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, store.keys)
}

func TestUploadRequiresFile(t *testing.T) {
	router := setupUploadRouter(&recordingBlobStore{}, 5<<20)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "other", pngHeader))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadStoreFailure(t *testing.T) {
	router := setupUploadRouter(&recordingBlobStore{err: assert.AnError}, 5<<20)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartRequest(t, "file", pngHeader))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
