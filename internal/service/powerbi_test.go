package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"reportapp/internal/core"
	"reportapp/internal/data"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmbedURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  http://rs/Reports/powerbi/Sales  ", "http://rs/Reports/powerbi/Sales?rs:embed=true"},
		{"http://rs/reports/powerbi/Sales?x=1", "http://rs/reports/powerbi/Sales?x=1&rs:embed=true"},
		{"http://rs/Reports/powerbi/Sales?rs:embed=true", "http://rs/Reports/powerbi/Sales?rs:embed=true"},
		{"http://rs/ReportServer?/Sales", "http://rs/ReportServer?/Sales&rs:embed=true"},
		{"https://app.powerbi.com/reportEmbed?reportId=1", "https://app.powerbi.com/reportEmbed?reportId=1"},
		{"http://other/page", "http://other/page"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEmbedURL(tt.in), tt.in)
	}
}

func TestClassifyEmbedURL(t *testing.T) {
	assert.Equal(t, EmbedNone, ClassifyEmbedURL(""))
	assert.Equal(t, EmbedCloud, ClassifyEmbedURL("https://APP.powerbi.com/x"))
	assert.Equal(t, EmbedPortal, ClassifyEmbedURL("http://rs/Reports/powerbi/Sales"))
	assert.Equal(t, EmbedLegacy, ClassifyEmbedURL("http://rs/ReportServer?/Sales"))
	assert.Equal(t, EmbedUnknown, ClassifyEmbedURL("http://other/page"))
}

func TestPowerBIRegistry(t *testing.T) {
	ctx := context.Background()
	svc := NewPowerBIService(data.NewPowerBIRepo(newAppDB(t)), t.TempDir())

	first, err := svc.Add(ctx, NewReport{EmbedURL: "http://rs/Reports/powerbi/A"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "Unnamed Report", first.Name)
	assert.Equal(t, "http://rs/Reports/powerbi/A?rs:embed=true", first.EmbedURL)
	assert.True(t, first.ShowFilterPane)

	off := false
	second, err := svc.Add(ctx, NewReport{EmbedURL: "http://rs/Reports/powerbi/B", Title: "B", ShowNavPane: &off}, "admin")
	require.NoError(t, err)
	assert.Greater(t, second.SortOrder, first.SortOrder)
	assert.False(t, second.ShowNavPane)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	settings := svc.Settings(ctx)
	assert.Equal(t, "Unnamed Report", settings.Title)
	assert.True(t, settings.Enabled)

	require.NoError(t, svc.Delete(ctx, first.ID, "admin"))
	err = svc.Delete(ctx, first.ID, "admin")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	_, err = svc.Add(ctx, NewReport{}, "admin")
	assert.True(t, errors.Is(err, core.ErrInvalid))
}

func TestPowerBIHealth(t *testing.T) {
	ctx := context.Background()
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	svc := NewPowerBIService(data.NewPowerBIRepo(newAppDB(t)), "").WithHTTPClient(srv.Client())

	h := svc.Health(ctx, srv.URL+"/Reports/powerbi/Sales")
	assert.Equal(t, EmbedPortal, h.Classification)
	assert.True(t, h.NeedsEmbedParam)
	require.NotNil(t, h.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, *h.StatusCode)
	assert.True(t, h.OK)
	assert.Equal(t, "rs:embed=true", gotQuery)

	h = svc.Health(ctx, "https://app.powerbi.com/reportEmbed")
	assert.Equal(t, EmbedCloud, h.Classification)
	assert.False(t, h.OK)
	require.NotNil(t, h.Error)
	assert.Equal(t, "Cloud URL not supported for on-prem embedding", *h.Error)

	h = svc.Health(ctx, "")
	assert.Equal(t, EmbedNone, h.Classification)
	require.NotNil(t, h.Error)
	assert.Equal(t, "No URL configured", *h.Error)
	assert.Nil(t, h.InputURL)
}

func TestLocalFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.pbix"), make([]byte, 2048), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.PBIX"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	svc := NewPowerBIService(nil, dir)
	files, err := svc.LocalFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.PBIX", files[0].Name)
	assert.Equal(t, filepath.Join("sub", "b.pbix"), files[1].RelativePath)
	assert.Equal(t, int64(2048), files[1].Size)

	var opened string
	svc.open = func(p string) error { opened = p; return nil }
	msg, err := svc.OpenLocal(files[1].Path)
	require.NoError(t, err)
	assert.Equal(t, "Opening b.pbix in Power BI Desktop", msg)
	assert.Equal(t, files[1].Path, opened)

	_, err = svc.OpenLocal(filepath.Join(dir, "notes.txt"))
	assert.True(t, errors.Is(err, core.ErrInvalid))
	_, err = svc.OpenLocal(filepath.Join(dir, "missing.pbix"))
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
