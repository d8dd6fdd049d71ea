package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"reportapp/internal/core"
	"reportapp/internal/logger"
	"reportapp/internal/service"
)

func readUpload(fh *multipart.FileHeader) (service.UploadedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadedFile{}, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return service.UploadedFile{}, err
	}
	return service.UploadedFile{Name: fh.Filename, Data: b}, nil
}

// formFile reads the single upload under field.
func formFile(r *http.Request, field string) (service.UploadedFile, error) {
	if err := parseForm(r); err != nil {
		return service.UploadedFile{}, err
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return service.UploadedFile{}, core.Invalid("%s is required", field)
	}
	return readUpload(r.MultipartForm.File[field][0])
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (h *Handler) SheetNames(w http.ResponseWriter, r *http.Request) {
	f, err := formFile(r, "file")
	if err != nil {
		fail(w, err, "Failed to read Excel file")
		return
	}
	names, err := service.SheetNames(f.Name, f.Data)
	if err != nil {
		fail(w, err, "Failed to read Excel file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sheet_names": names})
}

func (h *Handler) ImportPreview(w http.ResponseWriter, r *http.Request) {
	f, err := formFile(r, "file")
	if err != nil {
		fail(w, err, "Failed to preview file")
		return
	}
	maxRows, _ := strconv.Atoi(r.FormValue("max_rows"))
	p, err := h.Importer.Preview(f.Name, f.Data, strings.TrimSpace(r.FormValue("sheet_name")), maxRows)
	if err != nil {
		fail(w, err, "Failed to preview file")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ImportData(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		fail(w, err, "Import failed")
		return
	}
	req := service.ImportRequest{
		TableName: r.FormValue("table_name"),
		CreateNew: truthy(r.FormValue("create_new")),
		SheetName: strings.TrimSpace(r.FormValue("sheet_name")),
		User:      username(r),
	}
	if r.MultipartForm != nil {
		headers := slices.Concat(r.MultipartForm.File["files"], r.MultipartForm.File["files[]"])
		for _, fh := range headers {
			f, err := readUpload(fh)
			if err != nil {
				fail(w, core.Invalid("Failed to read %s: %v", fh.Filename, err), "Import failed")
				return
			}
			req.Files = append(req.Files, f)
		}
	}
	if len(req.Files) == 0 {
		logger.Info.Printf("Import data called with no files")
	}

	res, err := h.Importer.Import(r.Context(), req)
	if err != nil {
		if service.IsConnectivityError(err) {
			writeError(w, http.StatusServiceUnavailable, "SQL Server not available")
			return
		}
		fail(w, err, "Import failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Tables lists the tables that imports have written to.
func (h *Handler) Tables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.ImportLogs.ImportedTables(r.Context())
	if err != nil {
		fail(w, err, "Failed to fetch tables")
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}
