package handler

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/transfer"
)

const maxUploadBytes = 10 << 20

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "file too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("questions_file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	force := r.FormValue("force") == "on"
	res, err := transfer.ImportData(ctx, h.store, "upload:"+header.Filename, data, force)
	switch {
	case err != nil:
		slog.Warn("upload import failed", "filename", header.Filename, "error", err)
		h.flash(r, "error", appI18n.Td(ctx, "ImportFailed", map[string]any{"Error": err.Error()}))
	case res.AlreadyImported:
		h.flash(r, "info", appI18n.T(ctx, "ImportDuplicate"))
	default:
		slog.Info("uploaded questions", "filename", header.Filename, "created", res.Created, "errors", len(res.Errors))
		kind := "success"
		if len(res.Errors) > 0 {
			kind = "warn"
		}
		h.flash(r, kind, appI18n.Td(ctx, "ImportDone", map[string]any{
			"Processed": res.Processed,
			"Created":   res.Created,
			"Skipped":   res.Skipped,
		}))
	}
	h.redirect(w, r, "/questions")
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	var contentType string
	switch format {
	case "", transfer.FormatJSON:
		format = transfer.FormatJSON
		contentType = "application/json"
	case transfer.FormatXLSX:
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		http.Error(w, "unsupported export format", http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	n, err := transfer.Export(r.Context(), h.store, format, &buf)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	slog.Info("exported questions", "format", format, "questions", n)

	name := fmt.Sprintf("opictutor-%s.%s", time.Now().Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(buf.Bytes())
}
