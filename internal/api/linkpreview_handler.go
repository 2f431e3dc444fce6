package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/observer/parley/internal/linkpreview"
)

// LinkPreviewHandler serves Open Graph previews
type LinkPreviewHandler struct {
	fetcher PreviewFetcher
	logger  *slog.Logger
}

func NewLinkPreviewHandler(fetcher PreviewFetcher, logger *slog.Logger) *LinkPreviewHandler {
	return &LinkPreviewHandler{
		fetcher: fetcher,
		logger:  logger.With("component", "linkpreview-handler"),
	}
}

// Preview godoc
//
//	@Summary	Link preview
//	@Tags		chat
//	@Produce	json
//	@Security	BearerAuth
//	@Param		url	query		string	true	"Absolute http(s) url"
//	@Success	200	{object}	linkpreview.Preview
//	@Failure	400	{object}	ErrorResponse
//	@Failure	502	{object}	ErrorResponse	"Target unreachable"
//	@Router		/api/link-preview [get]
func (h *LinkPreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	preview, err := h.fetcher.Fetch(r.Context(), target)
	if err != nil {
		if isClientError(err) {
			handleError(h.logger, w, err)
			return
		}
		h.logger.Warn("link preview failed", "error", err)
		writeError(w, http.StatusBadGateway, "could not fetch preview")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, preview)
}

func isClientError(err error) bool {
	return errors.Is(err, linkpreview.ErrInvalidURL) ||
		errors.Is(err, linkpreview.ErrNotHTML) ||
		errors.Is(err, linkpreview.ErrForbidden)
}
