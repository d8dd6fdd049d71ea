package ui

import (
	"context"
	"strconv"
	"strings"

	"reportapp/internal/core"
)

// BIView is the Power BI page: the embed picker and the frame address.
type BIView struct {
	Reports         []core.PowerBIReport
	Selected        *core.PowerBIReport
	FrameURL        string
	AllowFullscreen bool
	Info            string
	Status          string
	Message         string
}

// BIViewer resolves which embed to show and how to address it.
type BIViewer struct {
	api BIAPI
}

func NewBIViewer(api BIAPI) *BIViewer {
	return &BIViewer{api: api}
}

// Load lists the embeds and selects savedID when it is still present,
// otherwise the first entry.
func (v *BIViewer) Load(ctx context.Context, savedID int64) *BIView {
	view := &BIView{}
	reports, err := v.api.PowerBIReports(ctx)
	if err != nil {
		view.Message = "Error loading reports"
		view.Status = "Error"
		return view
	}
	view.Reports = reports
	if len(reports) == 0 {
		view.Info = "No Power BI reports configured"
		view.Status = "Not configured"
		return view
	}

	selected := &reports[0]
	for i := range reports {
		if reports[i].ID == savedID {
			selected = &reports[i]
			break
		}
	}
	view.Selected = selected
	view.Info = selected.Name
	if view.Info == "" {
		view.Info = "Unnamed Report"
	}

	embedURL := selected.EmbedURL
	if h, err := v.api.PowerBIHealth(ctx, selected.EmbedURL); err == nil && h.NormalizedURL != nil && *h.NormalizedURL != "" {
		embedURL = *h.NormalizedURL
	}
	view.FrameURL = FrameURL(embedURL, *selected)
	view.AllowFullscreen = selected.AllowFullscreen
	view.Status = "Ready"
	return view
}

// FrameURL appends the pane display options to an embed address.
func FrameURL(embedURL string, r core.PowerBIReport) string {
	sep := "?"
	if strings.Contains(embedURL, "?") {
		sep = "&"
	}
	return embedURL + sep +
		"filterPaneEnabled=" + strconv.FormatBool(r.ShowFilterPane) +
		"&navContentPaneEnabled=" + strconv.FormatBool(r.ShowNavPane)
}
