package service

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"reportapp/internal/core"
	"reportapp/internal/logger"
)

const (
	embedParam   = "rs:embed=true"
	probeTimeout = 5 * time.Second
)

// Embed address classes.
const (
	EmbedPortal  = "portal"
	EmbedLegacy  = "legacy"
	EmbedCloud   = "cloud"
	EmbedUnknown = "unknown"
	EmbedNone    = "none"
)

// NormalizeEmbedURL adds rs:embed=true to report server portal and legacy
// addresses. Cloud and unrecognised addresses are only trimmed.
func NormalizeEmbedURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" || strings.Contains(u, embedParam) {
		return u
	}
	lower := strings.ToLower(u)
	switch {
	case strings.Contains(lower, "/reports/"):
		if strings.Contains(u, "?") {
			return u + "&" + embedParam
		}
		return u + "?" + embedParam
	case strings.Contains(lower, "/reportserver?"):
		return u + "&" + embedParam
	}
	return u
}

func ClassifyEmbedURL(u string) string {
	lower := strings.ToLower(u)
	switch {
	case u == "":
		return EmbedNone
	case strings.Contains(lower, "app.powerbi.com"):
		return EmbedCloud
	case strings.Contains(lower, "/reports/"):
		return EmbedPortal
	case strings.Contains(lower, "/reportserver"):
		return EmbedLegacy
	}
	return EmbedUnknown
}

// NewReport is the payload for registering an embed.
type NewReport struct {
	EmbedURL        string `json:"embed_url"`
	Title           string `json:"title"`
	Enabled         *bool  `json:"enabled"`
	ShowFilterPane  *bool  `json:"show_filter_pane"`
	ShowNavPane     *bool  `json:"show_nav_pane"`
	AllowFullscreen *bool  `json:"allow_fullscreen"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// EmbedSettings is the single-embed view of the registry: its first
// enabled entry.
type EmbedSettings struct {
	EmbedURL        string `json:"embed_url"`
	Title           string `json:"title"`
	Enabled         bool   `json:"enabled"`
	ShowFilterPane  bool   `json:"show_filter_pane"`
	ShowNavPane     bool   `json:"show_nav_pane"`
	AllowFullscreen bool   `json:"allow_fullscreen"`
}

// PowerBIService manages the embed registry and local .pbix files.
type PowerBIService struct {
	repo    core.PowerBIRepository
	client  *http.Client
	pbixDir string
	open    func(path string) error
}

func NewPowerBIService(repo core.PowerBIRepository, pbixDir string) *PowerBIService {
	return &PowerBIService{
		repo: repo,
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				// report servers commonly sit behind an internal CA
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		pbixDir: pbixDir,
		open:    openWithShell,
	}
}

// WithHTTPClient replaces the client used by Health.
func (s *PowerBIService) WithHTTPClient(c *http.Client) *PowerBIService {
	s.client = c
	return s
}

func (s *PowerBIService) List(ctx context.Context) ([]core.PowerBIReport, error) {
	return s.repo.ListEnabled(ctx)
}

// Add stores a new embed with a normalized address at the end of the list.
func (s *PowerBIService) Add(ctx context.Context, req NewReport, user string) (*core.PowerBIReport, error) {
	if strings.TrimSpace(req.EmbedURL) == "" {
		return nil, core.Invalid("embed_url is required")
	}
	name := strings.TrimSpace(req.Title)
	if name == "" {
		name = "Unnamed Report"
	}
	rep := &core.PowerBIReport{
		Name:            name,
		EmbedURL:        NormalizeEmbedURL(req.EmbedURL),
		Enabled:         boolOr(req.Enabled, true),
		ShowFilterPane:  boolOr(req.ShowFilterPane, true),
		ShowNavPane:     boolOr(req.ShowNavPane, true),
		AllowFullscreen: boolOr(req.AllowFullscreen, true),
		UpdatedBy:       user,
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, fmt.Errorf("failed to add Power BI report: %w", err)
	}
	logger.Info.Printf("Power BI report '%s' added by %s with ID %d", rep.Name, user, rep.ID)
	return rep, nil
}

func (s *PowerBIService) Delete(ctx context.Context, id int64, user string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete Power BI report: %w", err)
	}
	if !ok {
		return core.NotFound("Power BI report with ID %d not found", id)
	}
	logger.Info.Printf("Power BI report ID %d deleted by %s", id, user)
	return nil
}

// Settings returns the first enabled embed, or a disabled placeholder.
func (s *PowerBIService) Settings(ctx context.Context) EmbedSettings {
	out := EmbedSettings{Title: "Power BI Dashboard", ShowFilterPane: true, ShowNavPane: true, AllowFullscreen: true}
	reports, err := s.repo.ListEnabled(ctx)
	if err != nil {
		logger.Error.Printf("Error fetching Power BI settings: %v", err)
		return out
	}
	if len(reports) == 0 {
		return out
	}
	r := reports[0]
	return EmbedSettings{
		EmbedURL:        r.EmbedURL,
		Title:           r.Name,
		Enabled:         r.Enabled,
		ShowFilterPane:  r.ShowFilterPane,
		ShowNavPane:     r.ShowNavPane,
		AllowFullscreen: r.AllowFullscreen,
	}
}

// Health classifies and probes an embed address. An empty address probes
// the first registered embed. 200 and 401 both count as reachable since
// report servers challenge for integrated auth.
func (s *PowerBIService) Health(ctx context.Context, raw string) core.PowerBIHealth {
	input := strings.TrimSpace(raw)
	if input == "" {
		input = s.Settings(ctx).EmbedURL
	}
	if input == "" {
		msg := "No URL configured"
		return core.PowerBIHealth{Classification: EmbedNone, Error: &msg}
	}

	normalized := NormalizeEmbedURL(input)
	h := core.PowerBIHealth{
		InputURL:        &input,
		NormalizedURL:   &normalized,
		Classification:  ClassifyEmbedURL(input),
		NeedsEmbedParam: strings.Contains(normalized, embedParam) && !strings.Contains(input, embedParam),
	}
	if h.Classification == EmbedCloud {
		msg := "Cloud URL not supported for on-prem embedding"
		h.Error = &msg
		return h
	}

	code, err := s.probe(ctx, normalized)
	if err != nil {
		msg := err.Error()
		h.Error = &msg
		return h
	}
	h.StatusCode = &code
	h.OK = code == http.StatusOK || code == http.StatusUnauthorized
	return h
}

func (s *PowerBIService) probe(ctx context.Context, u string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// LocalFiles walks the .pbix directory and lists the report files by name.
func (s *PowerBIService) LocalFiles() ([]core.LocalPBIXFile, error) {
	root := s.pbixDir
	if root == "" {
		root = "."
	}
	files := []core.LocalPBIXFile{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".pbix") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		abs, _ := filepath.Abs(path)
		files = append(files, core.LocalPBIXFile{
			Name:         d.Name(),
			Path:         abs,
			RelativePath: rel,
			Size:         info.Size(),
			SizeMB:       math.Round(float64(info.Size())/(1024*1024)*100) / 100,
			Modified:     info.ModTime().Format("2006-01-02T15:04:05"),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Power BI files: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	logger.Info.Printf("Found %d Power BI files", len(files))
	return files, nil
}

// OpenLocal hands a .pbix file to the desktop shell.
func (s *PowerBIService) OpenLocal(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", core.NotFound("Power BI file not found: %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".pbix") {
		return "", core.Invalid("File must be a .pbix Power BI file")
	}
	if err := s.open(path); err != nil {
		return "", err
	}
	logger.Info.Printf("Opened Power BI file: %s", path)
	return fmt.Sprintf("Opening %s in Power BI Desktop", filepath.Base(path)), nil
}
