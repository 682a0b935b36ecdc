// Package export materializes scrape results into downloadable files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/scrape"
)

var profileHeader = []string{
	"Username", "Name", "Bio", "Company", "Location", "Email", "Blog", "Twitter",
	"Public Repos", "Public Gists", "Followers", "Following", "Created At", "Updated At", "Profile URL",
}

var repoHeader = []string{
	"Repository Name", "Description", "URL", "Stars", "Forks", "Watchers", "Language",
	"Open Issues", "Created At", "Updated At", "Size (KB)", "Default Branch", "Is Fork", "README Content",
}

// Service writes scrape results to the export directory in one of the
// supported formats. It implements scrape.Exporter. File names are prefixed
// with the job id so downloads can be authorized per job.
type Service struct {
	outputDir string
	logger    *zap.Logger
}

// NewService creates the export directory if needed and returns a Service.
func NewService(outputDir string, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Service{outputDir: outputDir, logger: logger}, nil
}

// OutputDir returns the directory exports are written to.
func (s *Service) OutputDir() string {
	return s.outputDir
}

// Export writes result in the requested format and returns the produced file
// paths. CSV yields two files (profile + repositories); the other formats one.
func (s *Service) Export(jobID string, result *scrape.Result, format scrape.ExportFormat) ([]string, error) {
	if result == nil {
		return nil, fmt.Errorf("nil result for job %s", jobID)
	}
	switch format {
	case scrape.FormatJSON:
		path, err := s.writeJSON(jobID, result)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	case scrape.FormatCSV:
		return s.writeCSV(jobID, result)
	case scrape.FormatExcel:
		path, err := s.writeExcel(jobID, result)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (s *Service) writeJSON(jobID string, result *scrape.Result) (string, error) {
	path := s.filePath(jobID, result.Username, "data.json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create json export: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode json export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close json export: %w", err)
	}
	return path, nil
}

func (s *Service) writeCSV(jobID string, result *scrape.Result) ([]string, error) {
	profilePath := s.filePath(jobID, result.Username, "profile.csv")
	if err := writeCSVFile(profilePath, profileHeader, [][]string{profileRow(result)}); err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(result.Repositories))
	for _, repo := range result.Repositories {
		rows = append(rows, repoRow(repo))
	}
	reposPath := s.filePath(jobID, result.Username, "repositories.csv")
	if err := writeCSVFile(reposPath, repoHeader, rows); err != nil {
		return nil, err
	}
	return []string{profilePath, reposPath}, nil
}

func (s *Service) writeExcel(jobID string, result *scrape.Result) (string, error) {
	path := s.filePath(jobID, result.Username, "data.xlsx")
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Debug("close excel file failed", zap.Error(err))
		}
	}()

	const profileSheet = "Profile"
	const reposSheet = "Repositories"
	if err := f.SetSheetName("Sheet1", profileSheet); err != nil {
		return "", fmt.Errorf("rename profile sheet: %w", err)
	}
	if _, err := f.NewSheet(reposSheet); err != nil {
		return "", fmt.Errorf("create repositories sheet: %w", err)
	}

	if err := setRows(f, profileSheet, [][]string{profileHeader, profileRow(result)}); err != nil {
		return "", err
	}
	repoRows := [][]string{repoHeader}
	for _, repo := range result.Repositories {
		repoRows = append(repoRows, repoRow(repo))
	}
	if err := setRows(f, reposSheet, repoRows); err != nil {
		return "", err
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save excel export: %w", err)
	}
	return path, nil
}

func (s *Service) filePath(jobID, username, suffix string) string {
	return filepath.Join(s.outputDir, fmt.Sprintf("%s_%s_%s", jobID, username, suffix))
}

func setRows(f *excelize.File, sheet string, rows [][]string) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("compute cell name: %w", err)
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write sheet row: %w", err)
		}
	}
	return nil
}

func writeCSVFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv export: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush csv export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv export: %w", err)
	}
	return nil
}

func profileRow(result *scrape.Result) []string {
	p := result.Profile
	if p == nil {
		p = &scrape.Profile{Login: result.Username}
	}
	return []string{
		p.Login, p.Name, p.Bio, p.Company, p.Location, p.Email, p.Blog, p.Twitter,
		strconv.Itoa(p.PublicRepos), strconv.Itoa(p.PublicGists),
		strconv.Itoa(p.Followers), strconv.Itoa(p.Following),
		p.CreatedAt, p.UpdatedAt, p.HTMLURL,
	}
}

func repoRow(repo scrape.Repository) []string {
	return []string{
		repo.Name, repo.Description, repo.HTMLURL,
		strconv.Itoa(repo.Stars), strconv.Itoa(repo.Forks), strconv.Itoa(repo.Watchers),
		repo.Language, strconv.Itoa(repo.OpenIssues),
		repo.CreatedAt, repo.UpdatedAt, strconv.Itoa(repo.SizeKB),
		repo.DefaultBranch, strconv.FormatBool(repo.IsFork), repo.Readme,
	}
}
