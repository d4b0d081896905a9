package collaborators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Compiler is the compilation-stage collaborator: it reads a site's OCR'd
// text tree (STORAGE_ROOT/{subdomain}/txt/{meeting}/{date}/*.txt) and builds
// a single queryable meetings.db artifact, the compiled form spec.md §1
// calls "the site." Backed by gorm.io/driver/sqlite -- a teacher dependency
// previously used for a different per-entity SQLite artifact, repurposed
// here for this spec-mandated per-site database.
type Compiler interface {
	Compile(ctx context.Context, subdomain, storageRoot string) error
}

// compiledMeeting is one row of the meetings.db artifact: one per
// meeting/date directory found in the txt tree.
type compiledMeeting struct {
	ID        uint   `gorm:"primaryKey"`
	Meeting   string `gorm:"column:meeting;not null;index"`
	Date      string `gorm:"column:date;not null;index"`
	Text      string `gorm:"column:text"`
	PageCount int    `gorm:"column:page_count;not null;default:0"`
}

func (compiledMeeting) TableName() string { return "meetings" }

type SQLiteCompiler struct{}

func (c *SQLiteCompiler) Compile(ctx context.Context, subdomain, storageRoot string) error {
	txtRoot := filepath.Join(storageRoot, subdomain, "txt")
	meetings, err := readCompiledMeetings(txtRoot)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(storageRoot, subdomain, "meetings.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("compiler: mkdir %s: %w", filepath.Dir(dbPath), err)
	}
	// A fresh compile replaces the previous artifact wholesale; compilation
	// always runs over the full current txt tree, never incrementally.
	_ = os.Remove(dbPath)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return fmt.Errorf("compiler: open %s: %w", dbPath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("compiler: underlying db handle: %w", err)
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(&compiledMeeting{}); err != nil {
		return fmt.Errorf("compiler: migrate %s: %w", dbPath, err)
	}
	if len(meetings) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).CreateInBatches(meetings, 100).Error; err != nil {
		return fmt.Errorf("compiler: insert meetings: %w", err)
	}
	return nil
}

func readCompiledMeetings(txtRoot string) ([]compiledMeeting, error) {
	entries, err := os.ReadDir(txtRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no text files found: %s", txtRoot)
		}
		return nil, fmt.Errorf("compiler: read %s: %w", txtRoot, err)
	}

	var out []compiledMeeting
	for _, meetingEntry := range entries {
		if !meetingEntry.IsDir() {
			continue
		}
		meeting := meetingEntry.Name()
		meetingDir := filepath.Join(txtRoot, meeting)
		dateEntries, err := os.ReadDir(meetingDir)
		if err != nil {
			continue
		}
		for _, dateEntry := range dateEntries {
			if !dateEntry.IsDir() {
				continue
			}
			date := dateEntry.Name()
			dateDir := filepath.Join(meetingDir, date)
			text, pageCount, err := readMeetingText(dateDir)
			if err != nil || pageCount == 0 {
				continue
			}
			out = append(out, compiledMeeting{Meeting: meeting, Date: date, Text: text, PageCount: pageCount})
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no text files found: %s", txtRoot)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Meeting != out[j].Meeting {
			return out[i].Meeting < out[j].Meeting
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

func readMeetingText(dateDir string) (string, int, error) {
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		return "", 0, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var b strings.Builder
	for i, name := range files {
		data, err := os.ReadFile(filepath.Join(dateDir, name))
		if err != nil {
			continue
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.Write(data)
	}
	return b.String(), len(files), nil
}

// compileTimeout bounds a single site's compile pass; building meetings.db
// from a large txt tree should never block a worker slot indefinitely.
const compileTimeout = 5 * time.Minute

// WithCompileTimeout wraps ctx with the compiler's standard timeout; kept
// separate from Compile so tests can call readCompiledMeetings directly
// without a timeout in play.
func WithCompileTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, compileTimeout)
}
