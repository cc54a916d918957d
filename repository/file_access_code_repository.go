package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yashrajoria/course-access-service/models"
)

// fileRecord keeps the camelCase layout of the accessCodes.json files written
// by earlier deployments so they can be loaded as-is.
type fileRecord struct {
	Code      string `json:"code"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CourseID  string `json:"courseId"`
	CreatedAt string `json:"createdAt"`
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId,omitempty"`
}

type fileUnreconciled struct {
	ID        string `json:"id"`
	EventID   string `json:"eventId"`
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CourseID  string `json:"courseId"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"createdAt"`
}

// FileAccessCodeRepository stores access codes in a JSON array on disk. Every
// write replaces the file through a temp file and rename, so a crash leaves
// either the old or the new list. It is meant for single-instance deployments.
type FileAccessCodeRepository struct {
	mu               sync.RWMutex
	path             string
	unreconciledPath string
	records          []fileRecord
	byCode           map[string]int
	byEvent          map[string]int
	unreconciled     []fileUnreconciled
}

// NewFileAccessCodeRepository opens or creates the store at path. Unreconciled
// events live in unreconciled.json next to it.
func NewFileAccessCodeRepository(path string) (*FileAccessCodeRepository, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	r := &FileAccessCodeRepository{
		path:             path,
		unreconciledPath: filepath.Join(dir, "unreconciled.json"),
		byCode:           make(map[string]int),
		byEvent:          make(map[string]int),
	}
	if err := readJSONFile(r.path, &r.records); err != nil {
		return nil, err
	}
	if err := readJSONFile(r.unreconciledPath, &r.unreconciled); err != nil {
		return nil, err
	}
	for i, rec := range r.records {
		r.byCode[rec.Code] = i
		if rec.EventID != "" {
			r.byEvent[rec.EventID] = i
		}
	}
	return r, nil
}

func (r *FileAccessCodeRepository) Append(ctx context.Context, rec *models.AccessCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.SourceEventID != "" {
		if _, ok := r.byEvent[rec.SourceEventID]; ok {
			return ErrEventAlreadyProcessed
		}
	}
	if _, ok := r.byCode[rec.Code]; ok {
		return ErrDuplicateCode
	}

	next := make([]fileRecord, len(r.records), len(r.records)+1)
	copy(next, r.records)
	next = append(next, fileRecord{
		Code:      rec.Code,
		Email:     rec.Email,
		Name:      rec.Name,
		CourseID:  rec.CourseID,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		SessionID: rec.SourceSessionID,
		EventID:   rec.SourceEventID,
	})
	if err := writeJSONFile(r.path, next); err != nil {
		return err
	}

	r.records = next
	idx := len(next) - 1
	r.byCode[rec.Code] = idx
	if rec.SourceEventID != "" {
		r.byEvent[rec.SourceEventID] = idx
	}
	return nil
}

func (r *FileAccessCodeRepository) FindByCode(ctx context.Context, code string) (*models.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	rec := r.records[idx].toModel()
	return &rec, nil
}

func (r *FileAccessCodeRepository) FindByEmail(ctx context.Context, email string) ([]models.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AccessCode
	for _, rec := range r.records {
		if strings.EqualFold(rec.Email, email) {
			out = append(out, rec.toModel())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// All returns every stored record in insertion order.
func (r *FileAccessCodeRepository) All(ctx context.Context) ([]models.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.AccessCode, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.toModel())
	}
	return out, nil
}

func (r *FileAccessCodeRepository) Record(ctx context.Context, ev *models.UnreconciledEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.unreconciled {
		if existing.EventID == ev.EventID {
			return nil
		}
	}
	next := make([]fileUnreconciled, len(r.unreconciled), len(r.unreconciled)+1)
	copy(next, r.unreconciled)
	next = append(next, fileUnreconciled{
		ID:        ev.ID,
		EventID:   ev.EventID,
		SessionID: ev.SessionID,
		Email:     ev.Email,
		Name:      ev.Name,
		CourseID:  ev.CourseID,
		Reason:    ev.Reason,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err := writeJSONFile(r.unreconciledPath, next); err != nil {
		return err
	}
	r.unreconciled = next
	return nil
}

func (r *FileAccessCodeRepository) List(ctx context.Context, limit int) ([]models.UnreconciledEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.UnreconciledEvent, 0, len(r.unreconciled))
	for i := len(r.unreconciled) - 1; i >= 0; i-- {
		ev := r.unreconciled[i]
		out = append(out, models.UnreconciledEvent{
			ID:        ev.ID,
			EventID:   ev.EventID,
			SessionID: ev.SessionID,
			Email:     ev.Email,
			Name:      ev.Name,
			CourseID:  ev.CourseID,
			Reason:    ev.Reason,
			CreatedAt: parseTime(ev.CreatedAt),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (rec fileRecord) toModel() models.AccessCode {
	return models.AccessCode{
		Code:            rec.Code,
		Email:           rec.Email,
		Name:            rec.Name,
		CourseID:        rec.CourseID,
		CreatedAt:       parseTime(rec.CreatedAt),
		SourceSessionID: rec.SessionID,
		SourceEventID:   rec.EventID,
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// readJSONFile decodes path into v. A missing or empty file leaves v untouched.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
