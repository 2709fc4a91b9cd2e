package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileLedger appends task records to a JSON-lines journal. Load folds the
// journal down to the highest revision of each task.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger stores records at path.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the backing file.
func (l *FileLedger) Path() string {
	return l.path
}

// Record implements Ledger.
func (l *FileLedger) Record(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(task)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(encoded, '\n'))
	return err
}

// Load implements Ledger. Tasks come back ordered by creation time.
func (l *FileLedger) Load(ctx context.Context) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	latest := map[string]Task{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var task Task
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			return nil, fmt.Errorf("export: ledger line %d: %w", line, err)
		}
		if prev, ok := latest[task.ID]; ok && prev.Revision > task.Revision {
			continue
		}
		latest[task.ID] = task
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(latest))
	for _, task := range latest {
		out = append(out, task)
	}
	sortTasks(out)
	return out, nil
}

func sortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
