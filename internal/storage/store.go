package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/akmonengine/linkage/internal/config"
	"github.com/akmonengine/linkage/internal/runner"
)

const (
	metadataFile = "metadata.json"
	channelsFile = "channels.csv"
	scenarioFile = "scenario.yaml"
)

var ErrMalformedRun = errors.New("storage: malformed run")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Scenario  string             `json:"scenario"`
	Timestamp time.Time          `json:"timestamp"`
	Dt        float64            `json:"dt"`
	Duration  float64            `json:"duration"`
	Steps     int                `json:"steps"`
	Solver    string             `json:"solver"`
	Mode      string             `json:"mode"`
	Elapsed   float64            `json:"elapsed_seconds"`
	Channels  []string           `json:"channels"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Dir is the directory of a run.
func (s *Store) Dir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// Save writes a run directory with its metadata, its sampled channels and
// the scenario that produced it.
func (s *Store) Save(sc *config.Scenario, result *runner.Result) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}
	now := time.Now()
	runID, err := s.createRunDir(sc.Name, now)
	if err != nil {
		return "", err
	}
	runDir := s.Dir(runID)

	meta := RunMetadata{
		ID:        runID,
		Scenario:  sc.Name,
		Timestamp: now,
		Dt:        sc.System.Dt,
		Duration:  sc.System.Duration,
		Steps:     result.StepsTaken,
		Solver:    sc.System.Solver,
		Mode:      sc.System.Mode,
		Elapsed:   result.Elapsed.Seconds(),
		Channels:  result.Data.Names,
		Metrics:   result.Metrics,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeChannels(filepath.Join(runDir, channelsFile), &result.Data); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, scenarioFile), sc); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *Store) createRunDir(name string, now time.Time) (string, error) {
	base := fmt.Sprintf("%s_%d", name, now.Unix())
	runID := base
	for i := 1; ; i++ {
		err := os.Mkdir(s.Dir(runID), 0755)
		if err == nil {
			return runID, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		runID = fmt.Sprintf("%s-%d", base, i)
	}
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeChannels(path string, table *runner.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"time"}, table.Names...)
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for i, t := range table.Times {
		row[0] = strconv.FormatFloat(t, 'g', -1, 64)
		for j, col := range table.Columns {
			row[j+1] = strconv.FormatFloat(col[i], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns the stored runs, oldest first. Directories without a
// readable metadata file are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(runID), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedRun, runID, err)
	}
	return &meta, nil
}

// LoadScenario reads back the scenario a run was made with.
func (s *Store) LoadScenario(runID string) (*config.Scenario, error) {
	return config.Load(filepath.Join(s.Dir(runID), scenarioFile))
}

// LoadChannels reads the sampled channels of a run.
func (s *Store) LoadChannels(runID string) (*runner.Table, error) {
	f, err := os.Open(filepath.Join(s.Dir(runID), channelsFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedRun, runID, err)
	}
	if len(records) == 0 || len(records[0]) == 0 || records[0][0] != "time" {
		return nil, fmt.Errorf("%w: %s: missing header", ErrMalformedRun, runID)
	}

	header := records[0]
	table := &runner.Table{
		Names:   append([]string(nil), header[1:]...),
		Times:   make([]float64, 0, len(records)-1),
		Columns: make([][]float64, len(header)-1),
	}
	for i, record := range records[1:] {
		values := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: %w", ErrMalformedRun, runID, i+2, err)
			}
			values[j] = v
		}
		table.Times = append(table.Times, values[0])
		for j := range table.Columns {
			table.Columns[j] = append(table.Columns[j], values[j+1])
		}
	}
	return table, nil
}
