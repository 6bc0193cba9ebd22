/*
Package datacache persists profiling results as YAML files inside a
data directory. Per-commit metadata and source listings live under
commits/, per-source compile records under sources/, keyed by the
filtered-arguments hash so that records survive commits that do not
change the compiler invocation.
*/
package datacache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/dudk/buildprof"
)

type (
	// CommitMeta is the persisted state of one commit.
	CommitMeta struct {
		CommitDate    int64    `yaml:"commit_date"`
		CommitSubject string   `yaml:"commit_subject"`
		LastRefresh   int64    `yaml:"last_refresh,omitempty"`
		ConfigureOK   *bool    `yaml:"configure_ok,omitempty"`
		Targets       []string `yaml:"targets,omitempty"`
	}

	// SourceMeta describes one source file of a commit.
	SourceMeta struct {
		CompilerArgs     string `yaml:"compiler_args"`
		FilteredArgsHash string `yaml:"filtered_args_hash"`
		PreprocessedHash string `yaml:"preprocessed_hash,omitempty"`
	}

	// CompileRecord is one timed compilation of one preprocessed input.
	CompileRecord struct {
		Duration   float64 `yaml:"duration,omitempty"`
		Memory     int64   `yaml:"memory,omitempty"`
		PageFaults int64   `yaml:"pagefaults,omitempty"`
		Timestamp  int64   `yaml:"timestamp,omitempty"`
		Failed     bool    `yaml:"failed,omitempty"`
	}

	// SourceData maps a preprocessed-input hash to its compile records.
	SourceData map[string][]CompileRecord

	// Cache is the data directory with an in-memory overlay of loaded
	// source data. It is not safe for concurrent use: the driver owns
	// it from a single goroutine.
	Cache struct {
		root     string
		log      buildprof.Logger
		sdata    map[sourceKey]SourceData
		modified map[sourceKey]bool
	}

	sourceKey struct {
		srcPath string
		argHash string
	}
)

// Option configures a cache.
type Option func(*Cache)

// WithLogger sets logger to the cache. If this option is not provided,
// silent logger is used.
func WithLogger(log buildprof.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New opens a cache rooted at dir, creating the directory if needed.
func New(dir string, options ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &Cache{
		root:     dir,
		log:      buildprof.Silent(),
		sdata:    make(map[sourceKey]SourceData),
		modified: make(map[sourceKey]bool),
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// Root returns the data directory.
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) commitDir(sha string) string {
	return filepath.Join(c.root, "commits", sha[:1], sha[1:2])
}

// checkSHA rejects hashes too short to shard the commit directory on.
func checkSHA(sha string) error {
	if len(sha) < 2 {
		return fmt.Errorf("datacache: commit sha %q too short", sha)
	}
	return nil
}

func (c *Cache) metadataFile(sha string) string {
	return filepath.Join(c.commitDir(sha), sha+"-metadata.yml")
}

func (c *Cache) sourcesFile(sha string) string {
	return filepath.Join(c.commitDir(sha), sha+"-sources.yml")
}

func (c *Cache) sourceDataFile(key sourceKey) string {
	return filepath.Join(c.root, "sources",
		key.argHash[:2], key.argHash, key.srcPath+".yml")
}

// LoadCommitMeta reads the persisted metadata of a commit. A commit
// never seen before is reported as os.ErrNotExist.
func (c *Cache) LoadCommitMeta(sha string) (CommitMeta, error) {
	var meta CommitMeta
	if err := checkSHA(sha); err != nil {
		return meta, err
	}
	err := loadFile(c.metadataFile(sha), &meta)
	return meta, err
}

// LoadSources reads the persisted source listing of a commit.
func (c *Cache) LoadSources(sha string) (map[string]SourceMeta, error) {
	if err := checkSHA(sha); err != nil {
		return nil, err
	}
	sources := make(map[string]SourceMeta)
	err := loadFile(c.sourcesFile(sha), &sources)
	return sources, err
}

// SaveCommit persists commit metadata and, when the commit configured
// successfully, its source listing. A failed configure removes a stale
// listing instead.
func (c *Cache) SaveCommit(sha string, meta CommitMeta, sources map[string]SourceMeta) error {
	if err := checkSHA(sha); err != nil {
		return err
	}
	if meta.ConfigureOK != nil && *meta.ConfigureOK {
		if err := saveFile(c.sourcesFile(sha), sources); err != nil {
			return err
		}
	} else if err := os.Remove(c.sourcesFile(sha)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return saveFile(c.metadataFile(sha), meta)
}

// SourceData returns the compile records of one (source, filtered-args)
// pair, reading them from disk on first use. A missing file is an empty
// record set.
func (c *Cache) SourceData(srcPath, argHash string) SourceData {
	key := sourceKey{srcPath: srcPath, argHash: argHash}
	if sdata, ok := c.sdata[key]; ok {
		return sdata
	}
	sdata := make(SourceData)
	if err := loadFile(c.sourceDataFile(key), &sdata); err != nil {
		c.log.Debug("no source data", key.srcPath, key.argHash, err)
		sdata = make(SourceData)
	}
	c.sdata[key] = sdata
	return sdata
}

// AppendRecord adds a compile record for one preprocessed input,
// keeping at most maxSamples most recent records, and marks the pair
// modified.
func (c *Cache) AppendRecord(srcPath, argHash, cppHash string, r CompileRecord, maxSamples int) {
	key := sourceKey{srcPath: srcPath, argHash: argHash}
	sdata := c.SourceData(srcPath, argHash)
	records := append(sdata[cppHash], r)
	if maxSamples > 0 && len(records) > maxSamples {
		sort.Slice(records, func(i, j int) bool {
			return records[i].Timestamp < records[j].Timestamp
		})
		records = records[len(records)-maxSamples:]
	}
	sdata[cppHash] = records
	c.modified[key] = true
}

// Prune removes records older than the cutoff from one source data
// set. The pair is marked modified only if something was dropped.
func (c *Cache) Prune(srcPath, argHash string, before int64) {
	key := sourceKey{srcPath: srcPath, argHash: argHash}
	sdata := c.SourceData(srcPath, argHash)
	for cppHash, records := range sdata {
		recent := records[:0]
		for _, r := range records {
			if r.Timestamp >= before {
				recent = append(recent, r)
			}
		}
		if len(recent) < len(records) {
			sdata[cppHash] = recent
			c.modified[key] = true
		}
	}
}

// Timestamps returns the record timestamps of one preprocessed input,
// oldest first.
func (c *Cache) Timestamps(srcPath, argHash, cppHash string) []int64 {
	records := c.SourceData(srcPath, argHash)[cppHash]
	ts := make([]int64, 0, len(records))
	for _, r := range records {
		ts = append(ts, r.Timestamp)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

// SaveSourceData persists one loaded source data set and clears its
// modified mark.
func (c *Cache) SaveSourceData(srcPath, argHash string) error {
	key := sourceKey{srcPath: srcPath, argHash: argHash}
	sdata, ok := c.sdata[key]
	if !ok {
		return nil
	}
	if err := saveFile(c.sourceDataFile(key), sdata); err != nil {
		return err
	}
	delete(c.modified, key)
	return nil
}

// SaveModified persists every source data set changed since the last
// save.
func (c *Cache) SaveModified() error {
	for key := range c.modified {
		if err := c.SaveSourceData(key.srcPath, key.argHash); err != nil {
			return err
		}
	}
	return nil
}

// Modified returns the number of unsaved source data sets.
func (c *Cache) Modified() int {
	return len(c.modified)
}

// NextCompileThreshold returns the time before which another compile
// sample of the same input adds no information. The delay grows with
// the number of samples already recorded: baseDelayHours scaled by
// 1.5n - 0.5/n for n samples.
func NextCompileThreshold(baseDelayHours float64, timestamps []int64) int64 {
	n := len(timestamps)
	if n == 0 {
		return 0
	}
	latest := timestamps[n-1]
	multiplier := 3600 * (1.5*float64(n) - 0.5/float64(n))
	return latest + int64(baseDelayHours*multiplier)
}

func loadFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("datacache: %s: %w", path, err)
	}
	return nil
}

func saveFile(path string, in interface{}) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("datacache: %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
