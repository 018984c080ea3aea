package verify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

const bufferSize = 64 * 1024

// job is one manifest entry to check, tagged with its manifest position.
type job struct {
	index     int
	name      string
	localPath string
	expected  string
	pathErr   error
}

// pool hashes files with a fixed number of workers. Each worker owns one
// hasher and one read buffer for its whole lifetime.
type pool struct {
	workers int
	logger  *slog.Logger
}

func newPool(workers int, logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	return &pool{workers: workers, logger: logger}
}

// execute checks every job and returns results in job order. onResult is
// called from the collecting goroutine only. Jobs not started before ctx is
// cancelled are absent from the returned slice.
func (p *pool) execute(ctx context.Context, jobs []job, onResult func(FileResult)) []FileResult {
	if len(jobs) == 0 {
		return []FileResult{}
	}

	jobsChan := make(chan job, len(jobs))
	resultsChan := make(chan indexedResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobsChan, resultsChan, &wg)
	}

	go func() {
		defer close(jobsChan)
		for _, j := range jobs {
			select {
			case jobsChan <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]indexedResult, 0, len(jobs))
	for r := range resultsChan {
		if onResult != nil {
			onResult(r.FileResult)
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})

	out := make([]FileResult, len(results))
	for i, r := range results {
		out[i] = r.FileResult
	}
	return out
}

type indexedResult struct {
	FileResult
	index int
}

func (p *pool) worker(ctx context.Context, jobsChan <-chan job, resultsChan chan<- indexedResult, wg *sync.WaitGroup) {
	defer wg.Done()

	h := sha1.New()
	buf := make([]byte, bufferSize)

	for j := range jobsChan {
		if ctx.Err() != nil {
			return
		}
		res := p.check(j, h, buf)
		if res.Err != nil {
			p.logger.Debug("file check error", "path", j.name, "status", res.Status, "error", res.Err)
		}
		resultsChan <- indexedResult{FileResult: res, index: j.index}
	}
}

// check classifies one file. h is reset before use.
func (p *pool) check(j job, h hash.Hash, buf []byte) FileResult {
	res := FileResult{
		Path:      j.name,
		LocalPath: j.localPath,
		Expected:  j.expected,
	}

	if j.pathErr != nil {
		res.Status = StatusMissing
		res.Err = j.pathErr
		return res
	}

	info, err := os.Stat(j.localPath)
	switch {
	case err == nil && info.IsDir():
		res.Status = StatusSkipped
		return res
	case err != nil:
		res.Status = StatusMissing
		res.Err = err
		return res
	case !info.Mode().IsRegular():
		res.Status = StatusMissing
		res.Err = fmt.Errorf("not a regular file: %s", info.Mode().Type())
		return res
	}

	f, err := os.Open(j.localPath)
	if err != nil {
		res.Status = StatusMissing
		res.Err = err
		return res
	}
	defer func() {
		_ = f.Close()
	}()

	h.Reset()
	if _, err := io.CopyBuffer(h, readerOnly{f}, buf); err != nil {
		res.Status = StatusMismatched
		res.Err = fmt.Errorf("reading file: %w", err)
		return res
	}

	res.Actual = hex.EncodeToString(h.Sum(nil))
	if strings.EqualFold(res.Actual, j.expected) {
		res.Status = StatusMatched
	} else {
		res.Status = StatusMismatched
	}
	return res
}

// readerOnly hides (*os.File).WriteTo so io.CopyBuffer uses the worker's buffer.
type readerOnly struct {
	io.Reader
}
