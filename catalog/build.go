package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"goldhash/common"
	"goldhash/perw"
)

const progressEvery = 100

// BuildStats summarizes a scan.
type BuildStats struct {
	Dirs        int
	SkippedDirs int
	Files       int
	Indexed     int
	Skipped     int
	Failed      int

	// Interrupted is set when the context ended before every root was
	// walked; the catalog then holds only part of the roots.
	Interrupted bool
}

type scanOutcome struct {
	result common.ScanResult
	rec    Record
}

// Build walks every root and indexes each PE image it finds. Unreadable
// files and directories are logged and skipped; the walk never descends
// into reparse points or onto another filesystem than the root's.
func (c *Catalog) Build(ctx context.Context, roots []string) BuildStats {
	var stats BuildStats
	var statsMu sync.Mutex

	jobs := make(chan string, c.workers*4)
	results := make(chan scanOutcome, c.workers*4)

	// Avvia i worker
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				results <- c.scanFile(path)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, root := range roots {
			d, sd := c.walk(ctx, root, jobs)
			statsMu.Lock()
			stats.Dirs += d
			stats.SkippedDirs += sd
			statsMu.Unlock()
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var files, indexed, skipped, failed int
	for out := range results {
		files++
		switch {
		case out.result.Indexed:
			indexed++
			c.Insert(out.result.Path, out.rec)
		case out.result.Err != nil:
			failed++
			c.logger.Warn("cannot read file", "path", out.result.Path, "err", out.result.Err)
		default:
			skipped++
			c.logger.Debug("not indexed", "result", out.result.String())
		}
		if files%progressEvery == 0 {
			c.logger.Info("catalog scan progress", "files", files, "indexed", indexed)
		}
	}

	statsMu.Lock()
	defer statsMu.Unlock()
	stats.Files, stats.Indexed, stats.Skipped, stats.Failed = files, indexed, skipped, failed
	stats.Interrupted = ctx.Err() != nil
	c.logger.Info("catalog scan finished",
		"dirs", stats.Dirs, "files", stats.Files, "indexed", stats.Indexed,
		"failed", stats.Failed, "names", c.Len(), "interrupted", stats.Interrupted)
	return stats
}

// walk feeds the regular files under root to jobs, directory by
// directory, and returns the number of visited and skipped directories.
func (c *Catalog) walk(ctx context.Context, root string, jobs chan<- string) (visited, skipped int) {
	abs, err := filepath.Abs(root)
	if err != nil {
		c.logger.Warn("bad scan root", "path", root, "err", err)
		return 0, 1
	}
	rootVol, err := c.volumeOf(abs)
	if err != nil {
		c.logger.Warn("cannot identify scan root filesystem", "path", abs, "err", err)
		return 0, 1
	}

	pending := []string{abs}
	for len(pending) > 0 {
		if ctx.Err() != nil {
			c.logger.Warn("catalog scan interrupted", "root", abs, "err", ctx.Err())
			return visited, skipped
		}
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		vol, err := c.volumeOf(dir)
		if err != nil {
			c.logger.Warn("cannot identify directory filesystem", "path", dir, "err", err)
			skipped++
			continue
		}
		if vol != rootVol {
			c.logger.Warn("directory left the scan root filesystem", "path", dir, "root", abs)
			skipped++
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Warn("cannot list directory", "path", dir, "err", err)
			if len(entries) == 0 {
				skipped++
				continue
			}
		}
		visited++

		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			switch {
			case c.isReparsePoint(path, e):
				c.logger.Debug("skipping reparse point", "path", path)
			case e.IsDir():
				pending = append(pending, path)
			case e.Type().IsRegular():
				select {
				case jobs <- path:
				case <-ctx.Done():
					return visited, skipped
				}
			}
		}
	}
	return visited, skipped
}

func (c *Catalog) scanFile(path string) scanOutcome {
	f, err := os.Open(path)
	if err != nil {
		return scanOutcome{result: common.NewFailed(path, err)}
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	page, err := perw.ReadHeaderPage(f)
	if err != nil {
		if errors.Is(err, common.ErrIO) {
			return scanOutcome{result: common.NewFailed(path, err)}
		}
		return scanOutcome{result: common.NewSkipped(path, "empty file")}
	}
	info, err := c.parse(page)
	if err != nil {
		return scanOutcome{result: common.NewSkipped(path, err.Error())}
	}
	return scanOutcome{
		result: common.NewIndexed(path),
		rec:    Record{SizeOfImage: info.SizeOfImage, TimeStamp: info.TimeDateStamp, Path: path},
	}
}
