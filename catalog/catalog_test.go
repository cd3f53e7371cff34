package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"goldhash/perw/pefixture"
)

func writeImage(t *testing.T, dir, name string, ts uint32) string {
	t.Helper()
	img := &pefixture.Image{
		ImageBase:     0x400000,
		TimeDateStamp: ts,
		Sections: []pefixture.Section{
			{Name: ".text", VirtualAddress: 0x1000, Data: []byte{0xC3}},
		},
	}
	path, err := img.WriteFile(dir, name)
	if err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestBuildAndLookup(t *testing.T) {
	root := t.TempDir()
	path := writeImage(t, filepath.Join(root, "sys"), "Foo.dll", 0x5F000000)
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "empty.dll"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(Options{Workers: 2})
	stats := c.Build(context.Background(), []string{root})

	if stats.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1 (%+v)", stats.Indexed, stats)
	}
	if stats.Interrupted {
		t.Error("complete scan marked interrupted")
	}
	if stats.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2 (%+v)", stats.Skipped, stats)
	}

	for _, name := range []string{"foo.dll", "FOO.DLL", `C:\Windows\System32\Foo.dll`} {
		recs := c.Lookup(name)
		if len(recs) != 1 {
			t.Fatalf("Lookup(%q) returned %d records", name, len(recs))
		}
		rec := recs[0]
		if rec.Path != path {
			t.Errorf("Path = %q, want %q", rec.Path, path)
		}
		if !rec.Matches(0x2000, 0x5F000000) {
			t.Errorf("record %+v does not match size 0x2000 ts 0x5F000000", rec)
		}
	}
	if got := c.Lookup("readme.txt"); len(got) != 0 {
		t.Errorf("non-image indexed: %+v", got)
	}
}

func TestBuildSkipsForeignFilesystem(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "local"), "local.dll", 1)
	writeImage(t, filepath.Join(root, "mnt"), "remote.dll", 2)

	c := New(Options{
		VolumeOf: func(p string) (string, error) {
			if filepath.Base(p) == "mnt" {
				return "other", nil
			}
			return "root", nil
		},
	})
	stats := c.Build(context.Background(), []string{root})

	if len(c.Lookup("local.dll")) != 1 {
		t.Error("local.dll not indexed")
	}
	if len(c.Lookup("remote.dll")) != 0 {
		t.Error("remote.dll indexed from a foreign filesystem")
	}
	if stats.SkippedDirs != 1 {
		t.Errorf("SkippedDirs = %d, want 1", stats.SkippedDirs)
	}
}

func TestBuildDoesNotFollowLinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeImage(t, outside, "linked.dll", 3)
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	c := New(Options{})
	c.Build(context.Background(), []string{root})
	if got := c.Lookup("linked.dll"); len(got) != 0 {
		t.Errorf("walk followed a link: %+v", got)
	}
}

func TestBuildCancelled(t *testing.T) {
	root := t.TempDir()
	writeImage(t, root, "foo.dll", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(Options{})
	stats := c.Build(ctx, []string{root})
	if stats.Indexed != 0 {
		t.Errorf("Indexed = %d after cancellation", stats.Indexed)
	}
	if !stats.Interrupted {
		t.Error("Interrupted not set after cancellation")
	}
}

func TestInsertReplacesSamePath(t *testing.T) {
	c := New(Options{})
	c.Insert("/a/foo.dll", Record{SizeOfImage: 1, TimeStamp: 1, Path: "/a/foo.dll"})
	c.Insert("/b/foo.dll", Record{SizeOfImage: 2, TimeStamp: 2, Path: "/b/foo.dll"})
	c.Insert("/a/FOO.dll", Record{SizeOfImage: 3, TimeStamp: 3, Path: "/a/foo.dll"})

	recs := c.Lookup("foo.dll")
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Path != "/a/foo.dll" || recs[0].SizeOfImage != 3 {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if recs[1].Path != "/b/foo.dll" {
		t.Errorf("recs[1] = %+v", recs[1])
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestConcurrentInsertLookup(t *testing.T) {
	c := New(Options{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				name := fmt.Sprintf("mod%03d.dll", i)
				path := fmt.Sprintf("/w%d/%s", w, name)
				c.Insert(path, Record{SizeOfImage: uint32(i), Path: path})
				_ = c.Lookup(name)
			}
		}(w)
	}
	wg.Wait()

	if c.Len() != 200 {
		t.Errorf("Len = %d, want 200", c.Len())
	}
	if got := len(c.Lookup("mod042.dll")); got != 8 {
		t.Errorf("mod042.dll has %d records, want 8", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := New(Options{})
	c.Insert("/x/Alpha.dll", Record{SizeOfImage: 0x3000, TimeStamp: 7, Path: "/x/Alpha.dll"})
	c.Insert("/y/alpha.dll", Record{SizeOfImage: 0x4000, TimeStamp: 8, Path: "/y/alpha.dll"})
	c.Insert("/x/beta.exe", Record{SizeOfImage: 0x5000, TimeStamp: 9, Path: "/x/beta.exe"})

	file := filepath.Join(t.TempDir(), "catalog.gob")
	if err := c.SaveFile(file); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	restored := New(Options{})
	if err := restored.LoadFile(file); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got, want := restored.Names(), c.Names(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	for _, name := range c.Names() {
		if got, want := restored.Lookup(name), c.Lookup(name); fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("Lookup(%q) = %+v, want %+v", name, got, want)
		}
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	c := New(Options{})
	if err := c.Restore([]byte("garbage")); err == nil {
		t.Error("Restore accepted garbage")
	}
	if err := c.LoadFile(filepath.Join(t.TempDir(), "missing.gob")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("LoadFile missing = %v", err)
	}
}
