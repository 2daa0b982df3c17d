package objectstore

import (
	"bytes"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// memFile implements fs.File over an in-memory byte slice.
type memFile struct {
	name   string
	data   []byte
	reader *bytes.Reader
}

func (f *memFile) Stat() (fs.FileInfo, error) { return memFileInfo{name: f.name, size: int64(len(f.data))}, nil }
func (f *memFile) Read(p []byte) (int, error) {
	if f.reader == nil {
		f.reader = bytes.NewReader(f.data)
	}
	return f.reader.Read(p)
}
func (f *memFile) Close() error { return nil }

type memFileInfo struct {
	name string
	size int64
}

func (i memFileInfo) Name() string       { return i.name }
func (i memFileInfo) Size() int64        { return i.size }
func (i memFileInfo) Mode() fs.FileMode  { return 0o444 }
func (i memFileInfo) ModTime() time.Time { return time.Time{} }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() any           { return nil }

// dirFile implements fs.ReadDirFile for the synthetic category directories
// (scripts/, references/, assets/) a treeFS exposes.
type dirFile struct {
	name    string
	entries []fs.DirEntry
	read    bool
	tree    FileTree
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return dirFileInfo{name: d.name}, nil }
func (d *dirFile) Read([]byte) (int, error)   { return 0, io.EOF }
func (d *dirFile) Close() error                { return nil }

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.read {
		d.entries = directChildren(d.tree, d.name)
		d.read = true
	}
	if n <= 0 {
		out := d.entries
		d.entries = nil
		return out, nil
	}
	if len(d.entries) == 0 {
		return nil, io.EOF
	}
	take := n
	if take > len(d.entries) {
		take = len(d.entries)
	}
	out := d.entries[:take]
	d.entries = d.entries[take:]
	return out, nil
}

type dirFileInfo struct{ name string }

func (i dirFileInfo) Name() string       { return i.name }
func (i dirFileInfo) Size() int64        { return 0 }
func (i dirFileInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (i dirFileInfo) ModTime() time.Time { return time.Time{} }
func (i dirFileInfo) IsDir() bool        { return true }
func (i dirFileInfo) Sys() any           { return nil }

type dirEntry struct {
	name  string
	isDir bool
	size  int64
}

func (e dirEntry) Name() string      { return e.name }
func (e dirEntry) IsDir() bool       { return e.isDir }
func (e dirEntry) Type() fs.FileMode {
	if e.isDir {
		return fs.ModeDir
	}
	return 0
}
func (e dirEntry) Info() (fs.FileInfo, error) {
	if e.isDir {
		return dirFileInfo{name: e.name}, nil
	}
	return memFileInfo{name: e.name, size: e.size}, nil
}

// directChildren lists the immediate children (files and subdirectories)
// of dir within the flat FileTree.
func directChildren(tree FileTree, dir string) []fs.DirEntry {
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}
	seen := map[string]bool{}
	var out []fs.DirEntry
	for path, data := range tree {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if rest == "" {
			continue
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			if !seen[name] {
				seen[name] = true
				out = append(out, dirEntry{name: name, isDir: true})
			}
			continue
		}
		out = append(out, dirEntry{name: rest, isDir: false, size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
