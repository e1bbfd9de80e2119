package site

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

const (
	// layerFileMode is the mode assigned to every file placed in the
	// image layer. Fixed so the layer digest depends on content only.
	layerFileMode = 0o644

	// layerDirMode is the mode assigned to directory entries in the layer.
	layerDirMode = 0o755
)

var (
	// ErrEntryMissing is returned when the required entry file is absent
	// from the tree root.
	ErrEntryMissing = errors.New("entry file is missing from the site root")

	// errNotADirectory is returned when the configured site path exists
	// but is not a directory.
	errNotADirectory = errors.New("site path is not a directory")

	// layerTimestamp is the fixed modification time stamped on every
	// archive entry. Fixed so rebuilding an unchanged tree reproduces
	// the same layer digest.
	layerTimestamp = time.Unix(0, 0).UTC()
)

// Tree is a static asset tree rooted at a single directory.
type Tree struct {
	// fs provides access to the tree content.
	fs billy.Filesystem
	// entry is the file that must exist at the tree root.
	entry string
}

// Open returns a Tree backed by the directory at the provided path.
func Open(root, entry string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat site path: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, errNotADirectory)
	}

	return NewFromFS(osfs.New(root), entry), nil
}

// NewFromFS returns a Tree backed by the provided filesystem.
// Tests use this constructor with an in-memory filesystem.
func NewFromFS(fs billy.Filesystem, entry string) *Tree {
	return &Tree{
		fs:    fs,
		entry: entry,
	}
}

// VerifyEntry checks that the required entry file exists at the tree root.
func (t *Tree) VerifyEntry() error {
	if _, err := t.fs.Stat(t.entry); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", t.entry, ErrEntryMissing)
		}

		return fmt.Errorf("stat entry file: %w", err)
	}

	return nil
}

// Entry returns the name of the required entry file.
func (t *Tree) Entry() string {
	return t.entry
}

// Files returns the slash-separated relative paths of every regular file
// in the tree, sorted lexically.
func (t *Tree) Files() ([]string, error) {
	var files []string

	err := util.Walk(t.fs, "/", func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		files = append(files, strings.TrimPrefix(path.Clean(walkPath), "/"))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk site tree: %w", err)
	}

	sort.Strings(files)

	return files, nil
}

// ReadFile returns the content of the file at the provided relative path.
func (t *Tree) ReadFile(name string) ([]byte, error) {
	file, err := t.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	defer func() {
		_ = file.Close()
	}()

	contents, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return contents, nil
}

// TarArchive produces a tar archive of the tree rooted at webRoot, the
// path inside the container image where the files land. Entries are
// sorted and carry fixed modes and timestamps, so an unchanged tree
// always archives to the same bytes.
func (t *Tree) TarArchive(webRoot string) ([]byte, error) {
	files, err := t.Files()
	if err != nil {
		return nil, err
	}

	var (
		buffer bytes.Buffer
		writer = tar.NewWriter(&buffer)
		root   = strings.Trim(path.Clean(webRoot), "/")
		seen   = make(map[string]struct{})
	)

	for _, name := range files {
		target := path.Join(root, name)

		if err = writeParentDirs(writer, target, seen); err != nil {
			return nil, err
		}

		var contents []byte

		contents, err = t.ReadFile(name)
		if err != nil {
			return nil, err
		}

		header := &tar.Header{
			Name:    target,
			Mode:    layerFileMode,
			Size:    int64(len(contents)),
			ModTime: layerTimestamp,
		}

		if err = writer.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header for %s: %w", target, err)
		}

		if _, err = writer.Write(contents); err != nil {
			return nil, fmt.Errorf("write tar content for %s: %w", target, err)
		}
	}

	if err = writer.Close(); err != nil {
		return nil, fmt.Errorf("finish tar archive: %w", err)
	}

	return buffer.Bytes(), nil
}

// writeParentDirs emits directory headers for every ancestor of target
// that has not been written yet.
func writeParentDirs(writer *tar.Writer, target string, seen map[string]struct{}) error {
	parent := path.Dir(target)
	if parent == "." || parent == "/" {
		return nil
	}

	if _, found := seen[parent]; found {
		return nil
	}

	if err := writeParentDirs(writer, parent, seen); err != nil {
		return err
	}

	header := &tar.Header{
		Name:     parent + "/",
		Mode:     layerDirMode,
		Typeflag: tar.TypeDir,
		ModTime:  layerTimestamp,
	}

	if err := writer.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", parent, err)
	}

	seen[parent] = struct{}{}

	return nil
}
