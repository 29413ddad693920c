// Package fileops implements path-validated file operations confined to
// the sandbox's allow-listed roots: write, read (buffered and streamed),
// mkdir, delete, rename, move, and directory listing.
package fileops

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/delacroix-m/sandrun/internal/config"
)

const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"

	binarySampleSize = 512
)

// Service implements the file-operations surface against a configured
// set of allowed roots.
type Service struct {
	cfg    config.FileOpsConfig
	logger *slog.Logger

	watcher  *fsnotify.Watcher
	cacheMu  sync.RWMutex
	cache    map[string][]FileInfo
	watching map[string]bool
	closed   chan struct{}
}

// NewService starts a Service backed by an fsnotify watcher that
// invalidates the directory-listing cache whenever a watched directory
// changes. Callers must call Close when done.
func NewService(cfg config.FileOpsConfig, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		watcher:  watcher,
		cache:    make(map[string][]FileInfo),
		watching: make(map[string]bool),
		closed:   make(chan struct{}),
	}
	go s.watchLoop()
	return s, nil
}

func (s *Service) watchLoop() {
	for {
		select {
		case _, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.invalidateCache()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watcher error", "err", err)
		case <-s.closed:
			return
		}
	}
}

func (s *Service) invalidateCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string][]FileInfo)
	s.cacheMu.Unlock()
}

// Close stops the watcher goroutine.
func (s *Service) Close() error {
	close(s.closed)
	return s.watcher.Close()
}

func (s *Service) resolve(p string) (string, error) {
	return resolvePath(s.cfg, p)
}

// checkExecPolicy rejects a path that references an existing executable
// regular file under /tmp. Nonexistent paths pass through untouched so
// the caller's own filesystem call produces the right not-found error.
func (s *Service) checkExecPolicy(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if denyExecInTmp(s.cfg, path, uint32(info.Mode().Perm()), info.IsDir()) {
		return ErrExecInTmpDenied
	}
	return nil
}

// WriteFile decodes content according to encoding (utf-8 text or base64)
// and writes the bytes to path. Parent directories are not created
// implicitly.
func (s *Service) WriteFile(path, content, encoding string) (*WriteResult, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.checkExecPolicy(resolved); err != nil {
		return nil, err
	}

	data, err := decodeContent(content, encoding)
	if err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}

	if _, err := os.Stat(filepath.Dir(resolved)); err != nil {
		return nil, fmt.Errorf("parent directory: %w", ErrNotFound)
	}

	if err := os.WriteFile(resolved, data, 0644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}

	return &WriteResult{Path: resolved, Timestamp: time.Now()}, nil
}

func decodeContent(content, encoding string) ([]byte, error) {
	if encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(content), nil
}

// ReadFile reads at most maxBytes bytes of path (the whole file when
// maxBytes is not positive), returning UTF-8 text or base64-encoded bytes
// depending on a binary-content heuristic. Size is always the full file
// size.
func (s *Service) ReadFile(path string, maxBytes int64) (*ReadResult, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := s.checkExecPolicy(resolved); err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return nil, ErrIsDirectory
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	limit := maxBytes
	if limit <= 0 || limit > info.Size() {
		limit = info.Size()
	}
	data := make([]byte, limit)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read: %w", err)
	}
	data = data[:n]

	sample := data
	if len(sample) > binarySampleSize {
		sample = sample[:binarySampleSize]
	}
	binary := looksBinary(sample)

	result := &ReadResult{
		IsBinary: binary,
		MimeType: mimeTypeForPath(resolved),
		Size:     info.Size(),
	}
	if binary {
		result.Encoding = EncodingBase64
		result.Content = base64.StdEncoding.EncodeToString(data)
	} else {
		result.Encoding = EncodingUTF8
		result.Content = string(data)
	}
	return result, nil
}

// ReadFileStream reads path in bounded chunks, invoking emit with exactly
// one metadata event, then zero or more chunk events, then exactly one
// terminal complete or error event.
func (s *Service) ReadFileStream(path string, emit func(StreamEvent)) error {
	resolved, err := s.resolve(path)
	if err != nil {
		emit(StreamEvent{Type: StreamEventError, Message: err.Error()})
		return err
	}
	if err := s.checkExecPolicy(resolved); err != nil {
		emit(StreamEvent{Type: StreamEventError, Message: err.Error()})
		return err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		msg := "stat: " + err.Error()
		if os.IsNotExist(err) {
			msg = ErrNotFound.Error()
		}
		emit(StreamEvent{Type: StreamEventError, Message: msg})
		return err
	}
	if info.IsDir() {
		emit(StreamEvent{Type: StreamEventError, Message: ErrIsDirectory.Error()})
		return ErrIsDirectory
	}

	f, err := os.Open(resolved)
	if err != nil {
		emit(StreamEvent{Type: StreamEventError, Message: "open: " + err.Error()})
		return err
	}
	defer f.Close()

	chunkSize := s.cfg.ReadStreamChunkSize
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}

	head := make([]byte, binarySampleSize)
	n, _ := f.Read(head)
	binary := looksBinary(head[:n])
	encoding := EncodingUTF8
	if binary {
		encoding = EncodingBase64
	}

	emit(StreamEvent{
		Type:     StreamEventMetadata,
		MimeType: mimeTypeForPath(resolved),
		Size:     info.Size(),
		IsBinary: binary,
		Encoding: encoding,
	})

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		emit(StreamEvent{Type: StreamEventError, Message: "seek: " + err.Error()})
		return err
	}

	var total int64
	buf := make([]byte, chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			total += int64(n)
			var encoded string
			if binary {
				encoded = base64.StdEncoding.EncodeToString(buf[:n])
			} else {
				encoded = string(buf[:n])
			}
			emit(StreamEvent{Type: StreamEventChunk, Data: encoded})
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			emit(StreamEvent{Type: StreamEventError, Message: "read: " + readErr.Error()})
			return readErr
		}
	}

	emit(StreamEvent{Type: StreamEventComplete, BytesRead: total})
	return nil
}

// Mkdir creates path. With recursive=false it fails if the path already
// exists; with recursive=true it creates intermediate directories and is
// idempotent if the target is already a directory.
func (s *Service) Mkdir(path string, recursive bool) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}

	if !recursive {
		if _, err := os.Stat(resolved); err == nil {
			return ErrFileExists
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat: %w", err)
		}
		if err := os.Mkdir(resolved, 0755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
		s.invalidateCache()
		return nil
	}

	if info, err := os.Stat(resolved); err == nil && !info.IsDir() {
		return ErrNotDirectory
	}
	if err := os.MkdirAll(resolved, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	s.invalidateCache()
	return nil
}

// DeleteFile removes a single file. Directories are rejected; tree
// removal is deliberately left to exec("rm -rf ...") by the caller.
func (s *Service) DeleteFile(path string) error {
	resolved, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := s.checkExecPolicy(resolved); err != nil {
		return err
	}

	info, err := os.Lstat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return ErrIsDirectory
	}
	if err := os.Remove(resolved); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	s.invalidateCache()
	return nil
}

// RenameFile renames old to new within the same parent directory.
func (s *Service) RenameFile(oldPath, newPath string) error {
	return s.moveOrRename(oldPath, newPath, true)
}

// MoveFile moves src to dst, possibly across directories, falling back
// to copy-then-unlink when they don't share a filesystem.
func (s *Service) MoveFile(src, dst string) error {
	return s.moveOrRename(src, dst, false)
}

func (s *Service) moveOrRename(src, dst string, sameParent bool) error {
	resolvedSrc, err := s.resolve(src)
	if err != nil {
		return err
	}
	resolvedDst, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if err := s.checkExecPolicy(resolvedSrc); err != nil {
		return err
	}
	if sameParent && filepath.Dir(resolvedSrc) != filepath.Dir(resolvedDst) {
		return fmt.Errorf("%w: rename requires the same parent directory", ErrInvalidPath)
	}

	if _, err := os.Lstat(resolvedSrc); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat: %w", err)
	}

	err = os.Rename(resolvedSrc, resolvedDst)
	if err == nil {
		s.invalidateCache()
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename: %w", err)
	}

	if err := copyThenRemove(resolvedSrc, resolvedDst); err != nil {
		return fmt.Errorf("cross-device move: %w", err)
	}
	s.invalidateCache()
	return nil
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// ListFiles walks path, returning entries ordered directories-before-files
// then alphabetically at each level. Results are cached per (path,
// recursive, includeHidden) until an fsnotify event invalidates the cache.
func (s *Service) ListFiles(path string, recursive, includeHidden bool) ([]FileInfo, error) {
	resolved, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%v|%v", resolved, recursive, includeHidden)
	s.cacheMu.RLock()
	if cached, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return cached, nil
	}
	s.cacheMu.RUnlock()

	root, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat: %w", err)
	}
	if !root.IsDir() {
		return nil, ErrNotDirectory
	}

	s.addWatch(resolved)

	entries, err := listDir(resolved, resolved, recursive, includeHidden, s.addWatch)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[key] = entries
	s.cacheMu.Unlock()
	return entries, nil
}

func (s *Service) addWatch(dir string) {
	s.cacheMu.Lock()
	if s.watching[dir] {
		s.cacheMu.Unlock()
		return
	}
	s.watching[dir] = true
	s.cacheMu.Unlock()
	_ = s.watcher.Add(dir)
}

func listDir(root, dir string, recursive, includeHidden bool, onDir func(string)) ([]FileInfo, error) {
	raw, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var dirs, files []fs.DirEntry
	for _, e := range raw {
		if !includeHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name() < dirs[j].Name() })
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	var out []FileInfo
	for _, e := range dirs {
		abs := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, toFileInfo(root, abs, info))
		if recursive {
			if onDir != nil {
				onDir(abs)
			}
			sub, err := listDir(root, abs, recursive, includeHidden, onDir)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	for _, e := range files {
		abs := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, toFileInfo(root, abs, info))
	}
	return out, nil
}

func toFileInfo(root, abs string, info fs.FileInfo) FileInfo {
	entryType := EntryFile
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		entryType = EntrySymlink
	case info.IsDir():
		entryType = EntryDirectory
	case !info.Mode().IsRegular():
		entryType = EntryOther
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		rel = abs
	}

	mode := info.Mode()
	return FileInfo{
		Name:         info.Name(),
		AbsolutePath: abs,
		RelativePath: rel,
		Type:         entryType,
		Size:         info.Size(),
		ModifiedAt:   info.ModTime(),
		Mode:         mode.String(),
		Permissions: Permissions{
			Readable:   mode.Perm()&0400 != 0,
			Writable:   mode.Perm()&0200 != 0,
			Executable: mode.Perm()&0100 != 0,
		},
	}
}
