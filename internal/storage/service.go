package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Item is one named upload stream.
type Item struct {
	Name string
	Body io.Reader
}

// ItemSource yields upload items in order. Next returns io.EOF once the
// source is exhausted.
type ItemSource interface {
	Next() (Item, error)
}

type sliceSource struct {
	items []Item
	pos   int
}

func (s *sliceSource) Next() (Item, error) {
	if s.pos >= len(s.items) {
		return Item{}, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}

// Items wraps a fixed slice as an ItemSource.
func Items(items ...Item) ItemSource {
	return &sliceSource{items: items}
}

// StoredFile describes a completed store.
type StoredFile struct {
	Name   string
	Size   int64
	SHA256 string
}

// File is an open stored file. Callers must close Body.
type File struct {
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
	Body        io.ReadCloser
}

// Options tune a Service.
type Options struct {
	// AtomicWrites stages each upload in a temp file inside the root and
	// renames it into place, so readers never observe a partial file.
	AtomicWrites bool
	// Detector determines content types on retrieval. Nil means
	// DefaultDetector().
	Detector ContentTypeDetector
}

// DefaultOptions returns atomic writes with the default detector.
func DefaultOptions() Options {
	return Options{AtomicWrites: true, Detector: DefaultDetector()}
}

// Service stores and retrieves files under a single root. It holds no
// mutable state and is safe for concurrent use.
type Service struct {
	resolver *Resolver
	atomic   bool
	detector ContentTypeDetector
}

// NewService binds a service to root.
func NewService(root string, opts Options) (*Service, error) {
	resolver, err := NewResolver(root)
	if err != nil {
		return nil, err
	}
	if opts.Detector == nil {
		opts.Detector = DefaultDetector()
	}
	return &Service{resolver: resolver, atomic: opts.AtomicWrites, detector: opts.Detector}, nil
}

// Open creates the root if needed and verifies it is a directory. It is
// meant to run once at startup.
func Open(root string, opts Options) (*Service, error) {
	s, err := NewService(root, opts)
	if err != nil {
		return nil, err
	}
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.Root())
	if err != nil {
		return nil, &IOFailure{Op: "stat", Name: s.Root(), Err: err}
	}
	if !info.IsDir() {
		return nil, &IOFailure{Op: "stat", Name: s.Root(), Err: errors.New("not a directory")}
	}
	return s, nil
}

// Root returns the absolute storage root.
func (s *Service) Root() string {
	return s.resolver.Root()
}

// Resolver exposes the service's path resolver.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Store writes every item in order and returns the sanitized names. On
// failure the names stored before the failing item are returned with the
// error; the remaining items are not attempted.
func (s *Service) Store(ctx context.Context, items []Item) ([]string, error) {
	files, err := s.StoreFrom(ctx, Items(items...))
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, err
}

// StoreFrom pulls items from src until io.EOF and stores each one.
func (s *Service) StoreFrom(ctx context.Context, src ItemSource) ([]StoredFile, error) {
	var stored []StoredFile
	for {
		item, err := src.Next()
		if errors.Is(err, io.EOF) {
			return stored, nil
		}
		if err != nil {
			return stored, &IOFailure{Op: "read", Err: err}
		}

		f, err := s.StoreOne(ctx, item.Name, item.Body)
		if err != nil {
			return stored, err
		}
		stored = append(stored, f)
	}
}

// StoreOne writes a single stream under rawName, replacing any existing
// file with the same sanitized name.
func (s *Service) StoreOne(ctx context.Context, rawName string, body io.Reader) (StoredFile, error) {
	resolved, err := s.resolver.Resolve(rawName)
	if err != nil {
		return StoredFile{}, err
	}
	if err := s.ensureRoot(); err != nil {
		return StoredFile{}, err
	}
	if body == nil {
		body = eofReader{}
	}

	src := &contextReader{ctx: ctx, r: body}
	if s.atomic {
		return s.writeAtomic(resolved, src)
	}
	return s.writeDirect(resolved, src)
}

// Stores replace the entry itself. A symlink entry is removed rather than
// written through, so another stored name is never clobbered.
func (s *Service) writeDirect(res Resolved, src io.Reader) (StoredFile, error) {
	if res.Entry != res.Path {
		if err := os.Remove(res.Entry); err != nil && !errors.Is(err, os.ErrNotExist) {
			return StoredFile{}, &IOFailure{Op: "open", Name: res.Name, Err: err}
		}
	}
	out, err := os.OpenFile(res.Entry, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return StoredFile{}, &IOFailure{Op: "open", Name: res.Name, Err: err}
	}
	sf, err := copyInto(out, src, res.Name)
	if cerr := out.Close(); cerr != nil && err == nil {
		err = &IOFailure{Op: "close", Name: res.Name, Err: cerr}
	}
	if err != nil {
		return StoredFile{}, err
	}
	return sf, nil
}

func (s *Service) writeAtomic(res Resolved, src io.Reader) (StoredFile, error) {
	tmpPath := filepath.Join(filepath.Dir(res.Entry), TempPrefix+uuid.NewString()+".part")
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return StoredFile{}, &IOFailure{Op: "open", Name: res.Name, Err: err}
	}

	sf, err := copyInto(out, src, res.Name)
	if err == nil {
		if serr := out.Sync(); serr != nil {
			err = &IOFailure{Op: "sync", Name: res.Name, Err: serr}
		}
	}
	if cerr := out.Close(); cerr != nil && err == nil {
		err = &IOFailure{Op: "close", Name: res.Name, Err: cerr}
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return StoredFile{}, err
	}

	if err := os.Rename(tmpPath, res.Entry); err != nil {
		_ = os.Remove(tmpPath)
		return StoredFile{}, &IOFailure{Op: "rename", Name: res.Name, Err: err}
	}
	return sf, nil
}

func copyInto(dst io.Writer, src io.Reader, name string) (StoredFile, error) {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), src)
	if err != nil {
		return StoredFile{}, &IOFailure{Op: "write", Name: name, Err: err}
	}
	return StoredFile{Name: name, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Retrieve opens the file stored under rawName.
func (s *Service) Retrieve(ctx context.Context, rawName string) (*File, error) {
	resolved, err := s.resolver.Resolve(rawName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &IOFailure{Op: "open", Name: resolved.Name, Err: err}
	}

	// Metadata comes from the open handle so a concurrent rename cannot
	// pair one file's size with another file's bytes.
	f, err := os.Open(resolved.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Name: rawName}
		}
		return nil, &IOFailure{Op: "open", Name: resolved.Name, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &IOFailure{Op: "stat", Name: resolved.Name, Err: err}
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, &NotFoundError{Name: rawName}
	}

	return &File{
		Name:        resolved.Name,
		ContentType: s.contentType(resolved.Name, f),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Body:        f,
	}, nil
}

// contentType never fails: unreadable or unrecognized content falls back
// to DefaultContentType. f is rewound before returning.
func (s *Service) contentType(name string, f *os.File) string {
	if ct := s.detector.Detect(name, nil); ct != "" {
		return ct
	}
	if !needsContent(s.detector) {
		return DefaultContentType
	}

	head := make([]byte, SniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		n = 0
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return DefaultContentType
	}
	if ct := s.detector.Detect(name, head[:n]); ct != "" {
		return ct
	}
	return DefaultContentType
}

func (s *Service) ensureRoot() error {
	if err := os.MkdirAll(s.Root(), dirPerm); err != nil {
		return &IOFailure{Op: "create_root", Name: s.Root(), Err: err}
	}
	return nil
}

func (s *Service) String() string {
	return fmt.Sprintf("storage(%s, atomic=%t)", s.Root(), s.atomic)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
