package pageservice

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/checksum"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/parser"
	"github.com/starford/ansuz/internal/storage"
)

// PageDetail is the full representation of a page.
type PageDetail struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Checksum    string          `json:"checksum"`
	Placeholder bool            `json:"placeholder"`
	Tags        []string        `json:"tags"`
	Frontmatter map[string]any  `json:"frontmatter,omitempty"`
	Backlinks   []models.Link   `json:"backlinks"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TagCount is one known tag and how many pages carry it.
type TagCount struct {
	Name  string `json:"name"`
	Pages int    `json:"pages"`
}

// Status reports the cache state for health and diagnostics.
type Status struct {
	Pages    int  `json:"pages"`
	UpToDate bool `json:"up_to_date"`
}

// Service coordinates storage writes with the index: every mutation goes to
// storage first, then is pushed into the index as a targeted update.
type Service struct {
	store storage.Provider
	ix    *index.Index
}

// NewService creates a new page service.
func NewService(store storage.Provider, ix *index.Index) *Service {
	return &Service{store: store, ix: ix}
}

// GetPage returns the page named name. A placeholder page (known to the link
// graph but without a backing file) is returned with empty content.
func (s *Service) GetPage(_ context.Context, name string) (*PageDetail, error) {
	path := index.PathFromPageName(name)
	data, err := s.store.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		info, ierr := s.ix.PageByName(name)
		if ierr != nil {
			return nil, ierr
		}
		if info == nil {
			return nil, apperr.ErrNotFound
		}
		return s.buildBareDetail(name, info)
	}
	return s.buildPageDetail(name, path, data)
}

// CreatePage writes a new page file and indexes it.
func (s *Service) CreatePage(_ context.Context, name string, content []byte) (*PageDetail, error) {
	path := index.PathFromPageName(name)
	if _, err := s.store.Read(path); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.ix.UpdateFile(s.store.FileNode(path)); err != nil {
		return nil, err
	}
	return s.buildPageDetail(name, path, content)
}

// UpdatePage writes updated content with optimistic concurrency: a non-empty
// ifMatch must equal the checksum of the stored content.
func (s *Service) UpdatePage(_ context.Context, name string, content []byte, ifMatch string) (*PageDetail, error) {
	path := index.PathFromPageName(name)
	existing, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.ix.UpdateFile(s.store.FileNode(path)); err != nil {
		return nil, err
	}
	return s.buildPageDetail(name, path, content)
}

// DeletePage removes the page file and retires it from the index. Pages still
// referenced by links survive as placeholders.
func (s *Service) DeletePage(_ context.Context, name string) error {
	path := index.PathFromPageName(name)
	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.ix.UpdateFile(s.store.FileNode(path))
}

// MovePage renames a page file and records the move in the index.
func (s *Service) MovePage(_ context.Context, oldName, newName string) error {
	oldPath := index.PathFromPageName(oldName)
	newPath := index.PathFromPageName(newName)
	if _, err := s.store.Read(newPath); err == nil {
		return apperr.ErrAlreadyExists
	}
	if err := s.store.Move(oldPath, newPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.ix.FileMoved(s.store.FileNode(oldPath), s.store.FileNode(newPath))
}

// ListPages returns the direct children of the namespace parent ("" for the
// top level).
func (s *Service) ListPages(_ context.Context, parent string) ([]models.PageMetadata, error) {
	infos, err := s.ix.ListPages(parent)
	if err != nil {
		return nil, err
	}
	return toMetadata(infos), nil
}

// AllPages returns every indexed page, placeholders included.
func (s *Service) AllPages(_ context.Context) ([]models.PageMetadata, error) {
	infos, err := s.ix.AllPages()
	if err != nil {
		return nil, err
	}
	return toMetadata(infos), nil
}

// Backlinks answers "what links here" for the page named target.
func (s *Service) Backlinks(_ context.Context, target string) ([]models.Link, error) {
	return s.backlinks(target)
}

// ListTags returns every known tag with its page count.
func (s *Service) ListTags(_ context.Context) ([]TagCount, error) {
	infos, err := s.ix.ListTags()
	if err != nil {
		return nil, err
	}
	out := make([]TagCount, len(infos))
	for i, t := range infos {
		out[i] = TagCount{Name: t.Name, Pages: t.Pages}
	}
	return out, nil
}

// PagesByTag returns the pages carrying tag.
func (s *Service) PagesByTag(_ context.Context, tag string) ([]models.PageMetadata, error) {
	infos, err := s.ix.PagesByTag(tag)
	if err != nil {
		return nil, err
	}
	return toMetadata(infos), nil
}

// TouchPlaceholder makes the page named name visible to navigation before it
// has content.
func (s *Service) TouchPlaceholder(_ context.Context, name string) error {
	return s.ix.TouchCurrentPagePlaceholder(name)
}

// CheckNow synchronously reconciles the whole index against the notebook.
func (s *Service) CheckNow(_ context.Context) error {
	return s.ix.CheckAndUpdate()
}

// Reindex rebuilds the cache from scratch, then runs a full pass.
func (s *Service) Reindex(_ context.Context) error {
	if err := s.ix.Flush(); err != nil {
		return err
	}
	return s.ix.CheckAndUpdate()
}

// GetProperty returns a raw cache property; ok is false when unset.
func (s *Service) GetProperty(_ context.Context, key string) (string, bool, error) {
	return s.ix.GetProperty(key)
}

// SetProperty stores a raw cache property.
func (s *Service) SetProperty(_ context.Context, key, value string) error {
	return s.ix.SetProperty(key, value)
}

// DeleteProperty removes a raw cache property. Deleting an absent key is not
// an error.
func (s *Service) DeleteProperty(_ context.Context, key string) error {
	return s.ix.DeleteProperty(key)
}

// Status reports the cache state.
func (s *Service) Status(_ context.Context) (*Status, error) {
	n, err := s.ix.PageCount()
	if err != nil {
		return nil, err
	}
	up, err := s.ix.IsUpToDate()
	if err != nil {
		return nil, err
	}
	return &Status{Pages: n, UpToDate: up}, nil
}

func (s *Service) buildPageDetail(name, path string, data []byte) (*PageDetail, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	bl, err := s.backlinks(name)
	if err != nil {
		return nil, err
	}
	tags, err := s.ix.PageTags(name)
	if err != nil {
		return nil, err
	}
	return &PageDetail{
		Name:        name,
		Path:        path,
		Title:       res.Title,
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Tags:        nonNilSlice(tags),
		Frontmatter: res.Frontmatter,
		Backlinks:   nonNilSlice(bl),
		UpdatedAt:   time.Now(),
	}, nil
}

// buildBareDetail renders a placeholder page: no content, no checksum, just
// its position in the link graph.
func (s *Service) buildBareDetail(name string, info *index.PageInfo) (*PageDetail, error) {
	bl, err := s.backlinks(name)
	if err != nil {
		return nil, err
	}
	return &PageDetail{
		Name:        name,
		Path:        index.PathFromPageName(name),
		Placeholder: info.Placeholder,
		Tags:        []string{},
		Backlinks:   nonNilSlice(bl),
	}, nil
}

func (s *Service) backlinks(target string) ([]models.Link, error) {
	edges, err := s.ix.Backlinks(target)
	if err != nil {
		return nil, err
	}
	out := make([]models.Link, len(edges))
	for i, e := range edges {
		out[i] = models.Link{Source: e.Source, Target: target, Rel: e.Rel.String()}
	}
	return out, nil
}

func toMetadata(infos []index.PageInfo) []models.PageMetadata {
	out := make([]models.PageMetadata, len(infos))
	for i, p := range infos {
		out[i] = models.PageMetadata{Name: p.Name, HasContent: p.HasContent, Placeholder: p.Placeholder}
	}
	return out
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
