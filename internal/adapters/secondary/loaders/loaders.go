package loaders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"model-serving-gateway/internal/core/domain"
	"model-serving-gateway/internal/core/ports/output"
)

// DefaultMaxArtifactSize bounds how much of an artifact a loader will read.
const DefaultMaxArtifactSize = 512 << 20

type options struct {
	maxSize int64
}

type Option func(*options)

// WithMaxArtifactSize caps the bytes read per Load; n <= 0 removes the cap,
// matching an upload limit of zero.
func WithMaxArtifactSize(n int64) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxSize = n
	}
}

func buildOptions(opts []Option) options {
	o := options{maxSize: DefaultMaxArtifactSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Set is the framework dispatch table. It is built once at startup and is
// read-only afterwards.
type Set struct {
	loaders map[domain.Framework]ports.Loader
}

func NewSet(loaders ...ports.Loader) *Set {
	s := &Set{loaders: make(map[domain.Framework]ports.Loader, len(loaders))}
	for _, l := range loaders {
		s.Register(l)
	}
	return s
}

// Default returns a Set with a loader for every supported framework.
func Default(reader ports.ArtifactReader, opts ...Option) *Set {
	return NewSet(
		NewTensorGraphLoader(reader, opts...),
		NewTreeEnsembleLoader(reader, opts...),
		NewGenericScoringLoader(reader, opts...),
	)
}

// Register adds or replaces the loader for l.Framework().
func (s *Set) Register(l ports.Loader) {
	s.loaders[l.Framework()] = l
}

func (s *Set) Loader(fw domain.Framework) (ports.Loader, error) {
	l, ok := s.loaders[fw]
	if !ok {
		return nil, domain.ErrUnsupportedFramework
	}
	return l, nil
}

func (s *Set) Frameworks() []domain.Framework {
	out := make([]domain.Framework, 0, len(s.loaders))
	for fw := range s.loaders {
		out = append(out, fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// readArtifact fetches the whole blob at path. A missing blob is returned as
// domain.ErrArtifactMissing; every other failure is a *domain.LoadError.
func readArtifact(ctx context.Context, reader ports.ArtifactReader, fw domain.Framework, path string, maxSize int64) ([]byte, error) {
	rc, err := reader.Open(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactMissing) {
			return nil, domain.ErrArtifactMissing
		}
		return nil, domain.NewLoadError(fw, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err))
	}
	defer rc.Close()

	var src io.Reader = rc
	if maxSize > 0 {
		src = io.LimitReader(rc, maxSize+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.NewLoadError(fw, ctxErr)
		}
		return nil, domain.NewLoadError(fw, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err))
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, domain.NewLoadError(fw, fmt.Errorf("%w: artifact exceeds %d bytes", domain.ErrArtifactUnreadable, maxSize))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewLoadError(fw, fmt.Errorf("%w: artifact is empty", domain.ErrArtifactCorrupt))
	}
	return data, nil
}

// decodeJSON parses data twice: once into a generic value for schema
// validation and once into dst.
func decodeJSON(data []byte, fw domain.Framework, validate func(any) error, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return domain.NewLoadError(fw, fmt.Errorf("%w: %v", domain.ErrArtifactCorrupt, err))
	}
	if dec.More() {
		return domain.NewLoadError(fw, fmt.Errorf("%w: trailing data after document", domain.ErrArtifactCorrupt))
	}
	if err := validate(doc); err != nil {
		return domain.NewLoadError(fw, fmt.Errorf("%w: %v", domain.ErrIncompatibleSchema, err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewLoadError(fw, fmt.Errorf("%w: %v", domain.ErrIncompatibleSchema, err))
	}
	return nil
}

func incompatible(fw domain.Framework, format string, args ...any) error {
	return domain.NewLoadError(fw, fmt.Errorf("%w: %s", domain.ErrIncompatibleSchema, fmt.Sprintf(format, args...)))
}

func shapeMismatch(fw domain.Framework, format string, args ...any) error {
	return domain.NewPredictError(fw, fmt.Errorf("%w: %s", domain.ErrShapeMismatch, fmt.Sprintf(format, args...)))
}

func typeMismatch(fw domain.Framework, format string, args ...any) error {
	return domain.NewPredictError(fw, fmt.Errorf("%w: %s", domain.ErrTypeMismatch, fmt.Sprintf(format, args...)))
}
