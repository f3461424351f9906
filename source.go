// source.go: Files, directories and in-memory archive members
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// IdentityPrefixSize is the number of leading bytes hashed into a
// dataset identity.
const IdentityPrefixSize = 50 * 1024

// File is an open Source. Callers close it before returning.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

// Source is a resolved input: a file or directory on disk, or the bytes
// of an archive member.
type Source struct {
	path    string
	name    string
	data    []byte
	modTime time.Time
	dir     bool
	memory  bool
}

// PathSource resolves path to an absolute file or directory source.
func PathSource(path string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, errors.Wrap(err, ErrCodeIOError, "failed to resolve path").WithContext("path", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Source{}, errors.Wrap(err, ErrCodeFileNotFound, fmt.Sprintf("no such file or directory: %s", abs))
		}
		return Source{}, errors.Wrap(err, ErrCodeIOError, "failed to stat path").WithContext("path", abs)
	}
	return Source{path: abs, name: filepath.Base(abs), modTime: info.ModTime(), dir: info.IsDir()}, nil
}

// BytesSource wraps an in-memory file, typically an archive member.
func BytesSource(name string, data []byte, modTime time.Time) Source {
	return Source{path: name, name: filepath.Base(name), data: data, modTime: modTime, memory: true}
}

// Path returns the absolute path, or the member name for in-memory sources.
func (s Source) Path() string { return s.path }

// Name returns the base name.
func (s Source) Name() string { return s.name }

// IsDir reports whether s is a directory.
func (s Source) IsDir() bool { return s.dir }

// InMemory reports whether s was created by BytesSource.
func (s Source) InMemory() bool { return s.memory }

// Ext returns the lower-cased file extension including the dot.
func (s Source) Ext() string { return strings.ToLower(filepath.Ext(s.name)) }

// ModTime returns the modification time recorded when s was resolved.
func (s Source) ModTime() time.Time { return s.modTime }

// String implements fmt.Stringer.
func (s Source) String() string { return s.path }

type memFile struct{ *bytes.Reader }

func (memFile) Close() error { return nil }

// Open opens s for reading.
func (s Source) Open() (File, error) {
	if s.memory {
		return memFile{bytes.NewReader(s.data)}, nil
	}
	if s.dir {
		return nil, errors.New(ErrCodeIOError, fmt.Sprintf("%s is a directory", s.path))
	}
	f, err := os.Open(s.path) // #nosec G304 -- path resolved by PathSource
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open file").WithContext("path", s.path)
	}
	return f, nil
}

// Size returns the size in bytes.
func (s Source) Size() (int64, error) {
	if s.memory {
		return int64(len(s.data)), nil
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to stat file").WithContext("path", s.path)
	}
	return info.Size(), nil
}

// Prefix returns up to n leading bytes.
func (s Source) Prefix(n int) ([]byte, error) {
	if s.memory {
		if len(s.data) < n {
			n = len(s.data)
		}
		return s.data[:n], nil
	}
	f, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read file").WithContext("path", s.path)
	}
	return buf[:m], nil
}

// ReadAll returns the whole content.
func (s Source) ReadAll() ([]byte, error) {
	if s.memory {
		return s.data, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read file").WithContext("path", s.path)
	}
	return data, nil
}

// withReader opens s, passes it to fn together with its size and closes it.
func (s Source) withReader(fn func(f File, size int64) error) error {
	size, err := s.Size()
	if err != nil {
		return err
	}
	f, err := s.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f, size)
}
