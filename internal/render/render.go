// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package render is the boundary to whatever draws the model: a mesh handle
// coming in and one transform per render tick going out.
package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/joypose/internal/transform"
)

// ErrMeshNotFound is returned by LoadMesh for a missing or unsupported asset.
var ErrMeshNotFound = errors.New("mesh not found")

var meshFormats = map[string]bool{
	".fbx": true, ".obj": true, ".gltf": true, ".glb": true,
	".dae": true, ".3ds": true, ".stl": true, ".ply": true,
}

// Mesh is an opaque handle to a model asset. The control loop never looks
// inside; front ends use Path to fetch the file.
type Mesh struct {
	path string
	size int64
}

func (m *Mesh) Path() string { return m.path }
func (m *Mesh) Size() int64  { return m.size }

// Format is the lowercased file extension without the dot.
func (m *Mesh) Format() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(m.path)), ".")
}

// LoadMesh checks that path names a readable model file and returns its handle.
func LoadMesh(path string) (*Mesh, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !meshFormats[ext] {
		return nil, fmt.Errorf("%w: %s: unsupported format %q", ErrMeshNotFound, path, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMeshNotFound, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrMeshNotFound, path)
	}

	return &Mesh{path: path, size: info.Size()}, nil
}

// Renderer consumes one transform per render tick.
type Renderer interface {
	Render(mesh *Mesh, t transform.Transform) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(mesh *Mesh, t transform.Transform) error

func (f RendererFunc) Render(mesh *Mesh, t transform.Transform) error { return f(mesh, t) }

// Fanout renders to every sink and joins their errors. A failing sink does
// not stop the others.
type Fanout []Renderer

func (f Fanout) Render(mesh *Mesh, t transform.Transform) error {
	var errs []error
	for _, r := range f {
		if err := r.Render(mesh, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
