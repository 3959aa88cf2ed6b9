// Copyright 2026 The Tracecat Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"path"
	"strconv"

	"github.com/tracecathq/executor/lib/schema"
)

// Builder assembles a Spec. Methods chain; Build validates.
type Builder struct {
	spec Spec
}

// NewBuilder returns a builder with an empty spec.
func NewBuilder() *Builder {
	return &Builder{spec: Spec{Env: make(map[string]string)}}
}

func (b *Builder) Namespaces(namespaces NamespaceConfig) *Builder {
	b.spec.Namespaces = namespaces
	return b
}

func (b *Builder) Security(security SecurityConfig) *Builder {
	b.spec.Security = security
	return b
}

// ReadOnlyBind mounts the host path source at dest, read-only.
func (b *Builder) ReadOnlyBind(source, dest string) *Builder {
	b.spec.Mounts = append(b.spec.Mounts, Mount{Source: source, Dest: dest, ReadOnly: true})
	return b
}

// Bind mounts the host path source at dest, read-write.
func (b *Builder) Bind(source, dest string) *Builder {
	b.spec.Mounts = append(b.spec.Mounts, Mount{Source: source, Dest: dest})
	return b
}

func (b *Builder) Tmpfs(dest string) *Builder {
	b.spec.Mounts = append(b.spec.Mounts, Mount{Type: MountTmpfs, Dest: dest})
	return b
}

func (b *Builder) Proc(dest string) *Builder {
	b.spec.Mounts = append(b.spec.Mounts, Mount{Type: MountProc, Dest: dest})
	return b
}

func (b *Builder) Dev(dest string) *Builder {
	b.spec.Mounts = append(b.spec.Mounts, Mount{Type: MountDev, Dest: dest})
	return b
}

func (b *Builder) Dir(dest string) *Builder {
	b.spec.Mounts = append(b.spec.Mounts, Mount{Type: MountDir, Dest: dest})
	return b
}

func (b *Builder) Setenv(key, value string) *Builder {
	b.spec.Env[key] = value
	return b
}

func (b *Builder) Chdir(dir string) *Builder {
	b.spec.Chdir = dir
	return b
}

func (b *Builder) Command(command ...string) *Builder {
	b.spec.Command = command
	return b
}

// Build validates and returns a copy of the spec.
func (b *Builder) Build() (*Spec, error) {
	spec := b.spec
	spec.Mounts = append([]Mount(nil), b.spec.Mounts...)
	spec.Env = make(map[string]string, len(b.spec.Env))
	for key, value := range b.spec.Env {
		spec.Env[key] = value
	}
	spec.Command = append([]string(nil), b.spec.Command...)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Paths inside every sandbox.
const (
	WorkMount     = "/work"
	RegistryMount = "/registry"
	WorkerMount   = "/usr/local/bin/tracecat-worker"
)

// Options describe the host side of a worker sandbox.
type Options struct {
	// RootfsPath is the host directory mounted read-only at /.
	RootfsPath string

	// WorkDir is the host directory mounted read-write at /work.
	WorkDir string

	// WorkerBinary is the host path of tracecat-worker.
	WorkerBinary string

	// RegistryRoot is the host registry cache root.
	RegistryRoot string

	// Network leaves the network namespace shared with the host.
	Network bool

	// Env is added to the sandbox environment.
	Env map[string]string
}

// base applies the mounts and settings shared by every worker profile.
func (opts Options) base() (*Builder, error) {
	if opts.RootfsPath == "" || opts.WorkDir == "" || opts.WorkerBinary == "" {
		return nil, fmt.Errorf("sandbox options require rootfs, work directory, and worker binary")
	}
	builder := NewBuilder().
		Namespaces(NamespaceConfig{PID: true, IPC: true, UTS: true, User: true, Net: !opts.Network}).
		Security(SecurityConfig{NewSession: true, DieWithParent: true}).
		ReadOnlyBind(opts.RootfsPath, "/").
		Proc("/proc").
		Dev("/dev").
		Tmpfs("/tmp").
		Bind(opts.WorkDir, WorkMount).
		ReadOnlyBind(opts.WorkerBinary, WorkerMount).
		Setenv("PATH", "/usr/local/bin:/usr/bin:/bin").
		Setenv("HOME", WorkMount).
		Setenv("TMPDIR", "/tmp").
		Setenv("LANG", "C.UTF-8").
		Chdir(WorkMount)
	if opts.Network {
		for _, file := range []string{"/etc/resolv.conf", "/etc/hosts"} {
			builder.ReadOnlyBind(file, file)
		}
	}
	for key, value := range opts.Env {
		builder.Setenv(key, value)
	}
	return builder, nil
}

// WorkerSpec is the pool worker profile. The worker listens on
// /work/<socketName>, which the host reaches at WorkDir/<socketName>,
// and sees the whole registry cache read-only because bundles vary
// per request.
func WorkerSpec(opts Options, socketName string, maxConcurrent int) (*Spec, error) {
	builder, err := opts.base()
	if err != nil {
		return nil, err
	}
	if opts.RegistryRoot != "" {
		builder.ReadOnlyBind(opts.RegistryRoot, RegistryMount)
	} else {
		builder.Dir(RegistryMount)
	}
	builder.Command(WorkerMount,
		"--socket", path.Join(WorkMount, socketName),
		"--max-concurrent", strconv.Itoa(maxConcurrent),
		"--registry-root", RegistryMount,
	)
	return builder.Build()
}

// EphemeralSpec is the per-call profile. Only the bundles the call
// needs are mounted, each at /registry/<dir>.
func EphemeralSpec(opts Options, bundles []schema.BundleRef) (*Spec, error) {
	builder, err := opts.base()
	if err != nil {
		return nil, err
	}
	builder.Dir(RegistryMount)
	for _, bundle := range bundles {
		if opts.RegistryRoot == "" {
			return nil, fmt.Errorf("bundle %s requires a registry root", bundle.Dir)
		}
		if bundle.Dir == "" || bundle.Dir != path.Base(bundle.Dir) || bundle.Dir == ".." {
			return nil, fmt.Errorf("bundle directory %q is not a single path component", bundle.Dir)
		}
		builder.ReadOnlyBind(path.Join(opts.RegistryRoot, bundle.Dir), path.Join(RegistryMount, bundle.Dir))
	}
	builder.Command(WorkerMount, "--oneshot", "--registry-root", RegistryMount)
	return builder.Build()
}
