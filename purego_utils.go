//go:build linux

// Shared utilities for the purego platform bindings.

package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	// Find string length
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) == 0 {
			break
		}
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// findSourceRoot returns the directory holding this source file.
func findSourceRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(file)
}

// nativeLibPaths lists the candidate locations of a platform library, most
// specific first. envVar, when set, names the exact file to load.
func nativeLibPaths(libName, envVar string) []string {
	var paths []string

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv(envVar); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Build outputs next to the sources (works in IDE/tests)
	for _, root := range []string{findSourceRoot(), findModuleRoot()} {
		if root != "" {
			paths = append(paths, filepath.Join(root, "build", libName))
		}
	}

	// System paths (lowest priority). The bare name lets the dynamic linker
	// search LD_LIBRARY_PATH and the ld.so cache.
	paths = append(paths,
		libName,
		filepath.Join("/usr/lib", libName),
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib/aarch64-linux-gnu", libName),
		filepath.Join("/usr/lib/arm-linux-gnueabihf", libName),
	)
	return paths
}

// dlopenFirst opens the first path that loads.
func dlopenFirst(libName string, paths []string) (uintptr, error) {
	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return 0, fmt.Errorf("failed to load %s: %w", libName, lastErr)
	}
	return 0, errors.New(libName + " not found in any standard location")
}
