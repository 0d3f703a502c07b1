// Package lambdapkg builds deployment archives for Lambda code. Archives are
// byte-for-byte deterministic (fixed timestamps, fixed modes, lexical entry
// order) so the same source always hashes to the same CodeSha256 and
// re-packaging never reports spurious drift.
package lambdapkg

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// inlineEntryName is the archive entry used for inline function code.
const inlineEntryName = "lambda_function.py"

var fixedModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// FromCode wraps inline source code into a single-entry archive.
func FromCode(code string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	if err := writeEntry(w, inlineEntryName, []byte(code)); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromFile packages a local file. A file that is already a zip archive is
// returned as-is; anything else is wrapped the same way inline code is. When
// missingOK is set a missing file reads as empty, which lets dry runs
// evaluate steps whose artifacts a previous step would have produced.
func FromFile(path string, missingOK bool) ([]byte, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if missingOK && os.IsNotExist(err) {
			contents = nil
		} else {
			return nil, err
		}
	}

	if filepath.Ext(path) == ".zip" {
		return contents, nil
	}

	return FromCode(string(contents))
}

// BuildDir packages a source tree. Include and exclude are glob patterns
// matched against the slash-separated path relative to src; rename maps
// archive paths to replacement paths.
func BuildDir(src string, include, exclude []string, rename map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if len(include) > 0 && !matchesAny(rel, include) {
			return nil
		}
		if matchesAny(rel, exclude) {
			return nil
		}

		if renamed, ok := rename[rel]; ok {
			rel = renamed
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		return writeEntry(w, rel, contents)
	})
	if err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the base64-encoded SHA-256 digest of a package, the encoding
// Lambda reports as CodeSha256.
func Hash(pkg []byte) string {
	digest := sha256.Sum256(pkg)
	return base64.StdEncoding.EncodeToString(digest[:])
}

func writeEntry(w *zip.Writer, name string, contents []byte) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: fixedModTime,
	}
	header.SetMode(0o777)

	entry, err := w.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = entry.Write(contents)
	return err
}

func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
