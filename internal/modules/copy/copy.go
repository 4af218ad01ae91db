// Package copy writes inline content or a controller-side file to the host.
package copy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/types"
)

type CopyModule struct{}

// Run copies "content" or the local file "src" to "dest". The file is only
// rewritten when its sha256 differs or its mode needs changing.
func (CopyModule) Run(ctx context.Context, conn connection.Connection, task types.TaskDefinition, opts types.ModuleOptions) types.ModuleResult {
	res := types.ModuleResult{
		TaskName: task.Name,
		Module:   task.Module,
	}

	dest, _ := task.Params["dest"].(string)
	src, _ := task.Params["src"].(string)
	content, hasContent := task.Params["content"].(string)
	if dest == "" {
		return fail(res, "Missing 'dest' parameter")
	}
	if hasContent == (src != "") {
		return fail(res, "Exactly one of 'src' or 'content' is required")
	}

	perm := fs.FileMode(0o644)
	setMode := false
	if m, ok := task.Params["mode"]; ok {
		p, err := parseMode(m)
		if err != nil {
			return fail(res, err.Error())
		}
		perm, setMode = p, true
	}

	data := []byte(content)
	if src != "" {
		b, err := os.ReadFile(src)
		if err != nil {
			return fail(res, fmt.Sprintf("could not read src: %v", err))
		}
		data = b
	}

	fsys, err := conn.FS()
	if err != nil {
		return fail(res, err.Error())
	}

	var before []byte
	info, err := fsys.Lstat(dest)
	switch {
	case err == nil && info.IsDir():
		return fail(res, fmt.Sprintf("'%s' is a directory", dest))
	case err == nil:
		before, err = fsys.ReadFile(dest)
		if err != nil {
			return fail(res, err.Error())
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fail(res, err.Error())
	}

	checksum := sum(data)
	exists := info != nil
	contentChanged := !exists || sum(before) != checksum
	modeChanged := exists && setMode && info.Mode().Perm() != perm

	res.Changed = contentChanged || modeChanged
	res.Data = map[string]any{
		"dest":     dest,
		"checksum": checksum,
		"size":     len(data),
	}
	if opts.Diff && contentChanged {
		res.Data["diff"] = map[string]any{
			"before": string(before),
			"after":  string(data),
		}
	}

	if !res.Changed {
		res.Msg = fmt.Sprintf("'%s' is up to date", dest)
		return res
	}
	if opts.Check {
		res.Msg = fmt.Sprintf("'%s' would be updated", dest)
		return res
	}

	if contentChanged {
		if exists && !setMode {
			perm = info.Mode().Perm()
		}
		if err := fsys.WriteFile(dest, data, perm); err != nil {
			return fail(res, err.Error())
		}
	} else if err := fsys.Chmod(dest, perm); err != nil {
		return fail(res, err.Error())
	}
	res.Msg = fmt.Sprintf("'%s' updated", dest)
	return res
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func parseMode(v any) (fs.FileMode, error) {
	switch m := v.(type) {
	case int:
		return fs.FileMode(m), nil
	case string:
		p, err := strconv.ParseUint(m, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid mode '%s': %w", m, err)
		}
		return fs.FileMode(p), nil
	}
	return 0, fmt.Errorf("invalid mode %v", v)
}

func fail(res types.ModuleResult, msg string) types.ModuleResult {
	res.Failed = true
	res.Msg = msg
	return res
}
