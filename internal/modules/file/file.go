package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/modules/shell"
	"github.com/eniac111/plumbapi/internal/types"
)

// timeFormat is the layout of modification_time / access_time values
// other than "now" and "preserve".
const timeFormat = "200601021504.05"

// FileModule is our main struct for the module.
type FileModule struct{}

// fileOp bundles what the helpers need so check mode can flow through.
type fileOp struct {
	ctx   context.Context
	conn  connection.Connection
	fs    connection.Filesystem
	check bool
	opts  types.ModuleOptions
}

// Run implements the module interface by reading parameters
// and performing the requested file operation.
func (fm FileModule) Run(ctx context.Context, conn connection.Connection, task types.TaskDefinition, opts types.ModuleOptions) types.ModuleResult {
	res := types.ModuleResult{
		TaskName: task.Name,
		Module:   task.Module,
	}

	// 1. Gather parameters
	path, _ := task.Params["path"].(string)
	state, _ := task.Params["state"].(string)
	src, _ := task.Params["src"].(string)
	dest, _ := task.Params["dest"].(string)
	owner, _ := task.Params["owner"].(string)
	group, _ := task.Params["group"].(string)
	modeStr := modeParam(task.Params["mode"])
	recurse, _ := task.Params["recurse"].(bool)
	modTimeParam, _ := task.Params["modification_time"].(string)
	accTimeParam, _ := task.Params["access_time"].(string)

	if state == "" {
		state = "file"
	}
	if (state == "link" || state == "hard") && path != "" && dest == "" {
		dest = path
	}
	if state == "link" || state == "hard" {
		path = dest
	}

	if path == "" && (state == "file" || state == "touch" || state == "directory" || state == "absent") {
		return failResult(res, "Missing 'path' parameter")
	}
	if (state == "link" || state == "hard") && (dest == "" || src == "") {
		return failResult(res, "For link/hard link state, both 'src' and 'dest' are required")
	}

	fsys, err := conn.FS()
	if err != nil {
		return failResult(res, err.Error())
	}
	op := fileOp{ctx: ctx, conn: conn, fs: fsys, check: opts.Check, opts: opts}

	// 2. Dispatch by state
	switch state {
	case "file":
		changed, err := op.ensureFile(path, false)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = changed
		res.Msg = fmt.Sprintf("File '%s' created", path)

	case "touch":
		changed, err := op.ensureFile(path, true)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = changed
		res.Msg = fmt.Sprintf("File '%s' touched", path)

	case "directory":
		changed, err := op.ensureDirectory(path)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = changed
		res.Msg = fmt.Sprintf("Directory '%s' created", path)

	case "absent":
		existed, err := op.removePath(path)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = existed
		res.Msg = fmt.Sprintf("Removed '%s'", path)

	case "link":
		changed, err := op.ensureSymlink(src, dest)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = changed
		res.Msg = fmt.Sprintf("Symlink created: %s -> %s", dest, src)

	case "hard":
		changed, err := op.ensureHardLink(src, dest)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = changed
		res.Msg = fmt.Sprintf("Hard link created: %s -> %s", dest, src)

	default:
		return failResult(res, fmt.Sprintf("Unknown state '%s'", state))
	}

	// 3. If not absent, set ownership, permissions, times, recursion if needed
	if state != "absent" && state != "link" {
		fileChanged, err := op.setFileAttributes(path, owner, group, modeStr, recurse, modTimeParam, accTimeParam)
		if err != nil {
			return failResult(res, err.Error())
		}
		res.Changed = res.Changed || fileChanged
	}

	res.Data = map[string]any{"path": path, "state": state}
	return res
}

// ---------------------------------------------------------
//  Helper Functions
// ---------------------------------------------------------

func (op fileOp) ensureFile(path string, forceTouch bool) (bool, error) {
	info, err := op.fs.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if op.check {
			return true, nil
		}
		if err := op.fs.WriteFile(path, nil, 0o644); err != nil {
			return false, err
		}
		return true, nil
	} else if err != nil {
		return false, err
	}

	if info.IsDir() {
		return false, fmt.Errorf("'%s' exists but is a directory", path)
	}
	if forceTouch {
		if op.check {
			return true, nil
		}
		now := time.Now()
		return true, op.fs.Chtimes(path, now, now)
	}
	return false, nil
}

func (op fileOp) ensureDirectory(path string) (bool, error) {
	info, err := op.fs.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if op.check {
			return true, nil
		}
		if err := op.fs.MkdirAll(path); err != nil {
			return false, err
		}
		return true, nil
	} else if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("'%s' exists but is not a directory", path)
	}
	return false, nil
}

func (op fileOp) removePath(path string) (bool, error) {
	_, err := op.fs.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if op.check {
		return true, nil
	}
	if err := op.fs.RemoveAll(path); err != nil {
		return true, err
	}
	return true, nil
}

func (op fileOp) ensureSymlink(src, dest string) (bool, error) {
	_, err := op.fs.Lstat(dest)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if op.check {
		return true, nil
	}
	if err := op.fs.Symlink(src, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (op fileOp) ensureHardLink(src, dest string) (bool, error) {
	_, err := op.fs.Lstat(dest)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if op.check {
		return true, nil
	}
	if err := op.fs.Link(src, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (op fileOp) setFileAttributes(path, owner, group, modeStr string, recurse bool, modTimeParam, accTimeParam string) (bool, error) {
	changed := false

	if modeStr != "" {
		mode, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return false, fmt.Errorf("invalid mode '%s': %w", modeStr, err)
		}
		info, err := op.fs.Lstat(path)
		if err != nil {
			if op.check && errors.Is(err, fs.ErrNotExist) {
				return true, nil
			}
			return false, err
		}
		if info.Mode().Perm() != fs.FileMode(mode) {
			changed = true
			if !op.check {
				if err := op.fs.Chmod(path, fs.FileMode(mode)); err != nil {
					return false, err
				}
			}
		}
		if recurse && info.IsDir() && !op.check {
			if err := op.exec("chmod -R " + modeStr + " " + shell.Quote(path)); err != nil {
				return false, err
			}
		}
	}

	if owner != "" || group != "" {
		ownership := owner
		if group != "" {
			ownership += ":" + group
		}
		flag := ""
		if recurse {
			flag = "-R "
		}
		// chown does not report whether anything changed, so compare ids first
		before, _ := op.output("stat -c %U:%G " + shell.Quote(path))
		if !ownerMatches(before, owner, group) {
			changed = true
			if !op.check {
				if err := op.exec("chown " + flag + shell.Quote(ownership) + " " + shell.Quote(path)); err != nil {
					return false, err
				}
			}
		}
	}

	if modTimeParam != "" || accTimeParam != "" {
		info, err := op.fs.Lstat(path)
		if err != nil {
			if op.check {
				return true, nil
			}
			return false, err
		}
		mtime, mChanged, err := resolveTime(modTimeParam, info.ModTime())
		if err != nil {
			return false, err
		}
		atime, aChanged, err := resolveTime(accTimeParam, info.ModTime())
		if err != nil {
			return false, err
		}
		if mChanged || aChanged {
			changed = true
			if !op.check {
				if err := op.fs.Chtimes(path, atime, mtime); err != nil {
					return false, err
				}
			}
		}
	}

	return changed, nil
}

func (op fileOp) exec(cmd string) error {
	out, err := op.conn.Exec(op.ctx, shell.Wrap(cmd, op.opts))
	if err != nil {
		return err
	}
	if out.RC != 0 {
		return fmt.Errorf("%s: %s", cmd, out.Stderr)
	}
	return nil
}

func (op fileOp) output(cmd string) (string, error) {
	out, err := op.conn.Exec(op.ctx, cmd)
	if err != nil {
		return "", err
	}
	if out.RC != 0 {
		return "", fmt.Errorf("%s: %s", cmd, out.Stderr)
	}
	return out.Stdout, nil
}

func ownerMatches(current, owner, group string) bool {
	curOwner, curGroup, ok := strings.Cut(strings.TrimSpace(current), ":")
	if !ok {
		return false
	}
	return (owner == "" || owner == curOwner) && (group == "" || group == curGroup)
}

// resolveTime maps "preserve", "now" or a timeFormat value to a time.
func resolveTime(param string, current time.Time) (time.Time, bool, error) {
	switch param {
	case "", "preserve":
		return current, false, nil
	case "now":
		return time.Now(), true, nil
	}
	t, err := time.ParseInLocation(timeFormat, param, time.Local)
	if err != nil {
		return current, false, fmt.Errorf("invalid time '%s': expected now, preserve or %s", param, timeFormat)
	}
	return t, !t.Equal(current), nil
}

// modeParam accepts "0644" as well as YAML numbers; an unquoted 0644 is
// already decoded as octal by the YAML parser.
func modeParam(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case int:
		return strconv.FormatInt(int64(m), 8)
	}
	return ""
}

// failResult is a helper function to set Failed = true with a given message.
func failResult(res types.ModuleResult, msg string) types.ModuleResult {
	res.Failed = true
	res.Msg = msg
	return res
}
