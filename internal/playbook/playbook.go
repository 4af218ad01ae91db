// Package playbook loads playbook files.
//
// A playbook is either a single play:
//
//	hosts: web
//	tasks:
//	  - name: say hi
//	    module: shell
//	    params: {cmd: "echo hi"}
//
// or a YAML list of such plays. A play without hosts targets "all".
package playbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eniac111/plumbapi/internal/types"
	"gopkg.in/yaml.v3"
)

// ParseError reports a playbook that could not be decoded or validated.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse playbook %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads and parses the playbook at path. A missing file yields an
// error wrapping fs.ErrNotExist; anything else wrong with the file yields a
// *ParseError.
func Load(path string) (*types.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook: %w", err)
	}
	plays, err := Parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &types.Playbook{Path: path, Plays: plays}, nil
}

// Parse decodes and validates playbook YAML. Unknown keys are rejected.
func Parse(data []byte) ([]types.Play, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, errors.New("playbook is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var plays []types.Play
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		if err := dec.Decode(&plays); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case yaml.MappingNode:
		var play types.Play
		if err := dec.Decode(&play); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		plays = []types.Play{play}
	default:
		return nil, errors.New("playbook must be a play or a list of plays")
	}

	if len(plays) == 0 {
		return nil, errors.New("playbook has no plays")
	}
	for i := range plays {
		p := &plays[i]
		if p.Hosts == "" {
			p.Hosts = "all"
		}
		if len(p.Tasks) == 0 {
			return nil, fmt.Errorf("play #%d (%s) has no tasks", i+1, p.Name)
		}
		for j, t := range p.Tasks {
			if t.Module == "" {
				return nil, fmt.Errorf("task #%d (%s) in play #%d has no module", j+1, t.Name, i+1)
			}
		}
	}
	return plays, nil
}
