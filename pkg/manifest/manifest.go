package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/craftd/msm/pkg/scheduler"
	"github.com/craftd/msm/pkg/types"
)

// Document kinds accepted by apply.
const (
	KindServer   = "Server"
	KindSchedule = "Schedule"
)

// Document is one parsed YAML document. Exactly one of Server or
// Schedule is set, matching Kind.
type Document struct {
	Kind     string
	Metadata Metadata

	Server   *ServerSpec
	Schedule *ScheduleSpec
}

// Metadata identifies the resource a document describes.
type Metadata struct {
	// Name is the server name. Required for Server documents.
	Name string `yaml:"name"`
	// Server names the owning server. Required for Schedule documents.
	Server string `yaml:"server"`
}

// ServerSpec mirrors the create/update API shapes; keys match the wire
// format. Zero fields mean "not specified" and keep existing values on
// update.
type ServerSpec struct {
	Distro         string `yaml:"distro"`
	Version        string `yaml:"version"`
	Port           int    `yaml:"port"`
	Memory         string `yaml:"memory"`
	JavaPath       string `yaml:"java_path"`
	JavaArgs       string `yaml:"java_args"`
	RestartOnCrash *bool  `yaml:"restart_on_crash"`
}

// ScheduleSpec mirrors the schedule API shapes. Enabled defaults to true
// when omitted.
type ScheduleSpec struct {
	Action  string `yaml:"action"`
	Cron    string `yaml:"cron"`
	Payload string `yaml:"payload"`
	Enabled *bool  `yaml:"enabled"`
}

// Load reads and parses a manifest file.
func Load(path string) ([]*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	docs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// Parse decodes a manifest: one or more YAML documents separated by
// "---". Every document is validated before any is applied, so a typo in
// the last document fails the whole file up front.
func Parse(data []byte) ([]*Document, error) {
	type raw struct {
		Kind     string    `yaml:"kind"`
		Metadata Metadata  `yaml:"metadata"`
		Spec     yaml.Node `yaml:"spec"`
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []*Document
	for n := 1; ; n++ {
		var rw raw
		if err := dec.Decode(&rw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", n, err)
		}
		if rw.Kind == "" && rw.Metadata == (Metadata{}) && rw.Spec.IsZero() {
			continue // stray separator
		}

		doc := &Document{Kind: rw.Kind, Metadata: rw.Metadata}
		switch rw.Kind {
		case KindServer:
			if rw.Metadata.Name == "" {
				return nil, fmt.Errorf("document %d: Server needs metadata.name", n)
			}
			var spec ServerSpec
			if !rw.Spec.IsZero() {
				if err := rw.Spec.Decode(&spec); err != nil {
					return nil, fmt.Errorf("document %d: %w", n, err)
				}
			}
			if spec.Distro != "" && !types.Distro(spec.Distro).Valid() {
				return nil, fmt.Errorf("document %d: unknown distro %q", n, spec.Distro)
			}
			doc.Server = &spec

		case KindSchedule:
			if rw.Metadata.Server == "" {
				return nil, fmt.Errorf("document %d: Schedule needs metadata.server", n)
			}
			var spec ScheduleSpec
			if !rw.Spec.IsZero() {
				if err := rw.Spec.Decode(&spec); err != nil {
					return nil, fmt.Errorf("document %d: %w", n, err)
				}
			}
			if !types.ScheduleAction(spec.Action).Valid() {
				return nil, fmt.Errorf("document %d: unknown schedule action %q", n, spec.Action)
			}
			if spec.Cron == "" {
				return nil, fmt.Errorf("document %d: Schedule needs spec.cron", n)
			}
			if err := scheduler.ValidateCron(spec.Cron); err != nil {
				return nil, fmt.Errorf("document %d: %w", n, err)
			}
			if types.ScheduleAction(spec.Action) == types.ActionCommand {
				if _, err := scheduler.CommandPayload(spec.Payload); err != nil {
					return nil, fmt.Errorf("document %d: %w", n, err)
				}
			}
			doc.Schedule = &spec

		default:
			return nil, fmt.Errorf("document %d: unsupported kind %q (want Server or Schedule)", n, rw.Kind)
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, errors.New("no documents found")
	}
	return docs, nil
}
