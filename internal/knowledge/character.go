package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

// characterPartition adapts per-character record files. Outline keys are
// "name/file"; Fetch targets address one character's files with either
// explicit field paths or the wildcard.
type characterPartition struct {
	lib *Library
}

func (p *characterPartition) ID() domain.PartitionID {
	return domain.PartitionCharacter
}

func (p *characterPartition) Index(ctx context.Context) (*Outline, error) {
	data := p.lib.snapshot()
	outline := &Outline{
		Partition: domain.PartitionCharacter,
		Files:     make(map[string][]string),
	}
	for _, c := range data.Characters {
		for file, fields := range c.Files {
			names := make([]string, 0, len(fields))
			for name := range fields {
				names = append(names, name)
			}
			sort.Strings(names)
			outline.Files[c.Name+"/"+file] = names
		}
	}
	return outline, nil
}

// Fetch serves target files for the single character the field keys name.
// Target file keys use the "name/file" outline form.
func (p *characterPartition) Fetch(ctx context.Context, targets domain.TargetSet) (string, error) {
	data := p.lib.snapshot()

	files := make([]string, 0, len(targets.Fields))
	for file := range targets.Fields {
		files = append(files, file)
	}
	sort.Strings(files)

	var b strings.Builder
	for _, key := range files {
		name, file, ok := strings.Cut(key, "/")
		if !ok {
			return "", fmt.Errorf("malformed character target %q", key)
		}
		sheet, ok := findCharacter(data, name)
		if !ok {
			return "", fmt.Errorf("character %q not found", name)
		}
		content, ok := sheet.Files[file]
		if !ok {
			return "", fmt.Errorf("character %q has no %q file", name, file)
		}

		selected := content
		fields := targets.Fields[key]
		if !isWildcard(fields) {
			selected = make(map[string]any, len(fields))
			for _, f := range fields {
				v, ok := content[f]
				if !ok {
					return "", fmt.Errorf("character %q file %q has no field %q", name, file, f)
				}
				selected[f] = v
			}
		}

		raw, err := yaml.Marshal(selected)
		if err != nil {
			return "", fmt.Errorf("serialize %s/%s: %w", name, file, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# %s — %s\n%s", name, file, raw)
	}
	return b.String(), nil
}

func isWildcard(fields []string) bool {
	return len(fields) == 1 && fields[0] == domain.FieldWildcard
}

func findCharacter(data *LibraryData, name string) (CharacterSheet, bool) {
	for _, c := range data.Characters {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
		for _, alias := range c.Aliases {
			if strings.EqualFold(alias, name) {
				return c, true
			}
		}
	}
	return CharacterSheet{}, false
}

var _ Partition = (*characterPartition)(nil)
