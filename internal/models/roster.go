package models

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownCharacter = errors.New("unknown character")
	ErrUnknownItem      = errors.New("unknown item")
)

// RosterFile is the on-disk shape of one roster YAML file.
type RosterFile struct {
	Characters []Character `yaml:"characters"`
	Items      []Item      `yaml:"items"`
}

// Roster holds every character and item available for battle.
type Roster struct {
	characters map[string]Character
	items      map[string]Item
}

// LoadRoster reads every *.yaml file at the root of fsys and merges them.
func LoadRoster(fsys fs.FS) (*Roster, error) {
	matches, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	r := &Roster{
		characters: make(map[string]Character),
		items:      make(map[string]Item),
	}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		var file RosterFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("roster: parsing %s: %w", path.Base(name), err)
		}
		for _, c := range file.Characters {
			if c.ID == "" {
				return nil, fmt.Errorf("roster: %s: character %q has no id", name, c.Name)
			}
			if _, dup := r.characters[c.ID]; dup {
				return nil, fmt.Errorf("roster: %s: duplicate character id %q", name, c.ID)
			}
			r.characters[c.ID] = c
		}
		for _, it := range file.Items {
			if it.ID == "" {
				return nil, fmt.Errorf("roster: %s: item %q has no id", name, it.Name)
			}
			if _, dup := r.items[it.ID]; dup {
				return nil, fmt.Errorf("roster: %s: duplicate item id %q", name, it.ID)
			}
			r.items[it.ID] = it
		}
	}
	return r, nil
}

// Character looks up a character by id.
func (r *Roster) Character(id string) (Character, error) {
	c, ok := r.characters[strings.TrimSpace(id)]
	if !ok {
		return Character{}, fmt.Errorf("%w: %q", ErrUnknownCharacter, id)
	}
	return c, nil
}

// Items looks up items by id, preserving order.
func (r *Roster) Items(ids ...string) ([]Item, error) {
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		it, ok := r.items[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownItem, id)
		}
		items = append(items, it)
	}
	return items, nil
}

// Characters returns all characters sorted by id.
func (r *Roster) Characters() []Character {
	out := make([]Character, 0, len(r.characters))
	for _, c := range r.characters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllItems returns all items sorted by id.
func (r *Roster) AllItems() []Item {
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarshalTranscript renders a transcript as YAML for the battle archive.
func MarshalTranscript(entries []ConversationEntry) (string, error) {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalTranscript is the inverse of MarshalTranscript.
func UnmarshalTranscript(s string) ([]ConversationEntry, error) {
	var entries []ConversationEntry
	if err := yaml.Unmarshal([]byte(s), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
